package models

import "time"

type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityMedium    Priority = "medium"
	PriorityHigh      Priority = "high"
	PriorityCritical  Priority = "critical"
	PriorityEmergency Priority = "emergency"
)

// IsUrgent reports whether the priority overrides user channel preferences.
func (p Priority) IsUrgent() bool {
	return p == PriorityCritical || p == PriorityEmergency
}

type Recipient struct {
	UserID string   `json:"userId"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email,omitempty"`
	Phone  string   `json:"phone,omitempty"`
}

// EmailContent is the email engine's output attached to a notification.
type EmailContent struct {
	Subject     string       `json:"subject"`
	HTML        string       `json:"html"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

type Content struct {
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	ActionURL  string                 `json:"actionUrl,omitempty"`
	ActionText string                 `json:"actionText,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Email      *EmailContent          `json:"email,omitempty"`
	SMS        string                 `json:"sms,omitempty"`
}

// Notification is a transient, already rendered delivery request.
type Notification struct {
	ID         string       `json:"id"`
	Type       TemplateType `json:"type"`
	Recipients []Recipient  `json:"recipients"`
	Content    Content      `json:"content"`
	Priority   Priority     `json:"priority"`
	Category   Category     `json:"category"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// ChannelPreferences holds per-channel opt-in flags. A channel missing from the
// map is treated as enabled.
type ChannelPreferences map[Channel]bool

// Allows reports whether the user has not explicitly disabled the channel.
func (p ChannelPreferences) Allows(ch Channel) bool {
	enabled, ok := p[ch]
	return !ok || enabled
}

type TrackingEventType string

const (
	TrackingDelivered TrackingEventType = "delivered"
	TrackingOpened    TrackingEventType = "opened"
	TrackingClicked   TrackingEventType = "clicked"
	TrackingBounced   TrackingEventType = "bounced"
)

// TrackingEvent is a provider callback about a message sent earlier.
type TrackingEvent struct {
	Provider  string            `json:"provider" validate:"required"`
	MessageID string            `json:"messageId" validate:"required"`
	Event     TrackingEventType `json:"event" validate:"required,oneof=delivered opened clicked bounced"`
	Timestamp time.Time         `json:"timestamp"`
	Recipient string            `json:"recipient,omitempty"`
	Channel   Channel           `json:"channel,omitempty"`
}
