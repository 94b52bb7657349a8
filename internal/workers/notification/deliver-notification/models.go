package delivernotification

import "notification-workers/internal/models"

type Input struct {
	NotificationID string                    `json:"notificationId,omitempty"`
	Type           models.TemplateType       `json:"type"`
	Recipients     []models.Recipient        `json:"recipients"`
	Data           map[string]interface{}    `json:"data,omitempty"`
	Language       string                    `json:"language,omitempty"`
	Priority       models.Priority           `json:"priority,omitempty"`
	Channels       []models.Channel          `json:"channels,omitempty"`
	Preferences    models.ChannelPreferences `json:"preferences,omitempty"`
	Metadata       map[string]interface{}    `json:"metadata,omitempty"`
}

type Output struct {
	NotificationID string            `json:"notificationId"`
	Status         string            `json:"status"`
	Deliveries     []DeliverySummary `json:"deliveries"`
	SentAt         string            `json:"sentAt"`
}

// DeliverySummary is the per-role outcome exposed to the process.
type DeliverySummary struct {
	Role            models.UserRole       `json:"role"`
	DeliveryID      string                `json:"deliveryId,omitempty"`
	Status          models.DeliveryStatus `json:"status"`
	Channels        []models.Channel      `json:"channels,omitempty"`
	FallbackChannel models.Channel        `json:"fallbackChannel,omitempty"`
	Language        string                `json:"language,omitempty"`
	Error           string                `json:"error,omitempty"`
}

const (
	StatusSent    = "sent"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)
