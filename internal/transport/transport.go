// Package transport defines the contracts between the channel manager and
// the providers that actually move bytes: the socket gateway, email and SMS.
package transport

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"notification-workers/internal/models"
)

// SocketPayload is what connected clients receive for an in-app notification.
type SocketPayload struct {
	Event          string                 `json:"event"`
	NotificationID string                 `json:"notificationId"`
	DeliveryID     string                 `json:"deliveryId,omitempty"`
	Type           string                 `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	ActionURL      string                 `json:"actionUrl,omitempty"`
	ActionText     string                 `json:"actionText,omitempty"`
	Priority       models.Priority        `json:"priority"`
	Category       models.Category        `json:"category,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// SocketGateway pushes to a single connected user. It reports false when the
// user has no live connection.
type SocketGateway interface {
	SendToUser(ctx context.Context, userID string, payload SocketPayload) (bool, error)
}

type BroadcastStats struct {
	TotalUsers   int `json:"totalUsers"`
	OnlineUsers  int `json:"onlineUsers"`
	OfflineUsers int `json:"offlineUsers"`
}

// RoleBroadcaster is implemented by gateways that can fan out to a role.
type RoleBroadcaster interface {
	BroadcastToRole(ctx context.Context, role models.UserRole, payload SocketPayload) (BroadcastStats, error)
}

type EmailMessage struct {
	NotificationID string              `json:"notificationId"`
	To             string              `json:"to" validate:"required,email"`
	Subject        string              `json:"subject" validate:"required"`
	HTML           string              `json:"html,omitempty" validate:"required_without=Text"`
	Text           string              `json:"text,omitempty" validate:"required_without=HTML"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
	Priority       models.Priority     `json:"priority,omitempty"`
	Tags           []string            `json:"tags,omitempty"`
}

type SMSMessage struct {
	NotificationID string          `json:"notificationId"`
	To             string          `json:"to" validate:"required,e164"`
	Body           string          `json:"body" validate:"required"`
	Priority       models.Priority `json:"priority,omitempty"`
}

// Receipt is the provider's acknowledgement of an accepted message.
type Receipt struct {
	MessageID  string    `json:"messageId"`
	Provider   string    `json:"provider"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) (*Receipt, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, msg SMSMessage) (*Receipt, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a message against its struct tags.
func Validate(msg interface{}) error {
	return validate.Struct(msg)
}
