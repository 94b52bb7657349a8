package models

import "time"

type DeliveryStatus string

const (
	StatusPending         DeliveryStatus = "pending"
	StatusSuccess         DeliveryStatus = "success"
	StatusSuccessFallback DeliveryStatus = "success_fallback"
	StatusFailed          DeliveryStatus = "failed"
)

// RecipientResult is the outcome for one recipient on one channel.
type RecipientResult struct {
	UserID    string `json:"userId"`
	Address   string `json:"address,omitempty"`
	Delivered bool   `json:"delivered"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ChannelResult struct {
	Channel     Channel           `json:"channel"`
	Success     bool              `json:"success"`
	Delivered   int               `json:"delivered"`
	Failed      int               `json:"failed"`
	Broadcast   bool              `json:"broadcast,omitempty"`
	Recipients  []RecipientResult `json:"recipients,omitempty"`
	Duration    time.Duration     `json:"duration"`
	Error       string            `json:"error,omitempty"`
	AttemptedAt time.Time         `json:"attemptedAt"`

	// Err keeps the typed cause for classification; it is not serialized.
	Err error `json:"-"`
}

type DeliveryResult struct {
	DeliveryID      string           `json:"deliveryId"`
	NotificationID  string           `json:"notificationId"`
	Status          DeliveryStatus   `json:"status"`
	Channels        []Channel        `json:"channels"`
	Results         []*ChannelResult `json:"results"`
	FallbackChannel Channel          `json:"fallbackChannel,omitempty"`
	Error           string           `json:"error,omitempty"`
	StartedAt       time.Time        `json:"startedAt"`
	CompletedAt     time.Time        `json:"completedAt"`
}

// Succeeded reports whether the delivery reached at least one channel.
func (r *DeliveryResult) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusSuccessFallback
}

// ChannelHealth is the per-channel circuit state.
type ChannelHealth struct {
	Channel      Channel    `json:"channel"`
	Available    bool       `json:"available"`
	FailureCount int        `json:"failureCount"`
	LastFailure  *time.Time `json:"lastFailure,omitempty"`
	LastSuccess  *time.Time `json:"lastSuccess,omitempty"`
}
