package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"notification-workers/internal/common/logger"
)

// LogSender accepts email and SMS by logging them. It backs the "log"
// provider used in local environments.
type LogSender struct {
	logger logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{logger: logger.ForComponent(log, "log-transport")}
}

func (s *LogSender) SendEmail(ctx context.Context, msg EmailMessage) (*Receipt, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	s.logger.Info("Email accepted", map[string]interface{}{
		"messageId":      id,
		"notificationId": msg.NotificationID,
		"to":             msg.To,
		"subject":        msg.Subject,
		"attachments":    len(msg.Attachments),
	})
	return &Receipt{MessageID: id, Provider: "log", AcceptedAt: time.Now()}, nil
}

func (s *LogSender) SendSMS(ctx context.Context, msg SMSMessage) (*Receipt, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	s.logger.Info("SMS accepted", map[string]interface{}{
		"messageId":      id,
		"notificationId": msg.NotificationID,
		"to":             msg.To,
		"length":         len(msg.Body),
	})
	return &Receipt{MessageID: id, Provider: "log", AcceptedAt: time.Now()}, nil
}
