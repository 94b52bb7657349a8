package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"notification-workers/internal/transport"
)

type MailgunConfig struct {
	Domain  string `mapstructure:"domain"`
	APIKey  string `mapstructure:"api_key"`
	APIBase string `mapstructure:"api_base"`
	From    string `mapstructure:"from"`
}

type MailgunSender struct {
	mg   mailgun.Mailgun
	from string
	now  func() time.Time
}

func NewMailgunSender(config MailgunConfig) *MailgunSender {
	mg := mailgun.NewMailgun(config.Domain, config.APIKey)
	if config.APIBase != "" {
		mg.SetAPIBase(config.APIBase)
	}
	return &MailgunSender{mg: mg, from: config.From, now: time.Now}
}

func (s *MailgunSender) SendEmail(ctx context.Context, msg transport.EmailMessage) (*transport.Receipt, error) {
	if err := transport.Validate(msg); err != nil {
		return nil, err
	}

	m := s.mg.NewMessage(s.from, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		m.SetHtml(msg.HTML)
	}
	for _, a := range msg.Attachments {
		m.AddBufferAttachment(a.Filename, a.Content)
	}
	if len(msg.Tags) > 0 {
		if err := m.AddTag(msg.Tags...); err != nil {
			return nil, fmt.Errorf("mailgun tags: %w", err)
		}
	}
	if msg.NotificationID != "" {
		m.AddHeader("X-Notification-ID", msg.NotificationID)
	}

	_, id, err := s.mg.Send(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("mailgun send: %w", err)
	}
	return &transport.Receipt{
		MessageID:  strings.Trim(id, "<>"),
		Provider:   "mailgun",
		AcceptedAt: s.now(),
	}, nil
}
