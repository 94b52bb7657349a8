package email

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"notification-workers/internal/models"
	"notification-workers/internal/transport"
)

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	UseTLS   bool   `mapstructure:"use_tls"`
}

// SMTPSender delivers through a plain SMTP relay.
type SMTPSender struct {
	config SMTPConfig
	send   func(m *gomail.Message) error
	now    func() time.Time
}

type SMTPOption func(*SMTPSender)

// WithSendFunc replaces the dialer, mainly for tests.
func WithSendFunc(fn func(m *gomail.Message) error) SMTPOption {
	return func(s *SMTPSender) { s.send = fn }
}

func NewSMTPSender(config SMTPConfig, opts ...SMTPOption) *SMTPSender {
	dialer := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	dialer.SSL = config.UseTLS && config.Port == 465

	s := &SMTPSender{
		config: config,
		send:   func(m *gomail.Message) error { return dialer.DialAndSend(m) },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SMTPSender) SendEmail(ctx context.Context, msg transport.EmailMessage) (*transport.Receipt, error) {
	if err := transport.Validate(msg); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := buildMessage(s.config.From, msg)
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(s.config.From))
	m.SetHeader("Message-ID", messageID)

	if err := s.send(m); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}
	return &transport.Receipt{MessageID: messageID, Provider: "smtp", AcceptedAt: s.now()}, nil
}

// buildMessage assembles the MIME message shared by SMTP and raw SES sends.
func buildMessage(from string, msg transport.EmailMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.Priority.IsUrgent() || msg.Priority == models.PriorityHigh {
		m.SetHeader("X-Priority", "1")
		m.SetHeader("Importance", "high")
	}

	switch {
	case msg.HTML != "" && msg.Text != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	for _, a := range msg.Attachments {
		content := a.Content
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}
		m.Attach(a.Filename, settings...)
	}
	return m
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return strings.TrimSuffix(addr[i+1:], ">")
	}
	return "localhost"
}
