// Package email contains the email transports: Amazon SES (default), SMTP
// through gomail and Mailgun.
package email

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"notification-workers/internal/transport"
)

// SESService is the subset of the SES client the sender needs.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

type SESSender struct {
	client           SESService
	from             string
	configurationSet string
	now              func() time.Time
}

func NewSESSender(client SESService, from, configurationSet string) *SESSender {
	return &SESSender{client: client, from: from, configurationSet: configurationSet, now: time.Now}
}

func (s *SESSender) SendEmail(ctx context.Context, msg transport.EmailMessage) (*transport.Receipt, error) {
	if err := transport.Validate(msg); err != nil {
		return nil, err
	}
	if len(msg.Attachments) > 0 {
		return s.sendRaw(ctx, msg)
	}

	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}

	input := &ses.SendEmailInput{
		Source:      aws.String(s.from),
		Destination: &types.Destination{ToAddresses: []string{msg.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
		Tags: messageTags(msg),
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send email: %w", err)
	}
	return &transport.Receipt{MessageID: aws.ToString(out.MessageId), Provider: "ses", AcceptedAt: s.now()}, nil
}

func (s *SESSender) sendRaw(ctx context.Context, msg transport.EmailMessage) (*transport.Receipt, error) {
	var buf bytes.Buffer
	if _, err := buildMessage(s.from, msg).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode raw email: %w", err)
	}

	input := &ses.SendRawEmailInput{
		Source:       aws.String(s.from),
		Destinations: []string{msg.To},
		RawMessage:   &types.RawMessage{Data: buf.Bytes()},
		Tags:         messageTags(msg),
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendRawEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send raw email: %w", err)
	}
	return &transport.Receipt{MessageID: aws.ToString(out.MessageId), Provider: "ses", AcceptedAt: s.now()}, nil
}

func messageTags(msg transport.EmailMessage) []types.MessageTag {
	if msg.NotificationID == "" {
		return nil
	}
	return []types.MessageTag{{Name: aws.String("notificationId"), Value: aws.String(msg.NotificationID)}}
}
