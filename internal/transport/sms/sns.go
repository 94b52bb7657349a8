// Package sms contains the SMS transports: Amazon SNS (default) and Twilio.
package sms

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"notification-workers/internal/transport"
)

// SNSService is the subset of the SNS client the sender needs.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSSender struct {
	client   SNSService
	senderID string
	now      func() time.Time
}

func NewSNSSender(client SNSService, senderID string) *SNSSender {
	return &SNSSender{client: client, senderID: senderID, now: time.Now}
}

func (s *SNSSender) SendSMS(ctx context.Context, msg transport.SMSMessage) (*transport.Receipt, error) {
	if err := transport.Validate(msg); err != nil {
		return nil, err
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.To),
		Message:           aws.String(msg.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, fmt.Errorf("sns publish: %w", err)
	}
	return &transport.Receipt{MessageID: aws.ToString(out.MessageId), Provider: "sns", AcceptedAt: s.now()}, nil
}
