package sms

import (
	"context"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"notification-workers/internal/transport"
)

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

// MessageCreator is satisfied by the Twilio REST API service.
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

type TwilioSender struct {
	api  MessageCreator
	from string
	now  func() time.Time
}

func NewTwilioSender(config TwilioConfig) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})
	return NewTwilioSenderWithAPI(client.Api, config.From)
}

func NewTwilioSenderWithAPI(api MessageCreator, from string) *TwilioSender {
	return &TwilioSender{api: api, from: from, now: time.Now}
}

// SendSMS calls the Twilio API, which has no context support; ctx is only
// checked before the call.
func (s *TwilioSender) SendSMS(ctx context.Context, msg transport.SMSMessage) (*transport.Receipt, error) {
	if err := transport.Validate(msg); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(s.from)
	params.SetBody(msg.Body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return nil, fmt.Errorf("twilio send: %w", err)
	}
	receipt := &transport.Receipt{Provider: "twilio", AcceptedAt: s.now()}
	if resp != nil && resp.Sid != nil {
		receipt.MessageID = *resp.Sid
	}
	return receipt, nil
}
