package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"notification-workers/internal/models"
	"notification-workers/internal/transport"
)

// Strategy performs one channel's delivery to every recipient of a
// notification. Implementations report per-recipient outcomes in the result
// and never fail the whole batch because of one recipient.
type Strategy interface {
	Channel() models.Channel
	Deliver(ctx context.Context, n *models.Notification, deliveryID string) *models.ChannelResult
}

// RateLimit configures a token bucket. PerSecond <= 0 disables throttling.
type RateLimit struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// NewLimiter returns nil when the limit is disabled.
func NewLimiter(cfg RateLimit) *rate.Limiter {
	if cfg.PerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.PerSecond), burst)
}

func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// DefaultBroadcastThreshold is the recipient count above which a
// single-role socket delivery becomes a role broadcast.
const DefaultBroadcastThreshold = 10

var errUserOffline = errors.New("user not connected")

type SocketStrategy struct {
	gateway   transport.SocketGateway
	threshold int
	limiter   *rate.Limiter
}

func NewSocketStrategy(gateway transport.SocketGateway, threshold int, limiter *rate.Limiter) *SocketStrategy {
	if threshold <= 0 {
		threshold = DefaultBroadcastThreshold
	}
	return &SocketStrategy{gateway: gateway, threshold: threshold, limiter: limiter}
}

func (s *SocketStrategy) Channel() models.Channel { return models.ChannelWebsocket }

func (s *SocketStrategy) Deliver(ctx context.Context, n *models.Notification, deliveryID string) *models.ChannelResult {
	result := &models.ChannelResult{Channel: models.ChannelWebsocket}
	payload := socketPayload(n, deliveryID)

	if broadcaster, ok := s.gateway.(transport.RoleBroadcaster); ok && len(n.Recipients) > s.threshold {
		if role, shared := sharedRole(n.Recipients); shared {
			stats, err := s.broadcast(ctx, broadcaster, role, payload)
			if err == nil {
				result.Broadcast = true
				result.Delivered = stats.OnlineUsers
				result.Failed = stats.OfflineUsers
				result.Success = stats.OnlineUsers > 0
				if !result.Success {
					result.Err = fmt.Errorf("no %s users online", role)
					result.Error = result.Err.Error()
				}
				return result
			}
			// A failed broadcast degrades to individual sends.
		}
	}

	var errs []error
	for _, r := range n.Recipients {
		rr := models.RecipientResult{UserID: r.UserID}
		err := wait(ctx, s.limiter)
		if err == nil {
			var delivered bool
			delivered, err = s.gateway.SendToUser(ctx, r.UserID, payload)
			if err == nil && !delivered {
				err = errUserOffline
			}
		}
		recordRecipient(result, &rr, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	finish(result, errs)
	return result
}

func (s *SocketStrategy) broadcast(ctx context.Context, b transport.RoleBroadcaster, role models.UserRole, payload transport.SocketPayload) (transport.BroadcastStats, error) {
	if err := wait(ctx, s.limiter); err != nil {
		return transport.BroadcastStats{}, err
	}
	return b.BroadcastToRole(ctx, role, payload)
}

func socketPayload(n *models.Notification, deliveryID string) transport.SocketPayload {
	return transport.SocketPayload{
		Event:          "notification",
		NotificationID: n.ID,
		DeliveryID:     deliveryID,
		Type:           string(n.Type),
		Title:          n.Content.Title,
		Message:        n.Content.Message,
		ActionURL:      n.Content.ActionURL,
		ActionText:     n.Content.ActionText,
		Priority:       n.Priority,
		Category:       n.Category,
		Metadata:       n.Content.Metadata,
		Timestamp:      n.CreatedAt,
	}
}

func sharedRole(recipients []models.Recipient) (models.UserRole, bool) {
	if len(recipients) == 0 {
		return "", false
	}
	role := recipients[0].Role
	if role == "" {
		return "", false
	}
	for _, r := range recipients[1:] {
		if r.Role != role {
			return "", false
		}
	}
	return role, true
}

type EmailStrategy struct {
	sender  transport.EmailSender
	limiter *rate.Limiter
}

func NewEmailStrategy(sender transport.EmailSender, limiter *rate.Limiter) *EmailStrategy {
	return &EmailStrategy{sender: sender, limiter: limiter}
}

func (s *EmailStrategy) Channel() models.Channel { return models.ChannelEmail }

func (s *EmailStrategy) Deliver(ctx context.Context, n *models.Notification, deliveryID string) *models.ChannelResult {
	result := &models.ChannelResult{Channel: models.ChannelEmail}
	var errs []error
	for _, r := range n.Recipients {
		rr := models.RecipientResult{UserID: r.UserID, Address: r.Email}
		var err error
		if r.Email == "" {
			err = fmt.Errorf("recipient %s has no email address", r.UserID)
		} else if err = wait(ctx, s.limiter); err == nil {
			var receipt *transport.Receipt
			receipt, err = s.sender.SendEmail(ctx, emailMessage(n, r.Email))
			if err == nil && receipt != nil {
				rr.MessageID = receipt.MessageID
			}
		}
		recordRecipient(result, &rr, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	finish(result, errs)
	return result
}

func emailMessage(n *models.Notification, to string) transport.EmailMessage {
	msg := transport.EmailMessage{
		NotificationID: n.ID,
		To:             to,
		Priority:       n.Priority,
		Tags:           []string{string(n.Type)},
	}
	if e := n.Content.Email; e != nil {
		msg.Subject = e.Subject
		msg.HTML = e.HTML
		msg.Text = e.Text
		msg.Attachments = e.Attachments
	}
	if msg.Subject == "" {
		msg.Subject = n.Content.Title
	}
	if msg.HTML == "" && msg.Text == "" {
		msg.Text = n.Content.Message
	}
	return msg
}

type SMSStrategy struct {
	sender  transport.SMSSender
	limiter *rate.Limiter
}

func NewSMSStrategy(sender transport.SMSSender, limiter *rate.Limiter) *SMSStrategy {
	return &SMSStrategy{sender: sender, limiter: limiter}
}

func (s *SMSStrategy) Channel() models.Channel { return models.ChannelSMS }

func (s *SMSStrategy) Deliver(ctx context.Context, n *models.Notification, deliveryID string) *models.ChannelResult {
	result := &models.ChannelResult{Channel: models.ChannelSMS}
	body := n.Content.SMS
	if body == "" {
		body = n.Content.Message
	}

	var errs []error
	for _, r := range n.Recipients {
		rr := models.RecipientResult{UserID: r.UserID, Address: r.Phone}
		var err error
		if r.Phone == "" {
			err = fmt.Errorf("recipient %s has no phone number", r.UserID)
		} else if err = wait(ctx, s.limiter); err == nil {
			var receipt *transport.Receipt
			receipt, err = s.sender.SendSMS(ctx, transport.SMSMessage{
				NotificationID: n.ID,
				To:             r.Phone,
				Body:           body,
				Priority:       n.Priority,
			})
			if err == nil && receipt != nil {
				rr.MessageID = receipt.MessageID
			}
		}
		recordRecipient(result, &rr, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	finish(result, errs)
	return result
}

func recordRecipient(result *models.ChannelResult, rr *models.RecipientResult, err error) {
	if err != nil {
		rr.Error = err.Error()
		result.Failed++
	} else {
		rr.Delivered = true
		result.Delivered++
	}
	result.Recipients = append(result.Recipients, *rr)
}

// finish marks the batch successful when any recipient was reached and
// folds the distinct failure messages into one.
func finish(result *models.ChannelResult, errs []error) {
	result.Success = result.Delivered > 0
	if len(errs) == 0 {
		if !result.Success {
			result.Err = errors.New("no recipients")
			result.Error = result.Err.Error()
		}
		return
	}

	seen := make(map[string]bool, len(errs))
	var msgs []string
	for _, err := range errs {
		if msg := err.Error(); !seen[msg] {
			seen[msg] = true
			msgs = append(msgs, msg)
		}
	}
	result.Err = errors.Join(errs...)
	result.Error = strings.Join(msgs, "; ")
}
