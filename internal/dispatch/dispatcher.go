// Package dispatch runs the caller flow for one business event: resolve the
// template variant per channel and role, render it, and hand the rendered
// notification to the channel manager.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/models"
	"notification-workers/internal/rendering"
	"notification-workers/internal/templates"
)

type TemplateResolver interface {
	GetTemplate(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*templates.ResolvedVariant, error)
}

type Deliverer interface {
	EffectiveChannels(p models.Priority, requested []models.Channel, prefs models.ChannelPreferences) []models.Channel
	DeliverNotification(ctx context.Context, n *models.Notification, channels []models.Channel, prefs models.ChannelPreferences) (*models.DeliveryResult, error)
}

// Request describes one business event to notify about.
type Request struct {
	NotificationID string                    `json:"notificationId,omitempty"`
	Type           models.TemplateType       `json:"type" validate:"required"`
	Recipients     []models.Recipient        `json:"recipients" validate:"required,min=1,dive"`
	Data           map[string]interface{}    `json:"data,omitempty"`
	Language       string                    `json:"language,omitempty"`
	Priority       models.Priority           `json:"priority,omitempty" validate:"omitempty,oneof=low medium high critical emergency"`
	Channels       []models.Channel          `json:"channels,omitempty" validate:"dive,oneof=websocket email sms"`
	Preferences    models.ChannelPreferences `json:"preferences,omitempty"`
	Attachments    []models.Attachment       `json:"attachments,omitempty"`
	Metadata       map[string]interface{}    `json:"metadata,omitempty"`
}

// RoleDelivery is the outcome for the recipients sharing one role.
type RoleDelivery struct {
	Role      models.UserRole           `json:"role"`
	Templates map[models.Channel]string `json:"templates"`
	Language  string                    `json:"language"`
	Fallback  bool                      `json:"fallback"`
	Result    *models.DeliveryResult    `json:"result,omitempty"`
	Error     string                    `json:"error,omitempty"`
}

type Result struct {
	NotificationID string          `json:"notificationId"`
	Deliveries     []*RoleDelivery `json:"deliveries"`
}

// Succeeded reports whether any role group was delivered.
func (r *Result) Succeeded() bool {
	for _, d := range r.Deliveries {
		if d.Result != nil && d.Result.Succeeded() {
			return true
		}
	}
	return false
}

type Dispatcher struct {
	templates TemplateResolver
	manager   Deliverer
	email     *rendering.EmailRenderer
	sms       *rendering.SMSRenderer
	push      *rendering.PushRenderer
	validate  *validator.Validate
	logger    logger.Logger
	now       func() time.Time
	newID     func() string
}

func NewDispatcher(resolver TemplateResolver, manager Deliverer, emailOpts rendering.EmailOptions, smsMaxLength int, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		templates: resolver,
		manager:   manager,
		email:     rendering.NewEmailRenderer(emailOpts),
		sms:       rendering.NewSMSRenderer(smsMaxLength),
		push:      rendering.NewPushRenderer(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.ForComponent(log, "dispatcher"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Dispatch delivers one notification per recipient role. A role whose
// templates cannot be found is reported in its RoleDelivery; the call only
// fails on invalid input or store errors.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if err := d.validate.Struct(req); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if req.NotificationID == "" {
		req.NotificationID = d.newID()
	}

	groups, roles := groupByRole(req.Recipients)
	result := &Result{NotificationID: req.NotificationID}
	for _, role := range roles {
		id := req.NotificationID
		if len(roles) > 1 {
			id = fmt.Sprintf("%s-%s", req.NotificationID, role)
		}
		rd, err := d.dispatchRole(ctx, req, id, role, groups[role])
		if err != nil {
			return nil, err
		}
		result.Deliveries = append(result.Deliveries, rd)
	}
	return result, nil
}

func (d *Dispatcher) dispatchRole(ctx context.Context, req Request, id string, role models.UserRole, recipients []models.Recipient) (*RoleDelivery, error) {
	rd := &RoleDelivery{Role: role, Templates: make(map[models.Channel]string)}
	channels := d.manager.EffectiveChannels(req.Priority, req.Channels, req.Preferences)

	content := models.Content{Metadata: req.Metadata}
	var (
		resolved []models.Channel
		category models.Category
	)
	for _, ch := range channels {
		rv, err := d.templates.GetTemplate(ctx, req.Type, ch, role, req.Language)
		if errors.Is(err, apperrors.ErrTemplateNotFound) {
			d.logger.Debug("No template variant for channel", map[string]interface{}{
				"type":    req.Type,
				"channel": ch,
				"role":    role,
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := d.render(&content, rv, req); err != nil {
			d.logger.Warn("Template render failed", map[string]interface{}{
				"templateId": rv.TemplateID,
				"channel":    ch,
				"error":      err,
			})
			continue
		}
		resolved = append(resolved, ch)
		rd.Templates[ch] = rv.TemplateID + "@" + rv.Version
		rd.Language = rv.Language
		rd.Fallback = rd.Fallback || rv.Fallback
		category = rv.Category
	}

	if len(resolved) == 0 {
		err := apperrors.NewTemplateNotFoundError(string(req.Type), joinChannels(channels), string(role), req.Language)
		rd.Error = err.Error()
		return rd, nil
	}

	n := &models.Notification{
		ID:         id,
		Type:       req.Type,
		Recipients: recipients,
		Content:    content,
		Priority:   req.Priority,
		Category:   category,
		CreatedAt:  d.now().UTC(),
	}
	result, err := d.manager.DeliverNotification(ctx, n, resolved, req.Preferences)
	if err != nil {
		rd.Error = err.Error()
		return rd, nil
	}
	rd.Result = result
	if !result.Succeeded() {
		rd.Error = result.Error
	}
	return rd, nil
}

// render fills the channel's part of content. The socket variant owns the
// title and message; other channels only fill them when still empty.
func (d *Dispatcher) render(content *models.Content, rv *templates.ResolvedVariant, req Request) error {
	switch rv.Variant.Channel {
	case models.ChannelWebsocket:
		out, err := d.push.Render(&rv.Variant, req.Data)
		if err != nil {
			return err
		}
		content.Title = out.Title
		content.Message = out.Message
		content.ActionURL = out.ActionURL
		content.ActionText = out.ActionText
	case models.ChannelEmail:
		out, err := d.email.Render(&rv.Variant, req.Data, req.Attachments)
		if err != nil {
			return err
		}
		content.Email = &models.EmailContent{
			Subject:     out.Subject,
			HTML:        out.HTML,
			Text:        out.Text,
			Attachments: out.Attachments,
		}
		fillText(content, out.Title, out.Body)
	case models.ChannelSMS:
		out, err := d.sms.Render(&rv.Variant, req.Data)
		if err != nil {
			return err
		}
		content.SMS = out.Message
		fillText(content, rendering.Interpolate(rv.Variant.Title, req.Data), out.Message)
	default:
		return apperrors.NewUnsupportedChannelError(string(rv.Variant.Channel))
	}
	return nil
}

func fillText(content *models.Content, title, message string) {
	if content.Title == "" {
		content.Title = title
	}
	if content.Message == "" {
		content.Message = message
	}
}

func groupByRole(recipients []models.Recipient) (map[models.UserRole][]models.Recipient, []models.UserRole) {
	groups := make(map[models.UserRole][]models.Recipient)
	var order []models.UserRole
	for _, r := range recipients {
		role := r.Role
		if role == "" {
			role = models.RolePatient
		}
		if _, ok := groups[role]; !ok {
			order = append(order, role)
		}
		groups[role] = append(groups[role], r)
	}
	return groups, order
}

func joinChannels(chs []models.Channel) string {
	names := make([]string, len(chs))
	for i, ch := range chs {
		names[i] = string(ch)
	}
	return strings.Join(names, ",")
}
