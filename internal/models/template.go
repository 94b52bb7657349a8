package models

import (
	"reflect"
	"time"
)

// TemplateType is the business event a template renders.
type TemplateType string

const (
	TemplateAppointmentBooked      TemplateType = "appointment_booked"
	TemplateAppointmentReminder    TemplateType = "appointment_reminder"
	TemplateAppointmentCancelled   TemplateType = "appointment_cancelled"
	TemplateAppointmentRescheduled TemplateType = "appointment_rescheduled"
	TemplatePrescriptionReady      TemplateType = "prescription_ready"
	TemplatePrescriptionRefill     TemplateType = "prescription_refill_reminder"
	TemplateOrderConfirmed         TemplateType = "order_confirmed"
	TemplateOrderShipped           TemplateType = "order_shipped"
	TemplateOrderDelivered         TemplateType = "order_delivered"
	TemplatePaymentReceived        TemplateType = "payment_received"
	TemplatePaymentFailed          TemplateType = "payment_failed"
	TemplateLabResultsReady        TemplateType = "lab_results_ready"
	TemplateAccountVerification    TemplateType = "account_verification"
	TemplatePasswordReset          TemplateType = "password_reset"
	TemplateWelcome                TemplateType = "welcome"
	TemplateSystemAlert            TemplateType = "system_alert"
	TemplateEmergencyAlert         TemplateType = "emergency_alert"
)

// TemplateTypes lists every known template type.
var TemplateTypes = []TemplateType{
	TemplateAppointmentBooked, TemplateAppointmentReminder, TemplateAppointmentCancelled,
	TemplateAppointmentRescheduled, TemplatePrescriptionReady, TemplatePrescriptionRefill,
	TemplateOrderConfirmed, TemplateOrderShipped, TemplateOrderDelivered,
	TemplatePaymentReceived, TemplatePaymentFailed, TemplateLabResultsReady,
	TemplateAccountVerification, TemplatePasswordReset, TemplateWelcome,
	TemplateSystemAlert, TemplateEmergencyAlert,
}

// IsValid reports whether t is one of the known template types.
func (t TemplateType) IsValid() bool {
	for _, known := range TemplateTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Category string

const (
	CategoryMedical        Category = "medical"
	CategoryAdministrative Category = "administrative"
	CategorySystem         Category = "system"
	CategoryMarketing      Category = "marketing"
)

type Channel string

const (
	ChannelWebsocket Channel = "websocket"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
)

// Channels lists every delivery channel.
var Channels = []Channel{ChannelWebsocket, ChannelEmail, ChannelSMS}

type UserRole string

const (
	RolePatient  UserRole = "patient"
	RoleDoctor   UserRole = "doctor"
	RolePharmacy UserRole = "pharmacy"
	RoleAdmin    UserRole = "admin"
)

const (
	TranslationManual = "manual"
	TranslationAuto   = "auto"
)

// ActionButton is a call-to-action rendered with a variant.
type ActionButton struct {
	Text  string `json:"text" bson:"text" validate:"required"`
	URL   string `json:"url" bson:"url" validate:"required"`
	Style string `json:"style,omitempty" bson:"style,omitempty" validate:"omitempty,oneof=primary secondary danger link"`
}

// Styling holds the email layout knobs a variant may override.
type Styling struct {
	PrimaryColor    string `json:"primaryColor,omitempty" bson:"primaryColor,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty" bson:"backgroundColor,omitempty"`
	FontFamily      string `json:"fontFamily,omitempty" bson:"fontFamily,omitempty"`
	LogoURL         string `json:"logoUrl,omitempty" bson:"logoUrl,omitempty"`
}

// Variant is a single (channel, role, language) rendering of a template.
type Variant struct {
	Channel           Channel        `json:"channel" bson:"channel" validate:"required,oneof=websocket email sms"`
	UserRole          UserRole       `json:"userRole" bson:"userRole" validate:"required,oneof=patient doctor pharmacy admin"`
	Language          string         `json:"language" bson:"language" validate:"required,min=2,max=5"`
	Subject           string         `json:"subject,omitempty" bson:"subject,omitempty"`
	Title             string         `json:"title" bson:"title" validate:"required"`
	Body              string         `json:"body" bson:"body" validate:"required"`
	HTMLBody          string         `json:"htmlBody,omitempty" bson:"htmlBody,omitempty"`
	Styling           *Styling       `json:"styling,omitempty" bson:"styling,omitempty"`
	Actions           []ActionButton `json:"actions,omitempty" bson:"actions,omitempty" validate:"dive"`
	TranslationMethod string         `json:"translationMethod,omitempty" bson:"translationMethod,omitempty"`
}

// Key returns the uniqueness tuple of the variant.
func (v Variant) Key() VariantKey {
	return VariantKey{Channel: v.Channel, UserRole: v.UserRole, Language: v.Language}
}

type VariantKey struct {
	Channel  Channel
	UserRole UserRole
	Language string
}

// Usage counts how often a template was resolved for delivery.
type Usage struct {
	TotalSent int64      `json:"totalSent" bson:"totalSent"`
	LastUsed  *time.Time `json:"lastUsed,omitempty" bson:"lastUsed,omitempty"`
}

type Template struct {
	ID              string       `json:"id" bson:"_id"`
	Name            string       `json:"name" bson:"name" validate:"required,max=200"`
	Type            TemplateType `json:"type" bson:"type" validate:"required"`
	Category        Category     `json:"category" bson:"category" validate:"required,oneof=medical administrative system marketing"`
	Description     string       `json:"description,omitempty" bson:"description,omitempty"`
	Variants        []Variant    `json:"variants" bson:"variants" validate:"required,min=1,dive"`
	Version         string       `json:"version" bson:"version"`
	IsActive        bool         `json:"isActive" bson:"isActive"`
	DefaultLanguage string       `json:"defaultLanguage,omitempty" bson:"defaultLanguage,omitempty"`
	CreatedBy       string       `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	UpdatedBy       string       `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
	CreatedAt       time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt" bson:"updatedAt"`
	Usage           Usage        `json:"usage" bson:"usage"`
}

// FindVariant returns the variant matching the tuple, if any.
func (t *Template) FindVariant(channel Channel, role UserRole, language string) (*Variant, bool) {
	for i := range t.Variants {
		v := &t.Variants[i]
		if v.Channel == channel && v.UserRole == role && v.Language == language {
			return v, true
		}
	}
	return nil, false
}

// UpsertVariant replaces the variant with the same tuple or appends it.
// It reports whether an existing variant was replaced.
func (t *Template) UpsertVariant(v Variant) bool {
	for i := range t.Variants {
		if t.Variants[i].Key() == v.Key() {
			t.Variants[i] = v
			return true
		}
	}
	t.Variants = append(t.Variants, v)
	return false
}

// Clone returns a deep copy so history snapshots are not aliased.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	out := *t
	out.Variants = CloneVariants(t.Variants)
	if t.Usage.LastUsed != nil {
		lu := *t.Usage.LastUsed
		out.Usage.LastUsed = &lu
	}
	return &out
}

// CloneVariants deep-copies a variant slice.
func CloneVariants(in []Variant) []Variant {
	if in == nil {
		return nil
	}
	out := make([]Variant, len(in))
	for i, v := range in {
		if v.Styling != nil {
			s := *v.Styling
			v.Styling = &s
		}
		if v.Actions != nil {
			v.Actions = append([]ActionButton(nil), v.Actions...)
		}
		out[i] = v
	}
	return out
}

// VariantsEqual deep-compares two variant lists in order.
func VariantsEqual(a, b []Variant) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return reflect.DeepEqual(normalizeVariants(a), normalizeVariants(b))
}

// normalizeVariants maps empty slices to nil so a decoded [] equals an absent field.
func normalizeVariants(in []Variant) []Variant {
	out := CloneVariants(in)
	for i := range out {
		if len(out[i].Actions) == 0 {
			out[i].Actions = nil
		}
	}
	return out
}

// VersionHistoryEntry is a full snapshot of a template taken before a change.
type VersionHistoryEntry struct {
	TemplateID string    `json:"templateId"`
	Version    string    `json:"version"`
	Snapshot   Template  `json:"snapshot"`
	CapturedAt time.Time `json:"capturedAt"`
	Reason     string    `json:"reason,omitempty"`
}
