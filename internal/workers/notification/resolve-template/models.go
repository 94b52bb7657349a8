package resolvetemplate

import "notification-workers/internal/models"

type Input struct {
	Type     models.TemplateType `json:"type"`
	Channel  models.Channel      `json:"channel"`
	Role     models.UserRole     `json:"role"`
	Language string              `json:"language,omitempty"`
}

// Output carries template metadata only; rendered content stays out of
// process variables.
type Output struct {
	TemplateID        string          `json:"templateId"`
	TemplateName      string          `json:"templateName"`
	Version           string          `json:"version"`
	Category          models.Category `json:"category"`
	Language          string          `json:"language"`
	RequestedLanguage string          `json:"requestedLanguage"`
	Fallback          bool            `json:"fallback"`
	Placeholders      []string        `json:"placeholders"`
}
