// pkg/registry/schema.go
package registry

import "notification-workers/internal/models"

// TemplateRegistry is the seed file format: a versioned list of templates
// to create when the store has no active template of that type.
type TemplateRegistry struct {
	Version     string          `json:"version"`
	LastUpdated string          `json:"lastUpdated"`
	Templates   []TemplateEntry `json:"templates" validate:"dive"`
}

type TemplateEntry struct {
	Name            string              `json:"name" validate:"required,max=200"`
	Type            models.TemplateType `json:"type" validate:"required"`
	Category        models.Category     `json:"category" validate:"required,oneof=medical administrative system marketing"`
	Description     string              `json:"description,omitempty"`
	DefaultLanguage string              `json:"defaultLanguage,omitempty"`
	Variants        []models.Variant    `json:"variants" validate:"required,min=1,dive"`
	Tags            []string            `json:"tags,omitempty"`
}
