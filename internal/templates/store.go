package templates

import (
	"context"
	"sort"
	"time"

	"notification-workers/internal/models"
)

// Filter narrows a template listing. Zero values mean "any".
type Filter struct {
	Type     models.TemplateType `json:"type,omitempty"`
	Category models.Category     `json:"category,omitempty"`
	Channel  models.Channel      `json:"channel,omitempty"`
	Role     models.UserRole     `json:"role,omitempty"`
	Language string              `json:"language,omitempty"`
	Active   *bool               `json:"active,omitempty"`
	// Search matches name, type or any variant title, case-insensitively.
	Search string `json:"search,omitempty"`
}

// Pagination is 1-based.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize applies defaults and caps.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Store is the system of record for templates.
type Store interface {
	// FindActive returns the highest-version active template of the type that
	// has a variant for (channel, role, language), or nil when none exists.
	FindActive(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*models.Template, error)
	// FindByID returns ErrTemplateNotFound when the id is unknown.
	FindByID(ctx context.Context, id string) (*models.Template, error)
	// ListByType returns every stored version of a type, active or not.
	ListByType(ctx context.Context, t models.TemplateType) ([]*models.Template, error)
	Find(ctx context.Context, f Filter, p Pagination) ([]*models.Template, int64, error)
	Create(ctx context.Context, t *models.Template) error
	// Update replaces the stored template; ErrTemplateNotFound when missing.
	Update(ctx context.Context, t *models.Template) error
	IncrementUsage(ctx context.Context, id string, at time.Time) error
}

// sortByVersionDesc orders templates highest version first. Equal versions
// put the most recently updated first.
func sortByVersionDesc(list []*models.Template) {
	sort.SliceStable(list, func(i, j int) bool {
		if c := CompareVersions(list[i].Version, list[j].Version); c != 0 {
			return c > 0
		}
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
