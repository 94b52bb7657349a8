package templates

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/models"
)

// MemoryStore keeps templates in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*models.Template
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: make(map[string]*models.Template)}
}

func (s *MemoryStore) FindActive(_ context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*models.Template
	for _, tmpl := range s.templates {
		if tmpl.Type != t || !tmpl.IsActive {
			continue
		}
		if _, ok := tmpl.FindVariant(ch, role, lang); ok {
			candidates = append(candidates, tmpl)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortByVersionDesc(candidates)
	return candidates[0].Clone(), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, ok := s.templates[id]
	if !ok {
		return nil, apperrors.NewTemplateIDNotFoundError(id)
	}
	return tmpl.Clone(), nil
}

func (s *MemoryStore) ListByType(_ context.Context, t models.TemplateType) ([]*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Template
	for _, tmpl := range s.templates {
		if tmpl.Type == t {
			out = append(out, tmpl.Clone())
		}
	}
	sortByVersionDesc(out)
	return out, nil
}

func (s *MemoryStore) Find(_ context.Context, f Filter, p Pagination) ([]*models.Template, int64, error) {
	p = p.Normalize()
	s.mu.RLock()
	var matched []*models.Template
	for _, tmpl := range s.templates {
		if matchesFilter(tmpl, f) {
			matched = append(matched, tmpl.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	start := p.Offset()
	if start >= len(matched) {
		return []*models.Template{}, total, nil
	}
	end := start + p.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func matchesFilter(t *models.Template, f Filter) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Active != nil && t.IsActive != *f.Active {
		return false
	}
	if f.Channel != "" || f.Role != "" || f.Language != "" {
		found := false
		for _, v := range t.Variants {
			if (f.Channel == "" || v.Channel == f.Channel) &&
				(f.Role == "" || v.UserRole == f.Role) &&
				(f.Language == "" || v.Language == f.Language) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if strings.Contains(strings.ToLower(t.Name), q) || strings.Contains(strings.ToLower(string(t.Type)), q) {
			return true
		}
		for _, v := range t.Variants {
			if strings.Contains(strings.ToLower(v.Title), q) {
				return true
			}
		}
		return false
	}
	return true
}

func (s *MemoryStore) Create(_ context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, t *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; !ok {
		return apperrors.NewTemplateIDNotFoundError(t.ID)
	}
	s.templates[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return apperrors.NewTemplateIDNotFoundError(id)
	}
	tmpl.Usage.TotalSent++
	lastUsed := at
	tmpl.Usage.LastUsed = &lastUsed
	return nil
}
