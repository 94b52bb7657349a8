// pkg/registry/registry.go
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"notification-workers/internal/models"
	"notification-workers/internal/templates"
)

func LoadRegistry(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg TemplateRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &reg, nil
}

// SaveRegistry writes the registry with a fresh LastUpdated stamp.
func SaveRegistry(path string, reg *TemplateRegistry) error {
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every structural problem in the registry. The template
// service repeats the content checks on create.
func Validate(reg *TemplateRegistry) []error {
	var problems []error
	if err := validate.Struct(reg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err)
		}
	}

	seenType := make(map[models.TemplateType]int)
	for i, entry := range reg.Templates {
		if !entry.Type.IsValid() {
			problems = append(problems, fmt.Errorf("templates[%d]: unknown type %q", i, entry.Type))
		}
		if prev, dup := seenType[entry.Type]; dup {
			problems = append(problems, fmt.Errorf("templates[%d]: type %q already defined at templates[%d]", i, entry.Type, prev))
		} else {
			seenType[entry.Type] = i
		}

		seenVariant := make(map[models.VariantKey]bool)
		for j, v := range entry.Variants {
			if seenVariant[v.Key()] {
				problems = append(problems, fmt.Errorf("templates[%d].variants[%d]: duplicate %s/%s/%s", i, j, v.Channel, v.UserRole, v.Language))
			}
			seenVariant[v.Key()] = true
		}
	}
	return problems
}

// TemplateService is the subset of the template service the seeder needs.
type TemplateService interface {
	CreateTemplate(ctx context.Context, in templates.TemplateInput, createdBy string) (*models.Template, error)
	GetTemplates(ctx context.Context, f templates.Filter, p templates.Pagination) (*templates.TemplatePage, error)
}

type SeedResult struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
	Failed  []string `json:"failed"`
}

// Seed creates each entry whose type has no active template. With force set
// it creates a new version that replaces the active one.
func Seed(ctx context.Context, svc TemplateService, reg *TemplateRegistry, by string, force bool) (*SeedResult, error) {
	if problems := Validate(reg); len(problems) > 0 {
		return nil, fmt.Errorf("registry invalid: %w", errors.Join(problems...))
	}

	active := true
	res := &SeedResult{}
	for _, entry := range reg.Templates {
		if !force {
			page, err := svc.GetTemplates(ctx, templates.Filter{Type: entry.Type, Active: &active}, templates.Pagination{Page: 1, Limit: 1})
			if err != nil {
				return res, fmt.Errorf("look up %s: %w", entry.Type, err)
			}
			if page.Total > 0 {
				res.Skipped = append(res.Skipped, string(entry.Type))
				continue
			}
		}

		_, err := svc.CreateTemplate(ctx, templates.TemplateInput{
			Name:            entry.Name,
			Description:     entry.Description,
			Type:            entry.Type,
			Category:        entry.Category,
			Variants:        entry.Variants,
			DefaultLanguage: entry.DefaultLanguage,
			Replace:         force,
		}, by)
		if err != nil {
			res.Failed = append(res.Failed, fmt.Sprintf("%s: %v", entry.Type, err))
			continue
		}
		res.Created = append(res.Created, string(entry.Type))
	}
	return res, nil
}

// Export builds a registry from the active template of every known type.
func Export(ctx context.Context, svc TemplateService) (*TemplateRegistry, error) {
	active := true
	reg := &TemplateRegistry{Version: "1.0.0"}
	for _, t := range models.TemplateTypes {
		page, err := svc.GetTemplates(ctx, templates.Filter{Type: t, Active: &active}, templates.Pagination{Page: 1, Limit: templates.MaxPageLimit})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", t, err)
		}
		if len(page.Templates) == 0 {
			continue
		}
		// Highest version wins when several are active.
		list := page.Templates
		sort.Slice(list, func(i, j int) bool {
			return templates.CompareVersions(list[i].Version, list[j].Version) > 0
		})
		tmpl := list[0]
		reg.Templates = append(reg.Templates, TemplateEntry{
			Name:            tmpl.Name,
			Type:            tmpl.Type,
			Category:        tmpl.Category,
			Description:     tmpl.Description,
			DefaultLanguage: tmpl.DefaultLanguage,
			Variants:        models.CloneVariants(tmpl.Variants),
		})
	}
	return reg, nil
}
