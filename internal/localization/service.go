package localization

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/models"
	"notification-workers/internal/templates"
)

// TemplateUpdater saves variant changes. The template service records a
// history snapshot, bumps the version and invalidates cached lookups.
type TemplateUpdater interface {
	UpdateTemplate(ctx context.Context, id string, in templates.UpdateInput, updatedBy string) (*models.Template, error)
}

// Service resolves localized variants and manages per-language variants of
// stored templates.
type Service struct {
	config     Config
	store      templates.Store
	translator Translator
	cache      *TranslationCache
	updater    TemplateUpdater
	validate   *validator.Validate
	logger     logger.Logger
	supported  map[string]bool
}

// NewService builds the service. translator may be nil. Without an updater
// the service only resolves templates.
func NewService(config Config, store templates.Store, translator Translator, updater TemplateUpdater, log logger.Logger) *Service {
	config = config.withDefaults()
	supported := make(map[string]bool, len(config.SupportedLanguages))
	for _, l := range config.SupportedLanguages {
		supported[BaseLanguage(l)] = true
	}
	return &Service{
		config:     config,
		store:      store,
		translator: translator,
		cache:      NewTranslationCache(config.CacheTTL, config.CacheMaxEntries),
		updater:    updater,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger.ForComponent(log, "localization"),
		supported:  supported,
	}
}

func (s *Service) IsSupported(lang string) bool {
	return s.supported[BaseLanguage(lang)]
}

// NormalizeLanguage returns the supported base language of lang, or the
// default language.
func (s *Service) NormalizeLanguage(lang string) string {
	base := BaseLanguage(lang)
	if base == "" || !s.supported[base] {
		return s.config.DefaultLanguage
	}
	return base
}

func (s *Service) SupportedLanguages() []string {
	return append([]string(nil), s.config.SupportedLanguages...)
}

// GetLocalizedTemplate looks up the normalized language first and then walks
// the fallback chain. A match in a fallback language is flagged as such.
func (s *Service) GetLocalizedTemplate(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*templates.ResolvedVariant, error) {
	requested := strings.ToLower(strings.TrimSpace(lang))
	normalized := s.NormalizeLanguage(lang)

	candidates := []string{normalized}
	for _, fb := range s.config.FallbackChain {
		fb = BaseLanguage(fb)
		if fb != "" && !contains(candidates, fb) {
			candidates = append(candidates, fb)
		}
	}

	for _, cand := range candidates {
		tmpl, err := s.store.FindActive(ctx, t, ch, role, cand)
		if err != nil {
			return nil, apperrors.NewStoreError("find localized template", err)
		}
		if tmpl == nil {
			continue
		}
		variant, ok := tmpl.FindVariant(ch, role, cand)
		if !ok {
			continue
		}
		if cand != normalized {
			s.logger.Debug("Localized template resolved through fallback", map[string]interface{}{
				"type":      t,
				"requested": requested,
				"resolved":  cand,
			})
		}
		return &templates.ResolvedVariant{
			TemplateID:        tmpl.ID,
			TemplateName:      tmpl.Name,
			Type:              tmpl.Type,
			Category:          tmpl.Category,
			Version:           tmpl.Version,
			Variant:           *variant,
			Language:          cand,
			RequestedLanguage: requested,
			Fallback:          cand != normalized,
		}, nil
	}
	return nil, apperrors.NewTemplateNotFoundError(string(t), string(ch), string(role), requested)
}

// VariantOutcome reports one item of a bulk operation.
type VariantOutcome struct {
	Channel  models.Channel  `json:"channel,omitempty"`
	UserRole models.UserRole `json:"userRole,omitempty"`
	Language string          `json:"language"`
	Error    string          `json:"error,omitempty"`
}

type BulkResult struct {
	TemplateID string           `json:"templateId"`
	Version    string           `json:"version"`
	Successes  []VariantOutcome `json:"successes"`
	Failures   []VariantOutcome `json:"failures"`
}

func outcome(v *models.Variant, err error) VariantOutcome {
	o := VariantOutcome{Channel: v.Channel, UserRole: v.UserRole, Language: v.Language}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// CreateLocalizedVariant adds or overwrites one language variant.
func (s *Service) CreateLocalizedVariant(ctx context.Context, templateID string, v models.Variant, by string) (*models.Template, error) {
	tmpl, err := s.store.FindByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if err := s.prepareVariant(&v); err != nil {
		return nil, err
	}
	tmpl.UpsertVariant(v)
	if err := s.persist(ctx, tmpl, by); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// BulkCreateLocalizedVariants applies every valid variant and reports the
// invalid ones. It only fails as a whole when the template cannot be loaded
// or saved.
func (s *Service) BulkCreateLocalizedVariants(ctx context.Context, templateID string, variants []models.Variant, by string) (*BulkResult, error) {
	tmpl, err := s.store.FindByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.bulkApply(ctx, tmpl, variants, by)
}

func (s *Service) bulkApply(ctx context.Context, tmpl *models.Template, variants []models.Variant, by string) (*BulkResult, error) {
	result := &BulkResult{TemplateID: tmpl.ID, Successes: []VariantOutcome{}, Failures: []VariantOutcome{}}
	for i := range variants {
		v := variants[i]
		if err := s.prepareVariant(&v); err != nil {
			result.Failures = append(result.Failures, outcome(&v, err))
			continue
		}
		tmpl.UpsertVariant(v)
		result.Successes = append(result.Successes, outcome(&v, nil))
	}

	if len(result.Successes) > 0 {
		if err := s.persist(ctx, tmpl, by); err != nil {
			return nil, err
		}
	}
	result.Version = tmpl.Version

	s.logger.Info("Localized variants applied", map[string]interface{}{
		"templateId": tmpl.ID,
		"successes":  len(result.Successes),
		"failures":   len(result.Failures),
	})
	return result, nil
}

// prepareVariant normalizes, validates and formats a variant in place.
func (s *Service) prepareVariant(v *models.Variant) error {
	v.Language = BaseLanguage(v.Language)
	if v.TranslationMethod == "" {
		v.TranslationMethod = models.TranslationManual
	}

	var fields []apperrors.FieldError
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, apperrors.FieldError{
					Field:   fe.Namespace(),
					Message: fmt.Sprintf("failed '%s' validation", fe.Tag()),
				})
			}
		}
	}
	report := s.ValidateTranslatedContent(v, v.Language)
	for _, msg := range report.Errors {
		fields = append(fields, apperrors.FieldError{Field: "Variant", Message: msg})
	}
	if len(fields) > 0 {
		apperrors.SortFields(fields)
		return apperrors.NewValidationError(
			fmt.Sprintf("invalid %s variant for %s/%s", v.Language, v.Channel, v.UserRole), fields)
	}

	ApplyLanguageFormatting(v, v.Language)
	return nil
}

func (s *Service) persist(ctx context.Context, tmpl *models.Template, by string) error {
	if s.updater == nil {
		return apperrors.NewInvalidInputError("no template updater configured")
	}
	updated, err := s.updater.UpdateTemplate(ctx, tmpl.ID, templates.UpdateInput{
		Variants: tmpl.Variants,
		Reason:   "localize",
	}, by)
	if err != nil {
		return err
	}
	*tmpl = *updated
	return nil
}

// AutoTranslateTemplate machine-translates the default-language variants
// into each target language. Languages whose translation fails are reported
// as failures; the rest are saved.
func (s *Service) AutoTranslateTemplate(ctx context.Context, templateID string, targets []string, by string) (*BulkResult, error) {
	if s.translator == nil {
		return nil, apperrors.NewInvalidInputError("no translation provider configured")
	}
	tmpl, err := s.store.FindByID(ctx, templateID)
	if err != nil {
		return nil, err
	}

	source := tmpl.DefaultLanguage
	if source == "" {
		source = s.config.DefaultLanguage
	}
	var sources []models.Variant
	for _, v := range tmpl.Variants {
		if v.Language == source {
			sources = append(sources, v)
		}
	}
	if len(sources) == 0 {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("template %s has no %s variants to translate from", templateID, source), nil)
	}

	var (
		translated []models.Variant
		failures   []VariantOutcome
	)
	for _, target := range targets {
		lang := BaseLanguage(target)
		if lang == source {
			continue
		}
		if !s.IsSupported(lang) {
			failures = append(failures, VariantOutcome{
				Language: lang,
				Error:    apperrors.NewTranslationError(lang, fmt.Errorf("unsupported language")).Error(),
			})
			continue
		}

		batch := make([]models.Variant, 0, len(sources))
		var langErr error
		for _, src := range sources {
			v, err := s.translateVariant(ctx, src, source, lang)
			if err != nil {
				langErr = err
				break
			}
			batch = append(batch, v)
		}
		if langErr != nil {
			s.logger.Warn("Auto-translation failed", map[string]interface{}{
				"templateId": templateID,
				"language":   lang,
				"error":      langErr,
			})
			failures = append(failures, VariantOutcome{
				Language: lang,
				Error:    apperrors.NewTranslationError(lang, langErr).Error(),
			})
			continue
		}
		translated = append(translated, batch...)
	}

	result, err := s.bulkApply(ctx, tmpl, translated, by)
	if err != nil {
		return nil, err
	}
	result.Failures = append(result.Failures, failures...)
	return result, nil
}

func (s *Service) translateVariant(ctx context.Context, src models.Variant, source, target string) (models.Variant, error) {
	out := models.CloneVariants([]models.Variant{src})[0]
	out.Language = target
	out.TranslationMethod = models.TranslationAuto

	fields := []*string{&out.Subject, &out.Title, &out.Body, &out.HTMLBody}
	for i := range out.Actions {
		fields = append(fields, &out.Actions[i].Text)
	}
	for _, f := range fields {
		if strings.TrimSpace(*f) == "" {
			continue
		}
		text, err := s.translateText(ctx, *f, source, target)
		if err != nil {
			return models.Variant{}, err
		}
		*f = text
	}
	return out, nil
}

// translateText consults the cache, then the provider with placeholders masked.
func (s *Service) translateText(ctx context.Context, text, source, target string) (string, error) {
	masked, tokens := protectPlaceholders(text)
	key := TranslationKey(masked, target)
	if cached, ok := s.cache.Get(key); ok {
		return restorePlaceholders(cached, tokens), nil
	}
	translated, err := s.translator.Translate(ctx, masked, source, target)
	if err != nil {
		return "", err
	}
	s.cache.Set(key, translated)
	return restorePlaceholders(translated, tokens), nil
}

// TranslationCacheSize reports the number of cached translations.
func (s *Service) TranslationCacheSize() int {
	return s.cache.Len()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
