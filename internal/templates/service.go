package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/models"
	"notification-workers/internal/rendering"
)

type Config struct {
	HistoryLimit    int           `mapstructure:"history_limit"`
	DefaultLanguage string        `mapstructure:"default_language"`
	UsageTimeout    time.Duration `mapstructure:"usage_timeout"`
}

func DefaultConfig() Config {
	return Config{
		HistoryLimit:    DefaultHistoryLimit,
		DefaultLanguage: "en",
		UsageTimeout:    5 * time.Second,
	}
}

type Option func(*Service)

// WithObserver mirrors performance samples to an external sink.
func WithObserver(o OperationObserver) Option {
	return func(s *Service) { s.perf = NewPerformanceTracker(o) }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithResolver sets the lookup used on cache misses.
func WithResolver(r Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// Resolver performs the language-aware lookup behind the cache.
type Resolver interface {
	GetLocalizedTemplate(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*ResolvedVariant, error)
}

// Service is the entry point for template lifecycle and lookup. It layers a
// lookup cache, version history and per-operation metrics over a Store.
type Service struct {
	config   Config
	store    Store
	history  HistoryStore
	cache    *LookupCache
	perf     *PerformanceTracker
	logger   logger.Logger
	validate *validator.Validate
	content  *rendering.Validator
	email    *rendering.EmailRenderer
	sms      *rendering.SMSRenderer
	push     *rendering.PushRenderer
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
	bg       sync.WaitGroup

	resolverMu sync.RWMutex
	resolver   Resolver
}

func NewService(config Config, store Store, history HistoryStore, log logger.Logger, opts ...Option) *Service {
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = "en"
	}
	if config.UsageTimeout <= 0 {
		config.UsageTimeout = 5 * time.Second
	}
	if history == nil {
		history = NewMemoryHistory(config.HistoryLimit)
	}
	s := &Service{
		config:   config,
		store:    store,
		history:  history,
		cache:    NewLookupCache(),
		perf:     NewPerformanceTracker(nil),
		logger:   logger.ForComponent(log, "template-service"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		content:  rendering.NewValidator(),
		email:    rendering.NewEmailRenderer(rendering.DefaultEmailOptions()),
		sms:      rendering.NewSMSRenderer(0),
		push:     rendering.NewPushRenderer(),
		tracer:   otel.Tracer("notification-workers/templates"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TemplateInput carries the caller-supplied fields of a new template.
type TemplateInput struct {
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	Type            models.TemplateType `json:"type"`
	Category        models.Category     `json:"category"`
	Variants        []models.Variant    `json:"variants"`
	DefaultLanguage string              `json:"defaultLanguage,omitempty"`
	// Replace deactivates the currently active templates of the same type.
	Replace bool `json:"replace,omitempty"`
}

// UpdateInput is a partial update. Nil fields are left unchanged; a nil
// Variants slice keeps the current variants.
type UpdateInput struct {
	Name            *string          `json:"name,omitempty"`
	Description     *string          `json:"description,omitempty"`
	Category        *models.Category `json:"category,omitempty"`
	DefaultLanguage *string          `json:"defaultLanguage,omitempty"`
	IsActive        *bool            `json:"isActive,omitempty"`
	Variants        []models.Variant `json:"variants,omitempty"`
	// Reason is recorded on the history snapshot; defaults to "update".
	Reason string `json:"-"`
}

type TemplatePage struct {
	Templates  []*models.Template `json:"templates"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	TotalPages int                `json:"totalPages"`
}

// begin opens a span and returns the closer that records the operation.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "templates."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
		s.perf.track(ctx, op, start, errp)
	}
}

func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput, createdBy string) (tmpl *models.Template, err error) {
	ctx, done := s.begin(ctx, OpCreate, attribute.String("template.type", string(in.Type)))
	defer done(&err)

	now := s.now()
	tmpl = &models.Template{
		ID:              s.newID(),
		Name:            strings.TrimSpace(in.Name),
		Type:            in.Type,
		Category:        in.Category,
		Description:     in.Description,
		Variants:        models.CloneVariants(in.Variants),
		IsActive:        true,
		DefaultLanguage: in.DefaultLanguage,
		CreatedBy:       createdBy,
		UpdatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if tmpl.DefaultLanguage == "" {
		tmpl.DefaultLanguage = s.config.DefaultLanguage
	}
	if err = s.validateTemplate(tmpl); err != nil {
		return nil, err
	}

	existing, err := s.store.ListByType(ctx, in.Type)
	if err != nil {
		return nil, apperrors.NewStoreError("list templates by type", err)
	}
	tmpl.Version = nextTypeVersion(existing)

	if in.Replace {
		for _, prior := range existing {
			if !prior.IsActive {
				continue
			}
			prior.IsActive = false
			prior.UpdatedAt = now
			prior.UpdatedBy = createdBy
			if err = s.store.Update(ctx, prior); err != nil {
				return nil, apperrors.NewStoreError("deactivate template", err)
			}
			s.logger.Info("Template deactivated by replacement", map[string]interface{}{
				"templateId": prior.ID,
				"version":    prior.Version,
			})
		}
	}

	if err = s.store.Create(ctx, tmpl); err != nil {
		return nil, apperrors.NewStoreError("create template", err)
	}
	s.InvalidateType(tmpl.Type)

	s.logger.Info("Template created", map[string]interface{}{
		"templateId": tmpl.ID,
		"type":       tmpl.Type,
		"version":    tmpl.Version,
		"variants":   len(tmpl.Variants),
	})
	return tmpl, nil
}

// GetTemplate resolves the active variant for the tuple through the lookup
// cache. Misses go to the configured Resolver, or straight to the store with
// a default-language fallback when none is set.
func (s *Service) GetTemplate(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (rv *ResolvedVariant, err error) {
	ctx, done := s.begin(ctx, OpGet,
		attribute.String("template.type", string(t)),
		attribute.String("channel", string(ch)),
	)
	defer done(&err)

	if lang == "" {
		lang = s.config.DefaultLanguage
	}
	key := CacheKey(t, ch, role, lang)
	if cached, ok := s.cache.Get(key); ok {
		s.perf.cache(ctx, OpGet, true)
		s.recordUsage(cached.TemplateID)
		return cached, nil
	}
	s.perf.cache(ctx, OpGet, false)

	prefix := TypePrefix(t)
	gen := s.cache.Generation(prefix)
	if r := s.currentResolver(); r != nil {
		rv, err = r.GetLocalizedTemplate(ctx, t, ch, role, lang)
	} else {
		rv, err = s.lookup(ctx, t, ch, role, lang)
	}
	if err != nil {
		return nil, err
	}

	if !s.cache.SetIfCurrent(key, prefix, gen, rv) {
		s.logger.Debug("Template changed during lookup, result not cached", map[string]interface{}{
			"key": key,
		})
	}
	s.recordUsage(rv.TemplateID)
	return rv, nil
}

// SetResolver replaces the lookup used on cache misses. It exists for
// resolvers that are built on top of this service.
func (s *Service) SetResolver(r Resolver) {
	s.resolverMu.Lock()
	defer s.resolverMu.Unlock()
	s.resolver = r
}

func (s *Service) currentResolver() Resolver {
	s.resolverMu.RLock()
	defer s.resolverMu.RUnlock()
	return s.resolver
}

func (s *Service) lookup(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*ResolvedVariant, error) {
	resolvedLang := lang
	tmpl, err := s.store.FindActive(ctx, t, ch, role, lang)
	if err != nil {
		return nil, apperrors.NewStoreError("find active template", err)
	}
	if tmpl == nil && lang != s.config.DefaultLanguage {
		resolvedLang = s.config.DefaultLanguage
		tmpl, err = s.store.FindActive(ctx, t, ch, role, resolvedLang)
		if err != nil {
			return nil, apperrors.NewStoreError("find active template", err)
		}
	}
	if tmpl == nil {
		return nil, apperrors.NewTemplateNotFoundError(string(t), string(ch), string(role), lang)
	}
	variant, ok := tmpl.FindVariant(ch, role, resolvedLang)
	if !ok {
		return nil, apperrors.NewTemplateNotFoundError(string(t), string(ch), string(role), lang)
	}
	return &ResolvedVariant{
		TemplateID:        tmpl.ID,
		TemplateName:      tmpl.Name,
		Type:              tmpl.Type,
		Category:          tmpl.Category,
		Version:           tmpl.Version,
		Variant:           *variant,
		Language:          resolvedLang,
		RequestedLanguage: lang,
		Fallback:          resolvedLang != lang,
	}, nil
}

func (s *Service) recordUsage(templateID string) {
	at := s.now()
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.UsageTimeout)
		defer cancel()
		if err := s.store.IncrementUsage(ctx, templateID, at); err != nil {
			s.logger.Warn("Failed to record template usage", map[string]interface{}{
				"templateId": templateID,
				"error":      err,
			})
		}
	}()
}

// Wait blocks until background usage updates have finished.
func (s *Service) Wait() {
	s.bg.Wait()
}

func (s *Service) GetTemplateByID(ctx context.Context, id string) (*models.Template, error) {
	tmpl, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeErr("find template", err)
	}
	return tmpl, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, id string, in UpdateInput, updatedBy string) (tmpl *models.Template, err error) {
	ctx, done := s.begin(ctx, OpUpdate, attribute.String("template.id", id))
	defer done(&err)

	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeErr("find template", err)
	}

	updated := current.Clone()
	if in.Name != nil {
		updated.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		updated.Description = *in.Description
	}
	if in.Category != nil {
		updated.Category = *in.Category
	}
	if in.DefaultLanguage != nil {
		updated.DefaultLanguage = *in.DefaultLanguage
	}
	if in.IsActive != nil {
		updated.IsActive = *in.IsActive
	}
	if in.Variants != nil {
		updated.Variants = models.CloneVariants(in.Variants)
	}
	if err = s.validateTemplate(updated); err != nil {
		return nil, err
	}

	reason := in.Reason
	if reason == "" {
		reason = "update"
	}
	if err = s.snapshot(ctx, current, reason); err != nil {
		return nil, err
	}
	if !models.VariantsEqual(current.Variants, updated.Variants) {
		if updated.Version, err = s.nextVersion(ctx, current.Type); err != nil {
			return nil, err
		}
	}
	updated.UpdatedAt = s.now()
	updated.UpdatedBy = updatedBy

	if err = s.store.Update(ctx, updated); err != nil {
		return nil, s.storeErr("update template", err)
	}
	s.InvalidateType(updated.Type)

	s.logger.Info("Template updated", map[string]interface{}{
		"templateId":      id,
		"previousVersion": current.Version,
		"version":         updated.Version,
	})
	return updated, nil
}

// DeleteTemplate deactivates the template. Templates are never removed.
func (s *Service) DeleteTemplate(ctx context.Context, id string) (err error) {
	ctx, done := s.begin(ctx, OpDelete, attribute.String("template.id", id))
	defer done(&err)

	tmpl, err := s.store.FindByID(ctx, id)
	if err != nil {
		return s.storeErr("find template", err)
	}
	tmpl.IsActive = false
	tmpl.UpdatedAt = s.now()
	if err = s.store.Update(ctx, tmpl); err != nil {
		return s.storeErr("deactivate template", err)
	}
	s.InvalidateType(tmpl.Type)

	s.logger.Info("Template deactivated", map[string]interface{}{"templateId": id})
	return nil
}

// RollbackTemplate restores the content of a historical version under a new
// patch version. The state being replaced is snapshotted first.
func (s *Service) RollbackTemplate(ctx context.Context, id, targetVersion, by string) (tmpl *models.Template, err error) {
	ctx, done := s.begin(ctx, OpRollback,
		attribute.String("template.id", id),
		attribute.String("template.target_version", targetVersion),
	)
	defer done(&err)

	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeErr("find template", err)
	}
	entry, err := s.history.Find(ctx, id, targetVersion)
	if err != nil {
		return nil, apperrors.NewStoreError("read version history", err)
	}
	if entry == nil {
		return nil, apperrors.NewVersionNotFoundError(id, targetVersion)
	}
	if err = s.snapshot(ctx, current, "rollback"); err != nil {
		return nil, err
	}

	restored := entry.Snapshot.Clone()
	restored.ID = current.ID
	restored.Type = current.Type
	if restored.Version, err = s.nextVersion(ctx, current.Type); err != nil {
		return nil, err
	}
	restored.CreatedAt = current.CreatedAt
	restored.CreatedBy = current.CreatedBy
	restored.Usage = current.Usage
	restored.UpdatedAt = s.now()
	restored.UpdatedBy = by

	if err = s.store.Update(ctx, restored); err != nil {
		return nil, s.storeErr("rollback template", err)
	}
	s.InvalidateType(restored.Type)

	s.logger.Info("Template rolled back", map[string]interface{}{
		"templateId":    id,
		"targetVersion": targetVersion,
		"version":       restored.Version,
	})
	return restored, nil
}

// nextVersion is one patch above the highest version stored for the type,
// so templates of one type never share a version label.
func (s *Service) nextVersion(ctx context.Context, t models.TemplateType) (string, error) {
	existing, err := s.store.ListByType(ctx, t)
	if err != nil {
		return "", apperrors.NewStoreError("list templates by type", err)
	}
	return nextTypeVersion(existing), nil
}

func nextTypeVersion(existing []*models.Template) string {
	if len(existing) == 0 {
		return InitialVersion
	}
	versions := make([]string, 0, len(existing))
	for _, e := range existing {
		versions = append(versions, e.Version)
	}
	return NextPatch(HighestVersion(versions))
}

func (s *Service) snapshot(ctx context.Context, t *models.Template, reason string) error {
	entry := models.VersionHistoryEntry{
		TemplateID: t.ID,
		Version:    t.Version,
		Snapshot:   *t.Clone(),
		CapturedAt: s.now(),
		Reason:     reason,
	}
	if err := s.history.Push(ctx, entry); err != nil {
		return apperrors.NewStoreError("record version history", err)
	}
	return nil
}

func (s *Service) GetVersionHistory(ctx context.Context, id string) ([]models.VersionHistoryEntry, error) {
	entries, err := s.history.List(ctx, id)
	if err != nil {
		return nil, apperrors.NewStoreError("read version history", err)
	}
	return entries, nil
}

func (s *Service) GetTemplates(ctx context.Context, f Filter, p Pagination) (page *TemplatePage, err error) {
	ctx, done := s.begin(ctx, OpList)
	defer done(&err)

	p = p.Normalize()
	items, total, err := s.store.Find(ctx, f, p)
	if err != nil {
		return nil, apperrors.NewStoreError("find templates", err)
	}
	totalPages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return &TemplatePage{
		Templates:  items,
		Total:      total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: totalPages,
	}, nil
}

// VariantTestResult is the outcome of rendering one variant.
type VariantTestResult struct {
	Channel    models.Channel              `json:"channel"`
	UserRole   models.UserRole             `json:"userRole"`
	Language   string                      `json:"language"`
	Success    bool                        `json:"success"`
	Error      string                      `json:"error,omitempty"`
	Rendered   interface{}                 `json:"rendered,omitempty"`
	Validation *rendering.ValidationReport `json:"validation"`
}

type TestReport struct {
	TemplateID string              `json:"templateId"`
	Version    string              `json:"version"`
	Passed     int                 `json:"passed"`
	Failed     int                 `json:"failed"`
	Results    []VariantTestResult `json:"results"`
}

// TestTemplate renders every variant of a template. When data is nil each
// variant is rendered against sample values built from its own placeholders.
func (s *Service) TestTemplate(ctx context.Context, id string, data map[string]interface{}) (report *TestReport, err error) {
	ctx, done := s.begin(ctx, OpTest, attribute.String("template.id", id))
	defer done(&err)

	tmpl, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeErr("find template", err)
	}

	report = &TestReport{TemplateID: tmpl.ID, Version: tmpl.Version}
	for i := range tmpl.Variants {
		v := &tmpl.Variants[i]
		input := data
		if input == nil {
			input = SampleData(v)
		}
		res := VariantTestResult{
			Channel:    v.Channel,
			UserRole:   v.UserRole,
			Language:   v.Language,
			Validation: s.content.Validate(v),
		}
		rendered, renderErr := s.renderVariant(v, input)
		if renderErr != nil {
			res.Error = renderErr.Error()
			report.Failed++
		} else {
			res.Success = true
			res.Rendered = rendered
			report.Passed++
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

func (s *Service) renderVariant(v *models.Variant, data map[string]interface{}) (interface{}, error) {
	switch v.Channel {
	case models.ChannelEmail:
		return s.email.Render(v, data, nil)
	case models.ChannelSMS:
		return s.sms.Render(v, data)
	case models.ChannelWebsocket:
		return s.push.Render(v, data)
	default:
		return nil, apperrors.NewUnsupportedChannelError(string(v.Channel))
	}
}

// SampleData builds nested data where every placeholder of the variant
// resolves to "[key]".
func SampleData(v *models.Variant) map[string]interface{} {
	sources := []string{v.Subject, v.Title, v.Body, v.HTMLBody}
	for _, a := range v.Actions {
		sources = append(sources, a.Text, a.URL)
	}
	data := make(map[string]interface{})
	for _, src := range sources {
		for _, key := range rendering.Placeholders(src) {
			setNested(data, key, "["+key+"]")
		}
	}
	return data
}

func setNested(data map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	node := data
	for _, p := range parts[:len(parts)-1] {
		child, ok := node[p].(map[string]interface{})
		if !ok {
			if _, taken := node[p]; taken {
				return
			}
			child = make(map[string]interface{})
			node[p] = child
		}
		node = child
	}
	last := parts[len(parts)-1]
	if _, taken := node[last]; !taken {
		node[last] = value
	}
}

func (s *Service) GetPerformanceMetrics() map[string]OperationMetrics {
	return s.perf.Snapshot()
}

func (s *Service) GetOperationMetrics(op string) (OperationMetrics, bool) {
	return s.perf.Operation(op)
}

// InvalidateType drops every cached lookup of the type.
func (s *Service) InvalidateType(t models.TemplateType) int {
	removed := s.cache.InvalidatePrefix(TypePrefix(t))
	if removed > 0 {
		s.logger.Debug("Template cache invalidated", map[string]interface{}{
			"type":    t,
			"removed": removed,
		})
	}
	return removed
}

func (s *Service) ClearCache() {
	s.cache.Clear()
}

func (s *Service) CacheSize() int {
	return s.cache.Len()
}

func (s *Service) validateTemplate(t *models.Template) error {
	var fields []apperrors.FieldError

	if err := s.validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperrors.NewValidationError(err.Error(), nil)
		}
		for _, fe := range verrs {
			fields = append(fields, apperrors.FieldError{
				Field:   fe.Namespace(),
				Message: fmt.Sprintf("failed '%s' validation", fe.Tag()),
			})
		}
	}
	if t.Type != "" && !t.Type.IsValid() {
		fields = append(fields, apperrors.FieldError{Field: "Template.Type", Message: "unknown template type " + string(t.Type)})
	}

	seen := make(map[models.VariantKey]int, len(t.Variants))
	for i := range t.Variants {
		v := &t.Variants[i]
		field := fmt.Sprintf("Template.Variants[%d]", i)
		if first, dup := seen[v.Key()]; dup {
			fields = append(fields, apperrors.FieldError{
				Field:   field,
				Message: fmt.Sprintf("duplicates variant %d for %s/%s/%s", first, v.Channel, v.UserRole, v.Language),
			})
			continue
		}
		seen[v.Key()] = i
		for _, issue := range s.content.Validate(v).Errors {
			fields = append(fields, apperrors.FieldError{Field: field, Message: issue.Message})
		}
	}

	if len(fields) == 0 {
		return nil
	}
	apperrors.SortFields(fields)
	return apperrors.NewValidationError("template validation failed", fields)
}

// storeErr keeps not-found errors as they are and wraps everything else.
func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, apperrors.ErrTemplateNotFound) {
		return err
	}
	return apperrors.NewStoreError(op, err)
}
