package resolvetemplate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"notification-workers/internal/common/camunda"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/metrics"
	"notification-workers/internal/common/validation"
	"notification-workers/internal/models"
	"notification-workers/internal/rendering"
	"notification-workers/internal/templates"
)

const TaskType = "resolve-template"

// Resolver looks up a variant through the language fallback chain.
type Resolver interface {
	GetLocalizedTemplate(ctx context.Context, t models.TemplateType, ch models.Channel, role models.UserRole, lang string) (*templates.ResolvedVariant, error)
}

type Handler struct {
	config    *Config
	resolver  Resolver
	completer *camunda.JobCompleter
	schema    *validation.Validator
	errors    *errors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, resolver Resolver, log logger.Logger) *Handler {
	log = logger.ForComponent(log, TaskType)
	completer := config.Completer
	if completer == nil {
		completer = camunda.NewJobCompleter(nil)
	}
	return &Handler{
		config:    config,
		resolver:  resolver,
		completer: completer,
		schema:    validation.MustValidator(GetInputSchema()),
		errors:    errors.NewErrorHandler(log),
		logger:    log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.ParseInput(job.Variables)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}
	output, err := h.Execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	if err := h.completer.Complete(ctx, client, job, output); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{"jobKey": job.Key, "error": err})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

func (h *Handler) ParseInput(variables string) (*Input, error) {
	result, err := h.schema.ValidateJSON(variables)
	if err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	if !result.Valid {
		fields := make([]errors.FieldError, 0, len(result.Errors))
		for _, e := range result.Errors {
			fields = append(fields, errors.FieldError{Field: e.Field, Message: e.Message})
		}
		return nil, errors.NewValidationError("job variables do not match the input schema", fields)
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	rv, err := h.resolver.GetLocalizedTemplate(ctx, input.Type, input.Channel, input.Role, input.Language)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, text := range []string{rv.Variant.Subject, rv.Variant.Title, rv.Variant.Body, rv.Variant.HTMLBody} {
		for _, p := range rendering.Placeholders(text) {
			seen[p] = true
		}
	}
	placeholders := make([]string, 0, len(seen))
	for p := range seen {
		placeholders = append(placeholders, p)
	}
	sort.Strings(placeholders)

	if rv.Fallback {
		h.logger.Debug("template resolved through language fallback", map[string]interface{}{
			"type":      input.Type,
			"requested": rv.RequestedLanguage,
			"resolved":  rv.Language,
		})
	}

	return &Output{
		TemplateID:        rv.TemplateID,
		TemplateName:      rv.TemplateName,
		Version:           rv.Version,
		Category:          rv.Category,
		Language:          rv.Language,
		RequestedLanguage: rv.RequestedLanguage,
		Fallback:          rv.Fallback,
		Placeholders:      placeholders,
	}, nil
}
