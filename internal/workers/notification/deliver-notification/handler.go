package delivernotification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"notification-workers/internal/common/camunda"
	"notification-workers/internal/common/errors"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/common/metrics"
	"notification-workers/internal/common/validation"
	"notification-workers/internal/dispatch"
	"notification-workers/internal/models"
)

const TaskType = "deliver-notification"

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

type Handler struct {
	config     *Config
	dispatcher Dispatcher
	completer  *camunda.JobCompleter
	schema     *validation.Validator
	errors     *errors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

func NewHandler(config *Config, dispatcher Dispatcher, log logger.Logger) *Handler {
	log = logger.ForComponent(log, TaskType)
	completer := config.Completer
	if completer == nil {
		completer = camunda.NewJobCompleter(nil)
	}
	return &Handler{
		config:     config,
		dispatcher: dispatcher,
		completer:  completer,
		schema:     validation.MustValidator(GetInputSchema()),
		errors:     errors.NewErrorHandler(log),
		logger:     log,
		now:        time.Now,
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

	if err := h.completeJob(ctx, client, job, output); err != nil {
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.Normalize(err).Code)).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

// ParseInput validates raw job variables against the input schema and decodes them.
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
	priority := input.Priority
	if priority == "" {
		priority = models.Priority(h.config.DefaultPriority)
	}

	result, err := h.dispatcher.Dispatch(ctx, dispatch.Request{
		NotificationID: input.NotificationID,
		Type:           input.Type,
		Recipients:     input.Recipients,
		Data:           input.Data,
		Language:       input.Language,
		Priority:       priority,
		Channels:       input.Channels,
		Preferences:    input.Preferences,
		Metadata:       input.Metadata,
	})
	if err != nil {
		return nil, err
	}

	output := &Output{
		NotificationID: result.NotificationID,
		Deliveries:     make([]DeliverySummary, 0, len(result.Deliveries)),
		SentAt:         h.now().UTC().Format(time.RFC3339),
	}

	var delivered, attempted int
	var unresolved []string
	for _, rd := range result.Deliveries {
		summary := DeliverySummary{Role: rd.Role, Language: rd.Language, Error: rd.Error, Status: models.StatusFailed}
		if rd.Result == nil && len(rd.Templates) == 0 {
			unresolved = append(unresolved, string(rd.Role))
		}
		if rd.Result != nil {
			attempted++
			summary.DeliveryID = rd.Result.DeliveryID
			summary.Status = rd.Result.Status
			summary.Channels = rd.Result.Channels
			summary.FallbackChannel = rd.Result.FallbackChannel
			if rd.Result.Succeeded() {
				delivered++
			}
		}
		output.Deliveries = append(output.Deliveries, summary)
	}

	if attempted == 0 && len(unresolved) > 0 {
		return nil, errors.NewTemplateNotFoundError(string(input.Type), "*", strings.Join(unresolved, ","), input.Language)
	}

	switch {
	case delivered == len(result.Deliveries):
		output.Status = StatusSent
	case delivered > 0:
		output.Status = StatusPartial
	default:
		output.Status = StatusFailed
	}

	h.logger.Info("notification dispatched", map[string]interface{}{
		"notificationId": output.NotificationID,
		"type":           input.Type,
		"status":         output.Status,
		"roles":          len(output.Deliveries),
	})
	return output, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	if err := h.completer.Complete(ctx, client, job, output); err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err,
		})
		return err
	}
	return nil
}
