package camunda

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"notification-workers/internal/common/logger"
)

type WorkerOptions struct {
	TaskType      string
	MaxJobsActive int
	Timeout       time.Duration
	Observer      JobObserver
}

// JobObserver records per-job counts and latency. The observability
// provider implements it.
type JobObserver interface {
	RecordJobProcessed(ctx context.Context, taskType string)
	RecordJobDuration(ctx context.Context, duration time.Duration, taskType string)
}

// Instrument wraps handler so every job is reported to obs.
func Instrument(handler worker.JobHandler, obs JobObserver) worker.JobHandler {
	if obs == nil {
		return handler
	}
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		handler(client, job)
		ctx := context.Background()
		obs.RecordJobProcessed(ctx, job.Type)
		obs.RecordJobDuration(ctx, time.Since(start), job.Type)
	}
}

// Worker is an open job subscription for one task type.
type Worker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

func NewWorker(client zbc.Client, opts WorkerOptions, handler worker.JobHandler, log logger.Logger) *Worker {
	cmd := client.NewJobWorker().
		JobType(opts.TaskType).
		Handler(Instrument(handler, opts.Observer))
	if opts.MaxJobsActive > 0 {
		cmd = cmd.MaxJobsActive(opts.MaxJobsActive)
	}
	if opts.Timeout > 0 {
		cmd = cmd.Timeout(opts.Timeout)
	}

	w := &Worker{
		worker:   cmd.Open(),
		logger:   logger.ForComponent(log, "camunda-worker"),
		taskType: opts.TaskType,
	}
	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      opts.TaskType,
		"maxJobsActive": opts.MaxJobsActive,
		"timeout":       opts.Timeout.String(),
	})
	return w
}

func (w *Worker) TaskType() string { return w.taskType }

// Stop closes the subscription and waits for in-flight jobs.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker", map[string]interface{}{"taskType": w.taskType})
	w.worker.Close()
	w.worker.AwaitClose()
}
