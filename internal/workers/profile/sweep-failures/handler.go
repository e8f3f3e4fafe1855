// Package sweepfailures lets a timer-started BPMN process drive the failure sweep instead
// of the in-process scheduler.
package sweepfailures

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"github.com/InternetOfUs/app-survey/internal/common/errors"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/common/metrics"
	"github.com/InternetOfUs/app-survey/internal/pipeline"
)

const TaskType = "sweep-failures"

type Sweeper interface {
	Sweep(ctx context.Context, q pipeline.Enqueuer) (*pipeline.SweepResult, error)
}

type Handler struct {
	config  *Config
	sweeper Sweeper
	queue   pipeline.Enqueuer
	errs    *errors.ErrorHandler
	logger  logger.Logger
}

func NewHandler(cfg *Config, sweeper Sweeper, q pipeline.Enqueuer, log logger.Logger) (*Handler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if q == nil {
		return nil, fmt.Errorf("%s needs a queue", TaskType)
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  cfg,
		sweeper: sweeper,
		queue:   q,
		errs:    errors.NewErrorHandler(log),
		logger:  log,
	}, nil
}

func (h *Handler) Config() *Config { return h.config }

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.Execute(ctx)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
		h.errs.HandleJobError(ctx, client, job, err)
		return
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{"error": err.Error()})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

// Execute runs one sweep against the configured queue.
func (h *Handler) Execute(ctx context.Context) (*Output, error) {
	res, err := h.sweeper.Sweep(ctx, h.queue)
	if err != nil {
		return nil, err
	}
	return &Output{Outstanding: res.Outstanding, Enqueued: res.Enqueued, TaskIDs: res.TaskIDs}, nil
}
