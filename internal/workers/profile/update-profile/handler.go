// internal/workers/profile/update-profile/handler.go
package updateprofile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "github.com/InternetOfUs/app-survey/internal/common/errors"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/common/metrics"
	"github.com/InternetOfUs/app-survey/internal/common/validation"
	"github.com/InternetOfUs/app-survey/internal/models"
	"github.com/InternetOfUs/app-survey/internal/pipeline"
	"github.com/InternetOfUs/app-survey/internal/queue"
)

const TaskType = string(queue.KindUpdate)

var ErrInvalidInput = errors.New("INVALID_INPUT")

// Updater runs one fresh profile update; *pipeline.Service implements it.
type Updater interface {
	RunUpdate(ctx context.Context, answer *models.SurveyAnswer) (*pipeline.UpdateReport, error)
}

type Handler struct {
	config  *Config
	updater Updater
	errs    *apperrors.ErrorHandler
	logger  logger.Logger
}

func NewHandler(cfg *Config, updater Updater, log logger.Logger) (*Handler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  cfg,
		updater: updater,
		errs:    apperrors.NewErrorHandler(log),
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

	h.logger.Info("Processing profile update", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.CodeOf(err))).Inc()
		h.errs.HandleJobError(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.CodeOf(err))).Inc()
		h.errs.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, apperrors.NewInvalidSurveyAnswerError(fmt.Sprintf("%v: parse job variables: %v", ErrInvalidInput, err))
	}
	if len(input.SurveyAnswer) == 0 {
		return nil, apperrors.NewInvalidSurveyAnswerError(fmt.Sprintf("%v: surveyAnswer is required", ErrInvalidInput))
	}

	result, err := validation.ValidateSurveyAnswer(input.SurveyAnswer)
	if err != nil {
		return nil, apperrors.NewInvalidSurveyAnswerError(err.Error())
	}
	if !result.Valid {
		return nil, apperrors.NewInvalidSurveyAnswerError(result.Summary())
	}
	return &input, nil
}

// Execute runs the update. A failed pipeline run is recorded in the failure ledger and
// completes the job; only ledger and decoding errors fail it.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	answer, err := models.DecodeSurveyAnswer(input.SurveyAnswer)
	if err != nil {
		return nil, apperrors.NewInvalidSurveyAnswerError(err.Error())
	}

	report, err := h.updater.RunUpdate(ctx, answer)
	if err != nil {
		return nil, err
	}

	output := &Output{
		TaskID:    input.TaskID,
		SubjectID: answer.SubjectID,
		Updated:   report.Succeeded(),
	}
	if !report.Succeeded() {
		output.FailureRecorded = true
		output.ErrorCode = string(apperrors.CodeOf(report.Err))
	}
	if report.Result != nil {
		output.Steps = make(map[string]string, len(report.Result.Steps))
		for _, s := range report.Result.Steps {
			output.Steps[s.Step] = string(s.Outcome)
		}
	}
	return output, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	h.logger.Info("Profile update job completed", map[string]interface{}{
		"jobKey":          job.GetKey(),
		"subjectId":       output.SubjectID,
		"updated":         output.Updated,
		"failureRecorded": output.FailureRecorded,
	})
}
