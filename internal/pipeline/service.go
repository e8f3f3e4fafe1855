package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/common/errors"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/common/metrics"
	"github.com/InternetOfUs/app-survey/internal/common/observability"
	"github.com/InternetOfUs/app-survey/internal/ledger"
	"github.com/InternetOfUs/app-survey/internal/models"
	"github.com/InternetOfUs/app-survey/internal/queue"
)

const DefaultMaxRetries = 5

// RecoveryOutcome is the result of one Recover call.
type RecoveryOutcome string

const (
	NoFailure   RecoveryOutcome = "no_failure"
	Stale       RecoveryOutcome = "stale"
	Exhausted   RecoveryOutcome = "exhausted"
	Recovered   RecoveryOutcome = "recovered"
	RetryFailed RecoveryOutcome = "retry_failed"
)

// Notifier alerts operators about a failure that will not be retried again.
type Notifier interface {
	NotifyExhausted(ctx context.Context, rec models.FailedUpdateRecord) error
}

// Auditor keeps a trail of successful updates.
type Auditor interface {
	RecordUpdate(ctx context.Context, result *Result, at time.Time) error
}

type ServiceOptions struct {
	MaxRetries    int
	Clock         clock.Clock
	Notifier      Notifier
	Auditor       Auditor
	Observability *observability.Observability
}

// UpdateReport is the outcome of RunUpdate. Err is the pipeline failure, already recorded
// in the ledger.
type UpdateReport struct {
	Result *Result
	Err    error
}

func (r *UpdateReport) Succeeded() bool { return r.Err == nil }

// Service runs updates and recoveries and does the ledger bookkeeping around them.
type Service struct {
	orchestrator *Orchestrator
	store        ledger.Store
	maxRetries   int
	clock        clock.Clock
	notifier     Notifier
	auditor      Auditor
	obs          *observability.Observability
	log          logger.Logger
}

func NewService(orchestrator *Orchestrator, store ledger.Store, opts ServiceOptions, log logger.Logger) *Service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{
		orchestrator: orchestrator,
		store:        store,
		maxRetries:   opts.MaxRetries,
		clock:        opts.Clock,
		notifier:     opts.Notifier,
		auditor:      opts.Auditor,
		obs:          opts.Observability,
		log:          log.WithFields(map[string]interface{}{"component": "pipeline"}),
	}
}

// RunUpdate runs a fresh update. A pipeline failure is stored as a FailedUpdateRecord with
// retry count 0 and reported in the UpdateReport; the returned error is only set when the
// ledger itself could not be written.
func (s *Service) RunUpdate(ctx context.Context, answer *models.SurveyAnswer) (*UpdateReport, error) {
	start := time.Now()
	result, runErr := s.orchestrator.Update(ctx, answer)
	report := &UpdateReport{Result: result, Err: runErr}

	if runErr == nil {
		s.obs.RecordRun(ctx, string(queue.KindUpdate), "succeeded", time.Since(start))
		return report, s.succeeded(ctx, result)
	}

	s.obs.RecordRun(ctx, string(queue.KindUpdate), "failed", time.Since(start))
	s.logFailure("Profile update failed", answer.SubjectID, runErr)

	raw, err := answer.Encode()
	if err != nil {
		return report, errors.NewInternalError(fmt.Errorf("encode survey answer: %w", err))
	}
	rec := models.FailedUpdateRecord{
		SubjectID:       answer.SubjectID,
		RawSurveyAnswer: raw,
		FailureTime:     s.clock.Now().UTC(),
		RetryCount:      0,
	}
	if err := s.store.UpsertFailure(ctx, rec); err != nil {
		return report, errors.NewLedgerOperationFailedError("upsert failure", err)
	}
	return report, nil
}

// Recover reconciles the subject's FailedUpdateRecord. Only ledger errors are returned.
func (s *Service) Recover(ctx context.Context, subjectID string) (RecoveryOutcome, error) {
	start := time.Now()
	outcome, err := s.recover(ctx, subjectID)
	if err == nil {
		metrics.Reconciliations.WithLabelValues(string(outcome)).Inc()
		s.obs.RecordRun(ctx, string(queue.KindRecover), string(outcome), time.Since(start))
	}
	return outcome, err
}

func (s *Service) recover(ctx context.Context, subjectID string) (RecoveryOutcome, error) {
	log := s.log.WithFields(map[string]interface{}{"subjectId": subjectID})

	rec, err := s.store.GetFailure(ctx, subjectID)
	if stderrors.Is(err, ledger.ErrNotFound) {
		return NoFailure, nil
	}
	if err != nil {
		return "", errors.NewLedgerOperationFailedError("get failure", err)
	}

	last, err := s.store.GetLastSuccess(ctx, subjectID)
	if err != nil && !stderrors.Is(err, ledger.ErrNotFound) {
		return "", errors.NewLedgerOperationFailedError("get last success", err)
	}
	if last != nil && last.LastUpdateTime.After(rec.FailureTime) {
		if err := s.store.DeleteFailure(ctx, subjectID); err != nil {
			return "", errors.NewLedgerOperationFailedError("delete failure", err)
		}
		log.Info("Failed update superseded by a later success", map[string]interface{}{
			"failureTime":    rec.FailureTime,
			"lastUpdateTime": last.LastUpdateTime,
		})
		return Stale, nil
	}

	if rec.RetryCount >= s.maxRetries {
		return s.exhaust(ctx, *rec, log)
	}

	answer, err := models.DecodeSurveyAnswer(rec.RawSurveyAnswer)
	if err != nil {
		log.Error("Stored survey answer is unreadable", map[string]interface{}{"error": err.Error()})
		return s.exhaust(ctx, *rec, log)
	}

	result, runErr := s.orchestrator.Update(ctx, answer)
	if runErr != nil {
		s.logFailure("Profile update retry failed", subjectID, runErr)
		rec.RetryCount++
		rec.FailureTime = s.clock.Now().UTC()
		if err := s.store.UpsertFailure(ctx, *rec); err != nil {
			return "", errors.NewLedgerOperationFailedError("upsert failure", err)
		}
		return RetryFailed, nil
	}

	if err := s.store.DeleteFailure(ctx, subjectID); err != nil {
		return "", errors.NewLedgerOperationFailedError("delete failure", err)
	}
	if err := s.succeeded(ctx, result); err != nil {
		return "", err
	}
	log.Info("Failed update recovered", map[string]interface{}{"retryCount": rec.RetryCount})
	return Recovered, nil
}

func (s *Service) exhaust(ctx context.Context, rec models.FailedUpdateRecord, log logger.Logger) (RecoveryOutcome, error) {
	if err := s.store.DeleteFailure(ctx, rec.SubjectID); err != nil {
		return "", errors.NewLedgerOperationFailedError("delete failure", err)
	}
	log.Error("Giving up on failed update", map[string]interface{}{
		"retryCount":  rec.RetryCount,
		"maxRetries":  s.maxRetries,
		"failureTime": rec.FailureTime,
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyExhausted(ctx, rec); err != nil {
			log.Warn("Failed to notify operators", map[string]interface{}{"error": err.Error()})
		}
	}
	return Exhausted, nil
}

func (s *Service) succeeded(ctx context.Context, result *Result) error {
	now := s.clock.Now().UTC()
	if err := s.store.UpsertLastSuccess(ctx, models.LastSuccessRecord{SubjectID: result.SubjectID, LastUpdateTime: now}); err != nil {
		return errors.NewLedgerOperationFailedError("upsert last success", err)
	}
	if s.auditor != nil {
		if err := s.auditor.RecordUpdate(ctx, result, now); err != nil {
			s.log.Warn("Failed to index profile update", map[string]interface{}{
				"subjectId": result.SubjectID,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

// Outstanding lists the failures waiting for recovery, oldest first.
func (s *Service) Outstanding(ctx context.Context) ([]models.FailedUpdateRecord, error) {
	records, err := s.store.ListFailures(ctx)
	if err != nil {
		return nil, errors.NewLedgerOperationFailedError("list failures", err)
	}
	return records, nil
}

// HandleTask executes a queued unit of work.
func (s *Service) HandleTask(ctx context.Context, task queue.Task) error {
	switch task.Kind {
	case queue.KindUpdate:
		answer, err := task.Answer()
		if err != nil {
			return errors.NewInvalidSurveyAnswerError(err.Error())
		}
		_, err = s.RunUpdate(ctx, answer)
		return err

	case queue.KindRecover:
		_, err := s.Recover(ctx, task.SubjectID)
		return err
	}
	return fmt.Errorf("%w: %s", queue.ErrUnknownKind, task.Kind)
}

func (s *Service) logFailure(msg, subjectID string, err error) {
	fields := map[string]interface{}{
		"subjectId": subjectID,
		"errorCode": string(errors.CodeOf(err)),
		"error":     err.Error(),
	}
	if errors.IsCode(err, errors.ErrCodeTokenExpired) {
		s.log.Warn(msg, fields)
		return
	}
	s.log.Error(msg, fields)
}
