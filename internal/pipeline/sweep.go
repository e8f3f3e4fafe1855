package pipeline

import (
	"context"
	"time"

	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/common/metrics"
	"github.com/InternetOfUs/app-survey/internal/queue"
)

const DefaultSweepInterval = 15 * time.Minute

// Enqueuer accepts units of work.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// SweepResult counts what one sweep found and how much of it was queued.
type SweepResult struct {
	Outstanding int      `json:"outstanding"`
	Enqueued    int      `json:"enqueued"`
	TaskIDs     []string `json:"taskIds"`
}

// Sweep enqueues one recover unit per outstanding failure, oldest failure first. A
// rejected unit is logged and the sweep moves on; the record stays for the next sweep.
func (s *Service) Sweep(ctx context.Context, q Enqueuer) (*SweepResult, error) {
	records, err := s.Outstanding(ctx)
	if err != nil {
		return nil, err
	}
	metrics.OutstandingFailures.Set(float64(len(records)))

	res := &SweepResult{Outstanding: len(records), TaskIDs: make([]string, 0, len(records))}
	for _, rec := range records {
		id, err := q.Enqueue(ctx, queue.NewRecoverTask(rec.SubjectID))
		if err != nil {
			s.log.Warn("Failed to enqueue recovery", map[string]interface{}{
				"subjectId": rec.SubjectID,
				"error":     err.Error(),
			})
			continue
		}
		res.Enqueued++
		res.TaskIDs = append(res.TaskIDs, id)
	}

	if res.Outstanding > 0 {
		s.log.Info("Sweep enqueued recoveries", map[string]interface{}{
			"outstanding": res.Outstanding,
			"enqueued":    res.Enqueued,
		})
	}
	return res, nil
}

// Scheduler runs a sweep every interval until its context ends.
type Scheduler struct {
	service  *Service
	queue    Enqueuer
	interval time.Duration
	log      logger.Logger
}

func NewScheduler(service *Service, q Enqueuer, interval time.Duration, log logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Scheduler{
		service:  service,
		queue:    q,
		interval: interval,
		log:      log.WithFields(map[string]interface{}{"component": "sweep-scheduler"}),
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("Sweep scheduler started", map[string]interface{}{"interval": s.interval.String()})
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweep scheduler stopped", nil)
			return
		case <-ticker.C:
			if _, err := s.service.Sweep(ctx, s.queue); err != nil {
				s.log.Error("Sweep failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
