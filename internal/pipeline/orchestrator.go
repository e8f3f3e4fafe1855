// Package pipeline turns survey answers into remote profile updates and keeps the failure
// ledger that drives their recovery.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/common/metrics"
	"github.com/InternetOfUs/app-survey/internal/models"
	"github.com/InternetOfUs/app-survey/internal/rules"
)

var fetchedLists = []models.ProfileList{models.ListCompetences, models.ListMeanings, models.ListMaterials}

// Result describes one update run. Profile is the re-fetched remote state and is nil when
// the run failed.
type Result struct {
	SubjectID string
	Profile   *models.Profile
	Rules     rules.Report
	Steps     []StepResult
}

// Outcome returns the outcome recorded for the named step.
func (r *Result) Outcome(step string) StepOutcome {
	for _, s := range r.Steps {
		if s.Step == step {
			return s.Outcome
		}
	}
	return ""
}

type OrchestratorOptions struct {
	// Pacing is the wait between two consecutive writes.
	Pacing time.Duration
	Clock  clock.Clock
	Steps  []Step
}

// Orchestrator runs fetch, rule evaluation, the write chain and the confirming re-fetch
// for one subject. All remote calls of a run are sequential.
type Orchestrator struct {
	gateway Gateway
	rules   *rules.Manager
	steps   []Step
	pacing  time.Duration
	clock   clock.Clock
	log     logger.Logger
}

func NewOrchestrator(gateway Gateway, manager *rules.Manager, opts OrchestratorOptions, log logger.Logger) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if len(opts.Steps) == 0 {
		opts.Steps = DefaultSteps()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Orchestrator{
		gateway: gateway,
		rules:   manager,
		steps:   opts.Steps,
		pacing:  opts.Pacing,
		clock:   opts.Clock,
		log:     log.WithFields(map[string]interface{}{"component": "orchestrator"}),
	}
}

// Update applies answer to the subject's remote profile. The returned Result is non-nil
// whenever the write chain was reached, including on failure.
func (o *Orchestrator) Update(ctx context.Context, answer *models.SurveyAnswer) (*Result, error) {
	subjectID := answer.SubjectID
	log := o.log.WithFields(map[string]interface{}{"subjectId": subjectID})

	current, err := o.fetch(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	log.Debug("Fetched profile", map[string]interface{}{
		"competences": len(current.Competences),
		"meanings":    len(current.Meanings),
		"materials":   len(current.Materials),
	})

	updated, report := o.rules.Apply(current, answer)
	result := &Result{SubjectID: subjectID, Rules: report, Steps: make([]StepResult, 0, len(o.steps))}

	for i, step := range o.steps {
		if i > 0 && o.pacing > 0 {
			o.clock.Sleep(o.pacing)
		}

		err := step.Write(ctx, o.gateway, subjectID, updated)
		switch {
		case err == nil:
			result.record(step.Name, Written, nil)

		case step.Policy.tolerates(err):
			result.record(step.Name, Tolerated, err)
			log.Warn("Write not authorized, continuing", map[string]interface{}{
				"step":  step.Name,
				"error": err.Error(),
			})

		default:
			result.record(step.Name, Failed, err)
			for _, rest := range o.steps[i+1:] {
				result.record(rest.Name, Skipped, nil)
			}
			return result, fmt.Errorf("write %s: %w", step.Name, err)
		}
	}

	confirmed, err := o.fetch(ctx, subjectID)
	if err != nil {
		return result, fmt.Errorf("confirm profile: %w", err)
	}
	result.Profile = confirmed

	log.Info("Profile updated", map[string]interface{}{
		"rulesApplied": report.Applied(),
		"ruleFaults":   len(report.Faults()),
	})
	return result, nil
}

func (o *Orchestrator) fetch(ctx context.Context, subjectID string) (*models.Profile, error) {
	profile, err := o.gateway.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if profile.ID == "" {
		profile.ID = subjectID
	}
	for _, list := range fetchedLists {
		entries, err := o.gateway.GetEntries(ctx, subjectID, list)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", list, err)
		}
		if err := profile.SetEntries(list, entries); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

func (r *Result) record(step string, outcome StepOutcome, err error) {
	r.Steps = append(r.Steps, StepResult{Step: step, Outcome: outcome, Err: err})
	metrics.PipelineSteps.WithLabelValues(step, string(outcome)).Inc()
}
