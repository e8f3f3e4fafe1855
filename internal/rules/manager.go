package rules

import (
	"fmt"

	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/common/metrics"
	"github.com/InternetOfUs/app-survey/internal/models"
)

// Outcome is the result of one rule within a Manager run.
type Outcome struct {
	Index      int
	Kind       string
	Diagnostic Diagnostic
	Fault      error
}

// Report lists the outcome of every rule, in rule order.
type Report struct {
	Outcomes []Outcome
}

// Faults returns the outcomes whose rule returned an error or panicked.
func (r Report) Faults() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Fault != nil {
			out = append(out, o)
		}
	}
	return out
}

// Applied counts the rules that changed the profile.
func (r Report) Applied() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Diagnostic == Applied {
			n++
		}
	}
	return n
}

// Manager applies an ordered rule set. Rule sets are immutable and safe to share.
type Manager struct {
	rules []Rule
	log   logger.Logger
}

func NewManager(rules []Rule, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Manager{rules: cp, log: log.WithFields(map[string]interface{}{"component": "rule-manager"})}
}

func (m *Manager) Len() int { return len(m.rules) }

// Apply folds every rule over a copy of profile. A failing rule leaves the profile as it
// was before that rule and the fold continues with the next one.
func (m *Manager) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Report) {
	current := profile.Clone()
	report := Report{Outcomes: make([]Outcome, 0, len(m.rules))}

	for i, rule := range m.rules {
		outcome := Outcome{Index: i, Kind: rule.Kind()}

		next, diag, err := safeApply(rule, current.Clone(), answer)
		if err != nil {
			outcome.Fault = err
			metrics.RuleFaults.WithLabelValues(outcome.Kind).Inc()
			m.log.Error("Rule evaluation failed", map[string]interface{}{
				"rule":      outcome.Kind,
				"index":     i,
				"subjectId": answer.SubjectID,
				"error":     err.Error(),
			})
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}

		outcome.Diagnostic = diag
		if next != nil {
			current = next
		}
		metrics.RuleDiagnostics.WithLabelValues(outcome.Kind, string(diag)).Inc()
		m.logDiagnostic(outcome, profile.ID, answer.SubjectID)
		report.Outcomes = append(report.Outcomes, outcome)
	}

	return current, report
}

func safeApply(rule Rule, profile *models.Profile, answer *models.SurveyAnswer) (out *models.Profile, diag Diagnostic, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, diag, err = nil, "", fmt.Errorf("rule %s panicked: %v", rule.Kind(), r)
		}
	}()
	return rule.Apply(profile, answer)
}

func (m *Manager) logDiagnostic(o Outcome, profileID, subjectID string) {
	fields := map[string]interface{}{"rule": o.Kind, "index": o.Index, "diagnostic": string(o.Diagnostic)}
	switch o.Diagnostic {
	case SubjectMismatch:
		fields["profileId"] = profileID
		fields["subjectId"] = subjectID
		m.log.Warn("Profile and survey answer belong to different subjects", fields)
	case TypeMismatch, InvalidBounds:
		fields["subjectId"] = subjectID
		m.log.Warn("Rule skipped", fields)
	case Applied:
	default:
		m.log.Debug("Rule skipped", fields)
	}
}
