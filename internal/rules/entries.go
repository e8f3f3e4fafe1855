package rules

import (
	"math"

	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/models"
)

// DefaultMultiSelectGrouping is the ontology of entries written by MultiSelectRule when
// none is configured.
const DefaultMultiSelectGrouping = "language"

// MultiSelectRule reads a multiple-choice answer whose codes are themselves question codes.
// Every secondary question that was answered is resolved to an entry name and a level.
type MultiSelectRule struct {
	QuestionCode string
	List         models.ProfileList
	Grouping     string
	Names        map[string]string
	Levels       map[string]float64
	Log          logger.Logger
}

func (r *MultiSelectRule) Kind() string { return "multi_select" }

func (r *MultiSelectRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	codes, ok := a.Choices()
	if !ok {
		return profile, TypeMismatch, nil
	}

	list := r.List
	if list == "" {
		list = models.ListCompetences
	}
	grouping := r.Grouping
	if grouping == "" {
		grouping = DefaultMultiSelectGrouping
	}
	log := r.Log
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	written := 0
	for _, code := range codes {
		secondary, answered := answer.Get(code)
		if !answered {
			continue
		}
		name, known := r.Names[code]
		if !known {
			log.Warn("Selected code has no entry name", map[string]interface{}{
				"questionCode": r.QuestionCode, "code": code,
			})
			continue
		}
		scoreCode, isChoice := secondary.Choice()
		if !isChoice {
			log.Warn("Secondary answer is not a single choice", map[string]interface{}{
				"questionCode": code, "kind": string(secondary.Kind()),
			})
			continue
		}
		level, scored := r.Levels[scoreCode]
		if !scored {
			log.Warn("Secondary answer has no level", map[string]interface{}{
				"questionCode": code, "answer": scoreCode,
			})
			continue
		}
		if err := upsertLevel(profile, list, name, grouping, level); err != nil {
			return profile, "", err
		}
		written++
	}

	if written == 0 {
		return profile, ValueNotMapped, nil
	}
	return profile, Applied, nil
}

// NormalizedNumberRule scales an integer answer to [0, 1] between Floor and Ceiling.
type NormalizedNumberRule struct {
	QuestionCode string
	Name         string
	Grouping     string
	List         models.ProfileList
	Floor        int
	Ceiling      int
}

func (r *NormalizedNumberRule) Kind() string { return "normalized_number" }

func (r *NormalizedNumberRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	v, ok := a.Int()
	if !ok {
		return profile, TypeMismatch, nil
	}
	if r.Ceiling <= r.Floor {
		return profile, InvalidBounds, nil
	}

	level := float64(v-r.Floor) / float64(r.Ceiling-r.Floor)
	if err := upsertLevel(profile, r.List, r.Name, r.Grouping, level); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}

// LevelMappingRule maps a single-choice code onto an entry level.
type LevelMappingRule struct {
	QuestionCode string
	Name         string
	Grouping     string
	List         models.ProfileList
	Mapping      map[string]float64
}

func (r *LevelMappingRule) Kind() string { return "level_mapping" }

func (r *LevelMappingRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	code, ok := a.Choice()
	if !ok {
		return profile, TypeMismatch, nil
	}
	level, ok := r.Mapping[code]
	if !ok {
		return profile, ValueNotMapped, nil
	}
	if err := upsertLevel(profile, r.List, r.Name, r.Grouping, level); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}

// Polarity tells whether an aggregated item is scored as answered or reversed.
type Polarity string

const (
	Normal  Polarity = "normal"
	Reverse Polarity = "reverse"
)

type AggregateItem struct {
	QuestionCode string
	Polarity     Polarity
}

// AggregateRule averages several integer answers sharing a ceiling into one entry level.
// Reverse items are scored as (Ceiling + 1) - v and unanswered items are left out.
type AggregateRule struct {
	Items    []AggregateItem
	Name     string
	Grouping string
	List     models.ProfileList
	Ceiling  int
}

func (r *AggregateRule) Kind() string { return "aggregate" }

func (r *AggregateRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	if profile.ID != answer.SubjectID {
		return profile, SubjectMismatch, nil
	}

	scores := make([]int, 0, len(r.Items))
	for _, item := range r.Items {
		a, answered := answer.Get(item.QuestionCode)
		if !answered {
			continue
		}
		v, ok := a.Int()
		if !ok {
			return profile, TypeMismatch, nil
		}
		if item.Polarity == Reverse {
			v = (r.Ceiling + 1) - v
		}
		scores = append(scores, v)
	}

	if len(scores) == 0 {
		return profile, NothingToAggregate, nil
	}
	if r.Ceiling <= 0 {
		return profile, InvalidBounds, nil
	}

	sum := 0
	for _, s := range scores {
		sum += s
	}
	mean := float64(sum) / float64(len(scores))
	level := math.Round(mean/float64(r.Ceiling)*1000) / 1000

	if err := upsertLevel(profile, r.List, r.Name, r.Grouping, level); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}
