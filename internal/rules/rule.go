// Package rules turns survey answers into profile mutations.
package rules

import (
	"errors"

	"github.com/InternetOfUs/app-survey/internal/models"
)

// Diagnostic describes why a rule did or did not change the profile. Diagnostics are
// expected outcomes, never errors.
type Diagnostic string

const (
	Applied             Diagnostic = "applied"
	SubjectMismatch     Diagnostic = "subject_mismatch"
	QuestionNotAnswered Diagnostic = "question_not_answered"
	TypeMismatch        Diagnostic = "type_mismatch"
	ValueNotMapped      Diagnostic = "value_not_mapped"
	NothingToAggregate  Diagnostic = "nothing_to_aggregate"
	InvalidBounds       Diagnostic = "invalid_bounds"
)

var (
	ErrUnknownInstitutionPrefix = errors.New("UNKNOWN_INSTITUTION_PREFIX")
	ErrInvalidRule              = errors.New("INVALID_RULE")
)

// Rule folds one survey answer into a profile. Apply may mutate and return the profile it
// receives; the manager hands every rule its own copy. A returned error is a fault of the
// rule, and the caller discards the profile returned with it.
type Rule interface {
	Kind() string
	Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error)
}

// lookup performs the checks shared by single-question rules.
func lookup(profile *models.Profile, answer *models.SurveyAnswer, questionCode string) (models.Answer, Diagnostic, bool) {
	if profile.ID != answer.SubjectID {
		return models.Answer{}, SubjectMismatch, false
	}
	a, ok := answer.Get(questionCode)
	if !ok {
		return models.Answer{}, QuestionNotAnswered, false
	}
	return a, "", true
}

func isScoredList(list models.ProfileList) bool {
	return list == models.ListCompetences || list == models.ListMeanings
}

// upsertLevel writes a level-bearing entry into competences or meanings.
func upsertLevel(profile *models.Profile, list models.ProfileList, name, grouping string, level float64) error {
	entry := models.NewEntry(list, name, grouping)
	entry.Level = models.Float64(level)
	return profile.Upsert(list, entry)
}

// upsertMaterial sets the description of a material, creating it with quantity 1.
func upsertMaterial(profile *models.Profile, name, classification, description string) error {
	entry := models.NewEntry(models.ListMaterials, name, classification)
	entry.Description = models.String(description)
	if _, exists := profile.Find(models.ListMaterials, name, classification); !exists {
		entry.Quantity = models.Int(1)
	}
	return profile.Upsert(models.ListMaterials, entry)
}
