package rules

import (
	"fmt"

	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/models"
)

// MappingRule maps a single-choice code onto a scalar attribute through a lookup table.
type MappingRule struct {
	QuestionCode string
	Attribute    string
	Mapping      map[string]interface{}
}

func (r *MappingRule) Kind() string { return "mapping" }

func (r *MappingRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	code, ok := a.Choice()
	if !ok {
		return profile, TypeMismatch, nil
	}
	value, ok := r.Mapping[code]
	if !ok {
		return profile, ValueNotMapped, nil
	}
	if err := profile.SetAttribute(r.Attribute, value); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}

// DateRule copies a date answer into a date attribute.
type DateRule struct {
	QuestionCode string
	Attribute    string
}

func (r *DateRule) Kind() string { return "date" }

func (r *DateRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	d, ok := a.Date()
	if !ok {
		return profile, TypeMismatch, nil
	}
	value := models.Date{Year: d.Year(), Month: int(d.Month()), Day: d.Day()}
	if err := profile.SetAttribute(r.Attribute, value); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}

// NumberRule copies a number answer into a scalar attribute.
type NumberRule struct {
	QuestionCode string
	Attribute    string
}

func (r *NumberRule) Kind() string { return "number" }

func (r *NumberRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	var value interface{}
	if i, isInt := a.Int(); isInt {
		value = i
	} else if f, isNum := a.Number(); isNum {
		value = f
	} else {
		return profile, TypeMismatch, nil
	}
	if err := profile.SetAttribute(r.Attribute, value); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}

// AgeToBirthdateRule derives a date of birth from an age in years. Month and day of an
// existing date of birth are kept, otherwise they default to January 1st.
type AgeToBirthdateRule struct {
	QuestionCode string
	Attribute    string
	Clock        clock.Clock
}

func (r *AgeToBirthdateRule) Kind() string { return "age_to_birthdate" }

func (r *AgeToBirthdateRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	age, ok := a.Int()
	if !ok {
		return profile, TypeMismatch, nil
	}

	now := r.Clock
	if now == nil {
		now = clock.Real()
	}
	dob := models.Date{Year: now.Now().Year() - age, Month: 1, Day: 1}
	if current, exists := profile.Attribute(r.Attribute); exists {
		prior, isDate := current.(models.Date)
		if !isDate {
			return profile, "", fmt.Errorf("%w: attribute %s holds %T, not a date", ErrInvalidRule, r.Attribute, current)
		}
		if prior.Month != 0 {
			dob.Month = prior.Month
		}
		if prior.Day != 0 {
			dob.Day = prior.Day
		}
	}

	if err := profile.SetAttribute(r.Attribute, dob); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}
