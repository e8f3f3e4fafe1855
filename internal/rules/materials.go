package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/InternetOfUs/app-survey/internal/models"
)

// MaterialMappingRule maps a single-choice code onto the description of a material.
type MaterialMappingRule struct {
	QuestionCode   string
	Name           string
	Classification string
	Mapping        map[string]string
}

func (r *MaterialMappingRule) Kind() string { return "material_mapping" }

func (r *MaterialMappingRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	code, ok := a.Choice()
	if !ok {
		return profile, TypeMismatch, nil
	}
	description, ok := r.Mapping[code]
	if !ok {
		return profile, ValueNotMapped, nil
	}
	if err := upsertMaterial(profile, r.Name, r.Classification, description); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}

// MaterialFieldRule stores the raw answer, a choice code or an integer, as the description
// of a material.
type MaterialFieldRule struct {
	QuestionCode   string
	Name           string
	Classification string
}

func (r *MaterialFieldRule) Kind() string { return "material_field" }

func (r *MaterialFieldRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}

	var description string
	if code, isChoice := a.Choice(); isChoice {
		description = code
	} else if v, isInt := a.Int(); isInt {
		description = strconv.Itoa(v)
	} else {
		return profile, TypeMismatch, nil
	}

	if err := upsertMaterial(profile, r.Name, r.Classification, description); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}

// MaterialQuantityRule stores an integer answer as the quantity of a material.
type MaterialQuantityRule struct {
	QuestionCode   string
	Name           string
	Classification string
	Description    *string
}

func (r *MaterialQuantityRule) Kind() string { return "material_quantity" }

func (r *MaterialQuantityRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	quantity, ok := a.Int()
	if !ok {
		return profile, TypeMismatch, nil
	}

	entry := models.NewEntry(models.ListMaterials, r.Name, r.Classification)
	entry.Quantity = models.Int(quantity)
	if r.Description != nil {
		entry.Description = models.String(*r.Description)
	}
	if err := profile.Upsert(models.ListMaterials, entry); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}

// UniversityMappingRule resolves an (institution, field) pair of answers through a nested
// table into the description of a material.
type UniversityMappingRule struct {
	QuestionCode   string
	FieldCode      string
	Name           string
	Classification string
	Mapping        map[string]map[string]string
}

func (r *UniversityMappingRule) Kind() string { return "university_mapping" }

func (r *UniversityMappingRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	institutionAnswer, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	fieldAnswer, answered := answer.Get(r.FieldCode)
	if !answered {
		return profile, QuestionNotAnswered, nil
	}
	institution, ok := institutionAnswer.Choice()
	if !ok {
		return profile, TypeMismatch, nil
	}
	field, ok := fieldAnswer.Choice()
	if !ok {
		return profile, TypeMismatch, nil
	}

	fields, ok := r.Mapping[institution]
	if !ok {
		return profile, ValueNotMapped, nil
	}
	description, ok := fields[field]
	if !ok {
		return profile, ValueNotMapped, nil
	}
	if err := upsertMaterial(profile, r.Name, r.Classification, description); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}

// InstitutionPrefixes are checked in order; UNITN precedes UC.
var InstitutionPrefixes = []string{"NUM", "LSE", "AAU", "UNITN", "UC"}

// InstitutionFromCodeRule derives the institution from the prefix of a department code.
type InstitutionFromCodeRule struct {
	QuestionCode   string
	Name           string
	Classification string
}

func (r *InstitutionFromCodeRule) Kind() string { return "institution_from_code" }

func (r *InstitutionFromCodeRule) Apply(profile *models.Profile, answer *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	a, diag, ok := lookup(profile, answer, r.QuestionCode)
	if !ok {
		return profile, diag, nil
	}
	code, ok := a.Choice()
	if !ok {
		return profile, TypeMismatch, nil
	}

	institution := ""
	for _, prefix := range InstitutionPrefixes {
		if strings.HasPrefix(code, prefix) {
			institution = prefix
			break
		}
	}
	if institution == "" {
		return profile, "", fmt.Errorf("%w: %q", ErrUnknownInstitutionPrefix, code)
	}

	if err := upsertMaterial(profile, r.Name, r.Classification, institution); err != nil {
		return profile, "", err
	}
	return profile, Applied, nil
}
