package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/models"
)

const subject = "subject-1"

// newProfile is normalised through Clone so its lists compare equal to the manager's output.
func newProfile() *models.Profile {
	return (&models.Profile{ID: subject}).Clone()
}

func number(code string, v float64) models.Answer { return models.NewNumberAnswer(code, v) }
func choice(code, v string) models.Answer          { return models.NewSingleChoiceAnswer(code, v) }

func levelOf(t *testing.T, p *models.Profile, list models.ProfileList, name, grouping string) float64 {
	t.Helper()
	entry, ok := p.Find(list, name, grouping)
	require.True(t, ok, "entry %s/%s not found", name, grouping)
	require.NotNil(t, entry.Level)
	return *entry.Level
}

// ==========================
// Common checks
// ==========================

func TestRules_SubjectMismatchLeavesProfileUnchanged(t *testing.T) {
	fixed := clock.NewFake(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	all := []Rule{
		&MappingRule{QuestionCode: "Q01", Attribute: "gender", Mapping: map[string]interface{}{"01": "F"}},
		&DateRule{QuestionCode: "Q00", Attribute: "dateOfBirth"},
		&NumberRule{QuestionCode: "Q02", Attribute: "age"},
		&AgeToBirthdateRule{QuestionCode: "Q02", Attribute: "dateOfBirth", Clock: fixed},
		&NormalizedNumberRule{QuestionCode: "Q02", Name: "x", Grouping: "g", List: models.ListCompetences, Floor: 1, Ceiling: 5},
		&AggregateRule{Items: []AggregateItem{{"Q02", Normal}}, Name: "x", Grouping: "g", List: models.ListMeanings, Ceiling: 5},
		&MaterialMappingRule{QuestionCode: "Q01", Name: "m", Classification: "c", Mapping: map[string]string{"01": "d"}},
		&InstitutionFromCodeRule{QuestionCode: "Q01", Name: "university", Classification: "c"},
	}
	answer := models.NewSurveyAnswer("someone-else", choice("Q01", "01"), number("Q02", 3),
		models.NewDateAnswer("Q00", time.Date(1999, 10, 2, 0, 0, 0, 0, time.UTC)))

	for _, rule := range all {
		t.Run(rule.Kind(), func(t *testing.T) {
			before := newProfile()
			before.Gender = "M"
			expected := before.Clone()

			got, diag, err := rule.Apply(before, answer)
			require.NoError(t, err)
			assert.Equal(t, SubjectMismatch, diag)
			assert.Equal(t, expected, got)
		})
	}
}

func TestRules_QuestionNotAnswered(t *testing.T) {
	rule := &MappingRule{QuestionCode: "Q01", Attribute: "gender", Mapping: map[string]interface{}{"01": "F"}}
	got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject))
	require.NoError(t, err)
	assert.Equal(t, QuestionNotAnswered, diag)
	assert.Empty(t, got.Gender)
}

func TestRules_TypeMismatchDoesNotCoerce(t *testing.T) {
	tests := []struct {
		name   string
		rule   Rule
		answer models.Answer
	}{
		{"date rule with a choice", &DateRule{QuestionCode: "Q", Attribute: "dateOfBirth"}, choice("Q", "1999-10-02")},
		{"mapping rule with a number", &MappingRule{QuestionCode: "Q", Attribute: "gender", Mapping: map[string]interface{}{"1": "F"}}, number("Q", 1)},
		{"normalized rule with a fraction", &NormalizedNumberRule{QuestionCode: "Q", Name: "x", Grouping: "g", List: models.ListCompetences, Floor: 1, Ceiling: 5}, number("Q", 2.5)},
		{"age rule with a choice", &AgeToBirthdateRule{QuestionCode: "Q", Attribute: "dateOfBirth"}, choice("Q", "21")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := newProfile()
			got, diag, err := tt.rule.Apply(before.Clone(), models.NewSurveyAnswer(subject, tt.answer))
			require.NoError(t, err)
			assert.Equal(t, TypeMismatch, diag)
			assert.Equal(t, before, got)
		})
	}
}

// ==========================
// Scalar rules
// ==========================

func TestMappingRule(t *testing.T) {
	rule := &MappingRule{QuestionCode: "Q01", Attribute: "gender", Mapping: map[string]interface{}{"01": "M", "02": "F"}}

	got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q01", "02")))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	assert.Equal(t, "F", got.Gender)

	got, diag, err = rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q01", "99")))
	require.NoError(t, err)
	assert.Equal(t, ValueNotMapped, diag)
	assert.Empty(t, got.Gender)
}

func TestDateRule(t *testing.T) {
	rule := &DateRule{QuestionCode: "Q00", Attribute: "dateOfBirth"}
	answer := models.NewSurveyAnswer(subject, models.NewDateAnswer("Q00", time.Date(1999, 10, 2, 0, 0, 0, 0, time.UTC)))

	got, diag, err := rule.Apply(newProfile(), answer)
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	assert.Equal(t, &models.Date{Year: 1999, Month: 10, Day: 2}, got.DateOfBirth)
}

func TestNumberRule_StoresIntegersAsIntegers(t *testing.T) {
	rule := &NumberRule{QuestionCode: "Q02", Attribute: "householdSize"}

	got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, number("Q02", 4)))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	assert.JSONEq(t, `4`, string(got.Extra["householdSize"]))

	got, _, err = rule.Apply(newProfile(), models.NewSurveyAnswer(subject, number("Q02", 4.5)))
	require.NoError(t, err)
	assert.JSONEq(t, `4.5`, string(got.Extra["householdSize"]))
}

func TestAgeToBirthdateRule(t *testing.T) {
	fixed := clock.NewFake(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	rule := &AgeToBirthdateRule{QuestionCode: "Q02", Attribute: "dateOfBirth", Clock: fixed}
	answer := models.NewSurveyAnswer(subject, number("Q02", 21))

	t.Run("no prior date of birth", func(t *testing.T) {
		got, diag, err := rule.Apply(newProfile(), answer)
		require.NoError(t, err)
		assert.Equal(t, Applied, diag)
		assert.Equal(t, &models.Date{Year: 2003, Month: 1, Day: 1}, got.DateOfBirth)
	})

	t.Run("prior date of birth keeps month and day", func(t *testing.T) {
		p := newProfile()
		p.DateOfBirth = &models.Date{Year: 1999, Month: 10, Day: 2}

		got, diag, err := rule.Apply(p, answer)
		require.NoError(t, err)
		assert.Equal(t, Applied, diag)
		assert.Equal(t, &models.Date{Year: 2003, Month: 10, Day: 2}, got.DateOfBirth)
	})

	t.Run("non-date attribute is a fault", func(t *testing.T) {
		bad := &AgeToBirthdateRule{QuestionCode: "Q02", Attribute: "nationality", Clock: fixed}
		p := newProfile()
		p.Nationality = "IT"

		_, _, err := bad.Apply(p, answer)
		assert.ErrorIs(t, err, ErrInvalidRule)
	})
}

// ==========================
// Entry rules
// ==========================

func TestNormalizedNumberRule(t *testing.T) {
	rule := &NormalizedNumberRule{QuestionCode: "Q06a", Name: "c_food", Grouping: "interest", List: models.ListCompetences, Floor: 1, Ceiling: 5}

	got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, number("Q06a", 4)))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	assert.InDelta(t, 0.75, levelOf(t, got, models.ListCompetences, "c_food", "interest"), 1e-9)

	broken := &NormalizedNumberRule{QuestionCode: "Q06a", Name: "c_food", Grouping: "interest", List: models.ListCompetences, Floor: 5, Ceiling: 5}
	got, diag, err = broken.Apply(newProfile(), models.NewSurveyAnswer(subject, number("Q06a", 4)))
	require.NoError(t, err)
	assert.Equal(t, InvalidBounds, diag)
	assert.Empty(t, got.Competences)
}

func TestNormalizedNumberRule_UpsertIsIdempotent(t *testing.T) {
	rule := &NormalizedNumberRule{QuestionCode: "Q06a", Name: "c_food", Grouping: "interest", List: models.ListCompetences, Floor: 1, Ceiling: 5}
	answer := models.NewSurveyAnswer(subject, number("Q06a", 3))

	p := newProfile()
	require.NoError(t, p.Upsert(models.ListCompetences, models.ProfileEntry{Name: "other", Ontology: "interest", Level: models.Float64(0.1)}))

	once, _, err := rule.Apply(p.Clone(), answer)
	require.NoError(t, err)
	twice, _, err := rule.Apply(once.Clone(), answer)
	require.NoError(t, err)

	assert.Equal(t, once.Competences, twice.Competences)
	require.Len(t, twice.Competences, 2)
	assert.Equal(t, "other", twice.Competences[0].Name)
	assert.Equal(t, "c_food", twice.Competences[1].Name)
}

func TestLevelMappingRule(t *testing.T) {
	rule := &LevelMappingRule{
		QuestionCode: "Q10", Name: "cooking", Grouping: "skill", List: models.ListCompetences,
		Mapping: map[string]float64{"1": 0, "2": 0.5, "3": 1},
	}

	got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q10", "2")))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	assert.Equal(t, 0.5, levelOf(t, got, models.ListCompetences, "cooking", "skill"))

	_, diag, err = rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q10", "9")))
	require.NoError(t, err)
	assert.Equal(t, ValueNotMapped, diag)
}

func TestMultiSelectRule(t *testing.T) {
	rule := &MultiSelectRule{
		QuestionCode: "Q11",
		Names:        map[string]string{"Q11a": "english", "Q11b": "italian", "Q11c": "danish"},
		Levels:       map[string]float64{"A1": 0.2, "C2": 1},
	}

	answer := models.NewSurveyAnswer(subject,
		models.NewMultipleChoiceAnswer("Q11", []string{"Q11a", "Q11b", "Q11c", "Q11z"}),
		choice("Q11a", "C2"),
		choice("Q11b", "A1"),
		choice("Q11z", "C2"),
	)

	got, diag, err := rule.Apply(newProfile(), answer)
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	require.Len(t, got.Competences, 2)
	assert.Equal(t, 1.0, levelOf(t, got, models.ListCompetences, "english", DefaultMultiSelectGrouping))
	assert.Equal(t, 0.2, levelOf(t, got, models.ListCompetences, "italian", DefaultMultiSelectGrouping))

	none := models.NewSurveyAnswer(subject, models.NewMultipleChoiceAnswer("Q11", []string{"Q11c"}))
	_, diag, err = rule.Apply(newProfile(), none)
	require.NoError(t, err)
	assert.Equal(t, ValueNotMapped, diag)
}

// ==========================
// Aggregate rule
// ==========================

func aggregateABC() *AggregateRule {
	return &AggregateRule{
		Items:    []AggregateItem{{"A", Normal}, {"B", Normal}, {"C", Reverse}},
		Name:     "extraversion",
		Grouping: "big_five",
		List:     models.ListMeanings,
		Ceiling:  5,
	}
}

func TestAggregateRule_ReverseBeforeAveraging(t *testing.T) {
	answer := models.NewSurveyAnswer(subject, number("A", 5), number("B", 5), number("C", 5))

	got, diag, err := aggregateABC().Apply(newProfile(), answer)
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	assert.Equal(t, 0.733, levelOf(t, got, models.ListMeanings, "extraversion", "big_five"))
}

func TestAggregateRule_PartialAnswers(t *testing.T) {
	got, diag, err := aggregateABC().Apply(newProfile(), models.NewSurveyAnswer(subject, number("A", 5)))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	assert.Equal(t, 1.0, levelOf(t, got, models.ListMeanings, "extraversion", "big_five"))
}

func TestAggregateRule_NothingAnswered(t *testing.T) {
	before := newProfile()
	got, diag, err := aggregateABC().Apply(before.Clone(), models.NewSurveyAnswer(subject, number("Z", 3)))
	require.NoError(t, err)
	assert.Equal(t, NothingToAggregate, diag)
	assert.Equal(t, before, got)
	assert.Empty(t, got.Meanings)
}

func TestAggregateRule_Checks(t *testing.T) {
	_, diag, err := aggregateABC().Apply(newProfile(), models.NewSurveyAnswer(subject, number("A", 5), choice("B", "5")))
	require.NoError(t, err)
	assert.Equal(t, TypeMismatch, diag)

	zero := aggregateABC()
	zero.Ceiling = 0
	_, diag, err = zero.Apply(newProfile(), models.NewSurveyAnswer(subject, number("A", 5)))
	require.NoError(t, err)
	assert.Equal(t, InvalidBounds, diag)
}

// ==========================
// Material rules
// ==========================

func TestMaterialMappingRule_QuantityOnlyOnCreate(t *testing.T) {
	rule := &MaterialMappingRule{
		QuestionCode: "Q05", Name: "accommodation", Classification: "university_status",
		Mapping: map[string]string{"01": "hall", "02": "private"},
	}

	got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q05", "01")))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	entry, ok := got.Find(models.ListMaterials, "accommodation", "university_status")
	require.True(t, ok)
	assert.Equal(t, "hall", *entry.Description)
	assert.Equal(t, 1, *entry.Quantity)

	p := newProfile()
	require.NoError(t, p.Upsert(models.ListMaterials, models.ProfileEntry{
		Name: "accommodation", Classification: "university_status", Quantity: models.Int(3), Description: models.String("hall"),
	}))
	got, _, err = rule.Apply(p, models.NewSurveyAnswer(subject, choice("Q05", "02")))
	require.NoError(t, err)
	entry, _ = got.Find(models.ListMaterials, "accommodation", "university_status")
	assert.Equal(t, "private", *entry.Description)
	assert.Equal(t, 3, *entry.Quantity)
	assert.Len(t, got.Materials, 1)
}

func TestMaterialFieldRule(t *testing.T) {
	rule := &MaterialFieldRule{QuestionCode: "Q12", Name: "year", Classification: "university_status"}

	got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, number("Q12", 2)))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	entry, _ := got.Find(models.ListMaterials, "year", "university_status")
	assert.Equal(t, "2", *entry.Description)

	got, _, err = rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q12", "PHD")))
	require.NoError(t, err)
	entry, _ = got.Find(models.ListMaterials, "year", "university_status")
	assert.Equal(t, "PHD", *entry.Description)
}

func TestMaterialQuantityRule(t *testing.T) {
	rule := &MaterialQuantityRule{QuestionCode: "Q13", Name: "car", Classification: "vehicle", Description: models.String("own car")}

	got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, number("Q13", 2)))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	entry, _ := got.Find(models.ListMaterials, "car", "vehicle")
	assert.Equal(t, 2, *entry.Quantity)
	assert.Equal(t, "own car", *entry.Description)
}

func TestMaterialQuantityRule_WithoutDescriptionKeepsExisting(t *testing.T) {
	rule := &MaterialQuantityRule{QuestionCode: "Q13", Name: "car", Classification: "vehicle"}

	profile := newProfile()
	existing := models.NewEntry(models.ListMaterials, "car", "vehicle")
	existing.Description = models.String("own car")
	existing.Quantity = models.Int(1)
	require.NoError(t, profile.Upsert(models.ListMaterials, existing))

	got, diag, err := rule.Apply(profile, models.NewSurveyAnswer(subject, number("Q13", 3)))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	require.Len(t, got.Entries(models.ListMaterials), 1)
	entry, _ := got.Find(models.ListMaterials, "car", "vehicle")
	assert.Equal(t, 3, *entry.Quantity)
	require.NotNil(t, entry.Description)
	assert.Equal(t, "own car", *entry.Description)
}

func TestUniversityMappingRule(t *testing.T) {
	rule := &UniversityMappingRule{
		QuestionCode: "Q14", FieldCode: "Q15", Name: "department", Classification: "university_status",
		Mapping: map[string]map[string]string{"LSE": {"01": "Economics"}},
	}

	got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q14", "LSE"), choice("Q15", "01")))
	require.NoError(t, err)
	assert.Equal(t, Applied, diag)
	entry, _ := got.Find(models.ListMaterials, "department", "university_status")
	assert.Equal(t, "Economics", *entry.Description)

	_, diag, err = rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q14", "LSE")))
	require.NoError(t, err)
	assert.Equal(t, QuestionNotAnswered, diag)

	_, diag, err = rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q14", "AAU"), choice("Q15", "01")))
	require.NoError(t, err)
	assert.Equal(t, ValueNotMapped, diag)
}

func TestInstitutionFromCodeRule(t *testing.T) {
	rule := &InstitutionFromCodeRule{QuestionCode: "Q03", Name: "university", Classification: "university_status"}

	tests := []struct {
		code string
		want string
	}{
		{"LSE_ECON", "LSE"},
		{"UNITN_DISI", "UNITN"},
		{"UC_ENG", "UC"},
		{"NUM01", "NUM"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, diag, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q03", tt.code)))
			require.NoError(t, err)
			assert.Equal(t, Applied, diag)
			entry, _ := got.Find(models.ListMaterials, "university", "university_status")
			assert.Equal(t, tt.want, *entry.Description)
		})
	}

	_, _, err := rule.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q03", "MIT_CS")))
	assert.ErrorIs(t, err, ErrUnknownInstitutionPrefix)
}
