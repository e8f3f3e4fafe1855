package rules

import (
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/models"
	"github.com/InternetOfUs/app-survey/pkg/catalogue"
)

type faultyRule struct {
	panics bool
}

func (r *faultyRule) Kind() string { return "faulty" }

func (r *faultyRule) Apply(profile *models.Profile, _ *models.SurveyAnswer) (*models.Profile, Diagnostic, error) {
	profile.Gender = "corrupted"
	if r.panics {
		panic("boom")
	}
	return profile, "", errors.New("unexpected")
}

// ==========================
// Isolation
// ==========================

func TestManager_IsolatesFaultyRule(t *testing.T) {
	r1 := &MappingRule{QuestionCode: "Q01", Attribute: "gender", Mapping: map[string]interface{}{"02": "F"}}
	r3 := &NormalizedNumberRule{QuestionCode: "Q06a", Name: "c_food", Grouping: "interest", List: models.ListCompetences, Floor: 1, Ceiling: 5}
	answer := models.NewSurveyAnswer(subject, choice("Q01", "02"), number("Q06a", 5))

	for _, panics := range []bool{false, true} {
		log, logs := logger.NewObserved()
		withFault := NewManager([]Rule{r1, &faultyRule{panics: panics}, r3}, log)
		without := NewManager([]Rule{r1, r3}, nil)

		got, report := withFault.Apply(newProfile(), answer)
		want, _ := without.Apply(newProfile(), answer)

		assert.Equal(t, want, got)
		assert.Equal(t, "F", got.Gender)

		faults := report.Faults()
		require.Len(t, faults, 1)
		assert.Equal(t, 1, faults[0].Index)
		assert.Equal(t, "faulty", faults[0].Kind)
		assert.Equal(t, 2, report.Applied())

		errorsLogged := logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("Rule evaluation failed")
		assert.Equal(t, 1, errorsLogged.Len())
	}
}

func TestManager_DoesNotMutateInput(t *testing.T) {
	m := NewManager([]Rule{
		&MappingRule{QuestionCode: "Q01", Attribute: "gender", Mapping: map[string]interface{}{"02": "F"}},
	}, nil)
	in := newProfile()

	out, _ := m.Apply(in, models.NewSurveyAnswer(subject, choice("Q01", "02")))
	assert.Equal(t, "F", out.Gender)
	assert.Empty(t, in.Gender)
}

func TestManager_LogsSubjectMismatchAtWarn(t *testing.T) {
	log, logs := logger.NewObserved()
	m := NewManager([]Rule{
		&MappingRule{QuestionCode: "Q01", Attribute: "gender", Mapping: map[string]interface{}{"02": "F"}},
	}, log)

	_, report := m.Apply(newProfile(), models.NewSurveyAnswer("other", choice("Q01", "02")))
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, SubjectMismatch, report.Outcomes[0].Diagnostic)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestManager_UnknownInstitutionPrefixIsIsolated(t *testing.T) {
	m := NewManager([]Rule{
		&InstitutionFromCodeRule{QuestionCode: "Q03", Name: "university", Classification: "university_status"},
		&MappingRule{QuestionCode: "Q01", Attribute: "gender", Mapping: map[string]interface{}{"02": "F"}},
	}, nil)

	got, report := m.Apply(newProfile(), models.NewSurveyAnswer(subject, choice("Q03", "MIT"), choice("Q01", "02")))
	require.Len(t, report.Faults(), 1)
	assert.ErrorIs(t, report.Faults()[0].Fault, ErrUnknownInstitutionPrefix)
	assert.Equal(t, "F", got.Gender)
	assert.Empty(t, got.Materials)
}

// ==========================
// Catalogue compilation
// ==========================

func shippedCatalogue(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs", "rules.json")
}

func TestLoadManager_ShippedCatalogue(t *testing.T) {
	fixed := clock.NewFake(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	m, err := LoadManager(shippedCatalogue(t), fixed, nil)
	require.NoError(t, err)
	assert.Equal(t, 39, m.Len())

	answer := models.NewSurveyAnswer(subject,
		choice("Q01", "02"),
		number("Q02", 21),
		number("Q06a", 5),
		number("Q09a", 5),
	)
	got, report := m.Apply(newProfile(), answer)
	assert.Empty(t, report.Faults())
	assert.Equal(t, &models.Date{Year: 2003, Month: 1, Day: 1}, got.DateOfBirth)
	assert.NotEmpty(t, got.Gender)
	assert.NotEmpty(t, got.Competences)
	assert.NotEmpty(t, got.Meanings)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  catalogue.RuleDefinition
	}{
		{"unknown type", catalogue.RuleDefinition{Type: "regex"}},
		{"materials list on a scored rule", catalogue.RuleDefinition{Type: catalogue.TypeNormalizedNumber, Question: "Q", Name: "x", Grouping: "g", List: "materials", Ceiling: 5}},
		{"non numeric level", catalogue.RuleDefinition{Type: catalogue.TypeLevelMapping, Question: "Q", Name: "x", Grouping: "g", List: "competences", Mapping: map[string]interface{}{"1": "high"}}},
		{"non string description", catalogue.RuleDefinition{Type: catalogue.TypeMaterialMapping, Question: "Q", Name: "x", Grouping: "g", Mapping: map[string]interface{}{"1": 2.0}}},
		{"bad polarity", catalogue.RuleDefinition{Type: catalogue.TypeAggregate, Name: "x", Grouping: "g", List: "meanings", Ceiling: 5, Items: []catalogue.AggregateItem{{Question: "A", Polarity: "inverse"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(&catalogue.Catalogue{Version: "1", Rules: []catalogue.RuleDefinition{tt.def}}, nil, nil)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestCompile_DefaultFloor(t *testing.T) {
	compiled, err := Compile(&catalogue.Catalogue{Version: "1", Rules: []catalogue.RuleDefinition{
		{Type: catalogue.TypeNormalizedNumber, Question: "Q", Name: "x", Grouping: "g", List: "competences", Ceiling: 5},
	}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, compiled, 1)
	assert.Equal(t, DefaultFloor, compiled[0].(*NormalizedNumberRule).Floor)
}
