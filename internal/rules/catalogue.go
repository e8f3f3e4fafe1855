package rules

import (
	"fmt"

	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/common/logger"
	"github.com/InternetOfUs/app-survey/internal/models"
	"github.com/InternetOfUs/app-survey/pkg/catalogue"
)

// DefaultFloor is the lower bound of NormalizedNumberRule when the catalogue omits it.
const DefaultFloor = 1

// Compile turns catalogue definitions into rules, in declaration order.
func Compile(cat *catalogue.Catalogue, clk clock.Clock, log logger.Logger) ([]Rule, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	out := make([]Rule, 0, len(cat.Rules))
	for i, def := range cat.Rules {
		rule, err := compileOne(def, clk, log)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d (%s): %v", ErrInvalidRule, i, def.Type, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// LoadManager reads a catalogue file and builds the manager for it.
func LoadManager(path string, clk clock.Clock, log logger.Logger) (*Manager, error) {
	cat, err := catalogue.LoadCatalogue(path)
	if err != nil {
		return nil, fmt.Errorf("load rule catalogue %s: %w", path, err)
	}
	compiled, err := Compile(cat, clk, log)
	if err != nil {
		return nil, err
	}
	return NewManager(compiled, log), nil
}

func compileOne(def catalogue.RuleDefinition, clk clock.Clock, log logger.Logger) (Rule, error) {
	switch def.Type {
	case catalogue.TypeMapping:
		return &MappingRule{QuestionCode: def.Question, Attribute: def.Attribute, Mapping: def.Mapping}, nil

	case catalogue.TypeDate:
		return &DateRule{QuestionCode: def.Question, Attribute: def.Attribute}, nil

	case catalogue.TypeNumber:
		return &NumberRule{QuestionCode: def.Question, Attribute: def.Attribute}, nil

	case catalogue.TypeAgeToBirthdate:
		return &AgeToBirthdateRule{QuestionCode: def.Question, Attribute: def.Attribute, Clock: clk}, nil

	case catalogue.TypeMultiSelect:
		list := models.ListCompetences
		if def.List != "" {
			parsed, err := scoredList(def.List)
			if err != nil {
				return nil, err
			}
			list = parsed
		}
		return &MultiSelectRule{
			QuestionCode: def.Question,
			List:         list,
			Grouping:     def.Grouping,
			Names:        def.Names,
			Levels:       def.Levels,
			Log:          log.WithFields(map[string]interface{}{"rule": "multi_select", "questionCode": def.Question}),
		}, nil

	case catalogue.TypeNormalizedNumber:
		list, err := scoredList(def.List)
		if err != nil {
			return nil, err
		}
		floor := DefaultFloor
		if def.Floor != nil {
			floor = *def.Floor
		}
		return &NormalizedNumberRule{
			QuestionCode: def.Question, Name: def.Name, Grouping: def.Grouping,
			List: list, Floor: floor, Ceiling: def.Ceiling,
		}, nil

	case catalogue.TypeLevelMapping:
		list, err := scoredList(def.List)
		if err != nil {
			return nil, err
		}
		levels, err := numericMapping(def.Mapping)
		if err != nil {
			return nil, err
		}
		return &LevelMappingRule{
			QuestionCode: def.Question, Name: def.Name, Grouping: def.Grouping,
			List: list, Mapping: levels,
		}, nil

	case catalogue.TypeMaterialMapping:
		descriptions, err := stringMapping(def.Mapping)
		if err != nil {
			return nil, err
		}
		return &MaterialMappingRule{
			QuestionCode: def.Question, Name: def.Name, Classification: def.Grouping, Mapping: descriptions,
		}, nil

	case catalogue.TypeMaterialField:
		return &MaterialFieldRule{QuestionCode: def.Question, Name: def.Name, Classification: def.Grouping}, nil

	case catalogue.TypeMaterialQuantity:
		return &MaterialQuantityRule{
			QuestionCode: def.Question, Name: def.Name, Classification: def.Grouping, Description: def.Description,
		}, nil

	case catalogue.TypeAggregate:
		list, err := scoredList(def.List)
		if err != nil {
			return nil, err
		}
		items := make([]AggregateItem, 0, len(def.Items))
		for _, it := range def.Items {
			polarity := Polarity(it.Polarity)
			if polarity != Normal && polarity != Reverse {
				return nil, fmt.Errorf("item %s: unknown polarity %q", it.Question, it.Polarity)
			}
			items = append(items, AggregateItem{QuestionCode: it.Question, Polarity: polarity})
		}
		return &AggregateRule{Items: items, Name: def.Name, Grouping: def.Grouping, List: list, Ceiling: def.Ceiling}, nil

	case catalogue.TypeUniversityMapping:
		return &UniversityMappingRule{
			QuestionCode: def.Question, FieldCode: def.FieldQuestion, Name: def.Name,
			Classification: def.Grouping, Mapping: def.NestedMapping,
		}, nil

	case catalogue.TypeInstitutionFromCode:
		return &InstitutionFromCodeRule{QuestionCode: def.Question, Name: def.Name, Classification: def.Grouping}, nil
	}

	return nil, fmt.Errorf("unknown rule type %q", def.Type)
}

func scoredList(name string) (models.ProfileList, error) {
	list, err := models.ParseProfileList(name)
	if err != nil {
		return "", err
	}
	if !isScoredList(list) {
		return "", fmt.Errorf("list %s does not carry levels", name)
	}
	return list, nil
}

func numericMapping(in map[string]interface{}) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("mapping value for %s is %T, want a number", k, v)
		}
		out[k] = f
	}
	return out, nil
}

func stringMapping(in map[string]interface{}) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("mapping value for %s is %T, want a string", k, v)
		}
		out[k] = s
	}
	return out, nil
}
