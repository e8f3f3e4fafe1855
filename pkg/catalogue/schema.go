// pkg/catalogue/schema.go
package catalogue

// Catalogue is the declarative form of a rule set.
type Catalogue struct {
	Version     string           `json:"version"`
	LastUpdated string           `json:"lastUpdated"`
	Survey      string           `json:"survey"`
	Rules       []RuleDefinition `json:"rules"`
}

// RuleDefinition declares one rule. Which fields apply depends on Type.
type RuleDefinition struct {
	Type           string                       `json:"type"`
	Question       string                       `json:"question,omitempty"`
	FieldQuestion  string                       `json:"fieldQuestion,omitempty"`
	Attribute      string                       `json:"attribute,omitempty"`
	List           string                       `json:"list,omitempty"`
	Name           string                       `json:"name,omitempty"`
	Grouping       string                       `json:"grouping,omitempty"`
	Floor          *int                         `json:"floor,omitempty"`
	Ceiling        int                          `json:"ceiling,omitempty"`
	Description    *string                      `json:"description,omitempty"`
	Mapping        map[string]interface{}       `json:"mapping,omitempty"`
	NestedMapping  map[string]map[string]string `json:"nestedMapping,omitempty"`
	Names          map[string]string            `json:"names,omitempty"`
	Levels         map[string]float64           `json:"levels,omitempty"`
	Items          []AggregateItem              `json:"items,omitempty"`
	Comment        string                       `json:"comment,omitempty"`
}

type AggregateItem struct {
	Question string `json:"question"`
	Polarity string `json:"polarity"`
}

// Rule type names accepted in a catalogue.
const (
	TypeMapping             = "mapping"
	TypeDate                = "date"
	TypeNumber              = "number"
	TypeAgeToBirthdate      = "age_to_birthdate"
	TypeMultiSelect         = "multi_select"
	TypeNormalizedNumber    = "normalized_number"
	TypeLevelMapping        = "level_mapping"
	TypeMaterialMapping     = "material_mapping"
	TypeMaterialField       = "material_field"
	TypeMaterialQuantity    = "material_quantity"
	TypeAggregate           = "aggregate"
	TypeUniversityMapping   = "university_mapping"
	TypeInstitutionFromCode = "institution_from_code"
)

// Schema is the JSON Schema every catalogue document must satisfy.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "rules"],
  "properties": {
    "version": {"type": "string"},
    "lastUpdated": {"type": "string"},
    "survey": {"type": "string"},
    "rules": {
      "type": "array",
      "items": {"$ref": "#/definitions/rule"}
    }
  },
  "definitions": {
    "rule": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "enum": [
            "mapping", "date", "number", "age_to_birthdate", "multi_select",
            "normalized_number", "level_mapping", "material_mapping", "material_field",
            "material_quantity", "aggregate", "university_mapping", "institution_from_code"
          ]
        },
        "question": {"type": "string", "minLength": 1},
        "fieldQuestion": {"type": "string", "minLength": 1},
        "attribute": {"type": "string", "minLength": 1},
        "list": {"enum": ["competences", "meanings", "materials"]},
        "name": {"type": "string", "minLength": 1},
        "grouping": {"type": "string", "minLength": 1},
        "floor": {"type": "integer"},
        "ceiling": {"type": "integer"},
        "description": {"type": "string"},
        "mapping": {"type": "object"},
        "nestedMapping": {
          "type": "object",
          "additionalProperties": {"type": "object", "additionalProperties": {"type": "string"}}
        },
        "names": {"type": "object", "additionalProperties": {"type": "string"}},
        "levels": {"type": "object", "additionalProperties": {"type": "number"}},
        "items": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["question", "polarity"],
            "properties": {
              "question": {"type": "string", "minLength": 1},
              "polarity": {"enum": ["normal", "reverse"]}
            }
          }
        },
        "comment": {"type": "string"}
      },
      "allOf": [
        {
          "if": {"properties": {"type": {"enum": ["mapping", "date", "number", "age_to_birthdate"]}}},
          "then": {"required": ["question", "attribute"]}
        },
        {
          "if": {"properties": {"type": {"const": "mapping"}}},
          "then": {"required": ["mapping"]}
        },
        {
          "if": {"properties": {"type": {"const": "multi_select"}}},
          "then": {"required": ["question", "names", "levels"]}
        },
        {
          "if": {"properties": {"type": {"enum": ["normalized_number", "level_mapping"]}}},
          "then": {"required": ["question", "name", "grouping", "list"]}
        },
        {
          "if": {"properties": {"type": {"const": "normalized_number"}}},
          "then": {"required": ["ceiling"]}
        },
        {
          "if": {"properties": {"type": {"const": "level_mapping"}}},
          "then": {"required": ["mapping"]}
        },
        {
          "if": {"properties": {"type": {"enum": ["material_mapping", "material_field", "material_quantity", "institution_from_code"]}}},
          "then": {"required": ["question", "name", "grouping"]}
        },
        {
          "if": {"properties": {"type": {"const": "material_mapping"}}},
          "then": {"required": ["mapping"]}
        },
        {
          "if": {"properties": {"type": {"const": "aggregate"}}},
          "then": {"required": ["items", "name", "grouping", "list", "ceiling"]}
        },
        {
          "if": {"properties": {"type": {"const": "university_mapping"}}},
          "then": {"required": ["question", "fieldQuestion", "name", "grouping", "nestedMapping"]}
        }
      ]
    }
  }
}`
