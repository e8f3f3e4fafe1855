// internal/common/validation/survey.go
package validation

// SurveyAnswerSchema describes the wire form accepted by the survey-answer endpoint and
// stored in failure ledger records.
const SurveyAnswerSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["wenet_id", "answers"],
  "additionalProperties": false,
  "properties": {
    "wenet_id": {"type": "string", "minLength": 1},
    "answers": {
      "type": "object",
      "additionalProperties": {"$ref": "#/definitions/answer"}
    }
  },
  "definitions": {
    "answer": {
      "type": "object",
      "required": ["question", "type", "answer"],
      "additionalProperties": false,
      "properties": {
        "question": {"type": "string", "minLength": 1},
        "type": {"enum": ["number", "date", "single_choice", "multiple_choice"]},
        "answer": {}
      },
      "allOf": [
        {
          "if": {"properties": {"type": {"const": "number"}}},
          "then": {"properties": {"answer": {"type": "number"}}}
        },
        {
          "if": {"properties": {"type": {"const": "date"}}},
          "then": {"properties": {"answer": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"}}}
        },
        {
          "if": {"properties": {"type": {"const": "single_choice"}}},
          "then": {"properties": {"answer": {"type": "string"}}}
        },
        {
          "if": {"properties": {"type": {"const": "multiple_choice"}}},
          "then": {"properties": {"answer": {"type": "array", "items": {"type": "string"}}}}
        }
      ]
    }
  }
}`

var surveyAnswer = MustCompile("survey-answer", SurveyAnswerSchema)

// ValidateSurveyAnswer checks a raw survey-answer document.
func ValidateSurveyAnswer(doc []byte) (*ValidationResult, error) {
	return surveyAnswer.ValidateBytes(doc)
}
