// Package tally converts Tally form webhooks into survey answers.
package tally

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/InternetOfUs/app-survey/internal/common/errors"
	"github.com/InternetOfUs/app-survey/internal/models"
)

const (
	EventFormResponse = "FORM_RESPONSE"

	// SubjectField is the label of the hidden field carrying the WeNet user id.
	SubjectField = "wenet_id"
)

// Field types sent by Tally.
const (
	FieldHidden         = "HIDDEN_FIELDS"
	FieldInputNumber    = "INPUT_NUMBER"
	FieldInputDate      = "INPUT_DATE"
	FieldLinearScale    = "LINEAR_SCALE"
	FieldRating         = "RATING"
	FieldMultipleChoice = "MULTIPLE_CHOICE"
	FieldDropdown       = "DROPDOWN"
	FieldCheckboxes     = "CHECKBOXES"
)

type Event struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	CreatedAt string    `json:"createdAt"`
	Data      EventData `json:"data"`
}

type EventData struct {
	ResponseID   string  `json:"responseId"`
	RespondentID string  `json:"respondentId"`
	FormID       string  `json:"formId"`
	FormName     string  `json:"formName"`
	CreatedAt    string  `json:"createdAt"`
	Fields       []Field `json:"fields"`
}

type Field struct {
	Key     string          `json:"key"`
	Label   string          `json:"label"`
	Type    string          `json:"type"`
	Value   json.RawMessage `json:"value"`
	Options []Option        `json:"options,omitempty"`
}

type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Parse decodes a webhook body and builds the survey answer it carries.
func Parse(body []byte) (*models.SurveyAnswer, *Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, nil, errors.NewInvalidWebhookError(fmt.Sprintf("malformed JSON: %v", err))
	}
	answer, err := event.SurveyAnswer()
	if err != nil {
		return nil, &event, err
	}
	return answer, &event, nil
}

// SurveyAnswer converts the event. Fields without a value, without a question code or of
// an unsupported type are skipped.
func (e *Event) SurveyAnswer() (*models.SurveyAnswer, error) {
	if e.EventType != EventFormResponse {
		return nil, errors.NewInvalidWebhookError(fmt.Sprintf("unsupported event type %q", e.EventType))
	}

	var subjectID string
	answers := make([]models.Answer, 0, len(e.Data.Fields))
	for _, f := range e.Data.Fields {
		if f.Type == FieldHidden {
			if f.Label == SubjectField {
				var id string
				if err := json.Unmarshal(f.Value, &id); err == nil {
					subjectID = strings.TrimSpace(id)
				}
			}
			continue
		}

		answer, ok, err := f.answer()
		if err != nil {
			return nil, errors.NewInvalidWebhookError(fmt.Sprintf("field %s: %v", f.Key, err))
		}
		if ok {
			answers = append(answers, answer)
		}
	}

	if subjectID == "" {
		return nil, errors.NewInvalidWebhookError("missing " + SubjectField + " hidden field")
	}
	return models.NewSurveyAnswer(subjectID, answers...), nil
}

// Code returns the text before ": ", or "" when the text has no code.
func Code(text string) string {
	code, _, found := strings.Cut(text, ": ")
	if !found {
		return ""
	}
	return strings.TrimSpace(code)
}

func (f Field) empty() bool {
	v := strings.TrimSpace(string(f.Value))
	return v == "" || v == "null" || v == `""` || v == "[]"
}

func (f Field) answer() (models.Answer, bool, error) {
	question := Code(f.Label)
	if question == "" || f.empty() {
		return models.Answer{}, false, nil
	}

	switch f.Type {
	case FieldInputNumber, FieldLinearScale, FieldRating:
		var n float64
		if err := json.Unmarshal(f.Value, &n); err != nil {
			return models.Answer{}, false, fmt.Errorf("expected a number: %w", err)
		}
		return models.NewNumberAnswer(question, n), true, nil

	case FieldInputDate:
		var raw string
		if err := json.Unmarshal(f.Value, &raw); err != nil {
			return models.Answer{}, false, fmt.Errorf("expected a date string: %w", err)
		}
		d, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			return models.Answer{}, false, fmt.Errorf("expected a date: %w", err)
		}
		return models.NewDateAnswer(question, d), true, nil

	case FieldMultipleChoice, FieldDropdown:
		var id string
		if err := json.Unmarshal(f.Value, &id); err != nil {
			return models.Answer{}, false, fmt.Errorf("expected an option id: %w", err)
		}
		code, ok := f.optionCode(id)
		if !ok {
			return models.Answer{}, false, nil
		}
		return models.NewSingleChoiceAnswer(question, code), true, nil

	case FieldCheckboxes:
		var ids []string
		if err := json.Unmarshal(f.Value, &ids); err != nil {
			// Tally also sends one boolean field per checkbox option; those are skipped.
			return models.Answer{}, false, nil
		}
		codes := make([]string, 0, len(ids))
		for _, id := range ids {
			if code, ok := f.optionCode(id); ok {
				codes = append(codes, code)
			}
		}
		if len(codes) == 0 {
			return models.Answer{}, false, nil
		}
		return models.NewMultipleChoiceAnswer(question, codes), true, nil
	}

	return models.Answer{}, false, nil
}

func (f Field) optionCode(id string) (string, bool) {
	for _, o := range f.Options {
		if o.ID == id {
			code := Code(o.Text)
			return code, code != ""
		}
	}
	return "", false
}
