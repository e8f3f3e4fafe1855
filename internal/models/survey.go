// internal/models/survey.go
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// AnswerKind identifies the runtime type of a survey answer.
type AnswerKind string

const (
	KindNumber         AnswerKind = "number"
	KindDate           AnswerKind = "date"
	KindSingleChoice   AnswerKind = "single_choice"
	KindMultipleChoice AnswerKind = "multiple_choice"
)

// DateLayout is the wire layout of date answers.
const DateLayout = "2006-01-02"

// Answer is one typed response to a survey question. Values are only reachable through
// the typed accessors, so an Answer cannot be modified after construction.
type Answer struct {
	questionCode string
	kind         AnswerKind
	number       float64
	date         time.Time
	choice       string
	choices      []string
}

func NewNumberAnswer(questionCode string, value float64) Answer {
	return Answer{questionCode: questionCode, kind: KindNumber, number: value}
}

func NewDateAnswer(questionCode string, value time.Time) Answer {
	y, m, d := value.Date()
	return Answer{questionCode: questionCode, kind: KindDate, date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func NewSingleChoiceAnswer(questionCode, code string) Answer {
	return Answer{questionCode: questionCode, kind: KindSingleChoice, choice: code}
}

func NewMultipleChoiceAnswer(questionCode string, codes []string) Answer {
	cp := make([]string, len(codes))
	copy(cp, codes)
	return Answer{questionCode: questionCode, kind: KindMultipleChoice, choices: cp}
}

func (a Answer) QuestionCode() string { return a.questionCode }
func (a Answer) Kind() AnswerKind     { return a.kind }

// Number returns the numeric value of a number answer.
func (a Answer) Number() (float64, bool) {
	if a.kind != KindNumber {
		return 0, false
	}
	return a.number, true
}

// Int returns the value of a number answer that holds an integral value.
func (a Answer) Int() (int, bool) {
	if a.kind != KindNumber || a.number != math.Trunc(a.number) {
		return 0, false
	}
	return int(a.number), true
}

func (a Answer) Date() (time.Time, bool) {
	if a.kind != KindDate {
		return time.Time{}, false
	}
	return a.date, true
}

func (a Answer) Choice() (string, bool) {
	if a.kind != KindSingleChoice {
		return "", false
	}
	return a.choice, true
}

// Choices returns a copy of the selected codes of a multiple-choice answer.
func (a Answer) Choices() ([]string, bool) {
	if a.kind != KindMultipleChoice {
		return nil, false
	}
	cp := make([]string, len(a.choices))
	copy(cp, a.choices)
	return cp, true
}

// Equal reports structural equality.
func (a Answer) Equal(other Answer) bool {
	if a.questionCode != other.questionCode || a.kind != other.kind {
		return false
	}
	switch a.kind {
	case KindNumber:
		return a.number == other.number
	case KindDate:
		return a.date.Equal(other.date)
	case KindSingleChoice:
		return a.choice == other.choice
	case KindMultipleChoice:
		if len(a.choices) != len(other.choices) {
			return false
		}
		for i := range a.choices {
			if a.choices[i] != other.choices[i] {
				return false
			}
		}
		return true
	}
	return true
}

type answerRepr struct {
	Question string          `json:"question"`
	Type     AnswerKind      `json:"type"`
	Answer   json.RawMessage `json:"answer"`
}

func (a Answer) MarshalJSON() ([]byte, error) {
	var value interface{}
	switch a.kind {
	case KindNumber:
		value = a.number
	case KindDate:
		value = a.date.Format(DateLayout)
	case KindSingleChoice:
		value = a.choice
	case KindMultipleChoice:
		value = a.choices
	default:
		return nil, fmt.Errorf("unsupported answer type %q", a.kind)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerRepr{Question: a.questionCode, Type: a.kind, Answer: raw})
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	var repr answerRepr
	if err := json.Unmarshal(data, &repr); err != nil {
		return err
	}
	if repr.Question == "" {
		return fmt.Errorf("answer without question code")
	}

	switch repr.Type {
	case KindNumber:
		var v float64
		if err := json.Unmarshal(repr.Answer, &v); err != nil {
			return fmt.Errorf("question %s: invalid number answer: %w", repr.Question, err)
		}
		*a = NewNumberAnswer(repr.Question, v)
	case KindDate:
		var s string
		if err := json.Unmarshal(repr.Answer, &s); err != nil {
			return fmt.Errorf("question %s: invalid date answer: %w", repr.Question, err)
		}
		d, err := time.Parse(DateLayout, s)
		if err != nil {
			return fmt.Errorf("question %s: invalid date answer: %w", repr.Question, err)
		}
		*a = NewDateAnswer(repr.Question, d)
	case KindSingleChoice:
		var s string
		if err := json.Unmarshal(repr.Answer, &s); err != nil {
			return fmt.Errorf("question %s: invalid single choice answer: %w", repr.Question, err)
		}
		*a = NewSingleChoiceAnswer(repr.Question, s)
	case KindMultipleChoice:
		var codes []string
		if err := json.Unmarshal(repr.Answer, &codes); err != nil {
			return fmt.Errorf("question %s: invalid multiple choice answer: %w", repr.Question, err)
		}
		*a = NewMultipleChoiceAnswer(repr.Question, codes)
	default:
		return fmt.Errorf("question %s: unsupported answer type %q", repr.Question, repr.Type)
	}
	return nil
}

// SurveyAnswer is the full set of answers one subject gave to a survey.
type SurveyAnswer struct {
	SubjectID string            `json:"wenet_id"`
	Answers   map[string]Answer `json:"answers"`
}

// NewSurveyAnswer indexes answers by their question code.
func NewSurveyAnswer(subjectID string, answers ...Answer) *SurveyAnswer {
	indexed := make(map[string]Answer, len(answers))
	for _, a := range answers {
		indexed[a.QuestionCode()] = a
	}
	return &SurveyAnswer{SubjectID: subjectID, Answers: indexed}
}

// Get returns the answer for a question code.
func (s *SurveyAnswer) Get(questionCode string) (Answer, bool) {
	a, ok := s.Answers[questionCode]
	return a, ok
}

// Encode returns the durable representation stored in ledger records.
func (s *SurveyAnswer) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSurveyAnswer parses the durable representation produced by Encode.
func DecodeSurveyAnswer(data []byte) (*SurveyAnswer, error) {
	var s SurveyAnswer
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode survey answer: %w", err)
	}
	if s.SubjectID == "" {
		return nil, fmt.Errorf("decode survey answer: missing wenet_id")
	}
	for code, a := range s.Answers {
		if a.QuestionCode() != code {
			return nil, fmt.Errorf("decode survey answer: key %s holds answer for %s", code, a.QuestionCode())
		}
	}
	if s.Answers == nil {
		s.Answers = map[string]Answer{}
	}
	return &s, nil
}
