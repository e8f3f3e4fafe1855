// Package queue runs profile updates and recoveries as independent units of work.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/InternetOfUs/app-survey/internal/models"
)

// Kind names a unit of work. The values double as Zeebe job types.
type Kind string

const (
	KindUpdate  Kind = "update-profile"
	KindRecover Kind = "recover-profile"
)

var (
	ErrQueueFull   = errors.New("QUEUE_FULL")
	ErrQueueClosed = errors.New("QUEUE_CLOSED")
	ErrUnknownKind = errors.New("UNKNOWN_TASK_KIND")
)

// Task is one unit of work. Update tasks carry the survey answer, recover tasks only the
// subject id.
type Task struct {
	ID           string          `json:"taskId"`
	Kind         Kind            `json:"kind"`
	SubjectID    string          `json:"subjectId"`
	SurveyAnswer json.RawMessage `json:"surveyAnswer,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
}

func NewUpdateTask(answer *models.SurveyAnswer) (Task, error) {
	raw, err := answer.Encode()
	if err != nil {
		return Task{}, fmt.Errorf("encode survey answer: %w", err)
	}
	return Task{
		ID:           uuid.New().String(),
		Kind:         KindUpdate,
		SubjectID:    answer.SubjectID,
		SurveyAnswer: raw,
		EnqueuedAt:   time.Now().UTC(),
	}, nil
}

func NewRecoverTask(subjectID string) Task {
	return Task{
		ID:         uuid.New().String(),
		Kind:       KindRecover,
		SubjectID:  subjectID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Answer decodes the survey answer carried by an update task.
func (t Task) Answer() (*models.SurveyAnswer, error) {
	if len(t.SurveyAnswer) == 0 {
		return nil, fmt.Errorf("task %s carries no survey answer", t.ID)
	}
	return models.DecodeSurveyAnswer(t.SurveyAnswer)
}

// Handler executes one task. It runs to completion; the context is never cancelled by the
// queue.
type Handler func(ctx context.Context, task Task) error

// Queue accepts units of work. Enqueue never waits for another unit to execute.
type Queue interface {
	Enqueue(ctx context.Context, task Task) (string, error)
	Close(ctx context.Context) error
}
