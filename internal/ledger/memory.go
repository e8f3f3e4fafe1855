// internal/ledger/memory.go
package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/InternetOfUs/app-survey/internal/models"
)

// MemoryStore is the in-process Store used in tests and single-node development.
type MemoryStore struct {
	mu        sync.RWMutex
	failures  map[string]models.FailedUpdateRecord
	successes map[string]models.LastSuccessRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		failures:  make(map[string]models.FailedUpdateRecord),
		successes: make(map[string]models.LastSuccessRecord),
	}
}

func (s *MemoryStore) GetFailure(_ context.Context, subjectID string) (*models.FailedUpdateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.failures[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	rec.RawSurveyAnswer = append([]byte(nil), rec.RawSurveyAnswer...)
	return &rec, nil
}

func (s *MemoryStore) UpsertFailure(_ context.Context, rec models.FailedUpdateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.RawSurveyAnswer = append([]byte(nil), rec.RawSurveyAnswer...)
	s.failures[rec.SubjectID] = rec
	return nil
}

func (s *MemoryStore) DeleteFailure(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, subjectID)
	return nil
}

func (s *MemoryStore) ListFailures(_ context.Context) ([]models.FailedUpdateRecord, error) {
	s.mu.RLock()
	out := make([]models.FailedUpdateRecord, 0, len(s.failures))
	for _, rec := range s.failures {
		rec.RawSurveyAnswer = append([]byte(nil), rec.RawSurveyAnswer...)
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureTime.Equal(out[j].FailureTime) {
			return out[i].SubjectID < out[j].SubjectID
		}
		return out[i].FailureTime.Before(out[j].FailureTime)
	})
	return out, nil
}

func (s *MemoryStore) GetLastSuccess(_ context.Context, subjectID string) (*models.LastSuccessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.successes[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) UpsertLastSuccess(_ context.Context, rec models.LastSuccessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successes[rec.SubjectID] = rec
	return nil
}
