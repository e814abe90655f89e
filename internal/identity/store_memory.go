package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cleargate/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

// Seed inserts a record directly; test and demo wiring only.
func (s *InMemoryStore) Seed(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.SubjectID] = rec
}

func (s *InMemoryStore) Find(_ context.Context, subjectID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[subjectID]
	if !ok {
		return Record{}, fmt.Errorf("identity record %s: %w", subjectID, sentinel.ErrNotFound)
	}
	return rec, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, subjectID string, target VerificationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[subjectID]
	if !ok {
		return false, fmt.Errorf("identity record %s: %w", subjectID, sentinel.ErrNotFound)
	}
	if rec.Status == target {
		return false, nil
	}
	rec.Status = target
	rec.UpdatedAt = time.Now()
	s.records[subjectID] = rec
	return true, nil
}
