package compliance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cleargate/pkg/platform/sentinel"
)

// InMemoryStore backs tests and demo deployments without Postgres.
type InMemoryStore struct {
	mu        sync.RWMutex
	cases     map[uuid.UUID]Case
	bySubject map[string]uuid.UUID
	events    []Event
	eventKeys map[string]struct{}
	exported  map[uuid.UUID]struct{}
	nextSeq   int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		cases:     make(map[uuid.UUID]Case),
		bySubject: make(map[string]uuid.UUID),
		eventKeys: make(map[string]struct{}),
		exported:  make(map[uuid.UUID]struct{}),
	}
}

func (s *InMemoryStore) CreateCase(_ context.Context, c Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySubject[c.SubjectID]; exists {
		return fmt.Errorf("case for subject %s: %w", c.SubjectID, sentinel.ErrConflict)
	}
	s.cases[c.ID] = c
	s.bySubject[c.SubjectID] = c.ID
	return nil
}

func (s *InMemoryStore) FindCaseBySubject(_ context.Context, subjectID string) (Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caseID, ok := s.bySubject[subjectID]
	if !ok {
		return Case{}, fmt.Errorf("case for subject %s: %w", subjectID, sentinel.ErrNotFound)
	}
	return s.cases[caseID], nil
}

func (s *InMemoryStore) FindCaseByID(_ context.Context, caseID uuid.UUID) (Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return Case{}, fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	return c, nil
}

func (s *InMemoryStore) SetProviderInquiry(_ context.Context, caseID uuid.UUID, inquiryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	c.ProviderInquiryID = inquiryID
	c.UpdatedAt = time.Now()
	s.cases[caseID] = c
	return nil
}

func (s *InMemoryStore) UpdateDecision(_ context.Context, caseID uuid.UUID, status CaseStatus, tier Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("case %s: %w", caseID, sentinel.ErrNotFound)
	}
	c.Status = status
	c.Tier = tier
	c.UpdatedAt = time.Now()
	s.cases[caseID] = c
	return nil
}

func (s *InMemoryStore) InsertEvent(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[ev.CaseID]; !ok {
		return fmt.Errorf("case %s: %w", ev.CaseID, sentinel.ErrNotFound)
	}
	if _, dup := s.eventKeys[ev.IdempotencyKey]; dup {
		return fmt.Errorf("event key %s: %w", ev.IdempotencyKey, sentinel.ErrConflict)
	}
	s.nextSeq++
	ev.Seq = s.nextSeq
	s.eventKeys[ev.IdempotencyKey] = struct{}{}
	s.events = append(s.events, ev)
	return nil
}

func (s *InMemoryStore) ListEvents(_ context.Context, caseID uuid.UUID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, ev := range s.events {
		if ev.CaseID == caseID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *InMemoryStore) UnexportedEvents(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, ev := range s.events {
		if _, done := s.exported[ev.ID]; done {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) MarkExported(_ context.Context, eventIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range eventIDs {
		s.exported[id] = struct{}{}
	}
	return nil
}
