package certificate

import (
	"context"
	"fmt"
	"sync"

	"cleargate/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	certs map[string]Certificate
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{certs: make(map[string]Certificate)}
}

func (s *InMemoryStore) Create(_ context.Context, c Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.certs[c.CertificateNumber]; exists {
		return fmt.Errorf("certificate %s: %w", c.CertificateNumber, sentinel.ErrConflict)
	}
	s.certs[c.CertificateNumber] = c
	return nil
}

func (s *InMemoryStore) FindByNumber(_ context.Context, certificateNumber string) (Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[certificateNumber]
	if !ok {
		return Certificate{}, fmt.Errorf("certificate %s: %w", certificateNumber, sentinel.ErrNotFound)
	}
	return c, nil
}

// Put overwrites a stored certificate directly, bypassing the write-once
// contract. Tests use it to simulate record tampering.
func (s *InMemoryStore) Put(c Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[c.CertificateNumber] = c
}
