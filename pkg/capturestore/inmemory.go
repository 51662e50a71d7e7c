package capturestore

import (
	"context"
	"sync"
)

// InMemoryStore is a thread-safe Store for single-process deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	latest *Record
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Put replaces the stored record.
func (s *InMemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &rec
	return nil
}

// Latest returns a copy of the stored record.
func (s *InMemoryStore) Latest(_ context.Context) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Record{}, ErrNotFound
	}
	return *s.latest, nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }
