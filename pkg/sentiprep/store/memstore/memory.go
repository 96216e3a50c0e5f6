package memstore

import (
	"context"
	"sync"

	"github.com/cognicore/sentiprep/pkg/sentiprep/store"
)

// Store is an in-memory implementation of store.Backend for tests.
type Store struct {
	mu      sync.RWMutex
	entries map[string]store.Entry
	loads   int
	saves   int
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{entries: make(map[string]store.Entry)}
}

// Close implements store.Backend.
func (s *Store) Close() error { return nil }

// Load implements store.Backend.
func (s *Store) Load(ctx context.Context, key string) (store.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	e, ok := s.entries[key]
	if !ok {
		return store.Entry{}, false, nil
	}
	return copyEntry(e), true, nil
}

// Save implements store.Backend.
func (s *Store) Save(ctx context.Context, e store.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.entries[e.Key] = copyEntry(e)
	return nil
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Counts returns how many loads and saves the store served.
func (s *Store) Counts() (loads, saves int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loads, s.saves
}

func copyEntry(e store.Entry) store.Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}
