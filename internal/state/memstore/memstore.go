// Package memstore provides an in-memory implementation of state.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/mend/internal/state"
)

// Store holds documents in memory. Suitable for dev/testing.
type Store struct {
	mu   sync.RWMutex
	docs map[string]state.Doc
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{docs: make(map[string]state.Doc)}
}

// Get retrieves a document by key. Returns a copy.
func (s *Store) Get(_ context.Context, key string) (state.Doc, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[key]
	if !ok {
		return nil, false, nil
	}
	return state.Clone(d), true, nil
}

// SetOnce stores value under key only if the key is absent.
func (s *Store) SetOnce(_ context.Context, key string, value state.Doc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; ok {
		return false, nil
	}
	s.docs[key] = state.Clone(value)
	return true, nil
}

// Update merges patch into the document under key, creating it if absent.
func (s *Store) Update(_ context.Context, key string, patch state.Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[key]
	if !ok {
		d = state.Doc{}
	}
	s.docs[key] = state.Merge(d, patch)
	return nil
}
