// Package filestore provides a file-backed implementation of state.Store.
// Every operation is a read-modify-write of the whole JSON document set under
// a single process-wide lock. Documents are small, so coarse wins over clever.
package filestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"context"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/mend/internal/state"
)

// Store persists documents as one JSON object in a single file.
type Store struct {
	mu     sync.Mutex
	path   string
	logger log.Logger
}

// New creates a Store backed by path. The file is created on first write.
func New(path string, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{path: path, logger: logger}
}

// Get retrieves a document by key.
func (s *Store) Get(ctx context.Context, key string) (state.Doc, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.load(ctx)
	d, ok := docs[key]
	if !ok {
		return nil, false, nil
	}
	return d, true, nil
}

// SetOnce stores value under key only if the key is absent. The lock spans
// the load-check-save sequence, so concurrent duplicate deliveries race
// safely: one wins, the rest see false.
func (s *Store) SetOnce(ctx context.Context, key string, value state.Doc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.load(ctx)
	if _, ok := docs[key]; ok {
		return false, nil
	}
	docs[key] = state.Clone(value)
	return true, s.save(docs)
}

// Update merges patch into the document under key, creating it if absent.
func (s *Store) Update(ctx context.Context, key string, patch state.Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.load(ctx)
	d, ok := docs[key]
	if !ok {
		d = state.Doc{}
	}
	docs[key] = state.Merge(d, patch)
	return s.save(docs)
}

// load reads the backing file. Missing, empty, or corrupted state is treated
// as an empty document set, never as a fatal error.
func (s *Store) load(ctx context.Context) map[string]state.Doc {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn(ctx, "state: unreadable backing file, treating as empty", "path", s.path, "error", err)
		}
		return map[string]state.Doc{}
	}
	if len(raw) == 0 {
		return map[string]state.Doc{}
	}
	var docs map[string]state.Doc
	if err := json.Unmarshal(raw, &docs); err != nil {
		s.logger.Warn(ctx, "state: corrupted backing file, treating as empty", "path", s.path, "error", err)
		return map[string]state.Doc{}
	}
	if docs == nil {
		return map[string]state.Doc{}
	}
	return docs
}

func (s *Store) save(docs map[string]state.Doc) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("filestore: create state dir: %w", err)
		}
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("filestore: marshal state: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o640); err != nil {
		return fmt.Errorf("filestore: write state: %w", err)
	}
	return nil
}
