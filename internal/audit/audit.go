// Package audit provides an append-only structured event journal. Every
// pipeline state transition writes exactly one event, so the journal is the
// authoritative replay of what mend did and why.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Event is one journal entry, serialized as a single JSON line.
type Event struct {
	ID       string         `json:"id"`
	TS       time.Time      `json:"ts"`
	Action   string         `json:"action"`
	Target   string         `json:"target"`
	Metadata map[string]any `json:"metadata"`
}

// Writer records audit events. Implementations must be safe for concurrent use.
type Writer interface {
	Write(ctx context.Context, action, target string, metadata map[string]any) Event
}

// FileWriter appends events to a JSON Lines file under a process-wide lock.
type FileWriter struct {
	mu     sync.Mutex
	path   string
	logger log.Logger
}

// NewFileWriter creates a FileWriter for path. The parent directory is
// created on first write.
func NewFileWriter(path string, logger log.Logger) *FileWriter {
	if logger == nil {
		logger = log.Nop()
	}
	return &FileWriter{path: path, logger: logger}
}

// Write appends one event. Journal write failures are logged, never raised:
// an unwritable audit file must not take down the pipeline.
func (w *FileWriter) Write(ctx context.Context, action, target string, metadata map[string]any) Event {
	if metadata == nil {
		metadata = map[string]any{}
	}
	ev := Event{
		ID:       ulid.Make().String(),
		TS:       time.Now().UTC(),
		Action:   action,
		Target:   target,
		Metadata: metadata,
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if dir := filepath.Dir(w.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			w.logger.Error(ctx, err, "audit: create journal dir", "path", w.path)
			return ev
		}
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		w.logger.Error(ctx, err, "audit: open journal", "path", w.path)
		return ev
	}
	defer func() { _ = f.Close() }()

	line, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error(ctx, err, "audit: marshal event", "action", action)
		return ev
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		w.logger.Error(ctx, err, "audit: append event", "action", action)
	}
	return ev
}

// Nop is a Writer that discards everything. Suitable for tests.
type Nop struct{}

// Write implements Writer.
func (Nop) Write(_ context.Context, action, target string, metadata map[string]any) Event {
	return Event{Action: action, Target: target, Metadata: metadata}
}
