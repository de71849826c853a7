package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileWriter_AppendsJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w := NewFileWriter(path, nil)
	ctx := context.Background()

	w.Write(ctx, "incident.created", "inc-1", map[string]any{"repo": "acme/widgets"})
	w.Write(ctx, "decision.requested", "inc-1", nil)
	w.Write(ctx, "remediation.opened", "inc-1", map[string]any{"pr_url": "https://example/pr/1"})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(events)+1, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("journal has %d events, want 3", len(events))
	}

	for i, ev := range events {
		if ev.ID == "" {
			t.Errorf("event %d has empty id", i)
		}
		if ev.TS.IsZero() {
			t.Errorf("event %d has zero timestamp", i)
		}
		if ev.Metadata == nil {
			t.Errorf("event %d has nil metadata, want empty map", i)
		}
	}

	if events[0].Action != "incident.created" || events[0].Target != "inc-1" {
		t.Errorf("event 0 = %s/%s", events[0].Action, events[0].Target)
	}
	if events[1].Action != "decision.requested" {
		t.Errorf("event 1 action = %s", events[1].Action)
	}
	if events[2].Metadata["pr_url"] != "https://example/pr/1" {
		t.Errorf("event 2 metadata = %v", events[2].Metadata)
	}
}

func TestFileWriter_CreatesParentDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "run", "journal", "audit.jsonl")
	w := NewFileWriter(path, nil)
	w.Write(context.Background(), "webhook.ignored", "", nil)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("journal not created: %v", err)
	}
}

func TestFileWriter_UnwritablePathDoesNotPanic(t *testing.T) {
	t.Parallel()

	// a directory where the journal file should be
	dir := t.TempDir()
	w := NewFileWriter(dir, nil)

	ev := w.Write(context.Background(), "incident.created", "inc-x", nil)
	if ev.Action != "incident.created" {
		t.Errorf("event still returned on write failure, got action %q", ev.Action)
	}
}

func TestFileWriter_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w := NewFileWriter(path, nil)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			w.Write(ctx, "webhook.duplicate", "gh:workflow_run:1", nil)
		}()
	}
	wg.Wait()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer func() { _ = f.Close() }()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("interleaved write produced invalid line: %v", err)
		}
		lines++
	}
	if lines != n {
		t.Errorf("journal has %d lines, want %d", lines, n)
	}
}

func TestNop_ReturnsEvent(t *testing.T) {
	t.Parallel()

	ev := Nop{}.Write(context.Background(), "a", "t", map[string]any{"k": "v"})
	if ev.Action != "a" || ev.Target != "t" {
		t.Errorf("Nop.Write = %+v", ev)
	}
}
