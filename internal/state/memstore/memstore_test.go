package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/linnemanlabs/mend/internal/state"
)

func TestStore_SetOnceAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	ok, err := s.SetOnce(ctx, "gh:workflow_run:1", state.Doc{"received": true})
	if err != nil {
		t.Fatalf("SetOnce: %v", err)
	}
	if !ok {
		t.Fatal("first SetOnce = false, want true")
	}

	got, found, err := s.Get(ctx, "gh:workflow_run:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected document to be found")
	}
	if got["received"] != true {
		t.Errorf("received = %v, want true", got["received"])
	}
}

func TestStore_SetOnceDuplicate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	if ok, _ := s.SetOnce(ctx, "k", state.Doc{"n": 1}); !ok {
		t.Fatal("first SetOnce = false")
	}
	ok, err := s.SetOnce(ctx, "k", state.Doc{"n": 2})
	if err != nil {
		t.Fatalf("SetOnce: %v", err)
	}
	if ok {
		t.Fatal("second SetOnce = true, want false")
	}

	// the original document must survive the losing write
	got, _, _ := s.Get(ctx, "k")
	if got["n"] != 1 {
		t.Errorf("n = %v, want 1 (first write wins)", got["n"])
	}
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing key")
	}
}

func TestStore_UpdateCreatesAndMerges(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	if err := s.Update(ctx, "incident:abc", state.Doc{"status": "pending_approval", "repo": "acme/widgets"}); err != nil {
		t.Fatalf("Update create: %v", err)
	}
	if err := s.Update(ctx, "incident:abc", state.Doc{"status": "remediated", "pr_url": "https://example/pr/1"}); err != nil {
		t.Fatalf("Update merge: %v", err)
	}

	got, ok, _ := s.Get(ctx, "incident:abc")
	if !ok {
		t.Fatal("expected document")
	}
	if got["status"] != "remediated" {
		t.Errorf("status = %v, want remediated", got["status"])
	}
	if got["repo"] != "acme/widgets" {
		t.Errorf("repo = %v, want preserved field", got["repo"])
	}
	if got["pr_url"] != "https://example/pr/1" {
		t.Errorf("pr_url = %v", got["pr_url"])
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	_, _ = s.SetOnce(ctx, "k", state.Doc{"a": 1})

	got, _, _ := s.Get(ctx, "k")
	got["a"] = 999

	again, _, _ := s.Get(ctx, "k")
	if again["a"] != 1 {
		t.Errorf("mutating a Get result leaked into the store: a = %v", again["a"])
	}
}

func TestStore_ConcurrentSetOnce_ExactlyOneWinner(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 50

	var wins atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			ok, err := s.SetOnce(ctx, "contested", state.Doc{"received": true})
			if err != nil {
				t.Errorf("SetOnce: %v", err)
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winners = %d, want exactly 1", wins.Load())
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 2)
	for i := range n {
		key := fmt.Sprintf("k-%d", i)

		go func() {
			defer wg.Done()
			_, _ = s.SetOnce(ctx, key, state.Doc{"i": i})
			_ = s.Update(ctx, key, state.Doc{"seen": true})
		}()

		go func() {
			defer wg.Done()
			_, _, _ = s.Get(ctx, key)
		}()
	}
	wg.Wait()
}
