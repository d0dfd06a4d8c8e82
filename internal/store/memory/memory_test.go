package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/presencer/internal/presence"
)

func TestPutGetListDeleteAll(t *testing.T) {
	ctx := context.Background()
	st := New("test")
	defer func() { _ = st.Close() }()

	if err := st.Put(ctx, presence.Record{ID: "a", Name: "userA", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Put(ctx, presence.Record{ID: "b", Name: "userB", Active: false}); err != nil {
		t.Fatalf("put: %v", err)
	}

	rec, err := st.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Name != "userA" || !rec.Active || rec.Namespace != "test" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.LastUpdated.IsZero() {
		t.Fatalf("last_updated not set on put")
	}

	recs, err := st.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "a" || recs[1].ID != "b" {
		t.Fatalf("unexpected list: %+v", recs)
	}

	if err := st.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	recs, err = st.List(ctx)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty list after delete all, got %d", len(recs))
	}
}

func TestPatchFlipsAndAdvancesTimestamp(t *testing.T) {
	ctx := context.Background()
	st := New("test")
	defer func() { _ = st.Close() }()

	if err := st.Put(ctx, presence.Record{ID: "a", Name: "userA", Active: false}); err != nil {
		t.Fatalf("put: %v", err)
	}
	before, _ := st.Get(ctx, "a")
	time.Sleep(2 * time.Millisecond)
	if err := st.Patch(ctx, "a", true); err != nil {
		t.Fatalf("patch: %v", err)
	}
	after, _ := st.Get(ctx, "a")
	if !after.Active {
		t.Fatalf("patch did not set active")
	}
	if after.LastUpdated.Before(before.LastUpdated) {
		t.Fatalf("last_updated went backwards: %v -> %v", before.LastUpdated, after.LastUpdated)
	}
}

func TestPatchMissingReturnsNotFound(t *testing.T) {
	st := New("test")
	defer func() { _ = st.Close() }()
	if err := st.Patch(context.Background(), "ghost", true); !errors.Is(err, presence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.Get(context.Background(), "ghost"); !errors.Is(err, presence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestSubscribeSnapshotThenDelta(t *testing.T) {
	ctx := context.Background()
	st := New("test")
	defer func() { _ = st.Close() }()
	if err := st.Put(ctx, presence.Record{ID: "a", Name: "userA", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}

	var mu sync.Mutex
	var batches []presence.Batch
	cancel, err := st.Subscribe(func(b presence.Batch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := st.Patch(ctx, "a", false); err != nil {
		t.Fatalf("patch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(batches)
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for delta, have %d batches", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !batches[0].Snapshot || len(batches[0].Changes) != 1 {
		t.Fatalf("unexpected snapshot batch: %+v", batches[0])
	}
	delta := batches[1]
	if delta.Snapshot || len(delta.Changes) != 1 {
		t.Fatalf("unexpected delta batch: %+v", delta)
	}
	if delta.Changes[0].Kind != presence.ChangeModified || delta.Changes[0].Record.Active {
		t.Fatalf("unexpected delta change: %+v", delta.Changes[0])
	}
}

func TestCancelledSubscriptionSeesNothingFurther(t *testing.T) {
	ctx := context.Background()
	st := New("test")
	defer func() { _ = st.Close() }()
	if err := st.Put(ctx, presence.Record{ID: "a", Name: "userA", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}

	var mu sync.Mutex
	count := 0
	cancel, err := st.Subscribe(func(b presence.Batch) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := count
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	cancel() // double cancel is a no-op

	if err := st.Patch(ctx, "a", false); err != nil {
		t.Fatalf("patch: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected no delivery after cancel, got %d", count)
	}
}
