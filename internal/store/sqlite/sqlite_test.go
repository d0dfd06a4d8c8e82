package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/presencer/internal/presence"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New("test", t.TempDir()+"/presence.db")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.Put(ctx, presence.Record{ID: "a", Name: "userA", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, err := st.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Name != "userA" || !rec.Active || rec.Namespace != "test" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Put on an existing id replaces it.
	if err := st.Put(ctx, presence.Record{ID: "a", Name: "userA", Active: false}); err != nil {
		t.Fatalf("re-put: %v", err)
	}
	rec, _ = st.Get(ctx, "a")
	if rec.Active {
		t.Fatalf("re-put did not replace record")
	}
}

func TestPatchSemantics(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	if err := st.Patch(ctx, "ghost", true); !errors.Is(err, presence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing id, got %v", err)
	}

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
		t.Fatalf("patch did not flip active")
	}
	if after.LastUpdated.Before(before.LastUpdated) {
		t.Fatalf("last_updated went backwards: %v -> %v", before.LastUpdated, after.LastUpdated)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := New("ns-a", dir+"/shared.db")
	if err != nil {
		t.Fatalf("open ns-a: %v", err)
	}
	defer func() { _ = a.Close() }()
	b, err := New("ns-b", dir+"/shared.db")
	if err != nil {
		t.Fatalf("open ns-b: %v", err)
	}
	defer func() { _ = b.Close() }()

	if err := a.Put(ctx, presence.Record{ID: "x", Name: "x", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := b.Get(ctx, "x"); !errors.Is(err, presence.ErrNotFound) {
		t.Fatalf("namespaces leaked: %v", err)
	}
	if err := b.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all ns-b: %v", err)
	}
	if _, err := a.Get(ctx, "x"); err != nil {
		t.Fatalf("delete all crossed namespaces: %v", err)
	}
}

func TestDeleteAllThenListEmpty(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := st.Put(ctx, presence.Record{ID: id, Name: id, Active: true}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	if err := st.DeleteAll(ctx); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	recs, err := st.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty collection after reset, got %d", len(recs))
	}
}

func TestSubscribeObservesCommits(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	if err := st.Put(ctx, presence.Record{ID: "a", Name: "userA", Active: true}); err != nil {
		t.Fatalf("put: %v", err)
	}

	var mu sync.Mutex
	var kinds []presence.ChangeKind
	cancel, err := st.Subscribe(func(b presence.Batch) {
		mu.Lock()
		for _, ch := range b.Changes {
			kinds = append(kinds, ch.Kind)
		}
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := st.Patch(ctx, "a", false); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := st.Put(ctx, presence.Record{ID: "b", Name: "userB", Active: false}); err != nil {
		t.Fatalf("put: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(kinds)
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out, got kinds %v", kinds)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []presence.ChangeKind{presence.ChangeAdded, presence.ChangeModified, presence.ChangeAdded}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("kind[%d] = %s, want %s (all: %v)", i, kinds[i], k, kinds)
		}
	}
}
