package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/presencer/internal/presence"
	"github.com/loykin/presencer/internal/store/memory"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestWatcherMaterializesSnapshotAndDeltas(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test")
	defer func() { _ = st.Close() }()
	for _, id := range []string{"a", "b"} {
		if err := st.Put(ctx, presence.Record{ID: id, Name: "user" + id, Active: id == "a"}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	w := New("userA", st, nil, nil)
	if w.State() != Unsubscribed {
		t.Fatalf("new watcher should be unsubscribed")
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if w.State() != Subscribed {
		t.Fatalf("start did not subscribe")
	}

	// Snapshot populates the view without counting transitions.
	waitFor(t, func() bool { return len(w.Known()) == 2 })
	if got := w.Transitions(); got != 0 {
		t.Fatalf("snapshot must not count as transitions, got %d", got)
	}

	// Every watcher observes every record's changes, not just its own.
	if err := st.Patch(ctx, "b", true); err != nil {
		t.Fatalf("patch: %v", err)
	}
	waitFor(t, func() bool { return w.Transitions() == 1 })
	known := w.Known()
	if len(known) != 2 || !known[1].Active {
		t.Fatalf("view not updated: %+v", known)
	}

	w.Stop()
	if w.State() != Unsubscribed {
		t.Fatalf("stop did not unsubscribe")
	}
}

func TestStoppedWatcherObservesNothing(t *testing.T) {
	ctx := context.Background()
	st := memory.New("test")
	defer func() { _ = st.Close() }()
	if err := st.Put(ctx, presence.Record{ID: "a", Name: "userA", Active: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := New("userA", st, nil, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return len(w.Known()) == 1 })

	w.Stop()
	w.Stop() // double stop is a no-op

	if err := st.Patch(ctx, "a", false); err != nil {
		t.Fatalf("patch: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := w.Transitions(); got != 0 {
		t.Fatalf("cancelled watcher observed %d transitions", got)
	}
	if known := w.Known(); known[0].Active != true {
		t.Fatalf("cancelled watcher's view changed: %+v", known)
	}
}

// feedStore hands the subscription callbacks to the test so it can
// inject a feed error.
type feedStore struct {
	presence.Store
	mu      sync.Mutex
	onErr   func(error)
	cancels int
}

func (f *feedStore) Subscribe(onBatch func(presence.Batch), onErr func(error)) (presence.CancelFunc, error) {
	f.mu.Lock()
	f.onErr = onErr
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
	}, nil
}

func TestFeedErrorIsTerminal(t *testing.T) {
	st := &feedStore{Store: memory.New("test")}
	w := New("userA", st, nil, nil)
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	boom := errors.New("feed torn down")
	st.onErr(boom)

	if w.State() != Unsubscribed {
		t.Fatalf("feed error should unsubscribe the watcher")
	}
	if !errors.Is(w.Err(), boom) {
		t.Fatalf("expected recorded error, got %v", w.Err())
	}

	// Stop after an implicit teardown stays safe.
	w.Stop()
	if w.State() != Unsubscribed {
		t.Fatalf("watcher resurrected after stop")
	}
}
