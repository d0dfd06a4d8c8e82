// Package watcher materializes the collection change feed for one
// observing agent.
package watcher

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/presencer/internal/history"
	"github.com/loykin/presencer/internal/metrics"
	"github.com/loykin/presencer/internal/presence"
)

// State is the watcher lifecycle: Unsubscribed → Subscribed on Start,
// Subscribed → Unsubscribed on Stop or on a feed error. Terminal: a
// new Watcher must be constructed to resume watching.
type State int32

const (
	Unsubscribed State = iota
	Subscribed
)

func (s State) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// Watcher subscribes to the collection-wide feed on behalf of one
// agent and produces two observations per delta batch: one transition
// per modified event, then one current-state line per known record
// (the full-state echo mirrors a complete re-read on every change
// notification). Every watcher sees every record's changes, not just
// its own agent's.
type Watcher struct {
	observer string
	store    presence.Store
	logger   *slog.Logger
	sink     history.Sink // optional observation export

	mu          sync.Mutex
	state       State
	cancel      presence.CancelFunc
	known       map[string]presence.Record
	transitions int
	lastErr     error
}

func New(observer string, st presence.Store, logger *slog.Logger, sink history.Sink) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		observer: observer,
		store:    st,
		logger:   logger.With("observer", observer),
		sink:     sink,
		known:    make(map[string]presence.Record),
	}
}

// Start subscribes to the store's change feed. The first delivered
// batch is the full snapshot; callbacks run on the subscription's
// delivery goroutine.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Subscribed {
		return nil
	}
	cancel, err := w.store.Subscribe(w.onBatch, w.onError)
	if err != nil {
		return err
	}
	w.cancel = cancel
	w.state = Subscribed
	metrics.WatcherSubscribed()
	return nil
}

// Stop cancels the subscription. Idempotent, and safe after the feed
// already ended via an error callback. After Stop returns no further
// observation is produced by this instance.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	alreadyDown := w.state == Unsubscribed
	w.mu.Unlock()
	if cancel != nil {
		// Must run outside w.mu: cancel waits for an in-flight
		// callback, and callbacks take w.mu.
		cancel()
	}
	w.mu.Lock()
	if w.state == Subscribed {
		w.state = Unsubscribed
		if !alreadyDown {
			metrics.WatcherUnsubscribed()
		}
	}
	w.mu.Unlock()
}

// Observer is the watching agent's display name.
func (w *Watcher) Observer() string { return w.observer }

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Transitions reports how many modified events this watcher observed.
func (w *Watcher) Transitions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.transitions
}

// Known returns the watcher's current materialized view, sorted by id.
func (w *Watcher) Known() []presence.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Err reports the feed error that ended this watcher, if any.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Watcher) onBatch(batch presence.Batch) {
	w.mu.Lock()
	for _, ch := range batch.Changes {
		switch ch.Kind {
		case presence.ChangeAdded, presence.ChangeModified:
			w.known[ch.Record.ID] = ch.Record
		case presence.ChangeRemoved:
			delete(w.known, ch.Record.ID)
		}
	}
	state := w.snapshotLocked()
	var seen []presence.Record
	for _, ch := range batch.Changes {
		if ch.Kind == presence.ChangeModified {
			w.transitions++
			seen = append(seen, ch.Record)
		}
	}
	w.mu.Unlock()

	for _, rec := range seen {
		w.logger.Info("transition detected", "record", rec.Name, "active", rec.Active)
		metrics.IncTransitionObserved(w.observer)
		w.export(history.Event{
			Type:       history.EventTransition,
			OccurredAt: time.Now().UTC(),
			Observer:   w.observer,
			Record:     rec,
		})
	}
	for _, rec := range state {
		w.logger.Info("current state", "snapshot", batch.Snapshot, "record", rec.Name, "active", rec.Active)
		metrics.IncStateEcho(w.observer)
	}
}

// onError terminates the watcher for the remainder of the run. The
// supervisor does not resubscribe; that is a documented limitation,
// not a retry target.
func (w *Watcher) onError(err error) {
	w.logger.Error("subscription failed", "op", "subscribe", "error", err)
	metrics.IncWatcherError(w.observer)
	w.export(history.Event{
		Type:       history.EventWatcherDown,
		OccurredAt: time.Now().UTC(),
		Observer:   w.observer,
		Detail:     err.Error(),
	})
	w.mu.Lock()
	w.lastErr = err
	if w.state == Subscribed {
		w.state = Unsubscribed
		metrics.WatcherUnsubscribed()
	}
	w.mu.Unlock()
}

func (w *Watcher) export(e history.Event) {
	if w.sink == nil {
		return
	}
	if err := w.sink.Send(context.Background(), e); err != nil {
		w.logger.Error("history export failed", "op", "send", "id", e.Record.ID, "error", err)
	}
}

func (w *Watcher) snapshotLocked() []presence.Record {
	out := make([]presence.Record, 0, len(w.known))
	for _, rec := range w.known {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
