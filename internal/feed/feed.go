// Package feed implements the change-notification hub shared by the
// store adapters. Each subscription owns a delivery goroutine fed from
// a bounded queue; batches are enqueued under the hub lock so the
// initial snapshot and subsequent deltas for one subscription never
// reorder or interleave.
package feed

import (
	"errors"
	"sync"

	"github.com/loykin/presencer/internal/presence"
)

// ErrOverflow ends a subscription whose consumer cannot keep up with
// the change rate. It is delivered through the subscription's error
// callback like any other feed failure.
var ErrOverflow = errors.New("feed: subscription queue overflow")

const queueDepth = 128

type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscription)}
}

type subscription struct {
	id      uint64
	onBatch func(presence.Batch)
	onErr   func(error)
	queue   chan presence.Batch
	quit    chan struct{}

	// mu serializes callback invocation against cancellation. Once
	// ended is set no callback runs again; Cancel waits on mu for an
	// in-flight callback to return before flipping the flag.
	mu    sync.Mutex
	ended bool
}

// Subscribe registers a new feed. The snapshot is enqueued as the first
// batch before the subscription becomes visible to Broadcast, so every
// record present at subscribe time is observed exactly once as "added"
// ahead of any delta. The returned cancel is idempotent and safe to
// call after the feed already ended via onErr.
func (h *Hub) Subscribe(snapshot []presence.Record, onBatch func(presence.Batch), onErr func(error)) (presence.CancelFunc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.New("feed: hub closed")
	}
	h.nextID++
	sub := &subscription{
		id:      h.nextID,
		onBatch: onBatch,
		onErr:   onErr,
		queue:   make(chan presence.Batch, queueDepth),
		quit:    make(chan struct{}),
	}
	changes := make([]presence.Change, 0, len(snapshot))
	for _, rec := range snapshot {
		changes = append(changes, presence.Change{Kind: presence.ChangeAdded, Record: rec})
	}
	sub.queue <- presence.Batch{Snapshot: true, Changes: changes}
	h.subs[sub.id] = sub
	go sub.run()

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.drop(sub, nil) })
	}
	return cancel, nil
}

// Broadcast enqueues one delta batch to every live subscription. A
// subscription whose queue is full is failed with ErrOverflow rather
// than blocking the committing writer.
func (h *Hub) Broadcast(changes []presence.Change) {
	if len(changes) == 0 {
		return
	}
	batch := presence.Batch{Changes: changes}
	h.mu.Lock()
	var overflowed []*subscription
	for _, sub := range h.subs {
		select {
		case sub.queue <- batch:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	h.mu.Unlock()
	for _, sub := range overflowed {
		h.drop(sub, ErrOverflow)
	}
}

// Fail ends every subscription with err. Used by adapters when the
// backing store becomes unusable.
func (h *Hub) Fail(err error) {
	h.mu.Lock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.drop(sub, err)
	}
}

// Close cancels all subscriptions without an error callback and
// rejects future Subscribe calls.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.drop(sub, nil)
	}
}

// drop removes the subscription from the hub (no further enqueues can
// reach it once unregistered, since Broadcast sends under the hub
// lock), then ends it, optionally delivering a final error callback.
func (h *Hub) drop(sub *subscription, err error) {
	h.mu.Lock()
	_, live := h.subs[sub.id]
	delete(h.subs, sub.id)
	h.mu.Unlock()

	sub.mu.Lock()
	if !sub.ended {
		sub.ended = true
		if err != nil && live && sub.onErr != nil {
			sub.onErr(err)
		}
	}
	sub.mu.Unlock()
	if live {
		close(sub.quit)
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.quit:
			return
		case batch := <-s.queue:
			s.mu.Lock()
			if !s.ended {
				s.onBatch(batch)
			}
			s.mu.Unlock()
		}
	}
}
