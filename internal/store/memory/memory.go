// Package memory implements presence.Store on a plain map. It is the
// default adapter for tests and embedded runs; nothing survives Close.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loykin/presencer/internal/feed"
	"github.com/loykin/presencer/internal/presence"
)

// Store holds records for one namespace. Writes and the feed broadcast
// run under one mutex, so subscribers observe changes in commit order.
type Store struct {
	namespace string

	mu   sync.Mutex
	recs map[string]presence.Record
	hub  *feed.Hub
}

func New(namespace string) *Store {
	return &Store{
		namespace: namespace,
		recs:      make(map[string]presence.Record),
		hub:       feed.NewHub(),
	}
}

func (s *Store) Put(_ context.Context, rec presence.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Namespace = s.namespace
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}
	prev, exists := s.recs[rec.ID]
	if exists && rec.LastUpdated.Before(prev.LastUpdated) {
		rec.LastUpdated = prev.LastUpdated
	}
	s.recs[rec.ID] = rec
	kind := presence.ChangeAdded
	if exists {
		kind = presence.ChangeModified
	}
	s.hub.Broadcast([]presence.Change{{Kind: kind, Record: rec}})
	return nil
}

func (s *Store) Patch(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return presence.ErrNotFound
	}
	rec.Active = active
	if now := time.Now().UTC(); now.After(rec.LastUpdated) {
		rec.LastUpdated = now
	}
	s.recs[id] = rec
	s.hub.Broadcast([]presence.Change{{Kind: presence.ChangeModified, Record: rec}})
	return nil
}

func (s *Store) Get(_ context.Context, id string) (presence.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return presence.Record{}, presence.ErrNotFound
	}
	return rec, nil
}

func (s *Store) List(_ context.Context) ([]presence.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

func (s *Store) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := make([]presence.Change, 0, len(s.recs))
	for _, rec := range s.snapshotLocked() {
		changes = append(changes, presence.Change{Kind: presence.ChangeRemoved, Record: presence.Record{ID: rec.ID, Namespace: rec.Namespace}})
	}
	s.recs = make(map[string]presence.Record)
	s.hub.Broadcast(changes)
	return nil
}

// Subscribe snapshots under the write lock so the snapshot and the
// registration are atomic with respect to concurrent writers.
func (s *Store) Subscribe(onBatch func(presence.Batch), onErr func(error)) (presence.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub.Subscribe(s.snapshotLocked(), onBatch, onErr)
}

func (s *Store) Close() error {
	s.hub.Close()
	return nil
}

func (s *Store) snapshotLocked() []presence.Record {
	out := make([]presence.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
