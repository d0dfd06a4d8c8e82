package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/presencer/internal/feed"
	"github.com/loykin/presencer/internal/presence"
)

// Store implements presence.Store for SQLite (modernc.org/sqlite
// driver, CGO-free). Path is a filesystem path; use ":memory:" for an
// in-memory database. The change feed is produced in process: every
// committed write is broadcast to subscribers of this Store instance,
// in commit order (writes are serialized by mu). A deployment with
// multiple writer processes on one database file would need a polling
// feed instead; the simulator is single-process.

type Store struct {
	namespace string
	db        *sql.DB

	mu  sync.Mutex
	hub *feed.Hub
}

func New(namespace, path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases stable and
	// serializes file access ahead of SQLite's own busy handler.
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	s := &Store{
		namespace: namespace,
		db:        db,
		hub:       feed.NewHub(),
	}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS presence_record(
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			active BOOLEAN NOT NULL,
			last_updated TIMESTAMP NOT NULL,
			PRIMARY KEY(namespace, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_presence_record_namespace ON presence_record(namespace);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Put(ctx context.Context, rec presence.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Namespace = s.namespace
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}
	prev, err := s.getLocked(ctx, rec.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, presence.ErrNotFound) {
		return fmt.Errorf("sqlite put %s: %w", rec.ID, err)
	}
	if exists && rec.LastUpdated.Before(prev.LastUpdated) {
		rec.LastUpdated = prev.LastUpdated
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO presence_record(namespace, id, name, active, last_updated)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET
			name=excluded.name,
			active=excluded.active,
			last_updated=excluded.last_updated;`,
		rec.Namespace, rec.ID, rec.Name, rec.Active, rec.LastUpdated.UTC())
	if err != nil {
		return fmt.Errorf("sqlite put %s: %w", rec.ID, err)
	}
	kind := presence.ChangeAdded
	if exists {
		kind = presence.ChangeModified
	}
	s.hub.Broadcast([]presence.Change{{Kind: kind, Record: rec}})
	return nil
}

func (s *Store) Patch(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	rec.Active = active
	if now := time.Now().UTC(); now.After(rec.LastUpdated) {
		rec.LastUpdated = now
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE presence_record SET active=?, last_updated=?
		WHERE namespace=? AND id=?;`,
		rec.Active, rec.LastUpdated, s.namespace, id)
	if err != nil {
		return fmt.Errorf("sqlite patch %s: %w", id, err)
	}
	s.hub.Broadcast([]presence.Change{{Kind: presence.ChangeModified, Record: rec}})
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (presence.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, id)
}

func (s *Store) getLocked(ctx context.Context, id string) (presence.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT namespace, id, name, active, last_updated
		FROM presence_record WHERE namespace=? AND id=?;`, s.namespace, id)
	var rec presence.Record
	err := row.Scan(&rec.Namespace, &rec.ID, &rec.Name, &rec.Active, &rec.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return presence.Record{}, presence.ErrNotFound
	}
	if err != nil {
		return presence.Record{}, fmt.Errorf("sqlite get %s: %w", id, err)
	}
	rec.LastUpdated = rec.LastUpdated.UTC()
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]presence.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(ctx)
}

func (s *Store) listLocked(ctx context.Context) ([]presence.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, id, name, active, last_updated
		FROM presence_record WHERE namespace=? ORDER BY id;`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []presence.Record
	for rows.Next() {
		var rec presence.Record
		if err := rows.Scan(&rec.Namespace, &rec.ID, &rec.Name, &rec.Active, &rec.LastUpdated); err != nil {
			return nil, fmt.Errorf("sqlite list: %w", err)
		}
		rec.LastUpdated = rec.LastUpdated.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.listLocked(ctx)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM presence_record WHERE namespace=?;`, s.namespace); err != nil {
		return fmt.Errorf("sqlite delete all: %w", err)
	}
	changes := make([]presence.Change, 0, len(recs))
	for _, rec := range recs {
		changes = append(changes, presence.Change{Kind: presence.ChangeRemoved, Record: presence.Record{ID: rec.ID, Namespace: rec.Namespace}})
	}
	s.hub.Broadcast(changes)
	return nil
}

// Subscribe snapshots under the write lock so the snapshot and the
// registration are atomic with respect to concurrent writers.
func (s *Store) Subscribe(onBatch func(presence.Batch), onErr func(error)) (presence.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := s.listLocked(context.Background())
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(snapshot, onBatch, onErr)
}

func (s *Store) Close() error {
	s.hub.Close()
	return s.db.Close()
}
