package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/presencer/internal/history"
)

// Sink writes observation events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a SQLite observation sink at path ("file:..." or a bare
// filesystem path).
func New(path string) (*Sink, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS presence_history(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		observer TEXT NOT NULL,
		namespace TEXT NOT NULL,
		record_id TEXT NOT NULL,
		record_name TEXT NOT NULL,
		active BOOLEAN NOT NULL,
		last_updated TIMESTAMP NOT NULL,
		detail TEXT NULL
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presence_history(type, occurred_at, observer, namespace, record_id, record_name, active, last_updated, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		string(e.Type), e.OccurredAt.UTC(), e.Observer,
		rec.Namespace, rec.ID, rec.Name, rec.Active, rec.LastUpdated.UTC(), e.Detail)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
