package factory

import (
	"errors"
	"strings"

	"github.com/loykin/presencer/internal/presence"
	"github.com/loykin/presencer/internal/store/memory"
	pg "github.com/loykin/presencer/internal/store/postgres"
	sq "github.com/loykin/presencer/internal/store/sqlite"
)

// NewFromDSN selects a presence store implementation based on DSN.
// Supported:
//   - memory:   "memory://"
//   - sqlite:   "sqlite://<path>", "sqlite://:memory:", or a bare filepath
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(namespace, dsn string) (presence.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if ld == "memory://" || ld == "memory" {
		return memory.New(namespace), nil
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(namespace, d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(namespace, strings.TrimPrefix(d, "sqlite://"))
	}
	if strings.Contains(d, "://") {
		return nil, errors.New("unsupported store DSN: " + d)
	}
	// default to sqlite path
	return sq.New(namespace, d)
}
