// Package agent owns one simulated user's identity and presence state.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/loykin/presencer/internal/metrics"
	"github.com/loykin/presencer/internal/presence"
)

// Agent flips its own record's active flag on a schedule. The cached
// flag mirrors the last value this agent wrote; flips never trust it
// because the record may have changed underneath (FlipActive re-reads).
type Agent struct {
	id     string
	name   string
	store  presence.Store
	logger *slog.Logger
	active atomic.Bool
}

func New(id, name string, initial bool, st presence.Store, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		id:     id,
		name:   name,
		store:  st,
		logger: logger.With("agent", name),
	}
	a.active.Store(initial)
	return a
}

func (a *Agent) ID() string   { return a.id }
func (a *Agent) Name() string { return a.name }

// Active reports the last value this agent wrote (or was seeded with).
func (a *Agent) Active() bool { return a.active.Load() }

// SetActive writes an explicit presence value for this agent's record.
func (a *Agent) SetActive(ctx context.Context, active bool) error {
	if err := a.store.Patch(ctx, a.id, active); err != nil {
		return fmt.Errorf("set active %s: %w", a.id, err)
	}
	a.active.Store(active)
	metrics.SetAgentActive(a.name, active)
	return nil
}

// FlipActive reads the record's current active value from the store (a
// fresh read, not the cache) and writes back its negation. The
// read-then-write is not atomic against other writers of the same
// record; the single-writer-per-record convention makes that safe.
// A failed read or patch is logged and dropped: flips are best-effort
// and the next tick starts over from whatever state is then current.
func (a *Agent) FlipActive(ctx context.Context) {
	rec, err := a.store.Get(ctx, a.id)
	if err != nil {
		a.logger.Error("flip read failed", "op", "get", "id", a.id, "error", err)
		metrics.IncFlipError(a.name)
		return
	}
	next := !rec.Active
	if err := a.store.Patch(ctx, a.id, next); err != nil {
		a.logger.Error("flip write failed", "op", "patch", "id", a.id, "error", err)
		metrics.IncFlipError(a.name)
		return
	}
	a.active.Store(next)
	a.logger.Debug("flipped", "active", next)
	metrics.IncFlip(a.name)
	metrics.SetAgentActive(a.name, next)
}
