package history

import (
	"context"
	"time"

	"github.com/loykin/presencer/internal/presence"
)

// EventType defines the kind of observation event.
type EventType string

const (
	// EventTransition records one observed modified event.
	EventTransition EventType = "transition"
	// EventWatcherDown records a subscription error ending a watcher.
	EventWatcherDown EventType = "watcher_down"
)

// Event represents one observation to be exported to external systems.
// Observer is the watching agent that produced the observation; Record
// carries the affected record's values at observation time.
type Event struct {
	Type       EventType       `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Observer   string          `json:"observer"`
	Record     presence.Record `json:"record"`
	Detail     string          `json:"detail,omitempty"`
}

// Sink is a destination for observation events (analytics/statistics
// systems). Implementations must be safe for concurrent use. Send
// failures are best-effort territory: callers log and move on.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
