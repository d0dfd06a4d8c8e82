package presence

import (
	"context"
	"errors"
	"time"
)

// Record is the single persisted entity: one agent's presence document.
// ID is the primary key in the store. Name is immutable after creation.
// Active is mutated only by the owning agent's flip timer; no agent
// writes another agent's record. LastUpdated is set on every write and
// is non-decreasing for a given ID.
// Namespace partitions records so independent runs can share a store.
type Record struct {
	ID          string    `json:"id"`
	Namespace   string    `json:"namespace"`
	Name        string    `json:"name"`
	Active      bool      `json:"active"`
	LastUpdated time.Time `json:"last_updated"`
}

// ErrNotFound is returned by Get and Patch for an unknown record id.
var ErrNotFound = errors.New("presence: record not found")

// ChangeKind tags a single change event in a delta batch.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change describes one record's change since the previous notification.
// Record carries the current field values for added/modified events;
// for removed events only Record.ID is meaningful.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	Record Record     `json:"record"`
}

// Batch is one delivery unit on a subscription feed: the initial full
// snapshot (every current record as an added event, Snapshot=true)
// followed by delta batches. Changes for the same record are delivered
// in store commit order within one subscription; no cross-record or
// cross-subscription ordering is guaranteed.
type Batch struct {
	Snapshot bool     `json:"snapshot"`
	Changes  []Change `json:"changes"`
}

// CancelFunc tears down one subscription. It is idempotent: calling it
// more than once, or after the feed already ended via the error
// callback, is a no-op. After the first call returns, no further
// callback runs for that subscription.
type CancelFunc func()

// Store is the document-store adapter the core runs against. Put
// creates or replaces a whole record. Patch updates active and
// last_updated for an existing record and returns ErrNotFound when the
// id is unknown. Get/List read current state. DeleteAll clears the
// namespace before reseeding. Subscribe registers a feed that first
// receives a snapshot batch and then every subsequent delta batch.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Patch(ctx context.Context, id string, active bool) error
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context) ([]Record, error)
	DeleteAll(ctx context.Context) error
	Subscribe(onBatch func(Batch), onErr func(error)) (CancelFunc, error)
	Close() error
}
