package store

import (
	"context"
	"errors"
	"time"

	"github.com/doortally/doortally/internal/tally/types"
)

// ErrConstraint is wrapped by store implementations when the storage
// engine rejects a row that violates a schema constraint (door range or
// event-type enumeration). Service-level validation should make this
// unreachable; seeing it means a caller bypassed the service.
var ErrConstraint = errors.New("constraint violation")

// EventStore persists door events. Implementations must make Insert and
// SoftDelete atomic: concurrent Inserts each get a distinct id and
// concurrent SoftDeletes of the same row transition it at most once.
type EventStore interface {
	// Insert creates an active event with server-assigned id and
	// timestamps and returns the stored row.
	Insert(ctx context.Context, doorNumber int, eventType types.EventType) (types.Event, error)

	// SoftDelete marks the event deleted if and only if it is currently
	// active. Returns false when the id is absent or already deleted.
	SoftDelete(ctx context.Context, id int64) (bool, error)

	// FindLastActive returns the active event for the door/type pair with
	// the greatest occurred-at timestamp, ties broken by greatest id.
	// Returns nil when no active event matches.
	FindLastActive(ctx context.Context, doorNumber int, eventType types.EventType) (*types.Event, error)

	// ListActive returns up to limit active events, most recent first
	// (occurred-at descending, then id descending).
	ListActive(ctx context.Context, limit int) ([]types.Event, error)

	// ForEachActive streams every active event, most recent first, to fn
	// without materializing the full result set. Iteration stops on the
	// first error fn returns.
	ForEachActive(ctx context.Context, fn func(types.Event) error) error

	// PurgeOlderThan permanently removes every row, active or deleted,
	// created strictly before cutoff. Returns the number removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
