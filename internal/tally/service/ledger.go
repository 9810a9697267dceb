package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/doortally/doortally/internal/tally/store"
	"github.com/doortally/doortally/internal/tally/types"
)

const (
	// DefaultRecentLimit applies when a recent-events caller gives no
	// limit (or a non-positive one).
	DefaultRecentLimit = 10

	// MaxRecentLimit caps recent-events queries; larger requests are
	// clamped rather than rejected.
	MaxRecentLimit = 1000

	// DefaultRetentionDays is the retention window used when none is
	// configured.
	DefaultRetentionDays = 7

	defaultStoreTimeout = 5 * time.Second
)

// LedgerConfig holds the tunables for NewLedger.
type LedgerConfig struct {
	// StoreTimeout bounds every store call. Defaults to 5s.
	StoreTimeout time.Duration
}

// Ledger owns event creation, undo and retention policy. It keeps no
// state between requests; the store is the sole source of truth, so any
// number of Ledger instances can run against the same store.
//
// An UndoLast racing a concurrent Record on the same door/type pair may
// observe and delete the freshly created event instead of the older one.
// That race is inherent to independent human inputs and is accepted:
// "last" is whatever the store returns at evaluation time.
type Ledger struct {
	store   store.EventStore
	timeout time.Duration
	logger  *log.Logger
}

func NewLedger(st store.EventStore, cfg LedgerConfig, logger *log.Logger) *Ledger {
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Ledger{store: st, timeout: timeout, logger: logger}
}

// Record validates the input and creates an event. The returned event's
// OccurredAt is server-assigned and authoritative; caller clocks are
// never consulted.
func (l *Ledger) Record(ctx context.Context, doorNumber int, eventType types.EventType) (types.Event, error) {
	if !types.ValidDoorNumber(doorNumber) {
		return types.Event{}, fmt.Errorf("%w: got %d", ErrInvalidDoorNumber, doorNumber)
	}
	if !eventType.Valid() {
		return types.Event{}, fmt.Errorf("%w: got %q", ErrInvalidEventType, eventType)
	}

	ctx, cancel := l.opCtx(ctx)
	defer cancel()

	ev, err := l.store.Insert(ctx, doorNumber, eventType)
	if err != nil {
		return types.Event{}, l.translate(err)
	}
	return ev, nil
}

// Undo soft-deletes the event with the given id. Fails with ErrNotFound
// when the event is absent or was already undone; undo is one-way.
func (l *Ledger) Undo(ctx context.Context, id int64) error {
	ctx, cancel := l.opCtx(ctx)
	defer cancel()

	ok, err := l.store.SoftDelete(ctx, id)
	if err != nil {
		return l.translate(err)
	}
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// UndoLast soft-deletes the most recent active event for the door/type
// pair. "Most recent" is occurred-at descending with ties broken by id
// descending, so two events stamped in the same millisecond resolve to
// the later-assigned id.
func (l *Ledger) UndoLast(ctx context.Context, doorNumber int, eventType types.EventType) error {
	if !types.ValidDoorNumber(doorNumber) {
		return fmt.Errorf("%w: got %d", ErrInvalidDoorNumber, doorNumber)
	}
	if !eventType.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidEventType, eventType)
	}

	ctx, cancel := l.opCtx(ctx)
	defer cancel()

	ev, err := l.store.FindLastActive(ctx, doorNumber, eventType)
	if err != nil {
		return l.translate(err)
	}
	if ev == nil {
		return fmt.Errorf("%w: no active events for door %d %s", ErrNotFound, doorNumber, eventType)
	}

	ok, err := l.store.SoftDelete(ctx, ev.ID)
	if err != nil {
		return l.translate(err)
	}
	if !ok {
		// Lost a race with a concurrent undo of the same row.
		return fmt.Errorf("%w: id %d", ErrNotFound, ev.ID)
	}
	return nil
}

// Recent returns the newest active events. A non-positive limit means
// DefaultRecentLimit; limits above MaxRecentLimit are clamped.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	ctx, cancel := l.opCtx(ctx)
	defer cancel()

	evs, err := l.store.ListActive(ctx, limit)
	if err != nil {
		return nil, l.translate(err)
	}
	return evs, nil
}

// ExportActive streams every active event, newest first, to fn.
func (l *Ledger) ExportActive(ctx context.Context, fn func(types.Event) error) error {
	if err := l.store.ForEachActive(ctx, fn); err != nil {
		// fn's own errors pass through untranslated.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return l.translate(err)
		}
		return err
	}
	return nil
}

// Cleanup permanently purges every event, active or undone, created more
// than retentionDays ago. Idempotent: a second run with no new data
// purges nothing.
func (l *Ledger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidRetention, retentionDays)
	}

	ctx, cancel := l.opCtx(ctx)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	purged, err := l.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, l.translate(err)
	}
	return purged, nil
}

func (l *Ledger) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

// translate maps store-native failures onto the ledger's error kinds so
// callers never need the store's vocabulary. Constraint rejections are a
// bug signal (validation should have caught them) and are logged.
func (l *Ledger) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConstraint):
		l.logger.Printf("integrity violation bypassed validation: %v", err)
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
