package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/doortally/doortally/internal/db"
	"github.com/doortally/doortally/internal/tally/store"
	"github.com/doortally/doortally/internal/tally/types"
)

// EventStore is the SQLite-backed door event store. Writes go through the
// single-writer Worker; reads run directly on the connection.
type EventStore struct {
	conn   *sql.DB
	writer *dbpkg.Worker
}

func NewEventStore(conn *sql.DB, writer *dbpkg.Worker) *EventStore {
	return &EventStore{conn: conn, writer: writer}
}

func (s *EventStore) Insert(ctx context.Context, doorNumber int, eventType types.EventType) (types.Event, error) {
	// The schema CHECKs repeat this, but rejecting here gives a clean
	// error instead of a driver constraint failure.
	if !types.ValidDoorNumber(doorNumber) {
		return types.Event{}, fmt.Errorf("door_number %d: %w", doorNumber, store.ErrConstraint)
	}
	if !eventType.Valid() {
		return types.Event{}, fmt.Errorf("event_type %q: %w", eventType, store.ErrConstraint)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	nowMs := now.UnixMilli()

	var id int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO door_events(door_number, event_type, occurred_at_ms, created_at_ms)
VALUES (?, ?, ?, ?);
`, doorNumber, string(eventType), nowMs, nowMs)
		if err != nil {
			return fmt.Errorf("Insert: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("Insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Event{}, err
	}

	return types.Event{
		ID:         id,
		DoorNumber: doorNumber,
		EventType:  eventType,
		OccurredAt: now,
		CreatedAt:  now,
	}, nil
}

// SoftDelete transitions the row to deleted only if it is still active.
// The conditional UPDATE is the whole point: two concurrent undos of the
// same row cannot both see RowsAffected == 1.
func (s *EventStore) SoftDelete(ctx context.Context, id int64) (bool, error) {
	nowMs := time.Now().UTC().UnixMilli()

	var affected int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE door_events SET deleted_at_ms = ?
WHERE id = ? AND deleted_at_ms IS NULL;
`, nowMs, id)
		if err != nil {
			return fmt.Errorf("SoftDelete: %w", err)
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *EventStore) FindLastActive(ctx context.Context, doorNumber int, eventType types.EventType) (*types.Event, error) {
	row := s.conn.QueryRowContext(ctx, `
SELECT id, door_number, event_type, occurred_at_ms, created_at_ms, deleted_at_ms
FROM door_events
WHERE door_number = ? AND event_type = ? AND deleted_at_ms IS NULL
ORDER BY occurred_at_ms DESC, id DESC
LIMIT 1;
`, doorNumber, string(eventType))

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindLastActive: %w", err)
	}
	return &ev, nil
}

func (s *EventStore) ListActive(ctx context.Context, limit int) ([]types.Event, error) {
	rows, err := s.conn.QueryContext(ctx, `
SELECT id, door_number, event_type, occurred_at_ms, created_at_ms, deleted_at_ms
FROM door_events
WHERE deleted_at_ms IS NULL
ORDER BY occurred_at_ms DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListActive: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ListActive scan: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListActive rows: %w", err)
	}
	return out, nil
}

// ForEachActive streams rows to fn while the cursor is open. The table may
// hold tens of thousands of rows at the retention ceiling, so nothing here
// accumulates them.
func (s *EventStore) ForEachActive(ctx context.Context, fn func(types.Event) error) error {
	rows, err := s.conn.QueryContext(ctx, `
SELECT id, door_number, event_type, occurred_at_ms, created_at_ms, deleted_at_ms
FROM door_events
WHERE deleted_at_ms IS NULL
ORDER BY occurred_at_ms DESC, id DESC;
`)
	if err != nil {
		return fmt.Errorf("ForEachActive: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("ForEachActive scan: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ForEachActive rows: %w", err)
	}
	return nil
}

func (s *EventStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM door_events WHERE created_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PurgeOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (types.Event, error) {
	var (
		ev         types.Event
		eventType  string
		occurredMs int64
		createdMs  int64
		deletedMs  sql.NullInt64
	)
	if err := r.Scan(&ev.ID, &ev.DoorNumber, &eventType, &occurredMs, &createdMs, &deletedMs); err != nil {
		return types.Event{}, err
	}
	ev.EventType = types.EventType(eventType)
	ev.OccurredAt = time.UnixMilli(occurredMs).UTC()
	ev.CreatedAt = time.UnixMilli(createdMs).UTC()
	if deletedMs.Valid {
		t := time.UnixMilli(deletedMs.Int64).UTC()
		ev.DeletedAt = &t
	}
	return ev, nil
}
