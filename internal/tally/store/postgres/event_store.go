package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doortally/doortally/internal/tally/store"
	"github.com/doortally/doortally/internal/tally/types"
)

// EventStore is the Postgres-backed door event store. Unlike the SQLite
// store it needs no writer goroutine: the pool bounds concurrent
// connections and Postgres handles concurrent row-level writes natively,
// which is the deployment shape for multiple ledger instances.
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Connect parses databaseURL, caps the pool at maxConns and verifies the
// connection before returning a store.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*EventStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &EventStore{pool: pool}, nil
}

func (s *EventStore) Close() { s.pool.Close() }

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS door_events (
  id          BIGSERIAL PRIMARY KEY,
  door_number INTEGER     NOT NULL CHECK (door_number BETWEEN 1 AND 26),
  event_type  TEXT        NOT NULL CHECK (event_type IN ('A_IN','A_OUT','B_IN','B_OUT')),
  occurred_at TIMESTAMPTZ NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL,
  deleted_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_door_events_button_time
  ON door_events(door_number, event_type, occurred_at DESC, id DESC)
  WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_door_events_created ON door_events(created_at);
`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *EventStore) Insert(ctx context.Context, doorNumber int, eventType types.EventType) (types.Event, error) {
	if !types.ValidDoorNumber(doorNumber) {
		return types.Event{}, fmt.Errorf("door_number %d: %w", doorNumber, store.ErrConstraint)
	}
	if !eventType.Valid() {
		return types.Event{}, fmt.Errorf("event_type %q: %w", eventType, store.ErrConstraint)
	}

	// now() is evaluated server-side so multiple ledger instances agree
	// on a single clock.
	ev := types.Event{DoorNumber: doorNumber, EventType: eventType}
	err := s.pool.QueryRow(ctx, `
INSERT INTO door_events (door_number, event_type, occurred_at, created_at)
VALUES ($1, $2, now(), now())
RETURNING id, occurred_at, created_at
`, doorNumber, string(eventType)).Scan(&ev.ID, &ev.OccurredAt, &ev.CreatedAt)
	if err != nil {
		return types.Event{}, classify("Insert", err)
	}
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}

func (s *EventStore) SoftDelete(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE door_events SET deleted_at = now()
WHERE id = $1 AND deleted_at IS NULL
`, id)
	if err != nil {
		return false, classify("SoftDelete", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *EventStore) FindLastActive(ctx context.Context, doorNumber int, eventType types.EventType) (*types.Event, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, door_number, event_type, occurred_at, created_at, deleted_at
FROM door_events
WHERE door_number = $1 AND event_type = $2 AND deleted_at IS NULL
ORDER BY occurred_at DESC, id DESC
LIMIT 1
`, doorNumber, string(eventType))

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("FindLastActive", err)
	}
	return &ev, nil
}

func (s *EventStore) ListActive(ctx context.Context, limit int) ([]types.Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, door_number, event_type, occurred_at, created_at, deleted_at
FROM door_events
WHERE deleted_at IS NULL
ORDER BY occurred_at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, classify("ListActive", err)
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
		return nil, classify("ListActive", err)
	}
	return out, nil
}

func (s *EventStore) ForEachActive(ctx context.Context, fn func(types.Event) error) error {
	rows, err := s.pool.Query(ctx, `
SELECT id, door_number, event_type, occurred_at, created_at, deleted_at
FROM door_events
WHERE deleted_at IS NULL
ORDER BY occurred_at DESC, id DESC
`)
	if err != nil {
		return classify("ForEachActive", err)
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
		return classify("ForEachActive", err)
	}
	return nil
}

func (s *EventStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM door_events WHERE created_at < $1
`, cutoff.UTC())
	if err != nil {
		return 0, classify("PurgeOlderThan", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (types.Event, error) {
	var (
		ev        types.Event
		eventType string
		deletedAt *time.Time
	)
	if err := r.Scan(&ev.ID, &ev.DoorNumber, &eventType, &ev.OccurredAt, &ev.CreatedAt, &deletedAt); err != nil {
		return types.Event{}, err
	}
	ev.EventType = types.EventType(eventType)
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	if deletedAt != nil {
		t := deletedAt.UTC()
		ev.DeletedAt = &t
	}
	return ev, nil
}

// classify maps integrity-class Postgres errors (SQLSTATE 23xxx) onto
// store.ErrConstraint so the service layer never sees driver vocabulary.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return fmt.Errorf("%s: %v: %w", op, pgErr.Message, store.ErrConstraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}
