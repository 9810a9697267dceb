package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doortally/doortally/internal/tally/store"
	"github.com/doortally/doortally/internal/tally/types"
)

// EventStore is an in-memory door event store for tests and dev runs.
// It mirrors the SQLite store's semantics, including the conditional
// soft delete and the occurred-at/id ordering.
type EventStore struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]*types.Event
}

func NewEventStore() *EventStore {
	return &EventStore{events: make(map[int64]*types.Event)}
}

func (s *EventStore) Insert(_ context.Context, doorNumber int, eventType types.EventType) (types.Event, error) {
	if !types.ValidDoorNumber(doorNumber) {
		return types.Event{}, fmt.Errorf("door_number %d: %w", doorNumber, store.ErrConstraint)
	}
	if !eventType.Valid() {
		return types.Event{}, fmt.Errorf("event_type %q: %w", eventType, store.ErrConstraint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Millisecond)
	s.nextID++
	ev := types.Event{
		ID:         s.nextID,
		DoorNumber: doorNumber,
		EventType:  eventType,
		OccurredAt: now,
		CreatedAt:  now,
	}
	s.events[ev.ID] = &ev
	return ev, nil
}

func (s *EventStore) SoftDelete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok || ev.DeletedAt != nil {
		return false, nil
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	ev.DeletedAt = &now
	return true, nil
}

func (s *EventStore) FindLastActive(_ context.Context, doorNumber int, eventType types.EventType) (*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *types.Event
	for _, ev := range s.events {
		if ev.DeletedAt != nil || ev.DoorNumber != doorNumber || ev.EventType != eventType {
			continue
		}
		if best == nil || moreRecent(ev, best) {
			best = ev
		}
	}
	if best == nil {
		return nil, nil
	}
	out := *best
	return &out, nil
}

func (s *EventStore) ListActive(_ context.Context, limit int) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.activeSorted()
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *EventStore) ForEachActive(_ context.Context, fn func(types.Event) error) error {
	s.mu.Lock()
	out := s.activeSorted()
	s.mu.Unlock()

	for _, ev := range out {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *EventStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, ev := range s.events {
		if ev.CreatedAt.Before(cutoff) {
			delete(s.events, id)
			purged++
		}
	}
	return purged, nil
}

// SetTimestamps overrides an event's timestamps. Test-only helper for
// exercising tie-breaks and retention cutoffs.
func (s *EventStore) SetTimestamps(id int64, occurredAt, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[id]; ok {
		ev.OccurredAt = occurredAt
		ev.CreatedAt = createdAt
	}
}

func (s *EventStore) activeSorted() []types.Event {
	var out []types.Event
	for _, ev := range s.events {
		if ev.DeletedAt == nil {
			out = append(out, *ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return moreRecent(&out[i], &out[j]) })
	return out
}

// moreRecent orders by occurred-at descending, then id descending — the
// same rule the SQL stores express with ORDER BY.
func moreRecent(a, b *types.Event) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.After(b.OccurredAt)
	}
	return a.ID > b.ID
}
