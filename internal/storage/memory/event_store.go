package memory

import (
	"context"
	"sync"

	"solana-lending-lab/internal/domain"
	"solana-lending-lab/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []*domain.Event     // append order
	ids    map[string]struct{} // event_id dedup
}

// NewEventStore creates a new in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		ids: make(map[string]struct{}),
	}
}

// InsertBulk appends events. Re-inserting an event_id is a no-op,
// matching ReplacingMergeTree semantics.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.Event) error {
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if _, exists := s.ids[e.EventID]; exists {
			continue
		}
		s.ids[e.EventID] = struct{}{}
		eventCopy := *e
		s.events = append(s.events, &eventCopy)
	}
	return nil
}

// GetByAccount returns events touching address, newest first.
func (s *EventStore) GetByAccount(_ context.Context, address string, limit int) ([]*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !e.Touches(address) {
			continue
		}
		eventCopy := *e
		result = append(result, &eventCopy)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

var _ storage.EventStore = (*EventStore)(nil)
