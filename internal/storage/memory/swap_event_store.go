package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"renex/internal/domain"
	"renex/internal/storage"
)

// SwapEventStore is an in-memory implementation of storage.SwapEventStore.
type SwapEventStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.SwapEvent // keyed by (swap_id, kind)
	nextID int64
}

// NewSwapEventStore creates a new in-memory swap event store.
func NewSwapEventStore() *SwapEventStore {
	return &SwapEventStore{
		data: make(map[string]*domain.SwapEvent),
	}
}

var _ storage.SwapEventStore = (*SwapEventStore)(nil)

// eventKey generates the unique key for an event.
func eventKey(swapID, kind string) string {
	return fmt.Sprintf("%s|%s", swapID, kind)
}

// Insert appends an event. Returns ErrDuplicateKey if (swap_id, kind) exists.
func (s *SwapEventStore) Insert(_ context.Context, e *domain.SwapEvent) error {
	if e == nil || e.SwapID == "" || e.Kind == "" {
		return storage.ErrInvalidInput
	}

	key := eventKey(e.SwapID, e.Kind)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.nextID++
	e.ID = s.nextID
	copy := *e
	s.data[key] = &copy
	return nil
}

// GetBySwapID retrieves all events for a swap, ordered by timestamp ASC.
func (s *SwapEventStore) GetBySwapID(_ context.Context, swapID string) ([]*domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapEvent
	for _, e := range s.data {
		if e.SwapID == swapID {
			copy := *e
			result = append(result, &copy)
		}
	}

	sortEvents(result)
	return result, nil
}

// GetByListingID retrieves all events for a listing, ordered by timestamp ASC.
func (s *SwapEventStore) GetByListingID(_ context.Context, listingID string) ([]*domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapEvent
	for _, e := range s.data {
		if e.ListingID == listingID {
			copy := *e
			result = append(result, &copy)
		}
	}

	sortEvents(result)
	return result, nil
}

// GetByKind retrieves all events of one kind, ordered by timestamp ASC.
func (s *SwapEventStore) GetByKind(_ context.Context, kind string) ([]*domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapEvent
	for _, e := range s.data {
		if e.Kind == kind {
			copy := *e
			result = append(result, &copy)
		}
	}

	sortEvents(result)
	return result, nil
}

// sortEvents orders events by timestamp ASC, insertion id as tiebreaker.
func sortEvents(events []*domain.SwapEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].ID < events[j].ID
	})
}
