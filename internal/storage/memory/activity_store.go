package memory

import (
	"context"
	"sort"
	"sync"

	"renex/internal/domain"
	"renex/internal/storage"
)

// ListingActivityStore is an in-memory implementation of storage.ListingActivityStore.
type ListingActivityStore struct {
	mu   sync.RWMutex
	data []*domain.ListingActivityPoint
}

// NewListingActivityStore creates a new in-memory activity store.
func NewListingActivityStore() *ListingActivityStore {
	return &ListingActivityStore{}
}

var _ storage.ListingActivityStore = (*ListingActivityStore)(nil)

// InsertBulk adds multiple points.
func (s *ListingActivityStore) InsertBulk(_ context.Context, points []*domain.ListingActivityPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if p == nil || p.ListingID == "" {
			return storage.ErrInvalidInput
		}
		copy := *p
		s.data = append(s.data, &copy)
	}

	return nil
}

// GetByListingID retrieves all points for a listing, ordered by timestamp ASC.
func (s *ListingActivityStore) GetByListingID(_ context.Context, listingID string) ([]*domain.ListingActivityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ListingActivityPoint
	for _, p := range s.data {
		if p.ListingID == listingID {
			copy := *p
			result = append(result, &copy)
		}
	}

	sortActivity(result)
	return result, nil
}

// GetByTimeRange retrieves points for a listing within [start, end] (inclusive).
func (s *ListingActivityStore) GetByTimeRange(_ context.Context, listingID string, start, end int64) ([]*domain.ListingActivityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ListingActivityPoint
	for _, p := range s.data {
		if p.ListingID == listingID && p.TimestampMs >= start && p.TimestampMs <= end {
			copy := *p
			result = append(result, &copy)
		}
	}

	sortActivity(result)
	return result, nil
}

func sortActivity(points []*domain.ListingActivityPoint) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].TimestampMs < points[j].TimestampMs
	})
}
