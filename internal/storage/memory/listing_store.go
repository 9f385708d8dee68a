package memory

import (
	"context"
	"sort"
	"sync"

	"renex/internal/domain"
	"renex/internal/storage"
)

// ListingStore is an in-memory implementation of storage.ListingStore.
type ListingStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Listing // keyed by listing_id
}

// NewListingStore creates a new in-memory listing store.
func NewListingStore() *ListingStore {
	return &ListingStore{
		data: make(map[string]*domain.Listing),
	}
}

var _ storage.ListingStore = (*ListingStore)(nil)

// Insert adds a new listing at version 1. Returns ErrDuplicateKey if exists.
func (s *ListingStore) Insert(_ context.Context, l *domain.Listing) error {
	if l == nil || l.ListingID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[l.ListingID]; exists {
		return storage.ErrDuplicateKey
	}

	l.Version = 1
	copy := *l
	s.data[l.ListingID] = &copy
	return nil
}

// GetByID retrieves a listing by its ID. Returns ErrNotFound if not exists.
func (s *ListingStore) GetByID(_ context.Context, listingID string) (*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, exists := s.data[listingID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *l
	return &copy, nil
}

// UpdateIfVersion commits l if the stored version equals expectedVersion.
// The compare and the write happen under one lock, so exactly one of any
// set of concurrent writers with the same expected version commits.
func (s *ListingStore) UpdateIfVersion(_ context.Context, l *domain.Listing, expectedVersion int64) error {
	if l == nil || l.ListingID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.data[l.ListingID]
	if !exists {
		return storage.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return storage.ErrVersionConflict
	}

	l.Version = expectedVersion + 1
	copy := *l
	s.data[l.ListingID] = &copy
	return nil
}

// GetByOwner retrieves all listings owned by ownerID, newest first.
func (s *ListingStore) GetByOwner(_ context.Context, ownerID string) ([]*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Listing
	for _, l := range s.data {
		if l.OwnerID == ownerID {
			copy := *l
			result = append(result, &copy)
		}
	}

	sortListings(result)
	return result, nil
}

// GetByStatus retrieves all listings with the given status, newest first.
func (s *ListingStore) GetByStatus(_ context.Context, status string) ([]*domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Listing
	for _, l := range s.data {
		if l.Status == status {
			copy := *l
			result = append(result, &copy)
		}
	}

	sortListings(result)
	return result, nil
}

// sortListings orders listings newest first, listing_id as tiebreaker.
func sortListings(listings []*domain.Listing) {
	sort.Slice(listings, func(i, j int) bool {
		if listings[i].CreatedAt != listings[j].CreatedAt {
			return listings[i].CreatedAt > listings[j].CreatedAt
		}
		return listings[i].ListingID < listings[j].ListingID
	})
}
