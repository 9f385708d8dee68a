package memory

import (
	"context"
	"sort"
	"sync"

	"renex/internal/domain"
	"renex/internal/storage"
)

// SwapStore is an in-memory implementation of storage.SwapStore.
type SwapStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Swap // keyed by swap_id
}

// NewSwapStore creates a new in-memory swap store.
func NewSwapStore() *SwapStore {
	return &SwapStore{
		data: make(map[string]*domain.Swap),
	}
}

var _ storage.SwapStore = (*SwapStore)(nil)

// Insert adds a new swap at version 1. Returns ErrDuplicateKey if exists.
func (s *SwapStore) Insert(_ context.Context, swap *domain.Swap) error {
	if swap == nil || swap.SwapID == "" || swap.ListingID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[swap.SwapID]; exists {
		return storage.ErrDuplicateKey
	}

	swap.Version = 1
	copy := *swap
	s.data[swap.SwapID] = &copy
	return nil
}

// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(_ context.Context, swapID string) (*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	swap, exists := s.data[swapID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *swap
	return &copy, nil
}

// UpdateIfVersion commits swap if the stored version equals expectedVersion.
func (s *SwapStore) UpdateIfVersion(_ context.Context, swap *domain.Swap, expectedVersion int64) error {
	if swap == nil || swap.SwapID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.data[swap.SwapID]
	if !exists {
		return storage.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return storage.ErrVersionConflict
	}

	swap.Version = expectedVersion + 1
	copy := *swap
	s.data[swap.SwapID] = &copy
	return nil
}

// GetByListingID retrieves all swaps against a listing, ordered by proposal time ASC.
func (s *SwapStore) GetByListingID(_ context.Context, listingID string) ([]*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Swap
	for _, swap := range s.data {
		if swap.ListingID == listingID {
			copy := *swap
			result = append(result, &copy)
		}
	}

	sortSwaps(result)
	return result, nil
}

// GetByParty retrieves all swaps where userID is a party, ordered by proposal time ASC.
func (s *SwapStore) GetByParty(_ context.Context, userID string) ([]*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Swap
	for _, swap := range s.data {
		if swap.Party(userID) {
			copy := *swap
			result = append(result, &copy)
		}
	}

	sortSwaps(result)
	return result, nil
}

// GetRequested retrieves the initiator's requested-state swap against a listing.
func (s *SwapStore) GetRequested(_ context.Context, listingID, initiatorID string) (*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, swap := range s.data {
		if swap.ListingID == listingID && swap.InitiatorID == initiatorID && swap.State == domain.SwapStateRequested {
			copy := *swap
			return &copy, nil
		}
	}

	return nil, storage.ErrNotFound
}

// GetUnreleasedCancelled retrieves cancelled swaps with an outstanding reservation.
func (s *SwapStore) GetUnreleasedCancelled(_ context.Context) ([]*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Swap
	for _, swap := range s.data {
		if swap.State == domain.SwapStateCancelled && swap.ReservedVolume.IsPositive() {
			copy := *swap
			result = append(result, &copy)
		}
	}

	sortSwaps(result)
	return result, nil
}

// sortSwaps orders swaps by proposal time ASC, swap_id as tiebreaker.
func sortSwaps(swaps []*domain.Swap) {
	sort.Slice(swaps, func(i, j int) bool {
		if swaps[i].ProposedAt != swaps[j].ProposedAt {
			return swaps[i].ProposedAt < swaps[j].ProposedAt
		}
		return swaps[i].SwapID < swaps[j].SwapID
	})
}
