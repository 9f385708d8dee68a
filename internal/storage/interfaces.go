package storage

import (
	"context"

	"renex/internal/domain"
)

// ListingStore provides versioned access to listings storage.
//
// UpdateIfVersion is the single synchronization point for listing writes:
// it commits the given record only if the stored version still equals
// expectedVersion, incrementing the stored version by exactly one. A reader
// always observes a fully-formed prior or new record, never a mix.
type ListingStore interface {
	// Insert adds a new listing at version 1. Returns ErrDuplicateKey if
	// listing_id exists.
	Insert(ctx context.Context, l *domain.Listing) error

	// GetByID retrieves a listing by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, listingID string) (*domain.Listing, error)

	// UpdateIfVersion commits l if the stored version equals expectedVersion.
	// On success the stored version becomes expectedVersion+1 and l.Version
	// is updated to match. Returns ErrVersionConflict on a stale expected
	// version, ErrNotFound if the listing does not exist.
	UpdateIfVersion(ctx context.Context, l *domain.Listing, expectedVersion int64) error

	// GetByOwner retrieves all listings owned by ownerID, newest first.
	GetByOwner(ctx context.Context, ownerID string) ([]*domain.Listing, error)

	// GetByStatus retrieves all listings with the given status, newest first.
	GetByStatus(ctx context.Context, status string) ([]*domain.Listing, error)
}

// SwapStore provides versioned access to swaps storage.
type SwapStore interface {
	// Insert adds a new swap at version 1. Returns ErrDuplicateKey if
	// swap_id exists.
	Insert(ctx context.Context, s *domain.Swap) error

	// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, swapID string) (*domain.Swap, error)

	// UpdateIfVersion commits s if the stored version equals expectedVersion.
	// Same contract as ListingStore.UpdateIfVersion.
	UpdateIfVersion(ctx context.Context, s *domain.Swap, expectedVersion int64) error

	// GetByListingID retrieves all swaps against a listing, ordered by
	// proposal time ASC.
	GetByListingID(ctx context.Context, listingID string) ([]*domain.Swap, error)

	// GetByParty retrieves all swaps where userID is initiator or recipient,
	// ordered by proposal time ASC.
	GetByParty(ctx context.Context, userID string) ([]*domain.Swap, error)

	// GetRequested retrieves the initiator's requested-state swap against a
	// listing, if any. Returns ErrNotFound when none exists.
	GetRequested(ctx context.Context, listingID, initiatorID string) (*domain.Swap, error)

	// GetUnreleasedCancelled retrieves cancelled swaps whose reservation is
	// still outstanding (ReservedVolume > 0), for reconciliation.
	GetUnreleasedCancelled(ctx context.Context) ([]*domain.Swap, error)
}

// SwapEventStore provides access to the append-only swap audit log.
type SwapEventStore interface {
	// Insert appends an event. Returns ErrDuplicateKey if an event with the
	// same (swap_id, kind) already exists.
	Insert(ctx context.Context, e *domain.SwapEvent) error

	// GetBySwapID retrieves all events for a swap, ordered by timestamp ASC.
	GetBySwapID(ctx context.Context, swapID string) ([]*domain.SwapEvent, error)

	// GetByListingID retrieves all events for a listing, ordered by timestamp ASC.
	GetByListingID(ctx context.Context, listingID string) ([]*domain.SwapEvent, error)

	// GetByKind retrieves all events of one kind, ordered by timestamp ASC.
	// Used by reconciliation to find failed compensations.
	GetByKind(ctx context.Context, kind string) ([]*domain.SwapEvent, error)
}

// ListingActivityStore provides access to the listing activity feed.
// Writes are best-effort analytics; losing a point never affects domain state.
type ListingActivityStore interface {
	// InsertBulk adds multiple points.
	InsertBulk(ctx context.Context, points []*domain.ListingActivityPoint) error

	// GetByListingID retrieves all points for a listing, ordered by timestamp ASC.
	GetByListingID(ctx context.Context, listingID string) ([]*domain.ListingActivityPoint, error)

	// GetByTimeRange retrieves points for a listing within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, listingID string, start, end int64) ([]*domain.ListingActivityPoint, error)
}
