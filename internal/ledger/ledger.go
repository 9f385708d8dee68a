// Package ledger owns listing volume arithmetic and invariant checks.
// It is the only writer of listing volume. Every write is a single
// compare-and-swap attempt against the listing's version; retry policy
// belongs to the caller, so a conflicting write surfaces
// storage.ErrVersionConflict unretried.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"renex/internal/domain"
	"renex/internal/storage"
)

// Ledger enforces listing volume invariants over a ListingStore.
type Ledger struct {
	listings storage.ListingStore
	now      func() int64
}

// New creates a Ledger over the given listing store.
func New(listings storage.ListingStore) *Ledger {
	return &Ledger{
		listings: listings,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// NewWithClock creates a Ledger with an injected clock (Unix ms).
func NewWithClock(listings storage.ListingStore, now func() int64) *Ledger {
	return &Ledger{listings: listings, now: now}
}

// ValidateCreation rejects listings with a malformed window or non-positive
// total volume. The window is enforced here once and never mutated after.
func (l *Ledger) ValidateCreation(totalVolume decimal.Decimal, start, end int64) error {
	if !domain.ValidWindow(start, end) {
		return ErrInvalidWindow
	}
	if !totalVolume.IsPositive() {
		return ErrNonPositiveVolume
	}
	return nil
}

// Reserve decrements the listing's remaining volume by amount, atomically
// with respect to concurrent reservations via the listing version.
//
// Returns ErrInsufficientVolume when amount exceeds remaining (nothing
// mutated), ErrListingClosed when the listing no longer accepts
// reservations, and storage.ErrVersionConflict when another writer
// committed first; the caller must retry from a fresh read. On success the
// returned listing reflects the committed state.
func (l *Ledger) Reserve(ctx context.Context, listingID string, amount decimal.Decimal) (*domain.Listing, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveVolume
	}

	listing, err := l.listings.GetByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("read listing %s: %w", listingID, err)
	}

	if listing.Status != domain.ListingStatusActive {
		return nil, ErrListingClosed
	}
	if amount.GreaterThan(listing.RemainingVolume) {
		return nil, ErrInsufficientVolume
	}

	expected := listing.Version
	listing.RemainingVolume = listing.RemainingVolume.Sub(amount)
	listing.UpdatedAt = l.now()

	if err := l.listings.UpdateIfVersion(ctx, listing, expected); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}

	return listing, nil
}

// Release credits amount back to the listing's remaining volume. It is the
// compensating inverse of Reserve and is expected to succeed whenever the
// listing exists; the caller supplies the swap's recorded reserved amount,
// never user input. Version conflicts surface unretried, like Reserve.
//
// Release never reopens a closed listing: the credited volume is recorded,
// but status stays whatever it was.
func (l *Ledger) Release(ctx context.Context, listingID string, amount decimal.Decimal) (*domain.Listing, error) {
	if amount.IsZero() {
		// Releasing a reservation that was never made is a no-op.
		return l.getListing(ctx, listingID)
	}
	if amount.IsNegative() {
		return nil, ErrNonPositiveVolume
	}

	listing, err := l.getListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	restored := listing.RemainingVolume.Add(amount)
	if restored.GreaterThan(listing.TotalVolume) {
		return nil, ErrVolumeOverflow
	}

	expected := listing.Version
	listing.RemainingVolume = restored
	listing.UpdatedAt = l.now()

	if err := l.listings.UpdateIfVersion(ctx, listing, expected); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}

	return listing, nil
}

// CloseIfExhausted sets status closed when remaining volume is zero.
// Idempotent: closing an already-closed listing is a no-op. Returns whether
// the listing is closed after the call.
func (l *Ledger) CloseIfExhausted(ctx context.Context, listingID string) (bool, error) {
	listing, err := l.getListing(ctx, listingID)
	if err != nil {
		return false, err
	}

	if listing.Status == domain.ListingStatusClosed {
		return true, nil
	}
	if !listing.RemainingVolume.IsZero() {
		return false, nil
	}

	expected := listing.Version
	listing.Status = domain.ListingStatusClosed
	listing.UpdatedAt = l.now()

	if err := l.listings.UpdateIfVersion(ctx, listing, expected); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, ErrListingNotFound
		}
		return false, err
	}

	return true, nil
}

// Close marks the listing closed regardless of remaining volume. Used for
// explicit owner closes; idempotent.
func (l *Ledger) Close(ctx context.Context, listingID string) (*domain.Listing, error) {
	listing, err := l.getListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	if listing.Status == domain.ListingStatusClosed {
		return listing, nil
	}

	expected := listing.Version
	listing.Status = domain.ListingStatusClosed
	listing.UpdatedAt = l.now()

	if err := l.listings.UpdateIfVersion(ctx, listing, expected); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}

	return listing, nil
}

func (l *Ledger) getListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	listing, err := l.listings.GetByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("read listing %s: %w", listingID, err)
	}
	return listing, nil
}
