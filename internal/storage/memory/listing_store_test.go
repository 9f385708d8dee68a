package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"renex/internal/domain"
	"renex/internal/storage"
)

func newTestListing(id string) *domain.Listing {
	return &domain.Listing{
		ListingID:       id,
		OwnerID:         "owner1",
		ListingType:     domain.ListingTypeSupply,
		EnergyType:      domain.EnergyTypeSolar,
		TotalVolume:     decimal.NewFromInt(100),
		RemainingVolume: decimal.NewFromInt(100),
		PricePerUnit:    decimal.NewFromFloat(0.25),
		StartTime:       1704067200000,
		EndTime:         1704153600000,
		Status:          domain.ListingStatusActive,
		CreatedAt:       1704067200000,
		UpdatedAt:       1704067200000,
	}
}

func TestListingStore_InsertAndGet(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	listing := newTestListing("l1")
	if err := store.Insert(ctx, listing); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if listing.Version != 1 {
		t.Errorf("Expected version 1 after insert, got %d", listing.Version)
	}

	got, err := store.GetByID(ctx, "l1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.RemainingVolume.Equal(decimal.NewFromInt(100)) {
		t.Errorf("RemainingVolume mismatch: got %s, want 100", got.RemainingVolume)
	}
}

func TestListingStore_GetMissing(t *testing.T) {
	store := NewListingStore()

	_, err := store.GetByID(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListingStore_DuplicateKey(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	if err := store.Insert(ctx, newTestListing("l1")); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, newTestListing("l1"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestListingStore_UpdateIfVersion(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	listing := newTestListing("l1")
	if err := store.Insert(ctx, listing); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	listing.RemainingVolume = decimal.NewFromInt(40)
	if err := store.UpdateIfVersion(ctx, listing, 1); err != nil {
		t.Fatalf("UpdateIfVersion failed: %v", err)
	}
	if listing.Version != 2 {
		t.Errorf("Expected version 2 after update, got %d", listing.Version)
	}

	got, err := store.GetByID(ctx, "l1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.RemainingVolume.Equal(decimal.NewFromInt(40)) {
		t.Errorf("RemainingVolume mismatch: got %s, want 40", got.RemainingVolume)
	}
	if got.Version != 2 {
		t.Errorf("Stored version mismatch: got %d, want 2", got.Version)
	}
}

func TestListingStore_UpdateStaleVersion(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	listing := newTestListing("l1")
	if err := store.Insert(ctx, listing); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	fresh := *listing
	fresh.RemainingVolume = decimal.NewFromInt(90)
	if err := store.UpdateIfVersion(ctx, &fresh, 1); err != nil {
		t.Fatalf("First update failed: %v", err)
	}

	stale := *listing
	stale.RemainingVolume = decimal.NewFromInt(80)
	err := store.UpdateIfVersion(ctx, &stale, 1)
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("Expected ErrVersionConflict, got %v", err)
	}

	// Loser's write must not be visible
	got, _ := store.GetByID(ctx, "l1")
	if !got.RemainingVolume.Equal(decimal.NewFromInt(90)) {
		t.Errorf("Conflicting write leaked: got %s, want 90", got.RemainingVolume)
	}
}

func TestListingStore_UpdateMissing(t *testing.T) {
	store := NewListingStore()

	err := store.UpdateIfVersion(context.Background(), newTestListing("ghost"), 1)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListingStore_ConcurrentUpdateOneWinner(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	if err := store.Insert(ctx, newTestListing("l1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := newTestListing("l1")
			l.RemainingVolume = decimal.NewFromInt(int64(n))
			err := store.UpdateIfVersion(ctx, l, 1)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrVersionConflict):
				conflicts++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", wins)
	}
	if conflicts != writers-1 {
		t.Errorf("Expected %d conflicts, got %d", writers-1, conflicts)
	}

	got, _ := store.GetByID(ctx, "l1")
	if got.Version != 2 {
		t.Errorf("Version advanced by more than one: got %d", got.Version)
	}
}

func TestListingStore_GetByOwnerAndStatus(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	a := newTestListing("a")
	a.CreatedAt = 1000
	b := newTestListing("b")
	b.CreatedAt = 2000
	c := newTestListing("c")
	c.CreatedAt = 3000
	c.OwnerID = "owner2"
	c.Status = domain.ListingStatusClosed

	for _, l := range []*domain.Listing{a, b, c} {
		if err := store.Insert(ctx, l); err != nil {
			t.Fatalf("Insert %s failed: %v", l.ListingID, err)
		}
	}

	owned, err := store.GetByOwner(ctx, "owner1")
	if err != nil {
		t.Fatalf("GetByOwner failed: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("Expected 2 listings for owner1, got %d", len(owned))
	}
	if owned[0].ListingID != "b" || owned[1].ListingID != "a" {
		t.Errorf("Expected newest first [b a], got [%s %s]", owned[0].ListingID, owned[1].ListingID)
	}

	active, err := store.GetByStatus(ctx, domain.ListingStatusActive)
	if err != nil {
		t.Fatalf("GetByStatus failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active listings, got %d", len(active))
	}
}

func TestListingStore_CopyIsolation(t *testing.T) {
	store := NewListingStore()
	ctx := context.Background()

	listing := newTestListing("l1")
	if err := store.Insert(ctx, listing); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Mutating the caller's struct must not affect the stored record
	listing.RemainingVolume = decimal.NewFromInt(1)

	got, _ := store.GetByID(ctx, "l1")
	if !got.RemainingVolume.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Stored record shares memory with caller: got %s", got.RemainingVolume)
	}
}
