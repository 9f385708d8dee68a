package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renex/internal/domain"
	"renex/internal/storage"
)

func testListing(id string) *domain.Listing {
	return &domain.Listing{
		ListingID:       id,
		OwnerID:         "owner1",
		ListingType:     domain.ListingTypeSupply,
		EnergyType:      domain.EnergyTypeSolar,
		TotalVolume:     decimal.RequireFromString("100.5"),
		RemainingVolume: decimal.RequireFromString("100.5"),
		PricePerUnit:    decimal.RequireFromString("0.25"),
		Location:        "Bavaria",
		Description:     "rooftop array",
		StartTime:       1704067200000,
		EndTime:         1704153600000,
		Status:          domain.ListingStatusActive,
		CreatedAt:       1704067200000,
		UpdatedAt:       1704067200000,
	}
}

func TestListingStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	listing := testListing("pg-listing-001")
	err := store.Insert(ctx, listing)
	require.NoError(t, err)
	assert.Equal(t, int64(1), listing.Version)

	retrieved, err := store.GetByID(ctx, "pg-listing-001")
	require.NoError(t, err)

	assert.Equal(t, listing.ListingID, retrieved.ListingID)
	assert.Equal(t, listing.OwnerID, retrieved.OwnerID)
	assert.Equal(t, listing.ListingType, retrieved.ListingType)
	assert.Equal(t, listing.EnergyType, retrieved.EnergyType)
	assert.True(t, retrieved.TotalVolume.Equal(listing.TotalVolume), "TotalVolume %s", retrieved.TotalVolume)
	assert.True(t, retrieved.RemainingVolume.Equal(listing.RemainingVolume), "RemainingVolume %s", retrieved.RemainingVolume)
	assert.True(t, retrieved.PricePerUnit.Equal(listing.PricePerUnit), "PricePerUnit %s", retrieved.PricePerUnit)
	assert.Equal(t, listing.Location, retrieved.Location)
	assert.Equal(t, listing.Status, retrieved.Status)
	assert.Equal(t, int64(1), retrieved.Version)
}

func TestListingStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testListing("pg-listing-dup")))

	err := store.Insert(ctx, testListing("pg-listing-dup"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestListingStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListingStore_UpdateIfVersion(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	listing := testListing("pg-listing-cas")
	require.NoError(t, store.Insert(ctx, listing))

	listing.RemainingVolume = decimal.RequireFromString("40.5")
	err := store.UpdateIfVersion(ctx, listing, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), listing.Version)

	retrieved, err := store.GetByID(ctx, "pg-listing-cas")
	require.NoError(t, err)
	assert.True(t, retrieved.RemainingVolume.Equal(decimal.RequireFromString("40.5")))
	assert.Equal(t, int64(2), retrieved.Version)

	// Stale expected version
	stale := testListing("pg-listing-cas")
	stale.RemainingVolume = decimal.NewFromInt(10)
	err = store.UpdateIfVersion(ctx, stale, 1)
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	// The losing write is invisible
	retrieved, err = store.GetByID(ctx, "pg-listing-cas")
	require.NoError(t, err)
	assert.True(t, retrieved.RemainingVolume.Equal(decimal.RequireFromString("40.5")))

	// Missing row
	ghost := testListing("pg-listing-ghost")
	err = store.UpdateIfVersion(ctx, ghost, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListingStore_GetByOwner(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	older := testListing("pg-owner-a")
	older.CreatedAt = 1000
	newer := testListing("pg-owner-b")
	newer.CreatedAt = 2000
	other := testListing("pg-owner-c")
	other.OwnerID = "owner2"

	for _, l := range []*domain.Listing{older, newer, other} {
		require.NoError(t, store.Insert(ctx, l))
	}

	listings, err := store.GetByOwner(ctx, "owner1")
	require.NoError(t, err)
	require.Len(t, listings, 2)
	assert.Equal(t, "pg-owner-b", listings[0].ListingID, "newest first")
	assert.Equal(t, "pg-owner-a", listings[1].ListingID)
}

func TestListingStore_GetByStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewListingStore(pool)
	ctx := context.Background()

	active := testListing("pg-status-a")
	closed := testListing("pg-status-b")
	closed.Status = domain.ListingStatusClosed

	for _, l := range []*domain.Listing{active, closed} {
		require.NoError(t, store.Insert(ctx, l))
	}

	listings, err := store.GetByStatus(ctx, domain.ListingStatusActive)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "pg-status-a", listings[0].ListingID)
}
