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

func testEvent(swapID, kind string, ts int64) *domain.SwapEvent {
	return &domain.SwapEvent{
		SwapID:    swapID,
		ListingID: "pg-ev-listing",
		Kind:      kind,
		ActorID:   "alice",
		Volume:    decimal.RequireFromString("25.5"),
		Timestamp: ts,
		CreatedAt: ts,
	}
}

func TestSwapEventStore_InsertAndGetBySwapID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSwapEventStore(pool)
	ctx := context.Background()

	first := testEvent("pg-ev-swap", domain.EventSwapRequested, 1000)
	second := testEvent("pg-ev-swap", domain.EventVolumeReserved, 2000)

	require.NoError(t, store.Insert(ctx, first))
	assert.Greater(t, first.ID, int64(0), "Insert fills the serial id")
	require.NoError(t, store.Insert(ctx, second))
	assert.Greater(t, second.ID, first.ID)

	events, err := store.GetBySwapID(ctx, "pg-ev-swap")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventSwapRequested, events[0].Kind)
	assert.Equal(t, domain.EventVolumeReserved, events[1].Kind)
	assert.Equal(t, "alice", events[0].ActorID)
	assert.True(t, events[1].Volume.Equal(decimal.RequireFromString("25.5")))
}

func TestSwapEventStore_DuplicateKind(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSwapEventStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testEvent("pg-ev-dup", domain.EventVolumeReleased, 1000)))

	// Same swap, same kind: the audit log records each effect once.
	err := store.Insert(ctx, testEvent("pg-ev-dup", domain.EventVolumeReleased, 2000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Same kind on another swap is fine.
	require.NoError(t, store.Insert(ctx, testEvent("pg-ev-other", domain.EventVolumeReleased, 3000)))
}

func TestSwapEventStore_GetByListingID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSwapEventStore(pool)
	ctx := context.Background()

	a := testEvent("pg-ev-l1", domain.EventSwapRequested, 2000)
	b := testEvent("pg-ev-l2", domain.EventSwapRequested, 1000)
	other := testEvent("pg-ev-l3", domain.EventSwapRequested, 1500)
	other.ListingID = "pg-ev-elsewhere"

	for _, e := range []*domain.SwapEvent{a, b, other} {
		require.NoError(t, store.Insert(ctx, e))
	}

	events, err := store.GetByListingID(ctx, "pg-ev-listing")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "pg-ev-l2", events[0].SwapID, "timestamp order")
	assert.Equal(t, "pg-ev-l1", events[1].SwapID)
}

func TestSwapEventStore_GetByKind(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSwapEventStore(pool)
	ctx := context.Background()

	a := testEvent("pg-ev-k1", domain.EventCompensationFailed, 2000)
	b := testEvent("pg-ev-k2", domain.EventCompensationFailed, 1000)
	other := testEvent("pg-ev-k3", domain.EventVolumeReserved, 1500)

	for _, e := range []*domain.SwapEvent{a, b, other} {
		require.NoError(t, store.Insert(ctx, e))
	}

	events, err := store.GetByKind(ctx, domain.EventCompensationFailed)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "pg-ev-k2", events[0].SwapID, "timestamp order")
	assert.Equal(t, "pg-ev-k1", events[1].SwapID)

	none, err := store.GetByKind(ctx, domain.EventVolumeCompensated)
	require.NoError(t, err)
	assert.Empty(t, none)
}
