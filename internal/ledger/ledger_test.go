package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"renex/internal/domain"
	"renex/internal/storage"
	"renex/internal/storage/memory"
)

const testClock = int64(1704067200000)

func newTestLedger() (*Ledger, storage.ListingStore) {
	store := memory.NewListingStore()
	return NewWithClock(store, func() int64 { return testClock }), store
}

func seedListing(t *testing.T, store storage.ListingStore, id string, total, remaining int64) *domain.Listing {
	t.Helper()
	listing := &domain.Listing{
		ListingID:       id,
		OwnerID:         "owner1",
		ListingType:     domain.ListingTypeSupply,
		EnergyType:      domain.EnergyTypeWind,
		TotalVolume:     decimal.NewFromInt(total),
		RemainingVolume: decimal.NewFromInt(remaining),
		StartTime:       testClock,
		EndTime:         testClock + 86400000,
		Status:          domain.ListingStatusActive,
		CreatedAt:       testClock,
		UpdatedAt:       testClock,
	}
	if err := store.Insert(context.Background(), listing); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return listing
}

func TestValidateCreation(t *testing.T) {
	l, _ := newTestLedger()

	tests := []struct {
		name    string
		total   decimal.Decimal
		start   int64
		end     int64
		wantErr error
	}{
		{"valid", decimal.NewFromInt(100), 1000, 2000, nil},
		{"end before start", decimal.NewFromInt(100), 2000, 1000, ErrInvalidWindow},
		{"start equals end", decimal.NewFromInt(100), 1000, 1000, ErrInvalidWindow},
		{"zero volume", decimal.Zero, 1000, 2000, ErrNonPositiveVolume},
		{"negative volume", decimal.NewFromInt(-5), 1000, 2000, ErrNonPositiveVolume},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.ValidateCreation(tt.total, tt.start, tt.end)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCreation() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReserve(t *testing.T) {
	l, store := newTestLedger()
	seedListing(t, store, "l1", 100, 100)
	ctx := context.Background()

	got, err := l.Reserve(ctx, "l1", decimal.NewFromInt(60))
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if !got.RemainingVolume.Equal(decimal.NewFromInt(40)) {
		t.Errorf("RemainingVolume = %s, want 40", got.RemainingVolume)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}

	// Second reservation beyond remaining must fail without mutating
	_, err = l.Reserve(ctx, "l1", decimal.NewFromInt(50))
	if !errors.Is(err, ErrInsufficientVolume) {
		t.Errorf("Expected ErrInsufficientVolume, got %v", err)
	}
	stored, _ := store.GetByID(ctx, "l1")
	if !stored.RemainingVolume.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Failed reserve mutated volume: %s", stored.RemainingVolume)
	}

	// Exact remaining is allowed
	got, err = l.Reserve(ctx, "l1", decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("Exact reserve failed: %v", err)
	}
	if !got.RemainingVolume.IsZero() {
		t.Errorf("RemainingVolume = %s, want 0", got.RemainingVolume)
	}
}

func TestReserveInvalidAmounts(t *testing.T) {
	l, store := newTestLedger()
	seedListing(t, store, "l1", 100, 100)
	ctx := context.Background()

	if _, err := l.Reserve(ctx, "l1", decimal.Zero); !errors.Is(err, ErrNonPositiveVolume) {
		t.Errorf("Zero amount: expected ErrNonPositiveVolume, got %v", err)
	}
	if _, err := l.Reserve(ctx, "l1", decimal.NewFromInt(-10)); !errors.Is(err, ErrNonPositiveVolume) {
		t.Errorf("Negative amount: expected ErrNonPositiveVolume, got %v", err)
	}
	if _, err := l.Reserve(ctx, "ghost", decimal.NewFromInt(10)); !errors.Is(err, ErrListingNotFound) {
		t.Errorf("Missing listing: expected ErrListingNotFound, got %v", err)
	}
}

func TestReserveClosedListing(t *testing.T) {
	l, store := newTestLedger()
	listing := seedListing(t, store, "l1", 100, 100)
	ctx := context.Background()

	listing.Status = domain.ListingStatusClosed
	if err := store.UpdateIfVersion(ctx, listing, 1); err != nil {
		t.Fatalf("close listing: %v", err)
	}

	_, err := l.Reserve(ctx, "l1", decimal.NewFromInt(10))
	if !errors.Is(err, ErrListingClosed) {
		t.Errorf("Expected ErrListingClosed, got %v", err)
	}
}

func TestReserveVersionConflictSurfaces(t *testing.T) {
	store := memory.NewListingStore()
	ctx := context.Background()

	conflicting := &conflictOnceStore{ListingStore: store}
	l := NewWithClock(conflicting, func() int64 { return testClock })
	seedListing(t, store, "l1", 100, 100)

	_, err := l.Reserve(ctx, "l1", decimal.NewFromInt(10))
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("Expected raw ErrVersionConflict, got %v", err)
	}

	// The ledger does not retry internally; the listing is untouched
	stored, _ := store.GetByID(ctx, "l1")
	if !stored.RemainingVolume.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Volume mutated despite conflict: %s", stored.RemainingVolume)
	}
}

// conflictOnceStore makes the first UpdateIfVersion fail with a version
// conflict, simulating a racing writer committing in between.
type conflictOnceStore struct {
	storage.ListingStore
	fired bool
}

func (s *conflictOnceStore) UpdateIfVersion(ctx context.Context, l *domain.Listing, expected int64) error {
	if !s.fired {
		s.fired = true
		return storage.ErrVersionConflict
	}
	return s.ListingStore.UpdateIfVersion(ctx, l, expected)
}

func TestRelease(t *testing.T) {
	l, store := newTestLedger()
	seedListing(t, store, "l1", 100, 40)
	ctx := context.Background()

	got, err := l.Release(ctx, "l1", decimal.NewFromInt(60))
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !got.RemainingVolume.Equal(decimal.NewFromInt(100)) {
		t.Errorf("RemainingVolume = %s, want 100", got.RemainingVolume)
	}
}

func TestReleaseExactRestore(t *testing.T) {
	l, store := newTestLedger()
	seedListing(t, store, "l1", 100, 100)
	ctx := context.Background()

	amount := decimal.RequireFromString("33.333333")
	if _, err := l.Reserve(ctx, "l1", amount); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	got, err := l.Release(ctx, "l1", amount)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !got.RemainingVolume.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Release did not restore exactly: got %s, want 100", got.RemainingVolume)
	}
}

func TestReleaseZeroIsNoop(t *testing.T) {
	l, store := newTestLedger()
	seedListing(t, store, "l1", 100, 40)
	ctx := context.Background()

	got, err := l.Release(ctx, "l1", decimal.Zero)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("Zero release committed a write: version %d", got.Version)
	}
}

func TestReleaseOverflow(t *testing.T) {
	l, store := newTestLedger()
	seedListing(t, store, "l1", 100, 90)
	ctx := context.Background()

	_, err := l.Release(ctx, "l1", decimal.NewFromInt(20))
	if !errors.Is(err, ErrVolumeOverflow) {
		t.Errorf("Expected ErrVolumeOverflow, got %v", err)
	}
}

func TestReleaseDoesNotReopen(t *testing.T) {
	l, store := newTestLedger()
	listing := seedListing(t, store, "l1", 100, 0)
	ctx := context.Background()

	listing.Status = domain.ListingStatusClosed
	if err := store.UpdateIfVersion(ctx, listing, 1); err != nil {
		t.Fatalf("close listing: %v", err)
	}

	got, err := l.Release(ctx, "l1", decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("Release on closed listing failed: %v", err)
	}
	if got.Status != domain.ListingStatusClosed {
		t.Errorf("Release reopened listing: status %s", got.Status)
	}
	if !got.RemainingVolume.Equal(decimal.NewFromInt(30)) {
		t.Errorf("RemainingVolume = %s, want 30", got.RemainingVolume)
	}
}

func TestCloseIfExhausted(t *testing.T) {
	l, store := newTestLedger()
	seedListing(t, store, "l1", 100, 0)
	seedListing(t, store, "l2", 100, 10)
	ctx := context.Background()

	closed, err := l.CloseIfExhausted(ctx, "l1")
	if err != nil {
		t.Fatalf("CloseIfExhausted failed: %v", err)
	}
	if !closed {
		t.Error("Expected exhausted listing to close")
	}

	// Idempotent on an already-closed listing
	closed, err = l.CloseIfExhausted(ctx, "l1")
	if err != nil {
		t.Fatalf("Second CloseIfExhausted failed: %v", err)
	}
	if !closed {
		t.Error("Expected true for already-closed listing")
	}
	stored, _ := store.GetByID(ctx, "l1")
	if stored.Version != 2 {
		t.Errorf("Idempotent close committed again: version %d", stored.Version)
	}

	// Not exhausted, stays open
	closed, err = l.CloseIfExhausted(ctx, "l2")
	if err != nil {
		t.Fatalf("CloseIfExhausted failed: %v", err)
	}
	if closed {
		t.Error("Listing with remaining volume must not close")
	}
}

func TestClose(t *testing.T) {
	l, store := newTestLedger()
	seedListing(t, store, "l1", 100, 70)
	ctx := context.Background()

	got, err := l.Close(ctx, "l1")
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got.Status != domain.ListingStatusClosed {
		t.Errorf("Status = %s, want closed", got.Status)
	}
	if !got.RemainingVolume.Equal(decimal.NewFromInt(70)) {
		t.Errorf("Close changed remaining volume: %s", got.RemainingVolume)
	}

	again, err := l.Close(ctx, "l1")
	if err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if again.Version != got.Version {
		t.Errorf("Idempotent close committed again: version %d", again.Version)
	}
}
