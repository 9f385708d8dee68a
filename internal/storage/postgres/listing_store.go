package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"renex/internal/domain"
	"renex/internal/storage"
)

// ListingStore implements storage.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *Pool
}

// NewListingStore creates a new ListingStore.
func NewListingStore(pool *Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ListingStore = (*ListingStore)(nil)

// Insert adds a new listing at version 1. Returns ErrDuplicateKey if listing_id exists.
func (s *ListingStore) Insert(ctx context.Context, l *domain.Listing) error {
	query := `
		INSERT INTO listings (
			listing_id, owner_id, listing_type, energy_type,
			total_volume, remaining_volume, price_per_unit,
			location, description, start_time, end_time,
			status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
	`

	_, err := s.pool.Exec(ctx, query,
		l.ListingID,
		l.OwnerID,
		l.ListingType,
		l.EnergyType,
		l.TotalVolume,
		l.RemainingVolume,
		l.PricePerUnit,
		l.Location,
		l.Description,
		l.StartTime,
		l.EndTime,
		l.Status,
		l.CreatedAt,
		l.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert listing: %w", err)
	}

	l.Version = 1
	return nil
}

// GetByID retrieves a listing by its ID. Returns ErrNotFound if not exists.
func (s *ListingStore) GetByID(ctx context.Context, listingID string) (*domain.Listing, error) {
	query := listingColumns + ` WHERE listing_id = $1`

	row := s.pool.QueryRow(ctx, query, listingID)
	listing, err := scanListing(row)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get listing by id: %w", err)
	}
	return listing, nil
}

// UpdateIfVersion commits l only if the stored version equals expectedVersion.
// The version predicate in the WHERE clause is what makes concurrent writers
// first-committer-wins: the row either matches and moves to expectedVersion+1
// or the update affects zero rows.
func (s *ListingStore) UpdateIfVersion(ctx context.Context, l *domain.Listing, expectedVersion int64) error {
	query := `
		UPDATE listings SET
			remaining_volume = $1,
			status = $2,
			updated_at = $3,
			version = version + 1
		WHERE listing_id = $4 AND version = $5
	`

	tag, err := s.pool.Exec(ctx, query,
		l.RemainingVolume,
		l.Status,
		l.UpdatedAt,
		l.ListingID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrMissing(ctx, l.ListingID)
	}

	l.Version = expectedVersion + 1
	return nil
}

// GetByOwner retrieves all listings owned by ownerID, newest first.
func (s *ListingStore) GetByOwner(ctx context.Context, ownerID string) ([]*domain.Listing, error) {
	query := listingColumns + ` WHERE owner_id = $1 ORDER BY created_at DESC, listing_id ASC`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get listings by owner: %w", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

// GetByStatus retrieves all listings with the given status, newest first.
func (s *ListingStore) GetByStatus(ctx context.Context, status string) ([]*domain.Listing, error) {
	query := listingColumns + ` WHERE status = $1 ORDER BY created_at DESC, listing_id ASC`

	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("get listings by status: %w", err)
	}
	defer rows.Close()

	return scanListings(rows)
}

// conflictOrMissing distinguishes a stale version from a missing row after
// a zero-row update.
func (s *ListingStore) conflictOrMissing(ctx context.Context, listingID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM listings WHERE listing_id = $1`, listingID).Scan(&one)
	if isNoRows(err) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check listing existence: %w", err)
	}
	return storage.ErrVersionConflict
}

const listingColumns = `
	SELECT listing_id, owner_id, listing_type, energy_type,
		total_volume, remaining_volume, price_per_unit,
		location, description, start_time, end_time,
		status, version, created_at, updated_at
	FROM listings`

// scanListing scans a single row into a Listing.
func scanListing(row pgx.Row) (*domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(
		&l.ListingID,
		&l.OwnerID,
		&l.ListingType,
		&l.EnergyType,
		&l.TotalVolume,
		&l.RemainingVolume,
		&l.PricePerUnit,
		&l.Location,
		&l.Description,
		&l.StartTime,
		&l.EndTime,
		&l.Status,
		&l.Version,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// scanListings scans multiple rows into a slice of Listing.
func scanListings(rows pgx.Rows) ([]*domain.Listing, error) {
	var listings []*domain.Listing

	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		listings = append(listings, listing)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing rows: %w", err)
	}

	return listings, nil
}
