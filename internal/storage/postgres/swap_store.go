package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"renex/internal/domain"
	"renex/internal/storage"
)

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

// Insert adds a new swap at version 1. Returns ErrDuplicateKey if swap_id exists.
func (s *SwapStore) Insert(ctx context.Context, swap *domain.Swap) error {
	query := `
		INSERT INTO swaps (
			swap_id, listing_id, initiator_id, recipient_id,
			proposed_volume, proposed_price, message, state,
			proposed_listing_version, accepted_listing_version, reserved_volume,
			version, proposed_at, responded_at, completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13, $14, $15, $16)
	`

	_, err := s.pool.Exec(ctx, query,
		swap.SwapID,
		swap.ListingID,
		swap.InitiatorID,
		swap.RecipientID,
		swap.ProposedVolume,
		swap.ProposedPrice,
		swap.Message,
		swap.State,
		swap.ProposedListingVersion,
		swap.AcceptedListingVersion,
		swap.ReservedVolume,
		swap.ProposedAt,
		swap.RespondedAt,
		swap.CompletedAt,
		swap.CreatedAt,
		swap.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert swap: %w", err)
	}

	swap.Version = 1
	return nil
}

// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(ctx context.Context, swapID string) (*domain.Swap, error) {
	query := swapColumns + ` WHERE swap_id = $1`

	row := s.pool.QueryRow(ctx, query, swapID)
	swap, err := scanSwap(row)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get swap by id: %w", err)
	}
	return swap, nil
}

// UpdateIfVersion commits swap only if the stored version equals expectedVersion.
func (s *SwapStore) UpdateIfVersion(ctx context.Context, swap *domain.Swap, expectedVersion int64) error {
	query := `
		UPDATE swaps SET
			state = $1,
			accepted_listing_version = $2,
			reserved_volume = $3,
			responded_at = $4,
			completed_at = $5,
			updated_at = $6,
			version = version + 1
		WHERE swap_id = $7 AND version = $8
	`

	tag, err := s.pool.Exec(ctx, query,
		swap.State,
		swap.AcceptedListingVersion,
		swap.ReservedVolume,
		swap.RespondedAt,
		swap.CompletedAt,
		swap.UpdatedAt,
		swap.SwapID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update swap: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrMissing(ctx, swap.SwapID)
	}

	swap.Version = expectedVersion + 1
	return nil
}

// GetByListingID retrieves all swaps against a listing, ordered by proposal time ASC.
func (s *SwapStore) GetByListingID(ctx context.Context, listingID string) ([]*domain.Swap, error) {
	query := swapColumns + ` WHERE listing_id = $1 ORDER BY proposed_at ASC, swap_id ASC`

	rows, err := s.pool.Query(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("get swaps by listing id: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// GetByParty retrieves all swaps where userID is initiator or recipient.
func (s *SwapStore) GetByParty(ctx context.Context, userID string) ([]*domain.Swap, error) {
	query := swapColumns + ` WHERE initiator_id = $1 OR recipient_id = $1 ORDER BY proposed_at ASC, swap_id ASC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("get swaps by party: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// GetRequested retrieves the initiator's requested-state swap against a listing.
func (s *SwapStore) GetRequested(ctx context.Context, listingID, initiatorID string) (*domain.Swap, error) {
	query := swapColumns + ` WHERE listing_id = $1 AND initiator_id = $2 AND state = $3 ORDER BY proposed_at ASC LIMIT 1`

	row := s.pool.QueryRow(ctx, query, listingID, initiatorID, domain.SwapStateRequested)
	swap, err := scanSwap(row)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get requested swap: %w", err)
	}
	return swap, nil
}

// GetUnreleasedCancelled retrieves cancelled swaps with an outstanding reservation.
func (s *SwapStore) GetUnreleasedCancelled(ctx context.Context) ([]*domain.Swap, error) {
	query := swapColumns + ` WHERE state = $1 AND reserved_volume > 0 ORDER BY proposed_at ASC, swap_id ASC`

	rows, err := s.pool.Query(ctx, query, domain.SwapStateCancelled)
	if err != nil {
		return nil, fmt.Errorf("get unreleased cancelled swaps: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

func (s *SwapStore) conflictOrMissing(ctx context.Context, swapID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM swaps WHERE swap_id = $1`, swapID).Scan(&one)
	if isNoRows(err) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check swap existence: %w", err)
	}
	return storage.ErrVersionConflict
}

const swapColumns = `
	SELECT swap_id, listing_id, initiator_id, recipient_id,
		proposed_volume, proposed_price, message, state,
		proposed_listing_version, accepted_listing_version, reserved_volume,
		version, proposed_at, responded_at, completed_at, created_at, updated_at
	FROM swaps`

// scanSwap scans a single row into a Swap.
func scanSwap(row pgx.Row) (*domain.Swap, error) {
	var swap domain.Swap
	err := row.Scan(
		&swap.SwapID,
		&swap.ListingID,
		&swap.InitiatorID,
		&swap.RecipientID,
		&swap.ProposedVolume,
		&swap.ProposedPrice,
		&swap.Message,
		&swap.State,
		&swap.ProposedListingVersion,
		&swap.AcceptedListingVersion,
		&swap.ReservedVolume,
		&swap.Version,
		&swap.ProposedAt,
		&swap.RespondedAt,
		&swap.CompletedAt,
		&swap.CreatedAt,
		&swap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &swap, nil
}

// scanSwaps scans multiple rows into a slice of Swap.
func scanSwaps(rows pgx.Rows) ([]*domain.Swap, error) {
	var swaps []*domain.Swap

	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}
		swaps = append(swaps, swap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}

	return swaps, nil
}
