package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"renex/internal/domain"
	"renex/internal/storage"
)

// SwapEventStore implements storage.SwapEventStore using PostgreSQL.
type SwapEventStore struct {
	pool *Pool
}

// NewSwapEventStore creates a new SwapEventStore.
func NewSwapEventStore(pool *Pool) *SwapEventStore {
	return &SwapEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapEventStore = (*SwapEventStore)(nil)

// Insert appends an event. Returns ErrDuplicateKey if (swap_id, kind) exists.
func (s *SwapEventStore) Insert(ctx context.Context, e *domain.SwapEvent) error {
	query := `
		INSERT INTO swap_events (
			swap_id, listing_id, kind, actor_id, volume, timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := s.pool.QueryRow(ctx, query,
		e.SwapID,
		e.ListingID,
		e.Kind,
		e.ActorID,
		e.Volume,
		e.Timestamp,
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert swap event: %w", err)
	}
	return nil
}

// GetBySwapID retrieves all events for a swap, ordered by timestamp ASC.
func (s *SwapEventStore) GetBySwapID(ctx context.Context, swapID string) ([]*domain.SwapEvent, error) {
	query := eventColumns + ` WHERE swap_id = $1 ORDER BY timestamp ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, swapID)
	if err != nil {
		return nil, fmt.Errorf("get events by swap id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByListingID retrieves all events for a listing, ordered by timestamp ASC.
func (s *SwapEventStore) GetByListingID(ctx context.Context, listingID string) ([]*domain.SwapEvent, error) {
	query := eventColumns + ` WHERE listing_id = $1 ORDER BY timestamp ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("get events by listing id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByKind retrieves all events of one kind, ordered by timestamp ASC.
func (s *SwapEventStore) GetByKind(ctx context.Context, kind string) ([]*domain.SwapEvent, error) {
	query := eventColumns + ` WHERE kind = $1 ORDER BY timestamp ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("get events by kind: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

const eventColumns = `
	SELECT id, swap_id, listing_id, kind, actor_id, volume, timestamp, created_at
	FROM swap_events`

// scanEvents scans multiple rows into a slice of SwapEvent.
func scanEvents(rows pgx.Rows) ([]*domain.SwapEvent, error) {
	var events []*domain.SwapEvent

	for rows.Next() {
		var e domain.SwapEvent
		err := rows.Scan(
			&e.ID,
			&e.SwapID,
			&e.ListingID,
			&e.Kind,
			&e.ActorID,
			&e.Volume,
			&e.Timestamp,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}
