package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"renex/internal/domain"
	"renex/internal/storage"
)

// ActivityStore implements storage.ListingActivityStore using ClickHouse.
type ActivityStore struct {
	conn *Conn
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(conn *Conn) *ActivityStore {
	return &ActivityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ListingActivityStore = (*ActivityStore)(nil)

// InsertBulk adds multiple points. MergeTree does not enforce uniqueness;
// callers write each point once.
func (s *ActivityStore) InsertBulk(ctx context.Context, points []*domain.ListingActivityPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO listing_activity (
			listing_id, timestamp_ms, kind, volume_delta, remaining_after
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.ListingID, p.TimestampMs, p.Kind, p.VolumeDelta, p.RemainingAfter,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByListingID retrieves all points for a listing, ordered by timestamp ASC.
func (s *ActivityStore) GetByListingID(ctx context.Context, listingID string) ([]*domain.ListingActivityPoint, error) {
	query := `
		SELECT listing_id, timestamp_ms, kind, volume_delta, remaining_after
		FROM listing_activity
		WHERE listing_id = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("query by listing id: %w", err)
	}
	defer rows.Close()

	return scanActivity(rows)
}

// GetByTimeRange retrieves points for a listing within [start, end] (inclusive).
func (s *ActivityStore) GetByTimeRange(ctx context.Context, listingID string, start, end int64) ([]*domain.ListingActivityPoint, error) {
	query := `
		SELECT listing_id, timestamp_ms, kind, volume_delta, remaining_after
		FROM listing_activity
		WHERE listing_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, listingID, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanActivity(rows)
}

// scanActivity scans rows into a slice of ListingActivityPoint.
func scanActivity(rows driver.Rows) ([]*domain.ListingActivityPoint, error) {
	var points []*domain.ListingActivityPoint

	for rows.Next() {
		var p domain.ListingActivityPoint
		err := rows.Scan(
			&p.ListingID, &p.TimestampMs, &p.Kind, &p.VolumeDelta, &p.RemainingAfter,
		)
		if err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}

	return points, nil
}
