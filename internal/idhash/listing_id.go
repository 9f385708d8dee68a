package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeListingID computes a deterministic listing_id using SHA256.
// Formula: SHA256(owner_id|listing_type|energy_type|total_volume|start|end|created_at)
// Returns hex-encoded hash (64 characters).
//
// The timestamp is part of the identity so that an owner can relist the
// same volume over the same window; two calls in the same millisecond with
// identical parameters are the same listing, which makes creation retries
// idempotent at the store level.
func ComputeListingID(
	ownerID string,
	listingType string,
	energyType string,
	totalVolume string,
	startTime int64,
	endTime int64,
	createdAt int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%d|%d",
		ownerID,
		listingType,
		energyType,
		totalVolume,
		startTime,
		endTime,
		createdAt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
