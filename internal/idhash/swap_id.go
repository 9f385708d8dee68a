package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeSwapID computes a deterministic swap_id using SHA256.
// Formula: SHA256(listing_id|initiator_id|proposed_volume|proposed_at)
// Returns hex-encoded hash (64 characters).
func ComputeSwapID(
	listingID string,
	initiatorID string,
	proposedVolume string,
	proposedAt int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		listingID,
		initiatorID,
		proposedVolume,
		proposedAt,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
