package domain

// ListingActivityPoint is one row of the listing activity feed stored in
// ClickHouse. It is an analytics projection, written best-effort after the
// domain write has committed; it is never read back by the engine itself.
type ListingActivityPoint struct {
	ListingID      string  // listing the activity belongs to
	TimestampMs    int64   // Unix timestamp in milliseconds
	Kind           string  // swap event kind or "listing.created"/"listing.closed"
	VolumeDelta    float64 // signed change to remaining volume, 0 for state events
	RemainingAfter float64 // remaining volume after the write committed
}

// Activity kinds emitted in addition to swap event kinds.
const (
	ActivityListingCreated = "listing.created"
	ActivityListingClosed  = "listing.closed"
)
