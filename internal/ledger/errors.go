package ledger

import "errors"

// Ledger errors.
var (
	// ErrInvalidWindow is returned when a listing window has start >= end.
	ErrInvalidWindow = errors.New("invalid window: start must precede end")

	// ErrNonPositiveVolume is returned when a listing total volume is <= 0.
	ErrNonPositiveVolume = errors.New("non-positive volume")

	// ErrInsufficientVolume is returned when a reservation exceeds the
	// listing's remaining volume.
	ErrInsufficientVolume = errors.New("insufficient volume")

	// ErrListingClosed is returned when reserving against a closed listing.
	ErrListingClosed = errors.New("listing closed")

	// ErrListingNotFound is returned when the referenced listing does not
	// exist. When the caller held a prior successful read in the same
	// operation this indicates store corruption and must abort loudly.
	ErrListingNotFound = errors.New("listing not found")

	// ErrVolumeOverflow is returned when a release would push remaining
	// volume above total. The release amount comes from the swap's recorded
	// reservation, so this can only mean corrupted state.
	ErrVolumeOverflow = errors.New("release exceeds total volume")
)
