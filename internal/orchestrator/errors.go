package orchestrator

import "errors"

var (
	// ErrSelfSwap is returned when a user proposes a swap against their own listing.
	ErrSelfSwap = errors.New("orchestrator: cannot swap against own listing")

	// ErrNotOwner is returned when a non-owner tries to close a listing.
	ErrNotOwner = errors.New("orchestrator: caller does not own the listing")

	// ErrInvalidVolume is returned when a proposed volume is zero or negative.
	ErrInvalidVolume = errors.New("orchestrator: proposed volume must be positive")

	// ErrInvalidPrice is returned when a proposed price is negative.
	ErrInvalidPrice = errors.New("orchestrator: proposed price must not be negative")

	// ErrDuplicateProposal is returned when the initiator already has a pending
	// proposal on the same listing.
	ErrDuplicateProposal = errors.New("orchestrator: pending proposal already exists for this listing")

	// ErrConflict is returned when an operation exhausted its retry budget
	// without committing. No state was changed.
	ErrConflict = errors.New("orchestrator: write conflict, retries exhausted")

	// ErrCancelledVolumeNotReleased is returned when a cancellation committed
	// but the compensating volume release did not. The swap is cancelled; the
	// outstanding reservation is left for the reconciler.
	ErrCancelledVolumeNotReleased = errors.New("orchestrator: swap cancelled but reserved volume not released")
)
