package negotiation

import "errors"

// State machine errors.
var (
	// ErrInvalidTransition is returned when the requested transition is not
	// legal from the swap's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrForbidden is returned when the caller is not authorized for the
	// requested transition.
	ErrForbidden = errors.New("forbidden")

	// ErrSwapNotFound is returned when the referenced swap does not exist.
	ErrSwapNotFound = errors.New("swap not found")
)
