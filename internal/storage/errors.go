package storage

import "errors"

// Storage errors shared by all store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrVersionConflict is returned by a conditional write whose expected
	// version no longer matches the stored record. Exactly one of any set of
	// concurrent writers against the same record commits; the rest observe
	// this error and must re-read before deciding whether to retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
