package domain

import (
	"github.com/shopspring/decimal"
)

// SwapEvent is one entry of the append-only swap audit log.
// Corresponds to swap_events table in PostgreSQL.
//
// At most one event of a given kind exists per swap; the (SwapID, Kind)
// pair is the unique key. The release that undoes a failed acceptance is a
// different kind than the release that undoes a cancellation, so the log
// can hold both for the same swap and a reader can tell which volume
// movement each one records.
type SwapEvent struct {
	ID        int64           // BIGSERIAL primary key
	SwapID    string          // swap this event belongs to
	ListingID string          // listing the swap targets
	Kind      string          // see event kind constants
	ActorID   string          // user whose call produced the event
	Volume    decimal.Decimal // volume involved, zero for pure state events
	Timestamp int64           // Unix ms when the effect committed
	CreatedAt int64           // record creation timestamp (ms)
}

// Swap event kind constants. EventVolumeReleased is written only when a
// cancellation's release commits; a release that rolls back a failed
// acceptance is EventVolumeCompensated. EventCompensationFailed marks a
// rollback that could not commit, leaving the listing over-debited until
// reconciliation.
const (
	EventSwapRequested      = "swap.requested"
	EventSwapAccepted       = "swap.accepted"
	EventSwapRejected       = "swap.rejected"
	EventSwapCancelled      = "swap.cancelled"
	EventSwapCompleted      = "swap.completed"
	EventVolumeReserved     = "volume.reserved"
	EventVolumeReleased     = "volume.released"
	EventVolumeCompensated  = "volume.compensated"
	EventCompensationFailed = "volume.compensation_failed"
)
