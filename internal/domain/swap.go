package domain

import (
	"github.com/shopspring/decimal"
)

// Swap represents one party's proposal to acquire volume from another
// party's listing. Corresponds to swaps table in PostgreSQL.
//
// ProposedVolume is immutable after creation; a new proposal requires a new
// swap. ReservedVolume tracks the outstanding listing reservation: zero
// until acceptance, equal to ProposedVolume from acceptance on, and cleared
// only when a cancellation's compensating release has committed. A
// completed swap keeps its ReservedVolume (the debit is final).
type Swap struct {
	SwapID                 string          // hex SHA256, see idhash
	ListingID              string          // listing this swap targets
	InitiatorID            string          // user who proposed the swap
	RecipientID            string          // listing owner at proposal time
	ProposedVolume         decimal.Decimal // volume the initiator wants, positive
	ProposedPrice          decimal.Decimal // optional negotiated price, zero when absent
	Message                string          // optional message from the initiator
	State                  string          // see state constants
	ProposedListingVersion int64           // listing version the proposal was made against
	AcceptedListingVersion int64           // listing version recorded at acceptance, 0 before
	ReservedVolume         decimal.Decimal // outstanding reservation bookkeeping
	Version                int64           // optimistic concurrency counter
	ProposedAt             int64           // Unix ms
	RespondedAt            int64           // accept/reject timestamp (ms), 0 until responded
	CompletedAt            int64           // completion timestamp (ms), 0 until completed
	CreatedAt              int64           // record creation timestamp (ms)
	UpdatedAt              int64           // last committed write timestamp (ms)
}

// Swap state constants. requested is the initial state; rejected, cancelled
// and completed are terminal.
const (
	SwapStateRequested = "requested"
	SwapStateAccepted  = "accepted"
	SwapStateRejected  = "rejected"
	SwapStateCompleted = "completed"
	SwapStateCancelled = "cancelled"
)

// TerminalState reports whether state admits no further transitions.
func TerminalState(state string) bool {
	switch state {
	case SwapStateRejected, SwapStateCancelled, SwapStateCompleted:
		return true
	}
	return false
}

// Party reports whether userID is either side of the swap.
func (s *Swap) Party(userID string) bool {
	return userID == s.InitiatorID || userID == s.RecipientID
}
