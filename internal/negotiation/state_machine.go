// Package negotiation owns the lifecycle of a single swap. It is the sole
// mutator of swap state and performs no volume logic: the orchestrator
// guarantees that volume was reserved before an acceptance is recorded.
//
// States: requested -> accepted | rejected ; accepted -> completed | cancelled.
// rejected, cancelled and completed are terminal. Transitions are monotonic;
// a swap never re-enters an earlier state.
package negotiation

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"renex/internal/domain"
	"renex/internal/storage"
)

// action identifies a transition request.
type action string

const (
	actionAccept   action = "accept"
	actionReject   action = "reject"
	actionComplete action = "complete"
	actionCancel   action = "cancel"
)

// rule describes one legal transition and who may request it.
type rule struct {
	from      string
	to        string
	authorize func(s *domain.Swap, callerID string) bool
}

func recipientOnly(s *domain.Swap, callerID string) bool { return callerID == s.RecipientID }
func eitherParty(s *domain.Swap, callerID string) bool   { return s.Party(callerID) }

// transitions is the full transition table. Anything absent is illegal,
// which also covers every attempt out of a terminal state.
var transitions = map[action]rule{
	actionAccept:   {from: domain.SwapStateRequested, to: domain.SwapStateAccepted, authorize: recipientOnly},
	actionReject:   {from: domain.SwapStateRequested, to: domain.SwapStateRejected, authorize: recipientOnly},
	actionComplete: {from: domain.SwapStateAccepted, to: domain.SwapStateCompleted, authorize: eitherParty},
	actionCancel:   {from: domain.SwapStateAccepted, to: domain.SwapStateCancelled, authorize: eitherParty},
}

// Machine applies swap state transitions over a SwapStore.
type Machine struct {
	swaps storage.SwapStore
	now   func() int64
}

// New creates a Machine over the given swap store.
func New(swaps storage.SwapStore) *Machine {
	return &Machine{
		swaps: swaps,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// NewWithClock creates a Machine with an injected clock (Unix ms).
func NewWithClock(swaps storage.SwapStore, now func() int64) *Machine {
	return &Machine{swaps: swaps, now: now}
}

// Accept transitions swap requested -> accepted, recording the listing
// version the reservation committed at and the reserved amount. Only the
// listing owner may accept. The write is conditional on swap.Version; a
// concurrent transition surfaces storage.ErrVersionConflict and the caller
// must re-fetch and re-decide; transition conflicts are never auto-retried.
func (m *Machine) Accept(ctx context.Context, swap *domain.Swap, callerID string, listingVersion int64) error {
	return m.apply(ctx, swap, actionAccept, callerID, func(s *domain.Swap) {
		s.AcceptedListingVersion = listingVersion
		s.ReservedVolume = s.ProposedVolume
		s.RespondedAt = s.UpdatedAt
	})
}

// Reject transitions swap requested -> rejected. Only the listing owner may
// reject. No volume side effect.
func (m *Machine) Reject(ctx context.Context, swap *domain.Swap, callerID string) error {
	return m.apply(ctx, swap, actionReject, callerID, func(s *domain.Swap) {
		s.RespondedAt = s.UpdatedAt
	})
}

// Complete transitions swap accepted -> completed. Either party may
// complete once the underlying exchange is confirmed externally. No further
// volume change; the debit happened at acceptance.
func (m *Machine) Complete(ctx context.Context, swap *domain.Swap, callerID string) error {
	return m.apply(ctx, swap, actionComplete, callerID, func(s *domain.Swap) {
		s.CompletedAt = s.UpdatedAt
	})
}

// Cancel transitions swap accepted -> cancelled. Either party may cancel
// before completion. The compensating volume release is the orchestrator's
// responsibility; the swap keeps its recorded ReservedVolume until that
// release commits.
func (m *Machine) Cancel(ctx context.Context, swap *domain.Swap, callerID string) error {
	return m.apply(ctx, swap, actionCancel, callerID, nil)
}

// ClearReservation zeroes the swap's outstanding reservation bookkeeping
// after a cancellation's release has committed. Legal only on a cancelled
// swap.
func (m *Machine) ClearReservation(ctx context.Context, swap *domain.Swap) error {
	if swap.State != domain.SwapStateCancelled {
		return ErrInvalidTransition
	}

	expected := swap.Version
	swap.ReservedVolume = decimal.Zero
	swap.UpdatedAt = m.now()

	return m.commit(ctx, swap, expected)
}

// apply validates authorization and legality, mutates the swap, and
// commits it conditionally on the version observed by the caller. On any
// failure the store is untouched and the caller discards the swap.
func (m *Machine) apply(ctx context.Context, swap *domain.Swap, act action, callerID string, mutate func(*domain.Swap)) error {
	r, ok := transitions[act]
	if !ok {
		return ErrInvalidTransition
	}

	// Authorization is checked before state so that a non-party probing a
	// terminal swap learns nothing about its state.
	if !r.authorize(swap, callerID) {
		return ErrForbidden
	}
	if swap.State != r.from {
		return ErrInvalidTransition
	}

	expected := swap.Version
	swap.State = r.to
	swap.UpdatedAt = m.now()
	if mutate != nil {
		mutate(swap)
	}

	return m.commit(ctx, swap, expected)
}

func (m *Machine) commit(ctx context.Context, swap *domain.Swap, expected int64) error {
	err := m.swaps.UpdateIfVersion(ctx, swap, expected)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return ErrSwapNotFound
	}
	return err
}
