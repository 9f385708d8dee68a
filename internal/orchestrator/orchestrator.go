// Package orchestrator coordinates listing volume and swap negotiation.
//
// Every multi-record operation follows the same shape: commit the volume
// effect first, then the state effect, and compensate the volume effect if
// the state effect fails. Audit events, activity points and notifications
// are appended after the domain writes commit and never roll them back.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"renex/internal/domain"
	"renex/internal/idhash"
	"renex/internal/ledger"
	"renex/internal/negotiation"
	"renex/internal/notify"
	"renex/internal/observability"
	"renex/internal/storage"
)

// Options configures an Orchestrator.
type Options struct {
	Listings storage.ListingStore
	Swaps    storage.SwapStore
	Events   storage.SwapEventStore

	// Activity is the optional analytics feed. Nil disables it.
	Activity storage.ListingActivityStore

	// Notifier delivers best-effort notifications. Nil disables them.
	Notifier notify.Notifier

	// Now returns the current Unix timestamp in milliseconds.
	// Defaults to the wall clock.
	Now func() int64

	// MaxAttempts bounds retries of volume writes on version conflicts.
	// Defaults to 4. State transitions are never retried.
	MaxAttempts int

	// RetryBaseDelay is the base backoff between retry attempts.
	// Defaults to 10ms.
	RetryBaseDelay time.Duration

	Logger *log.Logger
}

// Orchestrator is the write-side entry point of the swap engine. All
// listing volume changes and swap state transitions go through it.
type Orchestrator struct {
	listings storage.ListingStore
	swaps    storage.SwapStore
	events   storage.SwapEventStore
	activity storage.ListingActivityStore

	ledger  *ledger.Ledger
	machine *negotiation.Machine

	notifier notify.Notifier
	now      func() int64

	maxAttempts int
	retryBase   time.Duration
	logger      *log.Logger
}

// New creates an Orchestrator from opts, applying defaults.
func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaultRetryBase
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[orchestrator] ", log.LstdFlags)
	}

	return &Orchestrator{
		listings:    opts.Listings,
		swaps:       opts.Swaps,
		events:      opts.Events,
		activity:    opts.Activity,
		ledger:      ledger.NewWithClock(opts.Listings, opts.Now),
		machine:     negotiation.NewWithClock(opts.Swaps, opts.Now),
		notifier:    opts.Notifier,
		now:         opts.Now,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBaseDelay,
		logger:      opts.Logger,
	}
}

// CreateListingParams holds the caller-supplied fields of a new listing.
type CreateListingParams struct {
	OwnerID      string
	ListingType  string
	EnergyType   string
	TotalVolume  decimal.Decimal
	PricePerUnit decimal.Decimal
	Location     string
	Description  string
	StartTime    int64
	EndTime      int64
}

// CreateListing validates and stores a new active listing with remaining
// volume equal to total volume. Re-submitting identical parameters within
// the same millisecond returns the already-stored listing.
func (o *Orchestrator) CreateListing(ctx context.Context, p CreateListingParams) (*domain.Listing, error) {
	defer o.observe("create_listing", time.Now())

	if !domain.ValidListingType(p.ListingType) {
		return nil, storage.ErrInvalidInput
	}
	if !domain.ValidEnergyType(p.EnergyType) {
		return nil, storage.ErrInvalidInput
	}
	if err := o.ledger.ValidateCreation(p.TotalVolume, p.StartTime, p.EndTime); err != nil {
		return nil, err
	}
	if p.PricePerUnit.IsNegative() {
		return nil, ErrInvalidPrice
	}

	now := o.now()
	listing := &domain.Listing{
		ListingID: idhash.ComputeListingID(
			p.OwnerID, p.ListingType, p.EnergyType,
			p.TotalVolume.String(), p.StartTime, p.EndTime, now,
		),
		OwnerID:         p.OwnerID,
		ListingType:     p.ListingType,
		EnergyType:      p.EnergyType,
		TotalVolume:     p.TotalVolume,
		RemainingVolume: p.TotalVolume,
		PricePerUnit:    p.PricePerUnit,
		Location:        p.Location,
		Description:     p.Description,
		StartTime:       p.StartTime,
		EndTime:         p.EndTime,
		Status:          domain.ListingStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := o.listings.Insert(ctx, listing); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return o.listings.GetByID(ctx, listing.ListingID)
		}
		return nil, err
	}

	observability.RecordListingCreated()
	o.recordActivity(ctx, listing.ListingID, domain.ActivityListingCreated,
		decimal.Zero, listing.RemainingVolume)
	return listing, nil
}

// CloseListing closes a listing on behalf of its owner. Closing an already
// closed listing is a no-op.
func (o *Orchestrator) CloseListing(ctx context.Context, listingID, callerID string) (*domain.Listing, error) {
	defer o.observe("close_listing", time.Now())

	listing, err := o.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	if listing.Status == domain.ListingStatusClosed {
		return listing, nil
	}

	err = o.retryConflict(ctx, func() error {
		l, cerr := o.ledger.Close(ctx, listingID)
		if cerr == nil {
			listing = l
		}
		return cerr
	})
	if err != nil {
		return nil, err
	}

	observability.RecordListingClosed("owner")
	o.recordActivity(ctx, listingID, domain.ActivityListingClosed,
		decimal.Zero, listing.RemainingVolume)
	return listing, nil
}

// CreateSwapParams holds the caller-supplied fields of a new swap proposal.
type CreateSwapParams struct {
	ListingID      string
	InitiatorID    string
	ProposedVolume decimal.Decimal
	ProposedPrice  decimal.Decimal
	Message        string
}

// CreateSwap validates and stores a new swap proposal in requested state.
// No volume is reserved until the recipient accepts. At most one pending
// proposal per initiator per listing is allowed.
func (o *Orchestrator) CreateSwap(ctx context.Context, p CreateSwapParams) (*domain.Swap, error) {
	defer o.observe("create_swap", time.Now())

	listing, err := o.GetListing(ctx, p.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != domain.ListingStatusActive {
		return nil, ledger.ErrListingClosed
	}
	if listing.OwnerID == p.InitiatorID {
		return nil, ErrSelfSwap
	}
	if !p.ProposedVolume.IsPositive() {
		return nil, ErrInvalidVolume
	}
	if p.ProposedPrice.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if p.ProposedVolume.GreaterThan(listing.RemainingVolume) {
		return nil, ledger.ErrInsufficientVolume
	}

	if _, err := o.swaps.GetRequested(ctx, p.ListingID, p.InitiatorID); err == nil {
		return nil, ErrDuplicateProposal
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	now := o.now()
	swap := &domain.Swap{
		SwapID: idhash.ComputeSwapID(
			p.ListingID, p.InitiatorID, p.ProposedVolume.String(), now,
		),
		ListingID:              p.ListingID,
		InitiatorID:            p.InitiatorID,
		RecipientID:            listing.OwnerID,
		ProposedVolume:         p.ProposedVolume,
		ProposedPrice:          p.ProposedPrice,
		Message:                p.Message,
		State:                  domain.SwapStateRequested,
		ProposedListingVersion: listing.Version,
		ReservedVolume:         decimal.Zero,
		ProposedAt:             now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := o.swaps.Insert(ctx, swap); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return o.swaps.GetByID(ctx, swap.SwapID)
		}
		return nil, err
	}

	observability.RecordSwapCreated()
	o.appendEvent(ctx, swap, domain.EventSwapRequested, p.InitiatorID, decimal.Zero)
	o.notifyUser(ctx, swap.RecipientID, domain.EventSwapRequested, notify.Payload{
		"swap_id":         swap.SwapID,
		"listing_id":      swap.ListingID,
		"initiator_id":    swap.InitiatorID,
		"proposed_volume": swap.ProposedVolume.String(),
	})
	return swap, nil
}

// AcceptSwap accepts a requested swap on behalf of the listing owner.
//
// The reservation commits before the state transition. If the transition
// then fails for any reason, the reservation is released again; the caller
// observes either a fully accepted swap or no effect at all (barring a
// compensation failure, which is logged and left to the reconciler).
func (o *Orchestrator) AcceptSwap(ctx context.Context, swapID, callerID string) (*domain.Swap, error) {
	defer o.observe("accept_swap", time.Now())

	swap, err := o.getSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if callerID != swap.RecipientID {
		return nil, negotiation.ErrForbidden
	}
	if swap.State != domain.SwapStateRequested {
		return nil, negotiation.ErrInvalidTransition
	}

	var listing *domain.Listing
	err = o.retryConflict(ctx, func() error {
		l, rerr := o.ledger.Reserve(ctx, swap.ListingID, swap.ProposedVolume)
		if rerr == nil {
			listing = l
		}
		return rerr
	})
	if err != nil {
		return nil, err
	}
	o.appendEvent(ctx, swap, domain.EventVolumeReserved, callerID, swap.ProposedVolume)

	if err := o.machine.Accept(ctx, swap, callerID, listing.Version); err != nil {
		o.compensateReserve(ctx, swap, callerID)
		return nil, err
	}

	observability.RecordSwapTransition(domain.SwapStateAccepted)
	o.appendEvent(ctx, swap, domain.EventSwapAccepted, callerID, decimal.Zero)
	o.recordActivity(ctx, swap.ListingID, domain.EventVolumeReserved,
		swap.ProposedVolume.Neg(), listing.RemainingVolume)

	o.closeIfExhausted(ctx, swap.ListingID)

	o.notifyUser(ctx, swap.InitiatorID, domain.EventSwapAccepted, notify.Payload{
		"swap_id":    swap.SwapID,
		"listing_id": swap.ListingID,
	})
	return swap, nil
}

// RejectSwap rejects a requested swap on behalf of the listing owner.
// Rejection touches no volume.
func (o *Orchestrator) RejectSwap(ctx context.Context, swapID, callerID string) (*domain.Swap, error) {
	defer o.observe("reject_swap", time.Now())

	swap, err := o.getSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if err := o.machine.Reject(ctx, swap, callerID); err != nil {
		return nil, err
	}

	observability.RecordSwapTransition(domain.SwapStateRejected)
	o.appendEvent(ctx, swap, domain.EventSwapRejected, callerID, decimal.Zero)
	o.notifyUser(ctx, swap.InitiatorID, domain.EventSwapRejected, notify.Payload{
		"swap_id":    swap.SwapID,
		"listing_id": swap.ListingID,
	})
	return swap, nil
}

// CompleteSwap marks an accepted swap as completed. The reserved volume is
// permanently consumed; nothing returns to the listing.
func (o *Orchestrator) CompleteSwap(ctx context.Context, swapID, callerID string) (*domain.Swap, error) {
	defer o.observe("complete_swap", time.Now())

	swap, err := o.getSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if err := o.machine.Complete(ctx, swap, callerID); err != nil {
		return nil, err
	}

	observability.RecordSwapTransition(domain.SwapStateCompleted)
	o.appendEvent(ctx, swap, domain.EventSwapCompleted, callerID, decimal.Zero)
	o.notifyUser(ctx, o.counterparty(swap, callerID), domain.EventSwapCompleted, notify.Payload{
		"swap_id":    swap.SwapID,
		"listing_id": swap.ListingID,
	})
	return swap, nil
}

// CancelSwap cancels an accepted swap and releases its reserved volume back
// to the listing. The cancellation commits first; if the release then fails
// to commit, the swap stays cancelled and ErrCancelledVolumeNotReleased is
// returned alongside it, leaving the outstanding reservation to the
// reconciler. The release never reopens a closed listing.
func (o *Orchestrator) CancelSwap(ctx context.Context, swapID, callerID string) (*domain.Swap, error) {
	defer o.observe("cancel_swap", time.Now())

	swap, err := o.getSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if err := o.machine.Cancel(ctx, swap, callerID); err != nil {
		return nil, err
	}

	observability.RecordSwapTransition(domain.SwapStateCancelled)
	o.appendEvent(ctx, swap, domain.EventSwapCancelled, callerID, decimal.Zero)

	released := swap.ReservedVolume
	var listing *domain.Listing
	err = o.retryConflict(ctx, func() error {
		l, rerr := o.ledger.Release(ctx, swap.ListingID, released)
		if rerr == nil {
			listing = l
		}
		return rerr
	})
	if err != nil {
		observability.RecordDegradedCancellation()
		o.logger.Printf("ERROR: swap %s cancelled but release of %s on listing %s failed: %v",
			swap.SwapID, released.String(), swap.ListingID, err)
		return swap, ErrCancelledVolumeNotReleased
	}

	o.appendEvent(ctx, swap, domain.EventVolumeReleased, callerID, released)
	o.recordActivity(ctx, swap.ListingID, domain.EventVolumeReleased,
		released, listing.RemainingVolume)

	if err := o.machine.ClearReservation(ctx, swap); err != nil {
		// The volume is back on the listing; only the swap's bookkeeping is
		// stale. The reconciler sees the release event and clears it.
		o.logger.Printf("WARN: clear reservation on swap %s: %v", swap.SwapID, err)
	}

	o.notifyUser(ctx, o.counterparty(swap, callerID), domain.EventSwapCancelled, notify.Payload{
		"swap_id":    swap.SwapID,
		"listing_id": swap.ListingID,
	})
	return swap, nil
}

// GetListing retrieves a listing by ID.
func (o *Orchestrator) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	l, err := o.listings.GetByID(ctx, listingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ledger.ErrListingNotFound
	}
	return l, err
}

// GetSwap retrieves a swap by ID. Only the swap's parties may read it.
func (o *Orchestrator) GetSwap(ctx context.Context, swapID, callerID string) (*domain.Swap, error) {
	s, err := o.getSwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if !s.Party(callerID) {
		return nil, negotiation.ErrForbidden
	}
	return s, nil
}

func (o *Orchestrator) getSwap(ctx context.Context, swapID string) (*domain.Swap, error) {
	s, err := o.swaps.GetByID(ctx, swapID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, negotiation.ErrSwapNotFound
	}
	return s, err
}

// ListListingsByOwner retrieves all listings owned by ownerID, newest first.
func (o *Orchestrator) ListListingsByOwner(ctx context.Context, ownerID string) ([]*domain.Listing, error) {
	return o.listings.GetByOwner(ctx, ownerID)
}

// ListActiveListings retrieves all open listings, newest first.
func (o *Orchestrator) ListActiveListings(ctx context.Context) ([]*domain.Listing, error) {
	return o.listings.GetByStatus(ctx, domain.ListingStatusActive)
}

// ListSwapsForListing retrieves all swaps against a listing. Only the
// listing owner may read the full proposal book.
func (o *Orchestrator) ListSwapsForListing(ctx context.Context, listingID, callerID string) ([]*domain.Swap, error) {
	listing, err := o.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if callerID != listing.OwnerID {
		return nil, negotiation.ErrForbidden
	}
	return o.swaps.GetByListingID(ctx, listingID)
}

// ListSwapsForUser retrieves all swaps where userID is a party.
func (o *Orchestrator) ListSwapsForUser(ctx context.Context, userID string) ([]*domain.Swap, error) {
	return o.swaps.GetByParty(ctx, userID)
}

// GetSwapEvents retrieves the audit log of a swap. Only the swap's parties
// may read it.
func (o *Orchestrator) GetSwapEvents(ctx context.Context, swapID, callerID string) ([]*domain.SwapEvent, error) {
	if _, err := o.GetSwap(ctx, swapID, callerID); err != nil {
		return nil, err
	}
	return o.events.GetBySwapID(ctx, swapID)
}

// compensateReserve undoes a reservation whose follow-up transition failed.
// The round trip is recorded as volume.compensated, never volume.released:
// a later cancellation of this swap (after a successful accept retry) owes
// its own release, and the reconciler must not mistake this one for it.
// A failed compensation leaves the listing over-debited; the
// compensation_failed event makes that debt visible to the reconciler.
func (o *Orchestrator) compensateReserve(ctx context.Context, swap *domain.Swap, actorID string) {
	observability.RecordCompensation()
	err := o.retryConflict(ctx, func() error {
		_, rerr := o.ledger.Release(ctx, swap.ListingID, swap.ProposedVolume)
		return rerr
	})
	if err != nil {
		o.logger.Printf("ERROR: compensating release of %s on listing %s for swap %s failed: %v",
			swap.ProposedVolume.String(), swap.ListingID, swap.SwapID, err)
		o.appendEvent(ctx, swap, domain.EventCompensationFailed, actorID, swap.ProposedVolume)
		return
	}
	o.appendEvent(ctx, swap, domain.EventVolumeCompensated, actorID, swap.ProposedVolume)
}

// closeIfExhausted closes the listing when its remaining volume hit zero.
// Failure here is not an acceptance failure, the reservation already
// committed; the next acceptance or an owner close picks it up.
func (o *Orchestrator) closeIfExhausted(ctx context.Context, listingID string) {
	closed := false
	err := o.retryConflict(ctx, func() error {
		c, cerr := o.ledger.CloseIfExhausted(ctx, listingID)
		closed = c
		return cerr
	})
	if err != nil {
		o.logger.Printf("WARN: close exhausted listing %s: %v", listingID, err)
		return
	}
	if closed {
		observability.RecordListingClosed("exhausted")
		o.recordActivity(ctx, listingID, domain.ActivityListingClosed,
			decimal.Zero, decimal.Zero)
	}
}

func (o *Orchestrator) counterparty(swap *domain.Swap, callerID string) string {
	if callerID == swap.InitiatorID {
		return swap.RecipientID
	}
	return swap.InitiatorID
}

// appendEvent writes an audit event. The (swap, kind) pair is unique, so a
// duplicate append from a retried call is silently absorbed.
func (o *Orchestrator) appendEvent(ctx context.Context, swap *domain.Swap, kind, actorID string, volume decimal.Decimal) {
	e := &domain.SwapEvent{
		SwapID:    swap.SwapID,
		ListingID: swap.ListingID,
		Kind:      kind,
		ActorID:   actorID,
		Volume:    volume,
		Timestamp: o.now(),
		CreatedAt: o.now(),
	}
	if err := o.events.Insert(ctx, e); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return
		}
		observability.RecordAuditWriteFailure()
		o.logger.Printf("ERROR: append %s event for swap %s: %v", kind, swap.SwapID, err)
	}
}

func (o *Orchestrator) recordActivity(ctx context.Context, listingID, kind string, delta, remaining decimal.Decimal) {
	if o.activity == nil {
		return
	}
	point := &domain.ListingActivityPoint{
		ListingID:      listingID,
		TimestampMs:    o.now(),
		Kind:           kind,
		VolumeDelta:    delta.InexactFloat64(),
		RemainingAfter: remaining.InexactFloat64(),
	}
	if err := o.activity.InsertBulk(ctx, []*domain.ListingActivityPoint{point}); err != nil {
		observability.RecordActivityWriteFailure()
		o.logger.Printf("WARN: record %s activity for listing %s: %v", kind, listingID, err)
	}
}

func (o *Orchestrator) notifyUser(ctx context.Context, recipientID, kind string, payload notify.Payload) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, recipientID, kind, payload); err != nil {
		observability.RecordNotificationFailure(kind)
		o.logger.Printf("WARN: notify %s of %s: %v", recipientID, kind, err)
	}
}

func (o *Orchestrator) observe(operation string, start time.Time) {
	observability.RecordOperationDuration(operation, time.Since(start).Seconds())
}
