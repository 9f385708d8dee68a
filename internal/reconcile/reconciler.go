// Package reconcile repairs volume a failed release still owes a listing.
// A cancellation whose release failed leaves a cancelled swap with a
// non-zero reserved volume; an acceptance whose rollback failed leaves a
// compensation_failed audit event. The reconciler finds both and settles
// each debt exactly once.
package reconcile

import (
	"context"
	"log"
	"os"
	"time"

	"renex/internal/domain"
	"renex/internal/ledger"
	"renex/internal/negotiation"
	"renex/internal/observability"
	"renex/internal/storage"
)

// SwapResult records the outcome of reconciling one swap.
type SwapResult struct {
	SwapID    string // reconciled swap ID
	ListingID string // listing the reservation was held against
	Released  bool   // true if this run released the volume
	Cleared   bool   // true if the reservation bookkeeping was cleared
	Err       error  // terminal error for this swap, nil on success
}

// Report summarizes one reconciler run.
type Report struct {
	Scanned     int          // cancelled swaps with an outstanding reservation
	Released    int          // volume releases committed by this run
	Cleared     int          // reservations whose bookkeeping was cleared
	Compensated int          // failed acceptance rollbacks settled by this run
	Failed      int          // swaps that could not be repaired
	Results     []SwapResult // individual outcomes
}

// Reconciler scans for cancelled swaps with outstanding reservations.
type Reconciler struct {
	listings storage.ListingStore
	swaps    storage.SwapStore
	events   storage.SwapEventStore

	ledger  *ledger.Ledger
	machine *negotiation.Machine

	now    func() int64
	logger *log.Logger
}

// New creates a Reconciler over the given stores.
func New(listings storage.ListingStore, swaps storage.SwapStore, events storage.SwapEventStore) *Reconciler {
	return NewWithClock(listings, swaps, events, func() int64 { return time.Now().UnixMilli() })
}

// NewWithClock creates a Reconciler with an injected clock.
func NewWithClock(listings storage.ListingStore, swaps storage.SwapStore, events storage.SwapEventStore, now func() int64) *Reconciler {
	return &Reconciler{
		listings: listings,
		swaps:    swaps,
		events:   events,
		ledger:   ledger.NewWithClock(listings, now),
		machine:  negotiation.NewWithClock(swaps, now),
		now:      now,
		logger:   log.New(os.Stdout, "[reconcile] ", log.LstdFlags),
	}
}

// SetLogger replaces the default logger.
func (r *Reconciler) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// Run performs one reconciliation pass and returns a report. Individual
// swap failures are recorded in the report and do not abort the pass.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	swaps, err := r.swaps.GetUnreleasedCancelled(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Scanned: len(swaps)}
	for _, swap := range swaps {
		result := r.reconcileSwap(ctx, swap)
		report.Results = append(report.Results, result)
		if result.Released {
			report.Released++
			observability.RecordReconcilerRelease()
		}
		if result.Cleared {
			report.Cleared++
		}
		if result.Err != nil {
			report.Failed++
			r.logger.Printf("ERROR: reconcile swap %s: %v", result.SwapID, result.Err)
		}
	}

	failures, err := r.events.GetByKind(ctx, domain.EventCompensationFailed)
	if err != nil {
		return nil, err
	}
	for _, failed := range failures {
		result := r.repairCompensation(ctx, failed)
		report.Results = append(report.Results, result)
		if result.Released {
			report.Released++
			report.Compensated++
			observability.RecordReconcilerRelease()
		}
		if result.Err != nil {
			report.Failed++
			r.logger.Printf("ERROR: repair compensation for swap %s: %v", result.SwapID, result.Err)
		}
	}

	if report.Failed == 0 {
		observability.UpdateLastReconcile(float64(r.now()) / 1000)
	}
	r.logger.Printf("pass complete: scanned=%d released=%d cleared=%d compensated=%d failed=%d",
		report.Scanned, report.Released, report.Cleared, report.Compensated, report.Failed)
	return report, nil
}

// reconcileSwap repairs one cancelled swap. The audit log decides whether
// the release already happened: a volume.released event means only the
// swap's bookkeeping is stale, otherwise the volume itself is still owed
// to the listing.
func (r *Reconciler) reconcileSwap(ctx context.Context, swap *domain.Swap) SwapResult {
	result := SwapResult{SwapID: swap.SwapID, ListingID: swap.ListingID}

	released, err := r.alreadyReleased(ctx, swap.SwapID)
	if err != nil {
		result.Err = err
		return result
	}

	if !released {
		if _, err := r.ledger.Release(ctx, swap.ListingID, swap.ReservedVolume); err != nil {
			result.Err = err
			return result
		}
		result.Released = true
		event := &domain.SwapEvent{
			SwapID:    swap.SwapID,
			ListingID: swap.ListingID,
			Kind:      domain.EventVolumeReleased,
			ActorID:   "reconciler",
			Volume:    swap.ReservedVolume,
			Timestamp: r.now(),
			CreatedAt: r.now(),
		}
		if err := r.events.Insert(ctx, event); err != nil {
			// Skip the clear so the swap stays visible to the next pass.
			result.Err = err
			return result
		}
	}

	if err := r.machine.ClearReservation(ctx, swap); err != nil {
		result.Err = err
		return result
	}
	result.Cleared = true
	return result
}

// repairCompensation returns the volume a failed acceptance rollback still
// owes the listing. The volume.compensated event marks the debt settled,
// whether by a later retry of the rollback or by a prior pass here.
func (r *Reconciler) repairCompensation(ctx context.Context, failed *domain.SwapEvent) SwapResult {
	result := SwapResult{SwapID: failed.SwapID, ListingID: failed.ListingID}

	events, err := r.events.GetBySwapID(ctx, failed.SwapID)
	if err != nil {
		result.Err = err
		return result
	}
	for _, e := range events {
		if e.Kind == domain.EventVolumeCompensated {
			return result
		}
	}

	if _, err := r.ledger.Release(ctx, failed.ListingID, failed.Volume); err != nil {
		result.Err = err
		return result
	}
	result.Released = true

	event := &domain.SwapEvent{
		SwapID:    failed.SwapID,
		ListingID: failed.ListingID,
		Kind:      domain.EventVolumeCompensated,
		ActorID:   "reconciler",
		Volume:    failed.Volume,
		Timestamp: r.now(),
		CreatedAt: r.now(),
	}
	if err := r.events.Insert(ctx, event); err != nil {
		// The debt stays visible to the next pass.
		result.Err = err
		return result
	}
	return result
}

// alreadyReleased reports whether the cancellation's release committed. A
// volume.released event is written only by the cancel path or a prior pass
// here; a rollback of a failed acceptance records volume.compensated
// instead and never suppresses the cancellation's own release.
func (r *Reconciler) alreadyReleased(ctx context.Context, swapID string) (bool, error) {
	events, err := r.events.GetBySwapID(ctx, swapID)
	if err != nil {
		return false, err
	}
	for _, e := range events {
		if e.Kind == domain.EventVolumeReleased {
			return true, nil
		}
	}
	return false, nil
}
