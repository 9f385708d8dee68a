package orchestrator

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"renex/internal/observability"
	"renex/internal/storage"
)

const (
	defaultMaxAttempts = 4
	defaultRetryBase   = 10 * time.Millisecond
	maxRetryDelay      = 500 * time.Millisecond
)

// retryDelay computes the backoff delay for an attempt (0-based) with jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(maxRetryDelay) {
		backoff = float64(maxRetryDelay)
	}
	jitter := 0.5 + rand.Float64()
	return time.Duration(backoff * jitter)
}

// retryConflict runs fn up to maxAttempts times, retrying only on version
// conflicts. Any other error is returned immediately. Version conflicts on
// volume writes are expected under contention; conflicts on anything else
// must surface to the caller.
func (o *Orchestrator) retryConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return err
		}
		observability.RecordReserveConflict()
		if attempt == o.maxAttempts-1 {
			break
		}
		observability.RecordReserveRetry()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay(o.retryBase, attempt)):
		}
	}
	observability.RecordRetriesExhausted()
	return errors.Join(ErrConflict, err)
}
