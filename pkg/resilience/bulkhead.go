package resilience

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBulkheadFull is returned when the concurrency limit is reached and
// the acquire budget elapses.
var ErrBulkheadFull = errors.New("bulkhead full")

// Bulkhead bounds concurrent calls to one downstream so a stalled
// dependency cannot absorb every worker in the process.
type Bulkhead struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

// NewBulkhead creates a bulkhead with the given permit count and
// acquire budget. Zero wait means fail fast.
func NewBulkhead(limit int64, wait time.Duration) *Bulkhead {
	return &Bulkhead{
		sem:  semaphore.NewWeighted(limit),
		wait: wait,
	}
}

// Acquire takes one permit, waiting up to the budget. The returned
// release function must be called exactly once.
func (b *Bulkhead) Acquire(ctx context.Context) (release func(), err error) {
	if b.wait <= 0 {
		if !b.sem.TryAcquire(1) {
			return nil, ErrBulkheadFull
		}
		return func() { b.sem.Release(1) }, nil
	}

	actx, cancel := context.WithTimeout(ctx, b.wait)
	defer cancel()

	if err := b.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrBulkheadFull
	}
	return func() { b.sem.Release(1) }, nil
}
