package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastConfig() Config {
	return Config{
		RetryAttempts:    1, // retries off unless a test asks for them
		RetryBaseDelay:   time.Millisecond,
		BreakerWindow:    10,
		BreakerThreshold: 0.5,
		BreakerOpenFor:   100 * time.Millisecond,
		BulkheadLimit:    20,
		BulkheadWait:     10 * time.Millisecond,
		CallTimeout:      time.Second,
		Retryable:        true,
	}
}

// TestBreakerOpensAtFailureRate: ten calls with ≥50% failures open the
// breaker; the next call short-circuits without reaching the
// dependency.
func TestBreakerOpensAtFailureRate(t *testing.T) {
	e := New("test-open", fastConfig())
	var calls atomic.Int32

	for i := 0; i < 10; i++ {
		_ = e.Do(context.Background(), func(ctx context.Context) error {
			calls.Add(1)
			if calls.Load()%2 == 0 {
				return errBoom
			}
			return nil
		}, nil)
	}

	before := calls.Load()
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, nil)

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, calls.Load(), "open breaker must not reach the dependency")
	assert.Equal(t, "open", e.State())
}

// TestBreakerHalfOpenProbe: after the open window one probe runs; a
// success closes the breaker again.
func TestBreakerHalfOpenProbe(t *testing.T) {
	e := New("test-halfopen", fastConfig())

	for i := 0; i < 10; i++ {
		_ = e.Do(context.Background(), func(ctx context.Context) error {
			return errBoom
		}, nil)
	}
	require.Equal(t, "open", e.State())

	time.Sleep(150 * time.Millisecond)

	err := e.Do(context.Background(), func(ctx context.Context) error {
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "closed", e.State())
}

// TestBreakerHalfOpenReopensOnFailure: a failing probe reopens.
func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	e := New("test-reopen", fastConfig())

	for i := 0; i < 10; i++ {
		_ = e.Do(context.Background(), func(ctx context.Context) error {
			return errBoom
		}, nil)
	}
	time.Sleep(150 * time.Millisecond)

	_ = e.Do(context.Background(), func(ctx context.Context) error {
		return errBoom
	}, nil)
	assert.Equal(t, "open", e.State())
}

// TestRetryCountsAttempts: a persistent failure is attempted exactly
// RetryAttempts times.
func TestRetryCountsAttempts(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = 3
	e := New("test-retry", cfg)

	var calls atomic.Int32
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return errBoom
	}, nil)

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(3), calls.Load())
}

// TestNonRetryableSingleAttempt: envelopes around non-idempotent calls
// run once.
func TestNonRetryableSingleAttempt(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryAttempts = 3
	cfg.Retryable = false
	e := New("test-noretry", cfg)

	var calls atomic.Int32
	err := e.Do(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		return errBoom
	}, nil)

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(1), calls.Load())
}

// TestBulkheadRejectsExcess: with every permit held, a caller that
// cannot acquire within the wait budget fails with ErrBulkheadFull.
func TestBulkheadRejectsExcess(t *testing.T) {
	cfg := fastConfig()
	cfg.BulkheadLimit = 2
	cfg.BulkheadWait = 10 * time.Millisecond
	e := New("test-bulkhead", cfg)

	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Do(context.Background(), func(ctx context.Context) error {
				<-release
				return nil
			}, nil)
		}()
	}
	time.Sleep(20 * time.Millisecond) // let both calls take their permits

	err := e.Do(context.Background(), func(ctx context.Context) error {
		return nil
	}, nil)
	assert.ErrorIs(t, err, ErrBulkheadFull)

	close(release)
	wg.Wait()
}

// TestTimeoutCancelsCall: the per-call deadline surfaces as
// context.DeadlineExceeded.
func TestTimeoutCancelsCall(t *testing.T) {
	cfg := fastConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	cfg.Retryable = false
	e := New("test-timeout", cfg)

	err := e.Do(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestFallbackRuns: the per-call-site fallback sees the envelope error
// and substitutes a degraded result.
func TestFallbackRuns(t *testing.T) {
	cfg := fastConfig()
	cfg.Retryable = false
	e := New("test-fallback", cfg)

	var got error
	err := e.Do(context.Background(), func(ctx context.Context) error {
		return errBoom
	}, func(ctx context.Context, cause error) error {
		got = cause
		return nil // degraded response
	})

	assert.NoError(t, err)
	assert.ErrorIs(t, got, errBoom)
}
