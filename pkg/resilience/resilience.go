// Package resilience wraps every outgoing cross-service call in the
// composition Retry → CircuitBreaker → Bulkhead → Timeout → Fallback,
// backed by github.com/sony/gobreaker/v2 (circuit breaking) and
// github.com/cenkalti/backoff/v4 (retry with exponential backoff).
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
)

// ErrCircuitOpen is returned while the breaker rejects calls without
// reaching the dependency.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config for one envelope instance. Zero fields take the documented
// defaults.
type Config struct {
	// Retry
	RetryAttempts  int           // default 3
	RetryBaseDelay time.Duration // default 500ms, factor 2

	// Circuit breaker: failure rate over every call since the breaker's
	// last state change (cumulative, not a sliding window)
	BreakerWindow    int           // minimum calls before the rate is evaluated, default 10
	BreakerThreshold float64       // failure ratio opening the breaker, default 0.5
	BreakerOpenFor   time.Duration // open duration before half-open, default 30s

	// Bulkhead
	BulkheadLimit int64         // max concurrent calls, default 20
	BulkheadWait  time.Duration // acquire budget, default 500ms

	// Timeout
	CallTimeout time.Duration // per-call deadline, default 5s

	// Retryable gates the retry layer. Only idempotent or
	// idempotency-keyed calls may retry; non-idempotent envelopes set
	// this false and run a single attempt.
	Retryable bool
}

// DefaultConfig returns the documented defaults with retry enabled.
func DefaultConfig() Config {
	return Config{
		RetryAttempts:    3,
		RetryBaseDelay:   500 * time.Millisecond,
		BreakerWindow:    10,
		BreakerThreshold: 0.5,
		BreakerOpenFor:   30 * time.Second,
		BulkheadLimit:    20,
		BulkheadWait:     500 * time.Millisecond,
		CallTimeout:      5 * time.Second,
		Retryable:        true,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.BreakerWindow <= 0 {
		c.BreakerWindow = d.BreakerWindow
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = d.BreakerOpenFor
	}
	if c.BulkheadLimit <= 0 {
		c.BulkheadLimit = d.BulkheadLimit
	}
	if c.BulkheadWait < 0 {
		c.BulkheadWait = d.BulkheadWait
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
}

// Fallback produces a degraded result after the envelope is exhausted.
// Returning an error surfaces that error instead of the original.
type Fallback func(ctx context.Context, err error) error

// Envelope is one named composition instance. Create one per call site
// (per downstream operation) so breaker and bulkhead state isolate
// dependencies from each other.
type Envelope struct {
	name     string
	cfg      Config
	breaker  *gobreaker.CircuitBreaker[any]
	bulkhead *Bulkhead
}

// New creates an envelope named after its call site.
func New(name string, cfg Config) *Envelope {
	cfg.fillDefaults()

	window := uint32(cfg.BreakerWindow)
	threshold := cfg.BreakerThreshold
	logger := log.WithComponent("resilience")

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one probe in half-open
		Interval:    0,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < window {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Bulkhead rejections are load shedding on our side, not
			// evidence the dependency is failing.
			var sc *shortCircuit
			return errors.As(err, &sc)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerStateChangesTotal.WithLabelValues(name, to.String()).Inc()
			logger.Warn().
				Str("op", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	}

	return &Envelope{
		name:     name,
		cfg:      cfg,
		breaker:  gobreaker.NewCircuitBreaker[any](settings),
		bulkhead: NewBulkhead(cfg.BulkheadLimit, cfg.BulkheadWait),
	}
}

// State returns the current breaker state string, for health reporting.
func (e *Envelope) State() string {
	return e.breaker.State().String()
}

// Do runs fn under the full composition. fb may be nil.
func (e *Envelope) Do(ctx context.Context, fn func(ctx context.Context) error, fb Fallback) error {
	err := e.execute(ctx, fn)
	if err != nil && fb != nil {
		return fb(ctx, err)
	}
	return err
}

func (e *Envelope) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := func() error {
		_, err := e.breaker.Execute(func() (any, error) {
			release, err := e.bulkhead.Acquire(ctx)
			if err != nil {
				if errors.Is(err, ErrBulkheadFull) {
					metrics.BulkheadRejectedTotal.WithLabelValues(e.name).Inc()
				}
				// A full bulkhead is load, not dependency failure;
				// keep it out of the breaker's failure window.
				return nil, &shortCircuit{err}
			}
			defer release()

			cctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
			defer cancel()
			return nil, fn(cctx)
		})
		return normalize(err)
	}

	if !e.cfg.Retryable {
		return attempt()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0 // attempts bound the retry loop, not wall time

	return backoff.Retry(func() error {
		err := attempt()
		if err == nil {
			return nil
		}
		// No point hammering an open breaker or a full bulkhead; the
		// caller's next request is the retry.
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrBulkheadFull) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.RetryAttempts-1)), ctx))
}

// shortCircuit carries bulkhead rejections through gobreaker without
// counting them as dependency failures.
type shortCircuit struct{ err error }

func (s *shortCircuit) Error() string { return s.err.Error() }
func (s *shortCircuit) Unwrap() error { return s.err }

func normalize(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	var sc *shortCircuit
	if errors.As(err, &sc) {
		return sc.err
	}
	return err
}
