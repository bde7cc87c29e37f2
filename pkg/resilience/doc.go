/*
Package resilience wraps every outgoing cross-service call in a
reusable composition of fault-tolerance policies.

# Architecture

Policies apply outermost-first:

	┌────────────────── RESILIENCE ENVELOPE ──────────────────┐
	│                                                          │
	│  Retry        3 attempts, 500ms base, factor 2           │
	│    │          (only for idempotent / keyed calls)        │
	│  CircuitBreaker                                          │
	│    │          min 10 calls, 50% failure, 30s open        │
	│  Bulkhead     20 concurrent, 500ms acquire budget        │
	│    │                                                     │
	│  Timeout      5s per-call deadline                       │
	│    │                                                     │
	│  Fallback     per-call-site degraded response            │
	└──────────────────────────────────────────────────────────┘

Create one Envelope per downstream operation so breaker and bulkhead
state isolate dependencies from each other:

	env := resilience.New("store-read", resilience.DefaultConfig())
	err := env.Do(ctx, func(ctx context.Context) error {
		return callDownstream(ctx)
	}, fallbackFn)

The breaker's failure rate covers every call since its last state
change; it is evaluated once at least BreakerWindow calls are counted.
It is not a sliding window: older calls are never dropped while the
breaker stays closed.

# Error contract

ErrCircuitOpen surfaces while the breaker is open (or while the single
half-open probe is in flight); ErrBulkheadFull when the concurrency
budget is spent. Both are permanent from retry's point of view — the
caller's next request is the retry. Bulkhead rejections are load
shedding on our side and never feed the breaker's failure window. The
per-call timeout surfaces as context.DeadlineExceeded. The HTTP layer
maps these onto the error taxonomy (503, 503, 504).

The ingress rate limiter is deliberately NOT part of this composition;
it sits in pkg/ratelimit in front of all business logic.
*/
package resilience
