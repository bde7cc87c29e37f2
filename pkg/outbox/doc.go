/*
Package outbox implements the transactional-outbox relay that turns
committed outbox rows into broker messages.

# Architecture

	┌──────────────────── OUTBOX PIPELINE ────────────────────┐
	│                                                          │
	│  business handler                                        │
	│    └─ one tx: domain write + OutboxStore.SaveEvent       │
	│                                                          │
	│  Relay (this package)                                    │
	│    └─ tick (1s), leader-locked:                          │
	│         fetch unpublished ORDER BY created_at            │
	│         publish each, key = aggregate id                 │
	│         mark published                                   │
	│         stop batch on first failure                      │
	│                                                          │
	│  Retention (this package)                                │
	│    └─ @hourly, leader-locked:                            │
	│         delete published rows past retention             │
	│         prune idempotency ledger                         │
	└──────────────────────────────────────────────────────────┘

# Guarantees

At-least-once delivery with per-aggregate order. Order holds because
(a) the relay publishes one aggregate's records strictly FIFO and stops
the whole batch at the first failure — a later success would permanently
reorder earlier unpublished records for the same aggregate — (b) the
broker keys partitions by aggregate id, and (c) consumers process a
partition sequentially. A crash after publish but before mark-published
yields a duplicate on the next tick, which consumers absorb through the
idempotency ledger.

Records are never deleted by the relay; retention prunes published rows
past the configured window so the (published, created_at) scan stays
small.
*/
package outbox
