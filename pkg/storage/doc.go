/*
Package storage provides the Postgres persistence layer for all GoEats
services.

Each service owns one schema: order, payment, delivery, store. A schema
contains its domain tables plus outbox_events and processed_events, so a
business mutation, its outbox append, and its idempotency-ledger insert
commit or roll back together. SQL files under migrations/ define the
schemas.

# Architecture

	┌─────────────────── STORAGE LAYER ───────────────────┐
	│                                                      │
	│  WithTx(ctx, db, fn)                                 │
	│    └─ one *sqlx.Tx per transactional handler         │
	│         ├─ domain store writes (orders, sagas, ...)  │
	│         ├─ OutboxStore.SaveEvent                     │
	│         └─ idempotency ledger insert                 │
	│                                                      │
	│  Store methods take a Querier, satisfied by both     │
	│  *sqlx.DB and *sqlx.Tx, so the same method serves    │
	│  read paths and transactional handlers.              │
	└──────────────────────────────────────────────────────┘

# Concurrency

Rows are serialized by row-level locking: SagaStore.GetForUpdate takes a
FOR UPDATE lock so concurrent reply handlers for one saga queue behind
each other. Order and Payment rows carry an optimistic version counter;
a conditional update that affects zero rows surfaces ErrVersionConflict.
Delivery writes additionally carry a fencing token (ApplyFenced); zero
rows affected there means a stale writer, not a lost update.

# Integration Points

  - pkg/saga: transactional handlers over SagaStore + OrderStore + OutboxStore
  - pkg/outbox: relay scan (FetchUnpublished/MarkPublished) and retention
  - pkg/payment, pkg/delivery: command handlers over their own schemas
  - pkg/idempotency: processed_events, co-committed with the above
*/
package storage
