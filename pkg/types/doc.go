/*
Package types defines the domain entities and event payloads shared across
the GoEats services.

Entities (Order, SagaState, Payment, Delivery, OutboxRecord, ProcessedEvent)
carry `db` tags for the sqlx stores in pkg/storage. Event payloads
(PaymentCommand, DeliveryCommand, SagaReply, OrderEvent) carry `json` tags
and travel through the outbox and the broker.

# Ownership

Each service owns its own tables and only its own types' writes:

	order service    → Order, OrderItem, SagaState
	payment service  → Payment
	delivery service → Delivery
	store service    → Store, Menu

Cross-service references are identifiers only (Order.StoreID, Order.UserID);
there are no foreign keys across service schemas. Every event payload carries
an EventID (UUID) used by the idempotency ledger and, for saga messages, a
SagaID correlation key.

# Status enums

OrderStatus, SagaStatus, SagaStep, PaymentStatus and DeliveryStatus are typed
strings; the legal transitions between them are enforced by pkg/saga (saga
steps) and by the owning services (payment, delivery), not here.
*/
package types
