/*
Package saga implements the orchestration saga that drives an order
through payment and delivery, compensating on failure.

# Step machine

	PAYMENT_PENDING      → PAYMENT_COMPLETED | FAILED
	PAYMENT_COMPLETED    → DELIVERY_PENDING
	DELIVERY_PENDING     → COMPLETED | COMPENSATING_PAYMENT
	COMPENSATING_PAYMENT → FAILED
	COMPLETED, FAILED    → (terminal)

Transition validates every move against this matrix and returns
InvalidStateTransition for anything else, so an illegal transition is
rejected at the source instead of by convention. This is also what
prevents the double-cancel a duplicate failure event could otherwise
cause: the second event finds the saga already terminal and fails
validation instead of cancelling twice.

# Atomicity

Every entry point is one transaction: saga row (locked FOR UPDATE),
order row, and the outbox record of the next command commit together.
The saga therefore advances atomically with its command emission — a
crash either leaves the old step with no command, or the new step with
the command durably queued. Replies are deduplicated by the idempotency
ledger inside the same transaction.

# Flow

	startSaga ──ProcessPayment──▶ payment service
	   ◀──SagaReply(PAYMENT)──
	success: order=PAID ──CreateDelivery──▶ delivery service
	   ◀──SagaReply(DELIVERY)──
	success: COMPLETED, order=DELIVERING
	failure: COMPENSATING_PAYMENT ──CompensatePayment──▶ payment service
	   ◀──SagaReply(PAYMENT_COMPENSATE)── → FAILED, order=CANCELLED

Orchestration (one component sees the whole flow, compensation logic is
centralized) was chosen over choreography; the contrast is deliberate
and the step validation above is the main payoff.

The realtime notifier is invoked synchronously after each handler's
transaction commits; it is fire-and-forget and never part of the
durability path.
*/
package saga
