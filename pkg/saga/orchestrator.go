package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/ressKim-io/goeats/pkg/apperr"
	"github.com/ressKim-io/goeats/pkg/idempotency"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
	"github.com/ressKim-io/goeats/pkg/notify"
	"github.com/ressKim-io/goeats/pkg/queue"
	"github.com/ressKim-io/goeats/pkg/storage"
	"github.com/ressKim-io/goeats/pkg/types"
)

// aggregateOrder tags outbox records whose aggregate is the order.
const aggregateOrder = "Order"

// Orchestrator drives the order-processing saga: it emits payment and
// delivery commands, consumes their replies, decides advance versus
// compensate, and persists every step transition atomically with the
// next command emission. It is the only writer of saga state.
type Orchestrator struct {
	db       *sqlx.DB
	sagas    *storage.SagaStore
	orders   *storage.OrderStore
	outbox   *storage.OutboxStore
	ledger   *idempotency.Ledger
	notifier *notify.Notifier
	queue    *queue.Queue
	logger   zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(db *sqlx.DB, sagas *storage.SagaStore, orders *storage.OrderStore, outbox *storage.OutboxStore, ledger *idempotency.Ledger, notifier *notify.Notifier, q *queue.Queue) *Orchestrator {
	return &Orchestrator{
		db:       db,
		sagas:    sagas,
		orders:   orders,
		outbox:   outbox,
		ledger:   ledger,
		notifier: notifier,
		queue:    q,
		logger:   log.WithComponent("saga"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// StartSagaTx creates the saga row, the OrderCreated event, and the
// ProcessPayment command in the caller's transaction, so order + saga
// + outbox commit together. The sagaID is externally generated by the
// caller.
func (o *Orchestrator) StartSagaTx(ctx context.Context, tx *sqlx.Tx, sagaID string, order *types.Order) error {
	return o.startSaga(ctx, tx, sagaID, order, true)
}

// StartSagaQueuedTx is StartSagaTx for orders held by the admission
// queue: the saga and OrderCreated event are written, but the payment
// command waits for ReleasePayment when the dequeuer admits the order.
func (o *Orchestrator) StartSagaQueuedTx(ctx context.Context, tx *sqlx.Tx, sagaID string, order *types.Order) error {
	return o.startSaga(ctx, tx, sagaID, order, false)
}

func (o *Orchestrator) startSaga(ctx context.Context, tx *sqlx.Tx, sagaID string, order *types.Order, emitPayment bool) error {
	state := NewState(sagaID, order.ID, o.now())
	if err := o.sagas.Insert(ctx, tx, state); err != nil {
		return err
	}
	if err := o.appendOrderEvent(ctx, tx, order, types.EventOrderCreated); err != nil {
		return err
	}

	if emitPayment {
		cmd := types.PaymentCommand{
			EventID: o.newID(),
			SagaID:  sagaID,
			OrderID: order.ID,
			Type:    types.PaymentCommandProcess,
			Amount:  order.TotalAmount,
			Method:  order.PaymentMethod,
			SentAt:  o.now(),
		}
		if err := o.appendEvent(ctx, tx, order.ID, types.EventProcessPayment, cmd); err != nil {
			return err
		}
	}

	metrics.SagaTransitionsTotal.WithLabelValues(string(types.StepPaymentPending)).Inc()
	o.logger.Info().
		Str("saga_id", sagaID).
		Str("order_id", order.ID).
		Int64("amount", order.TotalAmount).
		Bool("queued", !emitPayment).
		Msg("Saga started")
	return nil
}

// OnPaymentResult handles the PAYMENT step reply.
//
// Success: PAYMENT_PENDING → PAYMENT_COMPLETED, order becomes PAID,
// then PAYMENT_COMPLETED → DELIVERY_PENDING with a CreateDelivery
// command. Failure: terminal FAILED, order CANCELLED — nothing to
// compensate, no payment was taken.
func (o *Orchestrator) OnPaymentResult(ctx context.Context, reply *types.SagaReply) error {
	return o.handleReply(ctx, "payment", reply, func(tx *sqlx.Tx, state *types.SagaState, order *types.Order) error {
		if !reply.Success {
			return o.failTx(ctx, tx, state, order, reply.Reason)
		}

		if err := Transition(state, types.StepPaymentCompleted, o.now()); err != nil {
			return err
		}
		if err := o.orders.UpdateStatus(ctx, tx, order.ID, types.OrderStatusPaid, order.Version); err != nil {
			return err
		}
		order.Status = types.OrderStatusPaid
		order.Version++

		if err := Transition(state, types.StepDeliveryPending, o.now()); err != nil {
			return err
		}
		cmd := types.DeliveryCommand{
			EventID: o.newID(),
			SagaID:  state.ID,
			OrderID: order.ID,
			Address: order.Address,
			SentAt:  o.now(),
		}
		return o.appendEvent(ctx, tx, order.ID, types.EventCreateDelivery, cmd)
	})
}

// OnDeliveryResult handles the DELIVERY step reply.
//
// Success: DELIVERY_PENDING → COMPLETED, order becomes DELIVERING.
// Failure: compensation — COMPENSATING_PAYMENT with a CompensatePayment
// command; the payment already went through and must be refunded.
func (o *Orchestrator) OnDeliveryResult(ctx context.Context, reply *types.SagaReply) error {
	return o.handleReply(ctx, "delivery", reply, func(tx *sqlx.Tx, state *types.SagaState, order *types.Order) error {
		if !reply.Success {
			return o.compensateTx(ctx, tx, state, order, reply.Reason)
		}

		if err := Transition(state, types.StepCompleted, o.now()); err != nil {
			return err
		}
		if err := o.orders.UpdateStatus(ctx, tx, order.ID, types.OrderStatusDelivering, order.Version); err != nil {
			return err
		}
		order.Status = types.OrderStatusDelivering
		order.Version++
		return nil
	})
}

// OnCompensationResult handles the PAYMENT_COMPENSATE step reply:
// terminal FAILED, order CANCELLED. A failed compensation still
// terminates the saga; the refund lands in the dead-letter flow for
// operator action.
func (o *Orchestrator) OnCompensationResult(ctx context.Context, reply *types.SagaReply) error {
	return o.handleReply(ctx, "compensation", reply, func(tx *sqlx.Tx, state *types.SagaState, order *types.Order) error {
		if !reply.Success {
			o.logger.Error().
				Str("saga_id", state.ID).
				Str("reason", reply.Reason).
				Msg("Compensation itself failed; refund requires operator action")
		}

		if err := Transition(state, types.StepFailed, o.now()); err != nil {
			return err
		}
		if err := o.orders.UpdateStatus(ctx, tx, order.ID, types.OrderStatusCancelled, order.Version); err != nil {
			return err
		}
		order.Status = types.OrderStatusCancelled
		order.Version++
		return o.appendOrderEvent(ctx, tx, order, types.EventOrderCancelled)
	})
}

// CancelByUser turns a user cancel into the matching saga move: before
// payment, PAYMENT_PENDING → FAILED; after payment (order PAID,
// DELIVERY_PENDING), compensation. Terminal or mid-flight steps reject
// the cancel with InvalidStateTransition, which is also what stops a
// duplicate cancel from double-refunding.
func (o *Orchestrator) CancelByUser(ctx context.Context, orderID, reason string) error {
	var status types.OrderStatus
	terminal := false

	err := storage.WithTx(ctx, o.db, func(tx *sqlx.Tx) error {
		state, err := o.sagas.GetByOrderIDForUpdate(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.EntityNotFound("order", orderID)
			}
			return err
		}
		order, err := o.orders.Get(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.Cancellable() {
			return apperr.Newf(apperr.KindInvalidStateTransition,
				"order %s in status %s cannot be cancelled", orderID, order.Status)
		}

		switch state.Step {
		case types.StepPaymentPending:
			if err := o.failTx(ctx, tx, state, order, reason); err != nil {
				return err
			}
		case types.StepDeliveryPending:
			if err := o.compensateTx(ctx, tx, state, order, reason); err != nil {
				return err
			}
		default:
			return apperr.Newf(apperr.KindInvalidStateTransition,
				"order %s cannot be cancelled at saga step %s", orderID, state.Step)
		}

		if err := o.sagas.Update(ctx, tx, state); err != nil {
			return err
		}
		status = order.Status
		terminal = Terminal(state)
		return nil
	})
	if err != nil {
		return err
	}

	o.notifier.Publish(orderID, status)
	if terminal {
		metrics.OrdersInflight.Dec()
		if err := o.queue.DecInflight(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to decrement inflight counter")
		}
	}
	return nil
}

// ReleasePayment emits the ProcessPayment command for a queued order
// whose saga was created without one. The deterministic event id makes
// a re-release (after a dequeue failure) collapse in the payment
// service's ledger instead of charging twice.
func (o *Orchestrator) ReleasePayment(ctx context.Context, orderID string) error {
	return storage.WithTx(ctx, o.db, func(tx *sqlx.Tx) error {
		state, err := o.sagas.GetByOrderIDForUpdate(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.EntityNotFound("order", orderID)
			}
			return err
		}
		if state.Step != types.StepPaymentPending {
			// Already released and progressed; nothing to do.
			return nil
		}
		order, err := o.orders.Get(ctx, tx, orderID)
		if err != nil {
			return err
		}

		cmd := types.PaymentCommand{
			EventID: releaseEventID(orderID),
			SagaID:  state.ID,
			OrderID: orderID,
			Type:    types.PaymentCommandProcess,
			Amount:  order.TotalAmount,
			Method:  order.PaymentMethod,
			SentAt:  o.now(),
		}
		return o.appendEvent(ctx, tx, orderID, types.EventProcessPayment, cmd)
	})
}

// releaseEventID derives a stable UUID from the order id so repeated
// releases carry the same event identity.
func releaseEventID(orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("payment-release:"+orderID)).String()
}

// handleReply is the shared transactional frame of every reply handler:
// idempotency check, saga row lock, step logic, persist, post-commit
// notification and in-flight accounting.
func (o *Orchestrator) handleReply(ctx context.Context, handler string, reply *types.SagaReply, fn func(tx *sqlx.Tx, state *types.SagaState, order *types.Order) error) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.SagaHandlerDuration, handler)
	}()

	var (
		orderID   string
		status    types.OrderStatus
		terminal  bool
		duplicate bool
	)

	err := storage.WithTx(ctx, o.db, func(tx *sqlx.Tx) error {
		processed, err := o.ledger.IsProcessed(ctx, tx, reply.EventID)
		if err != nil {
			return err
		}
		if processed {
			duplicate = true
			return nil
		}

		state, err := o.sagas.GetForUpdate(ctx, tx, reply.SagaID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.EntityNotFound("saga", reply.SagaID)
			}
			return err
		}
		order, err := o.orders.Get(ctx, tx, state.OrderID)
		if err != nil {
			return err
		}

		if err := fn(tx, state, order); err != nil {
			return err
		}

		if err := o.sagas.Update(ctx, tx, state); err != nil {
			return err
		}
		if err := o.ledger.MarkProcessed(ctx, tx, reply.EventID); err != nil {
			return err
		}

		orderID = order.ID
		status = order.Status
		terminal = Terminal(state)
		metrics.SagaTransitionsTotal.WithLabelValues(string(state.Step)).Inc()
		return nil
	})
	if err != nil {
		return fmt.Errorf("saga %s %s handler: %w", reply.SagaID, handler, err)
	}

	if duplicate {
		metrics.DuplicateEventsTotal.Inc()
		o.logger.Debug().
			Str("event_id", reply.EventID).
			Str("saga_id", reply.SagaID).
			Msg("Duplicate reply skipped")
		return nil
	}

	o.notifier.Publish(orderID, status)

	if terminal {
		metrics.OrdersInflight.Dec()
		if err := o.queue.DecInflight(ctx); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to decrement inflight counter")
		}
	}
	return nil
}

// failTx ends the saga without compensation: the payment never
// happened, so there is nothing to undo.
func (o *Orchestrator) failTx(ctx context.Context, tx *sqlx.Tx, state *types.SagaState, order *types.Order, reason string) error {
	if err := Transition(state, types.StepFailed, o.now()); err != nil {
		return err
	}
	state.FailureReason = &reason

	if err := o.orders.UpdateStatus(ctx, tx, order.ID, types.OrderStatusCancelled, order.Version); err != nil {
		return err
	}
	order.Status = types.OrderStatusCancelled
	order.Version++

	o.logger.Warn().
		Str("saga_id", state.ID).
		Str("order_id", order.ID).
		Str("reason", reason).
		Msg("Saga failed, order cancelled")

	return o.appendOrderEvent(ctx, tx, order, types.EventOrderCancelled)
}

// compensateTx flips the saga into compensation and emits the
// CompensatePayment command atomically with the step transition, so a
// retry cannot double-refund.
func (o *Orchestrator) compensateTx(ctx context.Context, tx *sqlx.Tx, state *types.SagaState, order *types.Order, reason string) error {
	if err := Transition(state, types.StepCompensatingPayment, o.now()); err != nil {
		return err
	}
	state.FailureReason = &reason

	cmd := types.PaymentCommand{
		EventID: o.newID(),
		SagaID:  state.ID,
		OrderID: order.ID,
		Type:    types.PaymentCommandCompensate,
		Amount:  order.TotalAmount,
		Method:  order.PaymentMethod,
		SentAt:  o.now(),
	}
	if err := o.appendEvent(ctx, tx, order.ID, types.EventCompensatePayment, cmd); err != nil {
		return err
	}

	metrics.SagaCompensationsTotal.Inc()
	o.logger.Warn().
		Str("saga_id", state.ID).
		Str("order_id", order.ID).
		Str("reason", reason).
		Msg("Compensation started")
	return nil
}

func (o *Orchestrator) appendEvent(ctx context.Context, tx *sqlx.Tx, orderID, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", eventType, err)
	}
	return o.outbox.SaveEvent(ctx, tx, aggregateOrder, orderID, eventType, data)
}

func (o *Orchestrator) appendOrderEvent(ctx context.Context, tx *sqlx.Tx, order *types.Order, eventType string) error {
	return o.appendEvent(ctx, tx, order.ID, eventType, types.OrderEvent{
		EventID: o.newID(),
		OrderID: order.ID,
		UserID:  order.UserID,
		StoreID: order.StoreID,
		Amount:  order.TotalAmount,
		Status:  order.Status,
		SentAt:  o.now(),
	})
}
