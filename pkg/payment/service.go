// Package payment implements the payment service's command consumer:
// it charges or refunds through the gateway and reports the outcome to
// the orchestrator via its own outbox.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/ressKim-io/goeats/pkg/broker"
	"github.com/ressKim-io/goeats/pkg/idempotency"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/resilience"
	"github.com/ressKim-io/goeats/pkg/storage"
	"github.com/ressKim-io/goeats/pkg/types"
)

const aggregatePayment = "Payment"

// Service handles ProcessPayment and CompensatePayment commands.
type Service struct {
	db       *sqlx.DB
	payments *storage.PaymentStore
	outbox   *storage.OutboxStore
	ledger   *idempotency.Ledger
	gateway  Gateway
	envelope *resilience.Envelope
	logger   zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates the payment service. The gateway envelope keeps
// retry enabled: every gateway call carries an idempotency key.
func NewService(db *sqlx.DB, payments *storage.PaymentStore, outbox *storage.OutboxStore, ledger *idempotency.Ledger, gateway Gateway, cfg resilience.Config) *Service {
	cfg.Retryable = true
	return &Service{
		db:       db,
		payments: payments,
		outbox:   outbox,
		ledger:   ledger,
		gateway:  gateway,
		envelope: resilience.New("payment-gateway", cfg),
		logger:   log.WithComponent("payment-service"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Handler returns the broker handler for the payment-commands binding.
func (s *Service) Handler() broker.Handler {
	return func(ctx context.Context, msg *broker.Message) error {
		var cmd types.PaymentCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			return fmt.Errorf("malformed payment command: %w", err)
		}

		switch cmd.Type {
		case types.PaymentCommandProcess:
			return s.process(ctx, &cmd)
		case types.PaymentCommandCompensate:
			return s.compensate(ctx, &cmd)
		default:
			return fmt.Errorf("unknown payment command type %q", cmd.Type)
		}
	}
}

// process charges the order. The gateway call runs before the
// transaction — an external call holds no row locks — and is safe to
// repeat because it is keyed by the command's event id. The payment
// row, the ledger mark and the reply co-commit afterwards.
func (s *Service) process(ctx context.Context, cmd *types.PaymentCommand) error {
	// Fast duplicate check outside the transaction to skip a second
	// gateway round-trip; the in-transaction check remains the
	// authoritative one.
	if processed, err := s.ledger.IsProcessed(ctx, s.db, cmd.EventID); err == nil && processed {
		s.logger.Debug().Str("event_id", cmd.EventID).Msg("Duplicate payment command skipped")
		return nil
	}

	// A decline is an outcome, not a dependency failure: it must not
	// retry and must not feed the breaker's failure window.
	var declineErr error
	err := s.envelope.Do(ctx, func(ctx context.Context) error {
		err := s.gateway.Charge(ctx, cmd.EventID, cmd.OrderID, cmd.Amount, cmd.Method)
		if errors.Is(err, ErrDeclined) {
			declineErr = err
			return nil
		}
		return err
	}, nil)
	if err != nil {
		// Transport-level failure after retries: let the broker
		// redeliver the command rather than fabricating a decline.
		return fmt.Errorf("gateway charge for order %s: %w", cmd.OrderID, err)
	}

	status := types.PaymentStatusCompleted
	reason := ""
	if declineErr != nil {
		status = types.PaymentStatusFailed
		reason = declineErr.Error()
	}

	return storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		processed, err := s.ledger.IsProcessed(ctx, tx, cmd.EventID)
		if err != nil {
			return err
		}
		if processed {
			return nil
		}

		key := cmd.EventID
		p := &types.Payment{
			ID:             s.newID(),
			OrderID:        cmd.OrderID,
			Amount:         cmd.Amount,
			Method:         cmd.Method,
			Status:         status,
			IdempotencyKey: &key,
			CreatedAt:      s.now(),
		}
		if err := s.payments.Insert(ctx, tx, p); err != nil {
			return err
		}

		if status == types.PaymentStatusCompleted {
			if err := s.appendEvent(ctx, tx, cmd.OrderID, types.EventPaymentCompleted, types.OrderEvent{
				EventID: s.newID(),
				OrderID: cmd.OrderID,
				Amount:  cmd.Amount,
				SentAt:  s.now(),
			}); err != nil {
				return err
			}
		} else {
			if err := s.appendEvent(ctx, tx, cmd.OrderID, types.EventPaymentFailed, types.OrderEvent{
				EventID: s.newID(),
				OrderID: cmd.OrderID,
				Amount:  cmd.Amount,
				SentAt:  s.now(),
			}); err != nil {
				return err
			}
		}

		if err := s.reply(ctx, tx, cmd, types.StepNamePayment, status == types.PaymentStatusCompleted, reason); err != nil {
			return err
		}
		return s.ledger.MarkProcessed(ctx, tx, cmd.EventID)
	})
}

// compensate refunds a completed payment.
func (s *Service) compensate(ctx context.Context, cmd *types.PaymentCommand) error {
	if processed, err := s.ledger.IsProcessed(ctx, s.db, cmd.EventID); err == nil && processed {
		s.logger.Debug().Str("event_id", cmd.EventID).Msg("Duplicate compensate command skipped")
		return nil
	}

	p, err := s.payments.GetByOrderID(ctx, s.db, cmd.OrderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Nothing was charged; acknowledge so the saga can close.
			return s.replyOnly(ctx, cmd, types.StepNamePaymentCompensate, true, "no payment to refund")
		}
		return err
	}

	if p.Status == types.PaymentStatusCompleted {
		err := s.envelope.Do(ctx, func(ctx context.Context) error {
			return s.gateway.Refund(ctx, cmd.EventID, cmd.OrderID, p.Amount)
		}, nil)
		if err != nil {
			return fmt.Errorf("gateway refund for order %s: %w", cmd.OrderID, err)
		}
	}

	return storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		processed, err := s.ledger.IsProcessed(ctx, tx, cmd.EventID)
		if err != nil {
			return err
		}
		if processed {
			return nil
		}

		if p.Status == types.PaymentStatusCompleted {
			if err := s.payments.UpdateStatus(ctx, tx, p.ID, types.PaymentStatusRefunded, p.Version); err != nil {
				return err
			}
		}

		if err := s.reply(ctx, tx, cmd, types.StepNamePaymentCompensate, true, ""); err != nil {
			return err
		}
		return s.ledger.MarkProcessed(ctx, tx, cmd.EventID)
	})
}

// replyOnly writes a reply with its own transaction when there is no
// business row to touch.
func (s *Service) replyOnly(ctx context.Context, cmd *types.PaymentCommand, step types.SagaStepName, success bool, reason string) error {
	return storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		processed, err := s.ledger.IsProcessed(ctx, tx, cmd.EventID)
		if err != nil {
			return err
		}
		if processed {
			return nil
		}
		if err := s.reply(ctx, tx, cmd, step, success, reason); err != nil {
			return err
		}
		return s.ledger.MarkProcessed(ctx, tx, cmd.EventID)
	})
}

func (s *Service) reply(ctx context.Context, tx *sqlx.Tx, cmd *types.PaymentCommand, step types.SagaStepName, success bool, reason string) error {
	return s.appendEvent(ctx, tx, cmd.OrderID, types.EventSagaReply, types.SagaReply{
		EventID:  s.newID(),
		SagaID:   cmd.SagaID,
		OrderID:  cmd.OrderID,
		StepName: step,
		Success:  success,
		Reason:   reason,
		SentAt:   s.now(),
	})
}

func (s *Service) appendEvent(ctx context.Context, tx *sqlx.Tx, orderID, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", eventType, err)
	}
	return s.outbox.SaveEvent(ctx, tx, aggregatePayment, orderID, eventType, data)
}
