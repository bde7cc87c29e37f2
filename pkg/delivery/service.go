// Package delivery implements the delivery service: it creates
// deliveries in response to CreateDelivery commands, assigns riders,
// and applies every status write through the fencing-token conditional
// update.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/ressKim-io/goeats/pkg/apperr"
	"github.com/ressKim-io/goeats/pkg/broker"
	"github.com/ressKim-io/goeats/pkg/idempotency"
	"github.com/ressKim-io/goeats/pkg/locking"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/storage"
	"github.com/ressKim-io/goeats/pkg/types"
)

const aggregateDelivery = "Delivery"

// statusNext defines the legal forward path of a delivery.
var statusNext = map[types.DeliveryStatus][]types.DeliveryStatus{
	types.DeliveryStatusWaiting:       {types.DeliveryStatusRiderAssigned, types.DeliveryStatusCancelled},
	types.DeliveryStatusRiderAssigned: {types.DeliveryStatusPickedUp, types.DeliveryStatusCancelled},
	types.DeliveryStatusPickedUp:      {types.DeliveryStatusDelivering, types.DeliveryStatusCancelled},
	types.DeliveryStatusDelivering:    {types.DeliveryStatusDelivered},
	types.DeliveryStatusDelivered:     {},
	types.DeliveryStatusCancelled:     {},
}

func canMove(from, to types.DeliveryStatus) bool {
	for _, t := range statusNext[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Config configures the delivery service.
type Config struct {
	// Riders is the round-robin pool assignments draw from.
	Riders []string
	// EstimatedETA is added to now() for the estimated completion time.
	EstimatedETA time.Duration
}

// Service handles CreateDelivery commands and fenced status updates.
type Service struct {
	db         *sqlx.DB
	deliveries *storage.DeliveryStore
	outbox     *storage.OutboxStore
	ledger     *idempotency.Ledger
	locker     *locking.Locker
	fencing    *locking.FencingCounter
	cfg        Config
	logger     zerolog.Logger

	riderCursor atomic.Uint64
	now         func() time.Time
	newID       func() string
}

// NewService creates the delivery service.
func NewService(db *sqlx.DB, deliveries *storage.DeliveryStore, outbox *storage.OutboxStore, ledger *idempotency.Ledger, locker *locking.Locker, fencing *locking.FencingCounter, cfg Config) *Service {
	if cfg.EstimatedETA <= 0 {
		cfg.EstimatedETA = 30 * time.Minute
	}
	return &Service{
		db:         db,
		deliveries: deliveries,
		outbox:     outbox,
		ledger:     ledger,
		locker:     locker,
		fencing:    fencing,
		cfg:        cfg,
		logger:     log.WithComponent("delivery-service"),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// Handler returns the broker handler for the delivery-commands binding.
func (s *Service) Handler() broker.Handler {
	return func(ctx context.Context, msg *broker.Message) error {
		var cmd types.DeliveryCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			return fmt.Errorf("malformed delivery command: %w", err)
		}
		return s.create(ctx, &cmd)
	}
}

// create builds the delivery, assigns a rider, and replies. The
// advisory lock narrows the window of concurrent writers per order;
// the fencing token is what actually rejects the stale one.
func (s *Service) create(ctx context.Context, cmd *types.DeliveryCommand) error {
	lease, err := s.locker.TryLock(ctx, "delivery:"+cmd.OrderID, time.Second, 5*time.Second)
	if err == nil {
		defer func() { _ = lease.Unlock(ctx) }()
	} else if !errors.Is(err, locking.ErrNotAcquired) {
		return err
	}

	token, err := s.fencing.Next(ctx, "delivery:"+cmd.OrderID)
	if err != nil {
		return err
	}

	rider, ok := s.pickRider()
	eta := s.now().Add(s.cfg.EstimatedETA)

	return storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		processed, err := s.ledger.IsProcessed(ctx, tx, cmd.EventID)
		if err != nil {
			return err
		}
		if processed {
			s.logger.Debug().Str("event_id", cmd.EventID).Msg("Duplicate delivery command skipped")
			return nil
		}

		if !ok {
			// No rider available: the step fails and the saga
			// compensates the payment.
			if err := s.reply(ctx, tx, cmd, false, "no rider available"); err != nil {
				return err
			}
			return s.ledger.MarkProcessed(ctx, tx, cmd.EventID)
		}

		d := &types.Delivery{
			ID:               s.newID(),
			OrderID:          cmd.OrderID,
			Status:           types.DeliveryStatusWaiting,
			EstimatedArrival: &eta,
			CreatedAt:        s.now(),
		}
		if err := s.deliveries.Insert(ctx, tx, d); err != nil {
			return err
		}

		n, err := s.deliveries.ApplyFenced(ctx, tx, d.ID, types.DeliveryStatusRiderAssigned, &rider, token)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.StaleLock("delivery:"+cmd.OrderID, token)
		}

		if err := s.appendStatusEvent(ctx, tx, cmd.OrderID, types.DeliveryStatusRiderAssigned, rider); err != nil {
			return err
		}
		if err := s.reply(ctx, tx, cmd, true, ""); err != nil {
			return err
		}
		return s.ledger.MarkProcessed(ctx, tx, cmd.EventID)
	})
}

// UpdateStatus applies a rider-side transition (picked up, delivering,
// delivered, cancelled) under a fresh fencing token.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to types.DeliveryStatus) error {
	token, err := s.fencing.Next(ctx, "delivery:"+orderID)
	if err != nil {
		return err
	}

	return storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		d, err := s.deliveries.GetByOrderID(ctx, tx, orderID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.EntityNotFound("delivery", orderID)
			}
			return err
		}
		if !canMove(d.Status, to) {
			return apperr.Newf(apperr.KindInvalidStateTransition,
				"delivery %s: illegal transition %s -> %s", d.ID, d.Status, to)
		}

		n, err := s.deliveries.ApplyFenced(ctx, tx, d.ID, to, nil, token)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.StaleLock("delivery:"+orderID, token)
		}

		rider := ""
		if d.RiderID != nil {
			rider = *d.RiderID
		}
		return s.appendStatusEvent(ctx, tx, orderID, to, rider)
	})
}

func (s *Service) pickRider() (string, bool) {
	if len(s.cfg.Riders) == 0 {
		return "", false
	}
	i := s.riderCursor.Add(1)
	return s.cfg.Riders[int(i-1)%len(s.cfg.Riders)], true
}

func (s *Service) reply(ctx context.Context, tx *sqlx.Tx, cmd *types.DeliveryCommand, success bool, reason string) error {
	return s.appendEvent(ctx, tx, cmd.OrderID, types.EventSagaReply, types.SagaReply{
		EventID:  s.newID(),
		SagaID:   cmd.SagaID,
		OrderID:  cmd.OrderID,
		StepName: types.StepNameDelivery,
		Success:  success,
		Reason:   reason,
		SentAt:   s.now(),
	})
}

func (s *Service) appendStatusEvent(ctx context.Context, tx *sqlx.Tx, orderID string, status types.DeliveryStatus, rider string) error {
	return s.appendEvent(ctx, tx, orderID, types.EventDeliveryStatus, types.DeliveryStatusEvent{
		EventID: s.newID(),
		OrderID: orderID,
		Status:  status,
		RiderID: rider,
		SentAt:  s.now(),
	})
}

func (s *Service) appendEvent(ctx context.Context, tx *sqlx.Tx, orderID, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", eventType, err)
	}
	return s.outbox.SaveEvent(ctx, tx, aggregateDelivery, orderID, eventType, data)
}
