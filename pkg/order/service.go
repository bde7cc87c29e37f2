// Package order implements the orchestration service's ingress: order
// creation behind the rate limiter, idempotency-key guard and admission
// queue, plus lookup, cancel and queue-status flows.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ressKim-io/goeats/pkg/apperr"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
	"github.com/ressKim-io/goeats/pkg/queue"
	"github.com/ressKim-io/goeats/pkg/saga"
	"github.com/ressKim-io/goeats/pkg/storage"
	"github.com/ressKim-io/goeats/pkg/store"
	"github.com/ressKim-io/goeats/pkg/types"
)

// idempotencyTTL is how long a used Idempotency-Key stays reserved.
const idempotencyTTL = 24 * time.Hour

// KeyCommands is the subset of redis commands the idempotency-key
// guard needs. *redis.Client satisfies it.
type KeyCommands interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// StoreReader is the read-path dependency; *store.Service satisfies it.
type StoreReader interface {
	GetStoreWithMenus(ctx context.Context, id int64) (*store.WithMenus, error)
}

// CreateRequest is the POST /orders body.
type CreateRequest struct {
	StoreID int64       `json:"storeId"`
	Items   []ItemInput `json:"items"`
	Method  string      `json:"method"`
	Address string      `json:"address"`
}

// ItemInput is one requested line item.
type ItemInput struct {
	MenuID   int64 `json:"menuId"`
	Quantity int   `json:"quantity"`
}

// CreateResult is what CreateOrder hands back to the HTTP layer: the
// order, and the queue status when the admission queue held it.
type CreateResult struct {
	Order  *types.Order
	Queued bool
	Status *queue.Status
}

// Service is the order application service.
type Service struct {
	db           *sqlx.DB
	orders       *storage.OrderStore
	orchestrator *saga.Orchestrator
	stores       StoreReader
	queue        *queue.Queue
	keys         KeyCommands
	logger       zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates the order service.
func NewService(db *sqlx.DB, orders *storage.OrderStore, orch *saga.Orchestrator, stores StoreReader, q *queue.Queue, keys KeyCommands) *Service {
	return &Service{
		db:           db,
		orders:       orders,
		orchestrator: orch,
		stores:       stores,
		queue:        q,
		keys:         keys,
		logger:       log.WithComponent("order-service"),
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// CreateOrder runs the accept flow: idempotency-key guard, store
// validation with price snapshots, then the atomic order + saga +
// outbox write — queued or direct depending on the admission queue.
func (s *Service) CreateOrder(ctx context.Context, userID int64, req *CreateRequest, idempotencyKey string) (*CreateResult, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.OrderCreateDuration)
	}()

	if err := validate(req); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		key := fmt.Sprintf("idem:%d:%s", userID, idempotencyKey)
		fresh, err := s.keys.SetNX(ctx, key, s.now().Format(time.RFC3339), idempotencyTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("idempotency key guard: %w", err)
		}
		if !fresh {
			return nil, apperr.DuplicateRequest(idempotencyKey)
		}
	}

	order, err := s.buildOrder(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	queued, err := s.queue.Active(ctx)
	if err != nil {
		// Queue state unknown: accept directly rather than refuse
		// orders over a redis blip.
		s.logger.Warn().Err(err).Msg("Admission queue state unavailable, accepting directly")
		queued = false
	}

	sagaID := s.newID()
	err = storage.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if err := s.orders.Insert(ctx, tx, order); err != nil {
			return err
		}
		if queued {
			return s.orchestrator.StartSagaQueuedTx(ctx, tx, sagaID, order)
		}
		return s.orchestrator.StartSagaTx(ctx, tx, sagaID, order)
	})
	if err != nil {
		return nil, err
	}

	metrics.OrdersCreatedTotal.Inc()
	metrics.OrdersInflight.Inc()
	if err := s.queue.IncInflight(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to increment inflight counter")
	}

	result := &CreateResult{Order: order, Queued: queued}
	if queued {
		if err := s.queue.Enqueue(ctx, order.ID, order.CreatedAt); err != nil {
			// The saga is durable; the released-by-dequeuer barrier is
			// not. Fall back to releasing immediately.
			s.logger.Error().Err(err).Str("order_id", order.ID).Msg("Enqueue failed, releasing immediately")
			if relErr := s.orchestrator.ReleasePayment(ctx, order.ID); relErr != nil {
				return nil, relErr
			}
			result.Queued = false
			return result, nil
		}
		if st, err := s.queue.Status(ctx, order.ID); err == nil {
			result.Status = st
		}
	}
	return result, nil
}

// buildOrder validates the store and snapshots menu prices.
func (s *Service) buildOrder(ctx context.Context, userID int64, req *CreateRequest) (*types.Order, error) {
	wm, err := s.stores.GetStoreWithMenus(ctx, req.StoreID)
	if err != nil {
		return nil, err
	}
	if !wm.Store.Open {
		return nil, apperr.Newf(apperr.KindInvalidInput, "store %d is closed", req.StoreID)
	}

	prices := make(map[int64]int64, len(wm.Menus))
	for _, m := range wm.Menus {
		prices[m.ID] = m.Price
	}

	order := &types.Order{
		ID:            s.newID(),
		UserID:        userID,
		StoreID:       req.StoreID,
		Status:        types.OrderStatusPaymentPending,
		Address:       req.Address,
		PaymentMethod: req.Method,
		CreatedAt:     s.now(),
	}

	for _, item := range req.Items {
		price, ok := prices[item.MenuID]
		if !ok {
			return nil, apperr.Newf(apperr.KindInvalidInput, "menu %d does not belong to store %d", item.MenuID, req.StoreID)
		}
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		order.Items = append(order.Items, types.OrderItem{
			OrderID:       order.ID,
			MenuID:        item.MenuID,
			Quantity:      qty,
			PriceSnapshot: price,
		})
		order.TotalAmount += price * int64(qty)
	}
	return order, nil
}

// GetOrder returns the order with line items.
func (s *Service) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	order, err := s.orders.Get(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.EntityNotFound("order", id)
		}
		return nil, err
	}
	return order, nil
}

// CancelOrder is the user-initiated cancel; ownership is enforced
// against the trusted caller identity.
func (s *Service) CancelOrder(ctx context.Context, userID int64, orderID string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return apperr.EntityNotFound("order", orderID)
	}
	return s.orchestrator.CancelByUser(ctx, orderID, "cancelled by user")
}

// QueueStatus reports the caller's position while queued.
func (s *Service) QueueStatus(ctx context.Context, orderID string) (*queue.Status, error) {
	st, err := s.queue.Status(ctx, orderID)
	if err != nil {
		if errors.Is(err, queue.ErrNotQueued) {
			return nil, apperr.EntityNotFound("queued order", orderID)
		}
		return nil, err
	}
	return st, nil
}

// ProcessQueuedOrder is the dequeuer's release barrier: it lets the
// already-started saga proceed to payment.
func (s *Service) ProcessQueuedOrder(ctx context.Context, orderID string) error {
	return s.orchestrator.ReleasePayment(ctx, orderID)
}

func validate(req *CreateRequest) error {
	switch {
	case req == nil:
		return apperr.InvalidInput("empty request body")
	case req.StoreID <= 0:
		return apperr.InvalidInput("storeId is required")
	case len(req.Items) == 0:
		return apperr.InvalidInput("at least one item is required")
	case req.Method == "":
		return apperr.InvalidInput("payment method is required")
	case req.Address == "":
		return apperr.InvalidInput("delivery address is required")
	}
	return nil
}
