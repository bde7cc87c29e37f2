package storage

import (
	"context"
	"fmt"

	"github.com/ressKim-io/goeats/pkg/types"
)

// OrderStore persists orders and their line items in the order schema.
type OrderStore struct{}

// NewOrderStore creates an OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{}
}

// Insert writes the order and its items. Caller supplies the transaction
// so the saga row and outbox record co-commit.
func (s *OrderStore) Insert(ctx context.Context, q Querier, order *types.Order) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, store_id, total_amount, status, address, payment_method, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)`,
		order.ID, order.UserID, order.StoreID, order.TotalAmount, order.Status,
		order.Address, order.PaymentMethod, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}

	for _, item := range order.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, menu_id, quantity, price_snapshot)
			VALUES ($1, $2, $3, $4)`,
			order.ID, item.MenuID, item.Quantity, item.PriceSnapshot)
		if err != nil {
			return fmt.Errorf("failed to insert order item for %s: %w", order.ID, err)
		}
	}
	return nil
}

// Get returns the order with its items.
func (s *OrderStore) Get(ctx context.Context, q Querier, id string) (*types.Order, error) {
	var order types.Order
	err := q.GetContext(ctx, &order, `
		SELECT id, user_id, store_id, total_amount, status, address, payment_method, created_at, version
		FROM orders WHERE id = $1`, id)
	if err != nil {
		return nil, mapNotFound(err)
	}

	err = q.SelectContext(ctx, &order.Items, `
		SELECT order_id, menu_id, quantity, price_snapshot
		FROM order_items WHERE order_id = $1 ORDER BY menu_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load items for order %s: %w", id, err)
	}
	return &order, nil
}

// UpdateStatus moves the order to status, guarded by the optimistic
// version counter. Zero rows means a concurrent handler won; callers
// reload and re-decide.
func (s *OrderStore) UpdateStatus(ctx context.Context, q Querier, id string, status types.OrderStatus, version int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, version = version + 1
		WHERE id = $1 AND version = $3`,
		id, status, version)
	if err != nil {
		return fmt.Errorf("failed to update order %s status: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("order %s version conflict at %d: %w", id, version, ErrVersionConflict)
	}
	return nil
}

// ErrVersionConflict signals an optimistic-lock miss on an order or
// payment row.
var ErrVersionConflict = fmt.Errorf("optimistic version conflict")
