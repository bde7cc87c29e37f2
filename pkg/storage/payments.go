package storage

import (
	"context"
	"fmt"

	"github.com/ressKim-io/goeats/pkg/types"
)

// PaymentStore persists payments in the payment schema. At most one row
// exists per order; the unique order_id constraint backs that up even
// under duplicate command delivery.
type PaymentStore struct{}

// NewPaymentStore creates a PaymentStore.
func NewPaymentStore() *PaymentStore {
	return &PaymentStore{}
}

// Insert writes a new payment row inside the caller's transaction.
func (s *PaymentStore) Insert(ctx context.Context, q Querier, p *types.Payment) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, amount, method, status, idempotency_key, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)`,
		p.ID, p.OrderID, p.Amount, p.Method, p.Status, p.IdempotencyKey, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment for order %s: %w", p.OrderID, err)
	}
	return nil
}

// GetByOrderID returns the payment for an order.
func (s *PaymentStore) GetByOrderID(ctx context.Context, q Querier, orderID string) (*types.Payment, error) {
	var p types.Payment
	err := q.GetContext(ctx, &p, `
		SELECT id, order_id, amount, method, status, idempotency_key, created_at, version
		FROM payments WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

// UpdateStatus moves a payment to status under the optimistic version
// counter.
func (s *PaymentStore) UpdateStatus(ctx context.Context, q Querier, id string, status types.PaymentStatus, version int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, version = version + 1
		WHERE id = $1 AND version = $3`,
		id, status, version)
	if err != nil {
		return fmt.Errorf("failed to update payment %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("payment %s version conflict at %d: %w", id, version, ErrVersionConflict)
	}
	return nil
}
