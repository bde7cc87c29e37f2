package storage

import (
	"context"
	"fmt"

	"github.com/ressKim-io/goeats/pkg/types"
)

// DeliveryStore persists deliveries in the delivery schema. Status
// writes go through ApplyFenced: the conditional update that makes
// fencing tokens authoritative even when the advisory lock fails to
// exclude a second writer.
type DeliveryStore struct{}

// NewDeliveryStore creates a DeliveryStore.
func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{}
}

// Insert writes a new delivery row inside the caller's transaction.
func (s *DeliveryStore) Insert(ctx context.Context, q Querier, d *types.Delivery) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO deliveries (id, order_id, status, rider_id, estimated_arrival, last_fencing_token, created_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)`,
		d.ID, d.OrderID, d.Status, d.RiderID, d.EstimatedArrival, d.LastFencingToken, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert delivery for order %s: %w", d.OrderID, err)
	}
	return nil
}

// GetByOrderID returns the delivery for an order.
func (s *DeliveryStore) GetByOrderID(ctx context.Context, q Querier, orderID string) (*types.Delivery, error) {
	var d types.Delivery
	err := q.GetContext(ctx, &d, `
		SELECT id, order_id, status, rider_id, estimated_arrival, last_fencing_token, created_at, version
		FROM deliveries WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &d, nil
}

// ApplyFenced updates delivery status and rider, rejecting the write if
// an equal or higher fencing token has already been applied. Returns the number
// of rows affected: zero signals a stale writer.
func (s *DeliveryStore) ApplyFenced(ctx context.Context, q Querier, id string, status types.DeliveryStatus, riderID *string, token int64) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $2,
		    rider_id = COALESCE($3, rider_id),
		    last_fencing_token = $4,
		    version = version + 1
		WHERE id = $1
		  AND (last_fencing_token IS NULL OR last_fencing_token < $4)`,
		id, status, riderID, token)
	if err != nil {
		return 0, fmt.Errorf("failed fenced update of delivery %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows for delivery %s: %w", id, err)
	}
	return n, nil
}
