package storage

import (
	"context"
	"fmt"

	"github.com/ressKim-io/goeats/pkg/types"
)

// SagaStore persists saga state rows in the order schema. All transitions
// are serialized by GetForUpdate row locking; only the orchestrator
// writes these rows.
type SagaStore struct{}

// NewSagaStore creates a SagaStore.
func NewSagaStore() *SagaStore {
	return &SagaStore{}
}

// Insert creates the saga row inside the caller's transaction.
func (s *SagaStore) Insert(ctx context.Context, q Querier, saga *types.SagaState) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO saga_states (id, saga_type, order_id, status, step, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		saga.ID, saga.Type, saga.OrderID, saga.Status, saga.Step, saga.FailureReason, saga.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert saga %s: %w", saga.ID, err)
	}
	return nil
}

// GetForUpdate loads the saga row under a row lock, serializing
// concurrent reply handlers for the same saga.
func (s *SagaStore) GetForUpdate(ctx context.Context, q Querier, id string) (*types.SagaState, error) {
	var saga types.SagaState
	err := q.GetContext(ctx, &saga, `
		SELECT id, saga_type, order_id, status, step, failure_reason, created_at, updated_at
		FROM saga_states WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &saga, nil
}

// GetByOrderIDForUpdate locks the order's saga row, for flows entered
// by order id (user cancel, queued-order release).
func (s *SagaStore) GetByOrderIDForUpdate(ctx context.Context, q Querier, orderID string) (*types.SagaState, error) {
	var saga types.SagaState
	err := q.GetContext(ctx, &saga, `
		SELECT id, saga_type, order_id, status, step, failure_reason, created_at, updated_at
		FROM saga_states WHERE order_id = $1 FOR UPDATE`, orderID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &saga, nil
}

// Get loads the saga row without locking, for read paths.
func (s *SagaStore) Get(ctx context.Context, q Querier, id string) (*types.SagaState, error) {
	var saga types.SagaState
	err := q.GetContext(ctx, &saga, `
		SELECT id, saga_type, order_id, status, step, failure_reason, created_at, updated_at
		FROM saga_states WHERE id = $1`, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &saga, nil
}

// Update persists the saga's status, step and failure reason.
func (s *SagaStore) Update(ctx context.Context, q Querier, saga *types.SagaState) error {
	res, err := q.ExecContext(ctx, `
		UPDATE saga_states
		SET status = $2, step = $3, failure_reason = $4, updated_at = NOW()
		WHERE id = $1`,
		saga.ID, saga.Status, saga.Step, saga.FailureReason)
	if err != nil {
		return fmt.Errorf("failed to update saga %s: %w", saga.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("saga %s disappeared during update", saga.ID)
	}
	return nil
}
