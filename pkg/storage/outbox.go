package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ressKim-io/goeats/pkg/types"
)

// OutboxStore reads and writes the outbox_events table of the service's
// own schema. SaveEvent takes the caller's Querier so the append lands
// in the same transaction as the business mutation it describes.
type OutboxStore struct{}

// NewOutboxStore creates an OutboxStore.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{}
}

// SaveEvent appends one record. Must be called with an open transaction.
func (s *OutboxStore) SaveEvent(ctx context.Context, q Querier, aggregateType, aggregateID, eventType string, payload []byte) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, published, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())`,
		aggregateType, aggregateID, eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to append outbox event %s for %s: %w", eventType, aggregateID, err)
	}
	return nil
}

// FetchUnpublished returns up to limit unpublished records in creation
// order. The (published, created_at) index backs this scan.
func (s *OutboxStore) FetchUnpublished(ctx context.Context, q Querier, limit int) ([]types.OutboxRecord, error) {
	var records []types.OutboxRecord
	err := q.SelectContext(ctx, &records, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, published, created_at, published_at
		FROM outbox_events
		WHERE published = FALSE
		ORDER BY created_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpublished outbox events: %w", err)
	}
	return records, nil
}

// MarkPublished flips the published flag exactly once; a record whose
// flag is already set is never re-marked, so it is never re-published.
func (s *OutboxStore) MarkPublished(ctx context.Context, q Querier, id int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE outbox_events
		SET published = TRUE, published_at = NOW()
		WHERE id = $1 AND published = FALSE`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event %d published: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("outbox event %d already published", id)
	}
	return nil
}

// DeletePublishedBefore removes published records older than cutoff and
// returns how many were deleted. Run by the retention job, never the
// relay.
func (s *OutboxStore) DeletePublishedBefore(ctx context.Context, q Querier, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		DELETE FROM outbox_events
		WHERE published = TRUE AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published outbox events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountUnpublished returns the current relay backlog size.
func (s *OutboxStore) CountUnpublished(ctx context.Context, q Querier) (int64, error) {
	var n int64
	if err := q.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox_events WHERE published = FALSE`); err != nil {
		return 0, fmt.Errorf("failed to count unpublished outbox events: %w", err)
	}
	return n, nil
}
