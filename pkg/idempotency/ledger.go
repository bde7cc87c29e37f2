// Package idempotency implements the processed-event ledger that makes
// every consumer idempotent. A consumer checks the ledger, applies its
// business effect, and marks the event processed — all in one
// transaction — so redelivered events are absorbed without a second
// effect.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/ressKim-io/goeats/pkg/storage"
)

// Ledger is the processed_events table of the consuming service's
// schema. Rows are inserted once and never mutated.
type Ledger struct{}

// NewLedger creates a Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// IsProcessed reports whether eventID has already been applied. Call it
// inside the handler's transaction so the answer and the effect are
// consistent.
func (l *Ledger) IsProcessed(ctx context.Context, q storage.Querier, eventID string) (bool, error) {
	var n int
	err := q.GetContext(ctx, &n, `SELECT COUNT(*) FROM processed_events WHERE event_id = $1`, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed records eventID in the same transaction as the business
// effect it guards. The primary key makes a concurrent duplicate abort
// the later transaction.
func (l *Ledger) MarkProcessed(ctx context.Context, q storage.Querier, eventID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO processed_events (event_id, processed_at) VALUES ($1, NOW())`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	return nil
}

// DeleteOlderThan removes ledger rows older than cutoff. The retention
// window must exceed the broker's maximum redelivery window, otherwise
// a late redelivery would re-apply its effect.
func (l *Ledger) DeleteOlderThan(ctx context.Context, q storage.Querier, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
