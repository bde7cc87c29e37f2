package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarkPublishedIsOneShot: a record whose flag is already set is
// never re-marked, which is what "never re-published after the flag is
// set" rests on.
func TestMarkPublishedIsOneShot(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore()

	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkPublished(context.Background(), db, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already published")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEventInsertsUnpublished(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore()

	mock.ExpectExec(`INSERT INTO outbox_events`).
		WithArgs("Order", "order-1", "ProcessPayment", []byte(`{"a":1}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.SaveEvent(context.Background(), db, "Order", "order-1", "ProcessPayment", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchUnpublishedOrdering(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOutboxStore()

	base := time.Now()
	rows := sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "published", "created_at", "published_at"}).
		AddRow(int64(1), "Order", "o-1", "OrderCreated", []byte(`{}`), false, base, nil).
		AddRow(int64(2), "Order", "o-1", "ProcessPayment", []byte(`{}`), false, base.Add(time.Millisecond), nil)

	mock.ExpectQuery(`SELECT (.+) FROM outbox_events`).
		WithArgs(100).
		WillReturnRows(rows)

	records, err := store.FetchUnpublished(context.Background(), db, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, int64(2), records[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUpdateStatusVersionConflict: an optimistic-lock miss surfaces
// ErrVersionConflict instead of silently losing the update.
func TestUpdateStatusVersionConflict(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewOrderStore()

	mock.ExpectExec(`UPDATE orders`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateStatus(context.Background(), db, "order-1", "PAID", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
