package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ressKim-io/goeats/pkg/types"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

// TestApplyFencedAccepts: a fresh token updates the row and reports one
// row affected.
func TestApplyFencedAccepts(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewDeliveryStore()

	rider := "rider-1"
	mock.ExpectExec(`UPDATE deliveries`).
		WithArgs("d-1", string(types.DeliveryStatusRiderAssigned), "rider-1", int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := store.ApplyFenced(context.Background(), db, "d-1", types.DeliveryStatusRiderAssigned, &rider, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestApplyFencedRejectsStaleToken mirrors the paused-writer scenario:
// writer A resumes with token 5 after writer B applied token 6; the
// conditional update touches zero rows and the caller surfaces
// StaleLock.
func TestApplyFencedRejectsStaleToken(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewDeliveryStore()

	mock.ExpectExec(`UPDATE deliveries`).
		WithArgs("d-1", string(types.DeliveryStatusPickedUp), nil, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := store.ApplyFenced(context.Background(), db, "d-1", types.DeliveryStatusPickedUp, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "stale writer must affect zero rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}
