package idempotency

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func TestIsProcessed(t *testing.T) {
	db, mock := newMockDB(t)
	ledger := NewLedger()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM processed_events`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM processed_events`).
		WithArgs("evt-2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	seen, err := ledger.IsProcessed(context.Background(), db, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = ledger.IsProcessed(context.Background(), db, "evt-2")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessedInsertsOnce(t *testing.T) {
	db, mock := newMockDB(t)
	ledger := NewLedger()

	mock.ExpectExec(`INSERT INTO processed_events`).
		WithArgs("evt-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, ledger.MarkProcessed(context.Background(), db, "evt-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
