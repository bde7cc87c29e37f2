package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ressKim-io/goeats/pkg/apperr"
	"github.com/ressKim-io/goeats/pkg/broker"
	"github.com/ressKim-io/goeats/pkg/idempotency"
	"github.com/ressKim-io/goeats/pkg/locking"
	"github.com/ressKim-io/goeats/pkg/storage"
	"github.com/ressKim-io/goeats/pkg/types"
)

// fakeRedis backs the locker and fencing counter in memory.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	counts map[string]int64
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), counts: make(map[string]int64)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0] {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *fakeRedis) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	rdb := newFakeRedis()
	svc := NewService(sqlx.NewDb(mockDB, "sqlmock"),
		storage.NewDeliveryStore(),
		storage.NewOutboxStore(),
		idempotency.NewLedger(),
		locking.NewLocker(rdb),
		locking.NewFencingCounter(rdb),
		Config{Riders: []string{"rider-1", "rider-2"}, EstimatedETA: 30 * time.Minute})
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("del-%03d", seq)
	}
	return svc, mock, rdb
}

func createCmd() []byte {
	data, _ := json.Marshal(types.DeliveryCommand{
		EventID: "evt-1",
		SagaID:  "saga-1",
		OrderID: "order-1",
		Address: "A1",
	})
	return data
}

func expectLedgerCount(mock sqlmock.Sqlmock, n int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM processed_events`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

// TestCreateAssignsRider: the command creates the delivery, moves it
// to RIDER_ASSIGNED through the fenced writer, and replies success in
// the same transaction.
func TestCreateAssignsRider(t *testing.T) {
	svc, mock, rdb := newTestService(t)

	mock.ExpectBegin()
	expectLedgerCount(mock, 0)
	mock.ExpectExec(`INSERT INTO deliveries`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE deliveries`).
		WithArgs("del-001", string(types.DeliveryStatusRiderAssigned), "rider-1", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// DeliveryStatus event, then the SagaReply.
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`INSERT INTO processed_events`).
		WithArgs("evt-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := svc.Handler()(context.Background(), &broker.Message{Value: createCmd()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), rdb.counts["fence:delivery:order-1"], "one token per guarded write")
}

// TestCreateStaleTokenRollsBack: a fenced update that affects zero
// rows aborts the whole transaction with StaleLock — no reply, no
// ledger mark, nothing half-applied.
func TestCreateStaleTokenRollsBack(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectBegin()
	expectLedgerCount(mock, 0)
	mock.ExpectExec(`INSERT INTO deliveries`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE deliveries`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.Handler()(context.Background(), &broker.Message{Value: createCmd()})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStaleLock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestCreateNoRiderRepliesFailure: with an empty rider pool the step
// fails and the reply tells the orchestrator to compensate.
func TestCreateNoRiderRepliesFailure(t *testing.T) {
	svc, mock, _ := newTestService(t)
	svc.cfg.Riders = nil

	mock.ExpectBegin()
	expectLedgerCount(mock, 0)
	mock.ExpectExec(`INSERT INTO outbox_events`). // SagaReply(success=false)
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO processed_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := svc.Handler()(context.Background(), &broker.Message{Value: createCmd()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestUpdateStatusRejectsIllegalMove: the delivery's own transition
// rules hold regardless of fencing.
func TestUpdateStatusRejectsIllegalMove(t *testing.T) {
	svc, mock, _ := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM deliveries WHERE order_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "status", "rider_id", "estimated_arrival", "last_fencing_token", "created_at", "version"}).
			AddRow("del-1", "order-1", string(types.DeliveryStatusWaiting), nil, nil, nil, time.Now(), int64(0)))
	mock.ExpectRollback()

	err := svc.UpdateStatus(context.Background(), "order-1", types.DeliveryStatusDelivered)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))
	assert.NoError(t, mock.ExpectationsWereMet())
}
