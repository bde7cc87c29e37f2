package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ressKim-io/goeats/pkg/broker"
	"github.com/ressKim-io/goeats/pkg/storage"
)

// fakePublisher records publishes and fails on demand.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMsg
	failOn    map[string]error // aggregate id -> error
}

type publishedMsg struct {
	Binding string
	Key     string
	Value   string
}

func (f *fakePublisher) Publish(ctx context.Context, binding, key string, value []byte, headers ...broker.Header) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[key]; ok {
		return err
	}
	f.published = append(f.published, publishedMsg{Binding: binding, Key: key, Value: string(value)})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func newTestRelay(t *testing.T, pub *fakePublisher) (*Relay, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	r := NewRelay(db, storage.NewOutboxStore(), pub, nil, Config{BatchSize: 100})
	return r, mock
}

func outboxRows(n int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "published", "created_at", "published_at"})
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rows.AddRow(int64(i+1), "Order", "order-1", "ProcessPayment", []byte(`{}`), false, base.Add(time.Duration(i)*time.Millisecond), nil)
	}
	return rows
}

// TestDrainPublishesInOrder verifies the happy path: every record is
// published in creation order, keyed by its aggregate id, and marked
// published exactly once.
func TestDrainPublishesInOrder(t *testing.T) {
	pub := &fakePublisher{}
	r, mock := newTestRelay(t, pub)

	mock.ExpectQuery(`SELECT (.+) FROM outbox_events`).
		WillReturnRows(outboxRows(3))
	for i := 1; i <= 3; i++ {
		mock.ExpectExec(`UPDATE outbox_events`).
			WithArgs(int64(i)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	require.NoError(t, r.drain(context.Background()))
	require.Len(t, pub.published, 3)
	for _, p := range pub.published {
		assert.Equal(t, "order-1", p.Key)
		assert.Equal(t, broker.BindingPaymentCommands, p.Binding)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestDrainStopsAtFirstFailure: a failed publish aborts the batch so a
// later record of the same aggregate can never overtake an earlier
// one. Only the records before the failure are marked published.
func TestDrainStopsAtFirstFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "sqlmock")

	rows := sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "payload", "published", "created_at", "published_at"}).
		AddRow(int64(1), "Order", "order-1", "ProcessPayment", []byte(`{}`), false, time.Now(), nil).
		AddRow(int64(2), "Order", "order-2", "ProcessPayment", []byte(`{}`), false, time.Now(), nil).
		AddRow(int64(3), "Order", "order-1", "CreateDelivery", []byte(`{}`), false, time.Now(), nil)

	pub := &fakePublisher{failOn: map[string]error{"order-2": errors.New("broker down")}}
	r := NewRelay(db, storage.NewOutboxStore(), pub, nil, Config{BatchSize: 100})

	mock.ExpectQuery(`SELECT (.+) FROM outbox_events`).WillReturnRows(rows)
	// Only record 1 reaches mark-published; record 3 must not be
	// attempted after record 2 fails.
	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.drain(context.Background()))
	require.Len(t, pub.published, 1)
	assert.Equal(t, "order-1", pub.published[0].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestDrainEmptyBatch is a no-op tick.
func TestDrainEmptyBatch(t *testing.T) {
	pub := &fakePublisher{}
	r, mock := newTestRelay(t, pub)

	mock.ExpectQuery(`SELECT (.+) FROM outbox_events`).
		WillReturnRows(outboxRows(0))

	require.NoError(t, r.drain(context.Background()))
	assert.Empty(t, pub.published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestDrainStopsWhenMarkFails: if the published flag cannot be set the
// batch stops, trading a duplicate delivery (absorbed downstream) for
// preserved order.
func TestDrainStopsWhenMarkFails(t *testing.T) {
	pub := &fakePublisher{}
	r, mock := newTestRelay(t, pub)

	mock.ExpectQuery(`SELECT (.+) FROM outbox_events`).
		WillReturnRows(outboxRows(2))
	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(int64(1)).
		WillReturnError(errors.New("connection reset"))

	require.NoError(t, r.drain(context.Background()))
	// Record 1 was published (then mark failed); record 2 must not be.
	require.Len(t, pub.published, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
