package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ressKim-io/goeats/pkg/broker"
	"github.com/ressKim-io/goeats/pkg/idempotency"
	"github.com/ressKim-io/goeats/pkg/resilience"
	"github.com/ressKim-io/goeats/pkg/storage"
	"github.com/ressKim-io/goeats/pkg/types"
)

func newTestService(t *testing.T, gw Gateway) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	svc := NewService(sqlx.NewDb(mockDB, "sqlmock"),
		storage.NewPaymentStore(),
		storage.NewOutboxStore(),
		idempotency.NewLedger(),
		gw,
		resilience.Config{CallTimeout: time.Second, RetryBaseDelay: time.Millisecond})
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("pay-%03d", seq)
	}
	return svc, mock
}

func processCmd() []byte {
	data, _ := json.Marshal(types.PaymentCommand{
		EventID: "evt-1",
		SagaID:  "saga-1",
		OrderID: "order-1",
		Type:    types.PaymentCommandProcess,
		Amount:  8000,
		Method:  "CARD",
	})
	return data
}

func expectLedgerCount(mock sqlmock.Sqlmock, n int) {
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM processed_events`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

// TestProcessSuccess: a successful charge inserts the COMPLETED row,
// the PaymentCompleted event and the success reply, and marks the
// command processed — one transaction.
func TestProcessSuccess(t *testing.T) {
	gw := NewStubGateway()
	svc, mock := newTestService(t, gw)

	expectLedgerCount(mock, 0) // pre-charge fast path
	mock.ExpectBegin()
	expectLedgerCount(mock, 0)
	mock.ExpectExec(`INSERT INTO payments`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// PaymentCompleted event, then the SagaReply.
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`INSERT INTO processed_events`).
		WithArgs("evt-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := svc.Handler()(context.Background(), &broker.Message{Value: processCmd()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestProcessDecline: a declined charge records a FAILED payment and a
// failure reply. The saga decides what happens next; the command
// itself completes.
func TestProcessDecline(t *testing.T) {
	gw := NewStubGateway()
	gw.ShouldDecline = func(orderID string, amount int64) bool { return true }
	svc, mock := newTestService(t, gw)

	expectLedgerCount(mock, 0)
	mock.ExpectBegin()
	expectLedgerCount(mock, 0)
	mock.ExpectExec(`INSERT INTO payments`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// PaymentFailed event, then the SagaReply with success=false.
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`INSERT INTO processed_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := svc.Handler()(context.Background(), &broker.Message{Value: processCmd()})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestProcessDuplicateSkipsGateway mirrors the duplicate OrderCreated
// scenario: the second delivery of the same command performs no
// gateway call and no inserts.
func TestProcessDuplicateSkipsGateway(t *testing.T) {
	charges := 0
	svc, mock := newTestService(t, countingGateway{inner: NewStubGateway(), charges: &charges})

	expectLedgerCount(mock, 1) // already processed

	err := svc.Handler()(context.Background(), &broker.Message{Value: processCmd()})
	require.NoError(t, err)
	assert.Zero(t, charges, "duplicate command must not reach the gateway")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestCompensateRefunds: compensation refunds the completed payment,
// flips it to REFUNDED, and acknowledges with a success reply.
func TestCompensateRefunds(t *testing.T) {
	gw := NewStubGateway()
	svc, mock := newTestService(t, gw)

	expectLedgerCount(mock, 0)
	mock.ExpectQuery(`SELECT (.+) FROM payments WHERE order_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "amount", "method", "status", "idempotency_key", "created_at", "version"}).
			AddRow("pay-1", "order-1", int64(8000), "CARD", string(types.PaymentStatusCompleted), nil, time.Now(), int64(0)))
	mock.ExpectBegin()
	expectLedgerCount(mock, 0)
	mock.ExpectExec(`UPDATE payments`).
		WithArgs("pay-1", string(types.PaymentStatusRefunded), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO processed_events`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	cmd, _ := json.Marshal(types.PaymentCommand{
		EventID: "evt-2",
		SagaID:  "saga-1",
		OrderID: "order-1",
		Type:    types.PaymentCommandCompensate,
		Amount:  8000,
	})
	err := svc.Handler()(context.Background(), &broker.Message{Value: cmd})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// countingGateway counts charges on the way through.
type countingGateway struct {
	inner   Gateway
	charges *int
}

func (c countingGateway) Charge(ctx context.Context, key, orderID string, amount int64, method string) error {
	*c.charges++
	return c.inner.Charge(ctx, key, orderID, amount, method)
}

func (c countingGateway) Refund(ctx context.Context, key, orderID string, amount int64) error {
	return c.inner.Refund(ctx, key, orderID, amount)
}
