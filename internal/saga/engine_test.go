package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/payment-worker/internal/ledger"
	"github.com/jcmexdev/payment-worker/internal/orderstatus"
	"github.com/jcmexdev/payment-worker/internal/task"
)

// --- fakes ---

type fakeLedger struct {
	records    []ledger.Record
	nextID     int64
	appendErr  error // consumed by the next Append only
	lookupErr  error
	appendSeen int
}

func (f *fakeLedger) Append(_ context.Context, rec *ledger.Record) error {
	f.appendSeen++
	if f.appendErr != nil {
		err := f.appendErr
		f.appendErr = nil
		return err
	}
	f.nextID++
	rec.ID = f.nextID
	rec.CreatedAt = time.Now().UTC()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeLedger) LastByOrderAndUser(_ context.Context, orderID, userID int64) (*ledger.Record, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].OrderID == orderID && f.records[i].UserID == userID {
			rec := f.records[i]
			return &rec, nil
		}
	}
	return nil, ledger.ErrNotFound
}

type balanceCall struct {
	userID int64
	amount int64
}

type fakeBalance struct {
	added     []balanceCall
	deducted  []balanceCall
	addErr    error
	deductErr error
}

func (f *fakeBalance) AddFunds(_ context.Context, userID, amount int64) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, balanceCall{userID, amount})
	return nil
}

func (f *fakeBalance) DeductFunds(_ context.Context, userID, amount int64) error {
	if f.deductErr != nil {
		return f.deductErr
	}
	f.deducted = append(f.deducted, balanceCall{userID, amount})
	return nil
}

type statusReport struct {
	orderID int64
	status  orderstatus.Status
	message string
}

type fakeStatus struct {
	reports   []statusReport
	reportErr error // applies to "payment" reports only, so failure paths stay observable
}

func (f *fakeStatus) Report(_ context.Context, orderID int64, status orderstatus.Status, message string) error {
	if f.reportErr != nil && status == orderstatus.StatusPayment {
		return f.reportErr
	}
	f.reports = append(f.reports, statusReport{orderID, status, message})
	return nil
}

type forwardedTask struct {
	queueName string
	task      task.Task
}

type fakeForwarder struct {
	pushed  []forwardedTask
	pushErr error
}

func (f *fakeForwarder) Push(_ context.Context, queueName string, t *task.Task) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, forwardedTask{queueName, *t})
	return nil
}

type fixture struct {
	ledger    *fakeLedger
	balance   *fakeBalance
	status    *fakeStatus
	forwarder *fakeForwarder
	engine    *Engine
}

func newFixture() *fixture {
	f := &fixture{
		ledger:    &fakeLedger{},
		balance:   &fakeBalance{},
		status:    &fakeStatus{},
		forwarder: &fakeForwarder{},
	}
	f.engine = New(f.ledger, f.balance, f.status, f.forwarder, "queue:inventory", nil)
	return f
}

func chargeTask() *task.Task {
	return &task.Task{
		Kind:        task.KindCharge,
		OrderID:     1,
		UserID:      7,
		NumTokens:   50,
		UserCredits: 100,
	}
}

// --- charge path ---

func TestHandleChargeSuccess(t *testing.T) {
	f := newFixture()

	err := f.engine.Handle(context.Background(), chargeTask())
	require.NoError(t, err)

	require.Len(t, f.ledger.records, 1)
	assert.Equal(t, int64(7), f.ledger.records[0].UserID)
	assert.Equal(t, int64(1), f.ledger.records[0].OrderID)
	assert.Equal(t, int64(50), f.ledger.records[0].Amount)

	require.Len(t, f.balance.deducted, 1)
	assert.Equal(t, balanceCall{7, 50}, f.balance.deducted[0])
	assert.Empty(t, f.balance.added)

	require.Len(t, f.status.reports, 1)
	assert.Equal(t, statusReport{1, orderstatus.StatusPayment, "Payment successful"}, f.status.reports[0])

	require.Len(t, f.forwarder.pushed, 1)
	assert.Equal(t, "queue:inventory", f.forwarder.pushed[0].queueName)
	assert.Equal(t, int64(1), f.forwarder.pushed[0].task.OrderID)
}

func TestHandleChargeInsufficientFunds(t *testing.T) {
	f := newFixture()
	tk := chargeTask()
	tk.NumTokens = 200
	tk.UserCredits = 50

	err := f.engine.Handle(context.Background(), tk)
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, KindInsufficientFunds, failure.Kind)

	// Short-circuits before any side effect; compensation finds nothing.
	assert.Empty(t, f.ledger.records)
	assert.Empty(t, f.balance.deducted)
	assert.Empty(t, f.balance.added)
	assert.Empty(t, f.forwarder.pushed)

	require.Len(t, f.status.reports, 1)
	assert.Equal(t, orderstatus.StatusFailed, f.status.reports[0].status)
	assert.Contains(t, f.status.reports[0].message, "insufficient funds")
}

func TestHandleChargeForcedFailure(t *testing.T) {
	f := newFixture()
	tk := chargeTask()
	tk.PaymentFail = true

	err := f.engine.Handle(context.Background(), tk)
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, KindForcedFailure, failure.Kind)

	// Externally identical to the insufficient-funds path: nothing persisted,
	// nothing forwarded, one failed status.
	assert.Empty(t, f.ledger.records)
	assert.Empty(t, f.balance.deducted)
	assert.Empty(t, f.forwarder.pushed)
	require.Len(t, f.status.reports, 1)
	assert.Equal(t, orderstatus.StatusFailed, f.status.reports[0].status)
}

func TestFundsCheckBeatsForcedFailure(t *testing.T) {
	f := newFixture()
	tk := chargeTask()
	tk.NumTokens = 200
	tk.UserCredits = 50
	tk.PaymentFail = true

	err := f.engine.Handle(context.Background(), tk)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, KindInsufficientFunds, failure.Kind)
}

func TestHandleChargePersistenceFailure(t *testing.T) {
	f := newFixture()
	f.ledger.appendErr = errors.New("disk full")

	err := f.engine.Handle(context.Background(), chargeTask())
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, KindPersistence, failure.Kind)

	// The charge row never landed, so compensation is a lookup-guarded no-op.
	assert.Empty(t, f.ledger.records)
	assert.Empty(t, f.balance.added)
	require.Len(t, f.status.reports, 1)
	assert.Equal(t, orderstatus.StatusFailed, f.status.reports[0].status)
}

func TestHandleChargeNotificationFailureCompensates(t *testing.T) {
	f := newFixture()
	f.status.reportErr = errors.New("order service down")

	err := f.engine.Handle(context.Background(), chargeTask())
	require.Error(t, err)

	// The charge row landed before the notification failed, so compensation
	// reverses it: one refund row and one balance credit.
	require.Len(t, f.ledger.records, 2)
	assert.Equal(t, int64(50), f.ledger.records[0].Amount)
	assert.Equal(t, int64(-50), f.ledger.records[1].Amount)

	require.Len(t, f.balance.added, 1)
	assert.Equal(t, balanceCall{7, 50}, f.balance.added[0])

	assert.Empty(t, f.forwarder.pushed)

	require.Len(t, f.status.reports, 1)
	assert.Equal(t, orderstatus.StatusFailed, f.status.reports[0].status)
}

func TestHandleChargeForwardFailureCompensates(t *testing.T) {
	f := newFixture()
	f.forwarder.pushErr = errors.New("queue unreachable")

	err := f.engine.Handle(context.Background(), chargeTask())
	require.Error(t, err)

	require.Len(t, f.ledger.records, 2)
	assert.Equal(t, int64(-50), f.ledger.records[1].Amount)
	require.Len(t, f.balance.added, 1)

	// Success notification went out before the forward failed, then the
	// failed notification followed from compensation.
	require.Len(t, f.status.reports, 2)
	assert.Equal(t, orderstatus.StatusPayment, f.status.reports[0].status)
	assert.Equal(t, orderstatus.StatusFailed, f.status.reports[1].status)
}

// --- rollback path ---

func rollbackTask() *task.Task {
	return &task.Task{
		Kind:      task.KindRollback,
		OrderID:   1,
		UserID:    7,
		NumTokens: 50,
	}
}

func TestHandleRollbackWithoutRecordIsNoop(t *testing.T) {
	f := newFixture()

	err := f.engine.Handle(context.Background(), rollbackTask())
	require.NoError(t, err)

	assert.Empty(t, f.ledger.records)
	assert.Empty(t, f.balance.added)
	assert.Empty(t, f.balance.deducted)

	require.Len(t, f.status.reports, 1)
	assert.Equal(t, orderstatus.StatusFailed, f.status.reports[0].status)
}

func TestHandleRollbackRefundsOnce(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ledger.Append(context.Background(), &ledger.Record{UserID: 7, OrderID: 1, Amount: 50}))

	err := f.engine.Handle(context.Background(), rollbackTask())
	require.NoError(t, err)

	require.Len(t, f.ledger.records, 2)
	assert.Equal(t, int64(-50), f.ledger.records[1].Amount)

	require.Len(t, f.balance.added, 1)
	assert.Equal(t, balanceCall{7, 50}, f.balance.added[0])
}

func TestHandleRollbackNormalisesNegativeTokens(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.ledger.Append(context.Background(), &ledger.Record{UserID: 7, OrderID: 1, Amount: 50}))

	tk := rollbackTask()
	tk.NumTokens = -50

	require.NoError(t, f.engine.Handle(context.Background(), tk))

	require.Len(t, f.balance.added, 1)
	assert.Equal(t, balanceCall{7, 50}, f.balance.added[0])
}

func TestHandleRollbackRedeliveryDoesNotDoubleRefund(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.ledger.Append(context.Background(), &ledger.Record{UserID: 7, OrderID: 1, Amount: 50}))
	require.NoError(t, f.engine.Handle(context.Background(), rollbackTask()))
	require.Len(t, f.ledger.records, 2)

	// Redelivered rollback: the latest row is already a refund, nothing to do.
	require.NoError(t, f.engine.Handle(context.Background(), rollbackTask()))

	assert.Len(t, f.ledger.records, 2)
	assert.Len(t, f.balance.added, 1)
}

func TestCompensationLookupErrorSurfaces(t *testing.T) {
	f := newFixture()
	f.ledger.lookupErr = errors.New("ledger offline")

	err := f.engine.Handle(context.Background(), rollbackTask())
	require.Error(t, err)

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, KindPersistence, failure.Kind)

	// The failed status still goes out even when compensation itself broke.
	require.Len(t, f.status.reports, 1)
	assert.Equal(t, orderstatus.StatusFailed, f.status.reports[0].status)
}
