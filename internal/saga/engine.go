// Package saga implements the payment stage of the order-processing saga:
// charge the user, record the charge, hand the order to the next stage, and
// compensate (refund + balance restore) when anything goes wrong — including
// a rollback signalled later in the saga.
package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/payment-worker/internal/ledger"
	"github.com/jcmexdev/payment-worker/internal/orderstatus"
	"github.com/jcmexdev/payment-worker/internal/pkg/metrics"
	"github.com/jcmexdev/payment-worker/internal/task"
)

const tracerName = "payment-worker/saga"

const (
	spanCharge     = "payment.charge"
	spanCompensate = "payment.compensate"
	spanForward    = "payment.forward"
)

// BalanceService adjusts a user's credit balance. Amounts are always
// positive magnitudes; direction is carried by the method.
type BalanceService interface {
	AddFunds(ctx context.Context, userID, amount int64) error
	DeductFunds(ctx context.Context, userID, amount int64) error
}

// OrderStatusService notifies the order service of this stage's outcome.
type OrderStatusService interface {
	Report(ctx context.Context, orderID int64, status orderstatus.Status, message string) error
}

// Forwarder pushes an envelope onto a named queue. Satisfied by queue.Client.
type Forwarder interface {
	Push(ctx context.Context, queueName string, t *task.Task) error
}

// Engine executes one task at a time: Start → Charging → Forwarded on
// success, Start → Compensating → Failed otherwise. All collaborators are
// injected at construction; the engine holds no connection state of its own.
type Engine struct {
	ledger         ledger.Repository
	balance        BalanceService
	status         OrderStatusService
	forwarder      Forwarder
	inventoryQueue string
	tracer         trace.Tracer
	metrics        *metrics.Metrics
}

func New(
	repo ledger.Repository,
	balance BalanceService,
	status OrderStatusService,
	forwarder Forwarder,
	inventoryQueue string,
	m *metrics.Metrics,
) *Engine {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		ledger:         repo,
		balance:        balance,
		status:         status,
		forwarder:      forwarder,
		inventoryQueue: inventoryQueue,
		tracer:         otel.Tracer(tracerName),
		metrics:        m,
	}
}

// Handle runs a single task to a terminal state. The returned error reports
// the terminal failure for logging and status publication; it never means
// the worker should stop.
func (e *Engine) Handle(ctx context.Context, t *task.Task) error {
	start := time.Now()
	defer func() {
		e.metrics.TaskDuration.Observe(time.Since(start).Seconds())
	}()

	// Parent everything on the trace the upstream stage started. A missing
	// or garbled token just makes the spans below trace roots.
	ctx = task.ExtractTraceContext(ctx, t)

	switch t.Kind {
	case task.KindRollback:
		e.metrics.TasksTotal.WithLabelValues(metrics.OutcomeCompensated).Inc()
		return e.compensate(ctx, t, "rollback requested by a later saga stage")
	case task.KindCharge:
		if err := e.charge(ctx, t); err != nil {
			f := classify(err)
			slog.WarnContext(ctx, "charge failed, compensating",
				"order_id", t.OrderID,
				"user_id", t.UserID,
				"failure_kind", string(f.Kind),
				"error", err,
			)
			e.metrics.TasksTotal.WithLabelValues(metrics.OutcomeCompensated).Inc()
			if cerr := e.compensate(ctx, t, f.Message()); cerr != nil {
				return errors.Join(err, cerr)
			}
			return err
		}
		e.metrics.TasksTotal.WithLabelValues(metrics.OutcomeForwarded).Inc()
		return nil
	default:
		// Unknown kinds are rejected at decode time; reaching here means a
		// caller bypassed Decode.
		return fmt.Errorf("%w: %q", task.ErrUnknownKind, t.Kind)
	}
}

// charge runs the Charging state: funds check, forced-failure hook, ledger
// append, balance deduction, success notification, forward. The first error
// aborts the remaining steps.
func (e *Engine) charge(ctx context.Context, t *task.Task) (err error) {
	ctx, span := e.tracer.Start(ctx, spanCharge, trace.WithAttributes(
		attribute.Int64("order.id", t.OrderID),
		attribute.Int64("user.id", t.UserID),
		attribute.Int64("payment.tokens", t.NumTokens),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "charge failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	// The funds check runs before the forced-failure hook so insufficient
	// funds always reports as insufficient funds, flag or no flag.
	if t.UserCredits < t.NumTokens {
		return ErrInsufficientFunds
	}
	if t.PaymentFail {
		return ErrForcedFailure
	}

	rec := &ledger.Record{
		UserID:  t.UserID,
		OrderID: t.OrderID,
		Amount:  t.NumTokens,
	}
	slog.InfoContext(ctx, "creating payment record", "order_id", t.OrderID, "user_id", t.UserID, "amount", t.NumTokens)
	if err := e.ledger.Append(ctx, rec); err != nil {
		return wrapFailure(KindPersistence, "could not record payment", err)
	}
	e.metrics.LedgerAppends.WithLabelValues(metrics.EntryCharge).Inc()

	if err := e.balance.DeductFunds(ctx, t.UserID, t.NumTokens); err != nil {
		return wrapFailure(KindNotification, "could not deduct user funds", err)
	}

	if err := e.status.Report(ctx, t.OrderID, orderstatus.StatusPayment, "Payment successful"); err != nil {
		return wrapFailure(KindNotification, "could not report payment status", err)
	}

	return e.forward(ctx, t)
}

// forward re-injects the live trace context and enqueues the envelope for
// the inventory stage.
func (e *Engine) forward(ctx context.Context, t *task.Task) (err error) {
	ctx, span := e.tracer.Start(ctx, spanForward, trace.WithAttributes(
		attribute.Int64("order.id", t.OrderID),
		attribute.String("queue.name", e.inventoryQueue),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "forward failed")
		}
		span.End()
	}()

	task.InjectTraceContext(ctx, t)

	slog.InfoContext(ctx, "forwarding task to inventory queue", "order_id", t.OrderID, "queue", e.inventoryQueue)
	if err := e.forwarder.Push(ctx, e.inventoryQueue, t); err != nil {
		return wrapFailure(KindNotification, "could not forward task", err)
	}
	return nil
}

// compensate runs the Compensating state. The ledger lookup makes the whole
// step a no-op when there is nothing to reverse: no charge row for the pair,
// or the latest row is already a refund (so a redelivered rollback cannot
// double-refund). The failed status update is always sent; its own failure
// is logged rather than allowed to mask the real outcome.
func (e *Engine) compensate(ctx context.Context, t *task.Task, reason string) (err error) {
	ctx, span := e.tracer.Start(ctx, spanCompensate, trace.WithAttributes(
		attribute.Int64("order.id", t.OrderID),
		attribute.Int64("user.id", t.UserID),
		attribute.String("failure.reason", reason),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "compensation failed")
		}
		span.End()
	}()

	defer func() {
		if rerr := e.status.Report(ctx, t.OrderID, orderstatus.StatusFailed, reason); rerr != nil {
			slog.WarnContext(ctx, "failed-status notification did not go through",
				"order_id", t.OrderID,
				"error", rerr,
			)
		}
	}()

	rec, lookupErr := e.ledger.LastByOrderAndUser(ctx, t.OrderID, t.UserID)
	if errors.Is(lookupErr, ledger.ErrNotFound) {
		slog.InfoContext(ctx, "no payment record, nothing to reverse", "order_id", t.OrderID, "user_id", t.UserID)
		return nil
	}
	if lookupErr != nil {
		return wrapFailure(KindPersistence, "could not look up payment record", lookupErr)
	}
	if rec.IsRefund() {
		slog.InfoContext(ctx, "payment already compensated", "order_id", t.OrderID, "record_id", rec.ID)
		return nil
	}

	refund := &ledger.Record{
		UserID:  t.UserID,
		OrderID: t.OrderID,
		Amount:  -rec.Amount,
	}
	if aerr := e.ledger.Append(ctx, refund); aerr != nil {
		return wrapFailure(KindPersistence, "could not record refund", aerr)
	}
	e.metrics.LedgerAppends.WithLabelValues(metrics.EntryRefund).Inc()

	restore := t.NumTokens
	if restore < 0 {
		restore = -restore
	}
	if berr := e.balance.AddFunds(ctx, t.UserID, restore); berr != nil {
		return wrapFailure(KindNotification, "could not restore user funds", berr)
	}
	e.metrics.Compensations.Inc()

	slog.InfoContext(ctx, "payment compensated",
		"order_id", t.OrderID,
		"user_id", t.UserID,
		"refunded", rec.Amount,
		"reason", reason,
	)
	return nil
}
