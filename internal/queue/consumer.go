package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/jcmexdev/payment-worker/internal/pkg/metrics"
	"github.com/jcmexdev/payment-worker/internal/task"
)

// popFailureDelay spaces out retries when the broker itself is erroring, so
// a dead Redis does not turn the loop into a busy spin.
const popFailureDelay = time.Second

// Handler processes one decoded task end to end. A non-nil error marks the
// task as failed on the result channel; it never stops the loop.
type Handler func(ctx context.Context, t *task.Task) error

// broker is the slice of Client the consumer needs. Narrowed to an interface
// so tests can drive the loop without a live Redis.
type broker interface {
	pop(ctx context.Context, queueName string, timeout time.Duration) ([]byte, bool, error)
	publishStatus(ctx context.Context, channel string, s Status) error
}

// Consumer runs the blocking-pop loop against one queue. One task is handled
// fully before the next is popped; horizontal scale-out is achieved by
// running more worker processes, relying on BLPOP's atomic delivery.
type Consumer struct {
	broker        broker
	queueName     string
	resultChannel string
	pollTimeout   time.Duration
	handler       Handler
	metrics       *metrics.Metrics
}

func NewConsumer(client *Client, queueName, resultChannel string, pollTimeout time.Duration, handler Handler, m *metrics.Metrics) *Consumer {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Consumer{
		broker:        client,
		queueName:     queueName,
		resultChannel: resultChannel,
		pollTimeout:   pollTimeout,
		handler:       handler,
		metrics:       m,
	}
}

// Run blocks until the sentinel payload arrives or ctx is cancelled. The
// bounded pop timeout is the loop's liveness mechanism: it wakes up with
// nothing to do, observes ctx, and blocks again.
func (c *Consumer) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "listening to queue", "queue", c.queueName, "poll_timeout", c.pollTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		payload, ok, err := c.broker.pop(ctx, c.queueName, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.ErrorContext(ctx, "queue pop failed", "queue", c.queueName, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(popFailureDelay):
			}
			continue
		}
		if !ok {
			// Timed out with no message; loop to observe shutdown.
			continue
		}

		// Exact-match sentinel check before any decode, so data that merely
		// resembles the sentinel after encoding cannot kill the worker.
		if string(payload) == Sentinel {
			slog.InfoContext(ctx, "shutdown sentinel received, stopping consumer", "queue", c.queueName)
			return nil
		}

		c.handle(ctx, payload)
	}
}

// handle decodes and processes one payload. Malformed messages are dropped
// after a failure acknowledgment — at-most-once handling of garbage input.
func (c *Consumer) handle(ctx context.Context, payload []byte) {
	t, err := task.Decode(payload)
	if err != nil {
		slog.ErrorContext(ctx, "dropping undecodable message", "queue", c.queueName, "error", err)
		c.metrics.TasksTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		c.ack(ctx, Status{Code: CodeFailed, Message: "An error occurred"})
		return
	}

	if err := c.handler(ctx, t); err != nil {
		c.ack(ctx, Status{Code: CodeFailed, Message: err.Error()})
		return
	}

	// Echo the processed envelope so result-channel listeners see exactly
	// what completed.
	echo, err := t.Encode()
	if err != nil {
		echo = []byte("task processed")
	}
	c.ack(ctx, Status{Code: CodeOK, Message: string(echo)})
}

func (c *Consumer) ack(ctx context.Context, s Status) {
	if err := c.broker.publishStatus(ctx, c.resultChannel, s); err != nil {
		slog.WarnContext(ctx, "status publish failed", "channel", c.resultChannel, "error", err)
	}
}
