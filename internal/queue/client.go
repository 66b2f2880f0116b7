// Package queue provides the Redis-backed work-queue transport: the blocking
// consumer loop for the payment queue, the push used to forward envelopes to
// the next stage, and the pub/sub status acknowledgments.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jcmexdev/payment-worker/internal/task"
)

// Sentinel is the poison-pill payload that shuts the consumer loop down.
// It travels on the same queue as data, so it is compared verbatim against
// the raw payload before any JSON decode is attempted.
const Sentinel = "DIE"

// Status acknowledgment codes published on the result channel.
const (
	CodeOK     = 1
	CodeFailed = -1
)

// Status is the acknowledgment published after each handled message.
type Status struct {
	Code    int    `json:"status"`
	Message string `json:"message"`
}

// FormatName maps a bare queue name onto the key convention shared by every
// stage ("queue:<name>").
func FormatName(name string) string {
	return "queue:" + name
}

// Client wraps a shared go-redis client. It is constructed once in main and
// injected wherever queue access is needed; nothing in this package keeps
// package-level connection state.
type Client struct {
	rdb *redis.Client
}

func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping verifies the broker connection. Used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Push appends an encoded envelope to the tail of the named queue.
func (c *Client) Push(ctx context.Context, queueName string, t *task.Task) error {
	payload, err := t.Encode()
	if err != nil {
		return err
	}
	if err := c.rdb.RPush(ctx, queueName, payload).Err(); err != nil {
		return fmt.Errorf("queue: push to %s: %w", queueName, err)
	}
	return nil
}

// publishStatus sends an acknowledgment on the result channel. Nobody may be
// subscribed; that is fine, pub/sub delivery here is best effort.
func (c *Client) publishStatus(ctx context.Context, channel string, s Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("queue: encode status: %w", err)
	}
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("queue: publish status to %s: %w", channel, err)
	}
	return nil
}

// pop blocks for up to timeout waiting for the next raw payload. The second
// return value is false when the wait timed out with nothing to do.
func (c *Client) pop(ctx context.Context, queueName string, timeout time.Duration) ([]byte, bool, error) {
	res, err := c.rdb.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("queue: pop from %s: %w", queueName, err)
	}
	// BLPop returns [key, value].
	return []byte(res[1]), true, nil
}
