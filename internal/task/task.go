// Package task defines the envelope exchanged between saga stages over the
// work queues, its validation rules, and the trace-context plumbing that
// keeps spans correlated across stages.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags the envelope variant. Validation requirements differ per kind,
// so a message missing the fields its tag demands is rejected at decode time
// instead of failing later with a zero-value surprise.
type Kind string

const (
	// KindCharge asks this stage to charge the user and forward the order.
	KindCharge Kind = "charge"
	// KindRollback asks this stage to reverse a previously recorded charge.
	KindRollback Kind = "rollback"
)

var (
	ErrUnknownKind = errors.New("task: unknown task kind")
)

// Task is the unit of work pulled from the payment queue. Field names match
// the wire format shared by every stage of the order saga.
type Task struct {
	Kind        Kind  `json:"task"`
	OrderID     int64 `json:"order_id"`
	UserID      int64 `json:"user_id"`
	NumTokens   int64 `json:"num_tokens"`
	UserCredits int64 `json:"user_credits,omitempty"`
	PaymentFail bool  `json:"payment_fail,omitempty"`

	// TraceParent carries the W3C traceparent header value across the queue
	// hop. TraceState is its optional companion. Both are opaque here; see
	// carrier.go.
	TraceParent string `json:"traceparent,omitempty"`
	TraceState  string `json:"tracestate,omitempty"`
}

// Decode unmarshals a raw queue payload and validates it against the rules
// of its declared kind.
func Decode(payload []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("task: decode envelope: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Encode serialises the envelope for forwarding to the next stage.
func (t *Task) Encode() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("task: encode envelope: %w", err)
	}
	return b, nil
}

// Validate enforces the per-kind required fields.
//
// charge:   order_id, user_id, non-negative num_tokens and user_credits.
// rollback: order_id, user_id, num_tokens (credits snapshot not needed).
func (t *Task) Validate() error {
	if t.OrderID <= 0 {
		return errors.New("task: order_id is required")
	}
	if t.UserID <= 0 {
		return errors.New("task: user_id is required")
	}

	switch t.Kind {
	case KindCharge:
		if t.NumTokens < 0 {
			return errors.New("task: charge num_tokens must be non-negative")
		}
		if t.UserCredits < 0 {
			return errors.New("task: charge user_credits must be non-negative")
		}
	case KindRollback:
		// num_tokens is the magnitude to restore; sign is normalised by the
		// engine, so any value is accepted here.
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, t.Kind)
	}
	return nil
}
