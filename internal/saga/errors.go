package saga

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a payment task could not complete. Every failure
// path in the engine produces a Failure, so the status notification never has
// to poke at a particular error type's internals to find a message.
type FailureKind string

const (
	KindInsufficientFunds FailureKind = "insufficient_funds"
	KindForcedFailure     FailureKind = "forced_failure"
	KindPersistence       FailureKind = "persistence"
	KindNotification      FailureKind = "notification"
)

// Failure is the uniform kind-plus-message error produced by the engine's
// charge phase. It wraps the underlying cause where one exists.
type Failure struct {
	Kind  FailureKind
	Msg   string
	Cause error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Message is the operator-facing text attached to the failed status update.
func (f *Failure) Message() string { return f.Msg }

func newFailure(kind FailureKind, msg string) *Failure {
	return &Failure{Kind: kind, Msg: msg}
}

func wrapFailure(kind FailureKind, msg string, cause error) *Failure {
	return &Failure{Kind: kind, Msg: msg, Cause: cause}
}

// ErrInsufficientFunds is the business-rule failure for a charge whose
// credits snapshot cannot cover the requested tokens.
var ErrInsufficientFunds = newFailure(KindInsufficientFunds, "user has insufficient funds for purchase")

// ErrForcedFailure is the fault-injection failure raised when a task carries
// the payment_fail flag. It short-circuits before any side effect.
var ErrForcedFailure = newFailure(KindForcedFailure, "payment failure forced by task flag")

// classify normalises an arbitrary error into a Failure so compensation and
// status reporting always have a kind and a message to work with.
func classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return wrapFailure(KindPersistence, "payment step failed", err)
}
