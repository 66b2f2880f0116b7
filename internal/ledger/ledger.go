// Package ledger defines the domain types for the payment ledger.
//
// The ledger is append-only: every successful charge writes one row with a
// positive amount and every compensation writes one row with the amount
// negated. Rows are never updated or deleted, so the balance of an order is
// always reconstructable from its history.
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no row exists for the key.
// Absence is an ordinary outcome (compensation treats it as "nothing to
// reverse"), so it is a sentinel, not a wrapped storage error.
var ErrNotFound = errors.New("ledger: payment record not found")

// Record is a single row in the payments table.
type Record struct {
	// ID is the surrogate primary key, assigned by the store on Append.
	ID int64

	UserID  int64
	OrderID int64

	// Amount is signed: positive for charges, negative for refunds.
	Amount int64

	// CreatedAt is set once on Append and never changes.
	CreatedAt time.Time
}

// IsRefund reports whether the row reverses an earlier charge.
func (r *Record) IsRefund() bool { return r.Amount < 0 }

// Repository is the port the saga engine depends on. Implementations must
// make Append atomic per row; no multi-row transactions are required.
type Repository interface {
	// Append inserts a new immutable record, filling in ID and CreatedAt.
	Append(ctx context.Context, rec *Record) error

	// LastByOrderAndUser returns the most recent record for the pair, or
	// ErrNotFound. "Most recent" matters: a trailing refund row means the
	// order has already been compensated.
	LastByOrderAndUser(ctx context.Context, orderID, userID int64) (*Record, error)
}
