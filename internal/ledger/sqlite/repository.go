// Package sqlite provides a SQLite-backed implementation of ledger.Repository.
//
// WAL mode is enabled on Open so that readers never block writers and vice
// versa — the ops HTTP server reads the ledger while the worker goroutine
// appends to it.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jcmexdev/payment-worker/internal/ledger"

	// Register the pure-Go SQLite driver.
	// We use modernc.org/sqlite instead of mattn/go-sqlite3 to avoid CGO
	// requirements, making it easier to build and run in Docker (Alpine).
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup.
// The table is append-only: a refund never edits the charge row, it adds a
// new row with the amount negated.
const schema = `
CREATE TABLE IF NOT EXISTS payments (
    -- Surrogate primary key — auto-incremented by SQLite.
    id              INTEGER PRIMARY KEY AUTOINCREMENT,

    user_id         INTEGER     NOT NULL,
    order_id        INTEGER     NOT NULL,

    -- Signed amount: positive for charges, negative for refunds.
    payment_amount  INTEGER     NOT NULL,

    -- Creation time (RFC3339 stored as TEXT, SQLite idiom). Immutable.
    created_at      TEXT        NOT NULL
);

-- Index for the hot lookup: "latest row for (order, user)".
CREATE INDEX IF NOT EXISTS idx_payments_order_user ON payments(order_id, user_id, id);
`

// Repository is the SQLite implementation of ledger.Repository.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path and applies
// the schema. WAL mode is enabled for better concurrent read/write
// performance.
//
//	repo, err := sqlite.Open("./data/payments.db")
func Open(path string) (*Repository, error) {
	// The pure-Go driver uses _pragma query parameters to configure connection
	// state. busy_timeout waits for locks instead of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	// Use "sqlite", not "sqlite3" for the modernc driver.
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping verifies the connection is still usable. Used by the health endpoint.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Append inserts a new payment record and fills in its assigned ID and
// CreatedAt. Safe to call concurrently.
func (r *Repository) Append(ctx context.Context, rec *ledger.Record) error {
	const q = `
		INSERT INTO payments (user_id, order_id, payment_amount, created_at)
		VALUES (?, ?, ?, ?)`

	createdAt := nowUTC()
	res, err := r.db.ExecContext(ctx, q,
		rec.UserID,
		rec.OrderID,
		rec.Amount,
		formatRFC3339(createdAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append payment for order %d: %w", rec.OrderID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: last insert id for order %d: %w", rec.OrderID, err)
	}

	rec.ID = id
	rec.CreatedAt = createdAt
	return nil
}

// LastByOrderAndUser returns the most recent record for the pair, or
// ledger.ErrNotFound. Recency is decided by the monotonic rowid rather than
// the timestamp so two appends in the same nanosecond still order correctly.
func (r *Repository) LastByOrderAndUser(ctx context.Context, orderID, userID int64) (*ledger.Record, error) {
	const q = `
		SELECT id, user_id, order_id, payment_amount, created_at
		FROM   payments
		WHERE  order_id = ? AND user_id = ?
		ORDER  BY id DESC
		LIMIT  1`

	row := r.db.QueryRowContext(ctx, q, orderID, userID)

	var rec ledger.Record
	var createdAt string
	err := row.Scan(&rec.ID, &rec.UserID, &rec.OrderID, &rec.Amount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup payment for order %d user %d: %w", orderID, userID, err)
	}

	rec.CreatedAt, err = parseRFC3339(createdAt)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// applySchema runs the DDL statements once. Idempotent due to IF NOT EXISTS.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}
