package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Backoff lists the pauses between attempts; its length plus one is the
// attempt count.
var Backoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}

// IsRetryable reports whether err is a transient lock or serialization
// failure: SQLITE_BUSY or "database is locked" on SQLite, 40001 or 40P01 on
// Postgres.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func retry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	for i := 0; ; i++ {
		v, err := fn()
		if err == nil || !IsRetryable(err) || i == len(Backoff) {
			return v, err
		}
		t := time.NewTimer(Backoff[i])
		select {
		case <-ctx.Done():
			t.Stop()
			var zero T
			return zero, fmt.Errorf("dbopen: %s: cancelled during retry: %w", op, ctx.Err())
		case <-t.C:
		}
	}
}

// RunTx executes fn inside a transaction, retrying the whole transaction
// while the failure is retryable.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := retry(ctx, "tx", func() (struct{}, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return struct{}{}, err
		}
		if err := tx.Commit(); err != nil {
			return struct{}{}, fmt.Errorf("dbopen: commit: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Exec rebinds query for d and executes it under the retry policy.
func Exec(ctx context.Context, db *sql.DB, d Dialect, query string, args ...any) (sql.Result, error) {
	query = Rebind(d, query)
	return retry(ctx, "exec", func() (sql.Result, error) {
		return db.ExecContext(ctx, query, args...)
	})
}

// Query rebinds query for d and runs it under the retry policy.
func Query(ctx context.Context, db *sql.DB, d Dialect, query string, args ...any) (*sql.Rows, error) {
	query = Rebind(d, query)
	return retry(ctx, "query", func() (*sql.Rows, error) {
		return db.QueryContext(ctx, query, args...)
	})
}
