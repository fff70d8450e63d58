package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// The dispatcher fans many writers out over one SQLite file, and
// modernc's driver reports lock contention as SQLITE_BUSY instead of
// blocking. Exec and RunTx absorb that with a bounded linear backoff
// before surfacing the error.

const busyRetries = 3

// IsBusy reports whether err indicates SQLite lock contention.
// It checks for SQLITE_BUSY, "database is locked", and "database table is locked".
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Exec runs a single statement, retrying on BUSY up to 3 times with
// 100/200/300 ms backoff.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	for attempt := range busyRetries {
		result, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return result, nil
		}
		if !IsBusy(err) || attempt == busyRetries-1 {
			return nil, err
		}
		if err := busyBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("dbopen: Exec: retries exhausted")
}

// RunTx runs fn inside a transaction, retrying the whole transaction on
// BUSY with the same backoff as Exec. fn may therefore run more than
// once; multi-statement store paths stay re-runnable (INSERT OR IGNORE,
// status-guarded UPDATE) so a retried transaction converges on the same
// row state.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	for attempt := range busyRetries {
		err := execTx(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsBusy(err) || attempt == busyRetries-1 {
			return err
		}
		if err := busyBackoff(ctx, attempt); err != nil {
			return err
		}
	}
	return fmt.Errorf("dbopen: RunTx: retries exhausted")
}

func execTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

func busyBackoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(100*(attempt+1)) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("dbopen: context cancelled during retry: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
