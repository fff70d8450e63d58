package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/accsync/dbopen"
)

const syncStateCols = `account_id, domain, enabled, cursor_value, last_run_at, last_error, created_at, updated_at`

// EnsureSyncState returns the sync state for the pair, creating it with
// enabled=1 and an empty cursor on first scheduling encounter. The
// insert and the read run in one transaction, so the returned row is
// exactly what a concurrent dispatcher would see. INSERT OR IGNORE
// keeps the transaction safe to re-run on BUSY retry.
func (s *Store) EnsureSyncState(ctx context.Context, accountID, domain string) (*SyncState, error) {
	var st *SyncState
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sync_state (account_id, domain, enabled, cursor_value, last_error, created_at, updated_at)
			VALUES (?, ?, 1, '', '', ?, ?)`,
			accountID, domain, now, now,
		)
		if err != nil {
			return fmt.Errorf("ensure sync state: %w", err)
		}
		row := tx.QueryRowContext(ctx,
			`SELECT `+syncStateCols+` FROM sync_state WHERE account_id = ? AND domain = ?`,
			accountID, domain)
		st, err = scanSyncState(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// GetSyncState retrieves the sync state for a pair, or nil if absent.
func (s *Store) GetSyncState(ctx context.Context, accountID, domain string) (*SyncState, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+syncStateCols+` FROM sync_state WHERE account_id = ? AND domain = ?`,
		accountID, domain)
	st, err := scanSyncState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// ListSyncStates returns sync states, all accounts or one, for dashboards.
func (s *Store) ListSyncStates(ctx context.Context, accountID string) ([]*SyncState, error) {
	q := `SELECT ` + syncStateCols + ` FROM sync_state ORDER BY account_id, domain`
	args := []any{}
	if accountID != "" {
		q = `SELECT ` + syncStateCols + ` FROM sync_state WHERE account_id = ? ORDER BY domain`
		args = append(args, accountID)
	}
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SyncState
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

// SetSyncEnabled toggles a single (account, domain) pair.
func (s *Store) SetSyncEnabled(ctx context.Context, accountID, domain string, enabled bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sync_state SET enabled = ?, updated_at = ? WHERE account_id = ? AND domain = ?`,
		enabled, time.Now().UnixMilli(), accountID, domain)
	return err
}

// AdvanceCursor records a successful run: the cursor moves to the window
// upper bound and the last error is cleared. The guard keeps the cursor
// monotonic even if a slow run finishes after a newer one.
func (s *Store) AdvanceCursor(ctx context.Context, accountID, domain, cursor string, ranAt int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sync_state
		SET cursor_value = ?, last_run_at = ?, last_error = '', updated_at = ?
		WHERE account_id = ? AND domain = ? AND cursor_value <= ?`,
		cursor, ranAt, time.Now().UnixMilli(), accountID, domain, cursor)
	return err
}

// RecordSyncError records a failed run. The cursor is untouched, so the
// failed window is retried (widened by the overlap) on the next cycle.
func (s *Store) RecordSyncError(ctx context.Context, accountID, domain, message string, ranAt int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sync_state SET last_run_at = ?, last_error = ?, updated_at = ?
		WHERE account_id = ? AND domain = ?`,
		ranAt, message, time.Now().UnixMilli(), accountID, domain)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSyncState(row scanner) (*SyncState, error) {
	var st SyncState
	if err := row.Scan(&st.AccountID, &st.Domain, &st.Enabled, &st.CursorValue,
		&st.LastRunAt, &st.LastError, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}
