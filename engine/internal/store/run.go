package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hazyhaar/accsync/dbopen"
)

const runCols = `id, account_id, domain, status, started_at, heartbeat_at, finished_at, summary_json`

// InsertRunIfIdle atomically creates a running row for the pair, unless
// another running row with a heartbeat at or after staleBefore already
// exists. The whole check-and-insert is one SQL statement, so concurrent
// callers (including other processes on the same database) serialize on
// the SQLite write lock: exactly one wins, the rest report false.
//
// A stale running row (heartbeat older than staleBefore) does not block
// the insert; it is superseded, not mutated.
func (s *Store) InsertRunIfIdle(ctx context.Context, run *WorkerRun, staleBefore int64) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO worker_runs (id, account_id, domain, status, started_at, heartbeat_at, summary_json)
		SELECT ?, ?, ?, ?, ?, ?, '{}'
		WHERE NOT EXISTS (
			SELECT 1 FROM worker_runs
			WHERE account_id = ? AND domain = ? AND status = ? AND heartbeat_at >= ?
		)`,
		run.ID, run.AccountID, run.Domain, StatusRunning, run.StartedAt, run.HeartbeatAt,
		run.AccountID, run.Domain, StatusRunning, staleBefore,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	run.Status = StatusRunning
	run.SummaryJSON = "{}"
	return true, nil
}

// TouchHeartbeat stamps heartbeat_at on a still-running row. It goes
// through the BUSY retry like the other run-row writes: heartbeats land
// while domain routines are writing records, exactly when contention
// peaks.
func (s *Store) TouchHeartbeat(ctx context.Context, runID string, now int64) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE worker_runs SET heartbeat_at = ? WHERE id = ? AND status = ?`,
		now, runID, StatusRunning)
	return err
}

// FinishRun transitions a run from running to a terminal status. The
// status guard makes the transition fire at most once; a second call (or
// a call against a row another process already finished) reports false.
func (s *Store) FinishRun(ctx context.Context, runID, status string, now int64, summaryJSON string) (bool, error) {
	if summaryJSON == "" {
		summaryJSON = "{}"
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE worker_runs
		SET status = ?, finished_at = ?, heartbeat_at = ?, summary_json = ?
		WHERE id = ? AND status = ?`,
		status, now, now, summaryJSON, runID, StatusRunning)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetRun retrieves a run by ID, or nil if absent.
func (s *Store) GetRun(ctx context.Context, runID string) (*WorkerRun, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+runCols+` FROM worker_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// RunFilter narrows ListRuns. Zero values mean "any".
type RunFilter struct {
	AccountID string
	Domain    string
	Status    string
	Limit     int
}

// ListRuns returns run history, newest first.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]*WorkerRun, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q := `SELECT ` + runCols + ` FROM worker_runs WHERE 1=1`
	args := []any{}
	if f.AccountID != "" {
		q += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.Domain != "" {
		q += ` AND domain = ?`
		args = append(args, f.Domain)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	q += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*WorkerRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// ListRunningRuns returns all rows still in running status, freshest
// heartbeat first. Rows with a heartbeat older than the staleness
// threshold are orphans left by crashed attempts; operators can spot
// them here, the engine itself never reconciles them.
func (s *Store) ListRunningRuns(ctx context.Context) ([]*WorkerRun, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+runCols+` FROM worker_runs WHERE status = ? ORDER BY heartbeat_at DESC`,
		StatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*WorkerRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

func scanRun(row scanner) (*WorkerRun, error) {
	var r WorkerRun
	if err := row.Scan(&r.ID, &r.AccountID, &r.Domain, &r.Status,
		&r.StartedAt, &r.HeartbeatAt, &r.FinishedAt, &r.SummaryJSON); err != nil {
		return nil, err
	}
	return &r, nil
}
