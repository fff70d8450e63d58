package store

import (
	"context"
	"fmt"
)

// InsertRunLog appends one immutable event to a run's timeline.
func (s *Store) InsertRunLog(ctx context.Context, e *RunLogEntry) error {
	if e.DetailsJSON == "" {
		e.DetailsJSON = "{}"
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO run_log (id, run_id, account_id, domain, event_type, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.AccountID, e.Domain, e.EventType, e.DetailsJSON, e.CreatedAt,
	)
	return err
}

// RunTimeline returns the log entries for a run, oldest first.
func (s *Store) RunTimeline(ctx context.Context, runID string) ([]*RunLogEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, run_id, account_id, domain, event_type, details_json, created_at
		FROM run_log WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunLogEntry
	for rows.Next() {
		var e RunLogEntry
		if err := rows.Scan(&e.ID, &e.RunID, &e.AccountID, &e.Domain,
			&e.EventType, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
