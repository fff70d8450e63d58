package store

import (
	"context"
	"fmt"
)

// InsertNotification records a write-once notification for a terminal
// run. The UNIQUE constraint on run_id rejects a second write for the
// same run.
func (s *Store) InsertNotification(ctx context.Context, n *Notification) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO notifications (id, account_id, domain, run_id, status, title, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.AccountID, n.Domain, n.RunID, n.Status, n.Title, n.Body, n.CreatedAt,
	)
	return err
}

// ListNotifications returns notifications for an account, newest first.
func (s *Store) ListNotifications(ctx context.Context, accountID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, account_id, domain, run_id, status, title, body, created_at
		FROM notifications WHERE account_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Domain, &n.RunID,
			&n.Status, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}
