package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GlobalConfig returns the singleton config row, materializing it with
// enabled=1 and the given defaults on first access.
func (s *Store) GlobalConfig(ctx context.Context, defaultOverlapMin, defaultBackfillDays int) (*GlobalConfig, error) {
	cfg, err := s.readGlobalConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read global config: %w", err)
	}

	// Lazy creation. INSERT OR IGNORE tolerates a concurrent first reader.
	_, err = s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO global_config (id, enabled, overlap_minutes, backfill_days, updated_at)
		VALUES (1, 1, ?, ?, ?)`,
		defaultOverlapMin, defaultBackfillDays, time.Now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("create global config: %w", err)
	}
	return s.readGlobalConfig(ctx)
}

func (s *Store) readGlobalConfig(ctx context.Context) (*GlobalConfig, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT enabled, overlap_minutes, backfill_days, updated_at
		FROM global_config WHERE id = 1`)
	var cfg GlobalConfig
	if err := row.Scan(&cfg.Enabled, &cfg.OverlapMinutes, &cfg.BackfillDays, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetGlobalEnabled flips the kill switch. Takes effect at the next
// dispatch evaluation; runs already past their enablement check finish.
func (s *Store) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE global_config SET enabled = ?, updated_at = ? WHERE id = 1`,
		enabled, time.Now().UnixMilli(),
	)
	return err
}

// SetGlobalDefaults updates the default overlap and backfill tuning.
func (s *Store) SetGlobalDefaults(ctx context.Context, overlapMin, backfillDays int) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE global_config SET overlap_minutes = ?, backfill_days = ?, updated_at = ? WHERE id = 1`,
		overlapMin, backfillDays, time.Now().UnixMilli(),
	)
	return err
}
