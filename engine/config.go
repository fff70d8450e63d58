package engine

import "time"

// Config configures the engine.
type Config struct {
	// AccountConcurrency bounds how many accounts sync at once during a
	// full dispatch. Domains within one account run concurrently without
	// an additional bound. Default: 5.
	AccountConcurrency int

	// OverlapMinutes seeds the global config row on first access: the
	// duration subtracted from the cursor when computing the next
	// window. Default: 30.
	OverlapMinutes int

	// BackfillDays seeds the global config row on first access: how far
	// back the first window reaches when no cursor exists yet.
	// Default: 90.
	BackfillDays int

	// MaxWindow clamps a single attempt's window by narrowing its upper
	// bound; the next cycle resumes from there. Negative disables
	// clamping. Default: 24h.
	MaxWindow time.Duration

	// Coord tunes run locking and heartbeats.
	Coord CoordConfig
}

func (c *Config) defaults() {
	if c.AccountConcurrency <= 0 {
		c.AccountConcurrency = 5
	}
	if c.OverlapMinutes <= 0 {
		c.OverlapMinutes = 30
	}
	if c.BackfillDays <= 0 {
		c.BackfillDays = 90
	}
	if c.MaxWindow == 0 {
		c.MaxWindow = 24 * time.Hour
	}
}
