// Package coord enforces single-flight execution per (account, domain)
// pair and owns the WorkerRun lifecycle.
//
// The lock is the database itself: Start performs one conditional insert
// that only succeeds when no fresh running row exists for the pair, so
// coordinator instances in different processes serialize on the SQLite
// write lock. A running row whose heartbeat has aged past the staleness
// threshold no longer counts as a lock holder; it is superseded in place
// and left untouched.
package coord

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hazyhaar/accsync/engine/internal/store"
	"github.com/hazyhaar/accsync/idgen"
)

// Summary is the terminal outcome persisted with a run.
type Summary struct {
	TotalFetched int    `json:"total_fetched"`
	TotalStored  int    `json:"total_stored"`
	WindowFrom   string `json:"window_from,omitempty"`
	WindowTo     string `json:"window_to,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Config tunes the coordinator.
type Config struct {
	// StaleThreshold is the maximum heartbeat age for a running row to
	// still hold the lock. Default: 10 minutes.
	StaleThreshold time.Duration
	// HeartbeatInterval is the KeepAlive stamp period. Default: 30s.
	HeartbeatInterval time.Duration
}

func (c *Config) defaults() {
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 10 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
}

// Coordinator manages WorkerRun rows for one engine database.
type Coordinator struct {
	store  *store.Store
	config Config
	newID  idgen.Generator
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Coordinator.
func New(st *store.Store, cfg Config, logger *slog.Logger) *Coordinator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  st,
		config: cfg,
		newID:  idgen.Prefixed("run_", idgen.Default),
		logger: logger,
		now:    time.Now,
	}
}

// Start attempts to open a run for the pair. It returns nil, nil when a
// fresh running row already exists — the caller skips the pair, this is
// not an error. On success the returned run is in running status with
// started_at = heartbeat_at = now.
func (c *Coordinator) Start(ctx context.Context, accountID, domain string) (*store.WorkerRun, error) {
	now := c.now().UnixMilli()
	run := &store.WorkerRun{
		ID:          c.newID(),
		AccountID:   accountID,
		Domain:      domain,
		StartedAt:   now,
		HeartbeatAt: now,
	}
	staleBefore := now - c.config.StaleThreshold.Milliseconds()

	ok, err := c.store.InsertRunIfIdle(ctx, run, staleBefore)
	if err != nil {
		return nil, err
	}
	if !ok {
		c.logger.Debug("coord: run already active, skipping",
			"account", accountID, "domain", domain)
		return nil, nil
	}
	return run, nil
}

// Heartbeat stamps heartbeat_at = now on a still-running row.
func (c *Coordinator) Heartbeat(ctx context.Context, run *store.WorkerRun) error {
	now := c.now().UnixMilli()
	if err := c.store.TouchHeartbeat(ctx, run.ID, now); err != nil {
		return err
	}
	run.HeartbeatAt = now
	return nil
}

// KeepAlive spawns a goroutine that heartbeats the run periodically
// while a long domain sync is in flight, so staleness detection tracks
// liveness rather than attempt duration. The returned stop function
// halts the loop and waits for it; call it before the terminal
// transition. Heartbeat write failures are logged and retried on the
// next tick — a flaky stamp must not abort the sync it describes.
func (c *Coordinator) KeepAlive(ctx context.Context, run *store.WorkerRun) (stop func()) {
	done := make(chan struct{})
	quit := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case <-ticker.C:
				if err := c.Heartbeat(ctx, run); err != nil {
					c.logger.Warn("coord: heartbeat failed",
						"run_id", run.ID, "error", err)
				}
			}
		}
	}()

	var once bool
	return func() {
		if once {
			return
		}
		once = true
		close(quit)
		<-done
	}
}

// Complete transitions the run to completed and persists the summary.
func (c *Coordinator) Complete(ctx context.Context, run *store.WorkerRun, sum Summary) error {
	return c.finish(ctx, run, store.StatusCompleted, sum)
}

// Fail transitions the run to error, persisting the message inside the
// summary.
func (c *Coordinator) Fail(ctx context.Context, run *store.WorkerRun, errMsg string, sum Summary) error {
	sum.Error = errMsg
	return c.finish(ctx, run, store.StatusError, sum)
}

func (c *Coordinator) finish(ctx context.Context, run *store.WorkerRun, status string, sum Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		data = []byte("{}")
	}
	now := c.now().UnixMilli()

	ok, err := c.store.FinishRun(ctx, run.ID, status, now, string(data))
	if err != nil {
		return err
	}
	if !ok {
		// Already terminal — a duplicate transition is a bug upstream,
		// but the row is consistent, so record and move on.
		c.logger.Warn("coord: run already finished",
			"run_id", run.ID, "status", status)
		return nil
	}
	run.Status = status
	run.FinishedAt = &now
	run.HeartbeatAt = now
	run.SummaryJSON = string(data)
	return nil
}
