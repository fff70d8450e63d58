package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hazyhaar/accsync/engine/internal/coord"
	"github.com/hazyhaar/accsync/engine/internal/store"
	"github.com/hazyhaar/accsync/engine/internal/window"
)

// Accounts lists the active tenant accounts to dispatch.
type Accounts interface {
	ListActive(ctx context.Context) ([]string, error)
}

// Credentials returns a valid API token for an account. Consulted once
// per run, before the domain routine is invoked.
type Credentials interface {
	ValidToken(ctx context.Context, accountID string) (string, error)
}

// Service is the sync dispatcher. It owns no timers of its own; an
// external caller triggers RunForAllAccounts or RunForAccount on an
// operator-chosen interval.
type Service struct {
	store    *store.Store
	coord    *coord.Coordinator
	registry *Registry
	accounts Accounts
	creds    Credentials
	runlog   *RunLogger
	notifier *Notifier
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Service on an already-opened engine database. The schema
// must have been applied (dbopen.WithSchema(engine.Schema) or
// engine.ApplySchema).
func New(db *sql.DB, accounts Accounts, creds Credentials, cfg Config, logger *slog.Logger, opts ...ServiceOption) *Service {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	st := store.NewStore(db)
	svc := &Service{
		store:    st,
		coord:    coord.New(st, cfg.Coord, logger),
		registry: NewRegistry(),
		accounts: accounts,
		creds:    creds,
		runlog:   newRunLogger(st, logger),
		notifier: newNotifier(st, logger),
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithNow overrides the clock. Used in tests to pin window bounds.
func WithNow(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// ApplySchema applies the engine schema to a database. Exported for
// migration scripts and callers that open the database themselves.
func ApplySchema(db *sql.DB) error {
	return store.ApplySchema(db)
}

// Registry returns the domain registry for routine registration.
func (svc *Service) Registry() *Registry {
	return svc.registry
}

// RunForAllAccounts runs one full dispatch cycle: kill switch check,
// then every registered domain for every active account, with account
// fan-out bounded by Config.AccountConcurrency. Account order is
// shuffled each cycle so no account is starved by earlier ones on slow
// cycles. Per-domain failures are contained; the returned error only
// covers the dispatch itself (config read, account listing).
func (svc *Service) RunForAllAccounts(ctx context.Context) error {
	gc, err := svc.globalConfig(ctx)
	if err != nil {
		return err
	}
	if !gc.Enabled {
		svc.logger.Info("engine: sync globally disabled, skipping cycle")
		return nil
	}

	accounts, err := svc.accounts.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active accounts: %w", err)
	}
	rand.Shuffle(len(accounts), func(i, j int) {
		accounts[i], accounts[j] = accounts[j], accounts[i]
	})

	sem := make(chan struct{}, svc.config.AccountConcurrency)
	var wg sync.WaitGroup

	for _, accountID := range accounts {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := svc.runAccount(ctx, accountID, gc); err != nil {
				svc.logger.Warn("engine: account dispatch failed",
					"account", accountID, "error", err)
			}
		}(accountID)
	}

	wg.Wait()
	return nil
}

// RunForAccount runs every registered, enabled domain for one account.
// Domains run concurrently; one domain's failure or panic never prevents
// the others from running or being awaited to completion.
func (svc *Service) RunForAccount(ctx context.Context, accountID string) error {
	gc, err := svc.globalConfig(ctx)
	if err != nil {
		return err
	}
	return svc.runAccount(ctx, accountID, gc)
}

func (svc *Service) runAccount(ctx context.Context, accountID string, gc *GlobalConfig) error {
	var wg sync.WaitGroup

	for _, domain := range svc.registry.Domains() {
		state, err := svc.store.EnsureSyncState(ctx, accountID, domain)
		if err != nil {
			svc.logger.Warn("engine: sync state",
				"account", accountID, "domain", domain, "error", err)
			continue
		}
		if !state.Enabled {
			svc.logger.Debug("engine: domain disabled, skipping",
				"account", accountID, "domain", domain)
			continue
		}

		wg.Add(1)
		go func(domain string, state *SyncState) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					svc.logger.Error("engine: domain sync panicked",
						"account", accountID, "domain", domain, "panic", r)
				}
			}()
			if err := svc.runDomain(ctx, accountID, domain, state, gc); err != nil {
				svc.logger.Warn("engine: domain sync failed",
					"account", accountID, "domain", domain, "error", err)
			}
		}(domain, state)
	}

	wg.Wait()
	return nil
}

// runDomain executes one sync attempt for a pair: lock, window, run log,
// routine, cursor/terminal transition, notification.
func (svc *Service) runDomain(ctx context.Context, accountID, domain string, state *SyncState, gc *GlobalConfig) error {
	routine, ok := svc.registry.Lookup(domain)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}

	run, err := svc.coord.Start(ctx, accountID, domain)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	if run == nil {
		// A fresh run is already active for the pair. Not an error.
		return nil
	}

	overlap := time.Duration(gc.OverlapMinutes) * time.Minute
	backfill := time.Duration(gc.BackfillDays) * 24 * time.Hour
	from, to := window.Compute(state.CursorValue, svc.now(), overlap, backfill)
	from, to = window.Clamp(from, to, svc.config.MaxWindow)

	sum := Summary{
		WindowFrom: window.Cursor(from),
		WindowTo:   window.Cursor(to),
	}

	token, err := svc.creds.ValidToken(ctx, accountID)
	if err != nil {
		return svc.failRun(ctx, run, fmt.Errorf("credentials: %w", err), sum)
	}

	svc.runlog.Record(ctx, run, EventStart, map[string]any{
		"window_from": sum.WindowFrom,
		"window_to":   sum.WindowTo,
	})

	stop := svc.coord.KeepAlive(ctx, run)
	started := svc.now()
	res, err := routine.Sync(ctx, &Job{
		AccountID: accountID,
		Domain:    domain,
		Token:     token,
		From:      from,
		To:        to,
		RunID:     run.ID,
		runlog:    svc.runlog,
		run:       run,
	})
	stop()
	sum.DurationMs = svc.now().Sub(started).Milliseconds()
	sum.TotalFetched = res.TotalFetched
	sum.TotalStored = res.TotalStored

	if err != nil {
		return svc.failRun(ctx, run, err, sum)
	}

	svc.runlog.Record(ctx, run, EventDone, map[string]any{
		"total_fetched": res.TotalFetched,
		"total_stored":  res.TotalStored,
	})

	// The cursor becomes the window's upper bound — possibly clamped, in
	// which case the next cycle resumes from the clamp point.
	if err := svc.store.AdvanceCursor(ctx, accountID, domain, sum.WindowTo, run.StartedAt); err != nil {
		return svc.failRun(ctx, run, fmt.Errorf("advance cursor: %w", err), sum)
	}
	if err := svc.coord.Complete(ctx, run, sum); err != nil {
		svc.logger.Warn("engine: complete run",
			"run_id", run.ID, "error", err)
	}
	svc.notifier.Emit(ctx, run, StatusCompleted, sum)
	return nil
}

// failRun records the failure everywhere it must land: run log, sync
// state (cursor untouched), the run row, and a notification.
func (svc *Service) failRun(ctx context.Context, run *WorkerRun, cause error, sum Summary) error {
	svc.runlog.Record(ctx, run, EventError, map[string]any{"error": cause.Error()})

	if err := svc.store.RecordSyncError(ctx, run.AccountID, run.Domain, cause.Error(), run.StartedAt); err != nil {
		svc.logger.Warn("engine: record sync error",
			"run_id", run.ID, "error", err)
	}
	if err := svc.coord.Fail(ctx, run, cause.Error(), sum); err != nil {
		svc.logger.Warn("engine: fail run",
			"run_id", run.ID, "error", err)
	}
	svc.notifier.Emit(ctx, run, StatusError, sum)
	return cause
}

func (svc *Service) globalConfig(ctx context.Context) (*GlobalConfig, error) {
	gc, err := svc.store.GlobalConfig(ctx, svc.config.OverlapMinutes, svc.config.BackfillDays)
	if err != nil {
		return nil, fmt.Errorf("global config: %w", err)
	}
	return gc, nil
}

// --- Operator surface ---

// Enabled reports the global kill switch.
func (svc *Service) Enabled(ctx context.Context) (bool, error) {
	gc, err := svc.globalConfig(ctx)
	if err != nil {
		return false, err
	}
	return gc.Enabled, nil
}

// SetEnabled flips the global kill switch. Takes effect at the next
// dispatch evaluation; in-flight runs are not preempted.
func (svc *Service) SetEnabled(ctx context.Context, enabled bool) error {
	if _, err := svc.globalConfig(ctx); err != nil {
		return err
	}
	return svc.store.SetGlobalEnabled(ctx, enabled)
}

// SetDomainEnabled toggles one (account, domain) pair.
func (svc *Service) SetDomainEnabled(ctx context.Context, accountID, domain string, enabled bool) error {
	if _, ok := svc.registry.Lookup(domain); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, domain)
	}
	if _, err := svc.store.EnsureSyncState(ctx, accountID, domain); err != nil {
		return err
	}
	return svc.store.SetSyncEnabled(ctx, accountID, domain, enabled)
}

// Runs returns run history, newest first.
func (svc *Service) Runs(ctx context.Context, f RunFilter) ([]*WorkerRun, error) {
	return svc.store.ListRuns(ctx, f)
}

// RunningRuns returns all rows still in running status, including
// orphans whose heartbeat aged past the staleness threshold.
func (svc *Service) RunningRuns(ctx context.Context) ([]*WorkerRun, error) {
	return svc.store.ListRunningRuns(ctx)
}

// RunTimeline returns the structured log for one run, oldest first.
func (svc *Service) RunTimeline(ctx context.Context, runID string) ([]*RunLogEntry, error) {
	return svc.store.RunTimeline(ctx, runID)
}

// SyncStates returns cursor state for dashboards; accountID may be
// empty for all accounts.
func (svc *Service) SyncStates(ctx context.Context, accountID string) ([]*SyncState, error) {
	return svc.store.ListSyncStates(ctx, accountID)
}

// Notifications returns an account's notifications, newest first.
func (svc *Service) Notifications(ctx context.Context, accountID string, limit int) ([]*Notification, error) {
	return svc.store.ListNotifications(ctx, accountID, limit)
}
