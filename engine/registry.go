package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Job is one sync invocation handed to a domain routine: the account,
// its API token, the half-open window [From, To) to fetch, and the run
// ID threading log entries together.
type Job struct {
	AccountID string
	Domain    string
	Token     string
	From      time.Time
	To        time.Time
	RunID     string

	runlog *RunLogger
	run    *WorkerRun
}

// ReportPage appends a page event to the run log. Best-effort: routines
// may call it per fetched page for a readable timeline, failures are
// swallowed by the log layer.
func (j *Job) ReportPage(ctx context.Context, page, fetched, stored int) {
	if j.runlog == nil || j.run == nil {
		return
	}
	j.runlog.Record(ctx, j.run, EventPage, map[string]any{
		"page":    page,
		"fetched": fetched,
		"stored":  stored,
	})
}

// Result carries the aggregate counts of one routine invocation.
type Result struct {
	TotalFetched int
	TotalStored  int
}

// Routine performs the actual fetch/parse/store for one data domain.
//
// Implementations must be idempotent under re-invocation with an
// overlapping window: the engine intentionally overlaps every window,
// so writing the same record twice must not duplicate it (upsert by
// natural key). A returned error marks the run failed and leaves the
// cursor untouched, so the window is retried on the next cycle.
type Routine interface {
	Sync(ctx context.Context, job *Job) (Result, error)
}

// RoutineFunc adapts a function to the Routine interface.
type RoutineFunc func(ctx context.Context, job *Job) (Result, error)

// Sync calls f.
func (f RoutineFunc) Sync(ctx context.Context, job *Job) (Result, error) {
	return f(ctx, job)
}

// Registry maps a domain tag to its Routine. Adding a data domain means
// registering one implementation; the dispatcher iterates the registry.
type Registry struct {
	mu       sync.RWMutex
	routines map[string]Routine
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routines: make(map[string]Routine)}
}

// Register binds a domain tag to a routine. Registering the same tag
// twice is a wiring bug and returns ErrDomainRegistered.
func (r *Registry) Register(domain string, rt Routine) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain tag", ErrInvalidDomain)
	}
	if rt == nil {
		return fmt.Errorf("%w: nil routine for %q", ErrInvalidDomain, domain)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routines[domain]; exists {
		return fmt.Errorf("%w: %s", ErrDomainRegistered, domain)
	}
	r.routines[domain] = rt
	return nil
}

// Lookup returns the routine for a domain tag.
func (r *Registry) Lookup(domain string) (Routine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routines[domain]
	return rt, ok
}

// Domains returns the registered domain tags, sorted for deterministic
// iteration.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.routines))
	for d := range r.routines {
		tags = append(tags, d)
	}
	sort.Strings(tags)
	return tags
}
