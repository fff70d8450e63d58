package store

// Run statuses. A run transitions exactly once from StatusRunning to one
// of the terminal statuses; no other transitions exist.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Run log event types.
const (
	EventStart = "start"
	EventPage  = "page"
	EventDone  = "done"
	EventError = "error"
)

// GlobalConfig is the process-wide kill switch and default tuning.
type GlobalConfig struct {
	Enabled        bool  `json:"enabled"`
	OverlapMinutes int   `json:"overlap_minutes"`
	BackfillDays   int   `json:"backfill_days"`
	UpdatedAt      int64 `json:"updated_at"`
}

// SyncState is the durable cursor record for one (account, domain) pair.
// CursorValue is opaque to the engine; semantically it is an RFC 3339
// boundary that only moves forward, and only on a successful run.
type SyncState struct {
	AccountID   string `json:"account_id"`
	Domain      string `json:"domain"`
	Enabled     bool   `json:"enabled"`
	CursorValue string `json:"cursor_value"`
	LastRunAt   *int64 `json:"last_run_at,omitempty"`
	LastError   string `json:"last_error"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// WorkerRun is one sync attempt.
type WorkerRun struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Domain      string `json:"domain"`
	Status      string `json:"status"`
	StartedAt   int64  `json:"started_at"`
	HeartbeatAt int64  `json:"heartbeat_at"`
	FinishedAt  *int64 `json:"finished_at,omitempty"`
	SummaryJSON string `json:"summary_json"`
}

// RunLogEntry is one immutable event in a run's timeline.
type RunLogEntry struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	AccountID   string `json:"account_id"`
	Domain      string `json:"domain"`
	EventType   string `json:"event_type"`
	DetailsJSON string `json:"details_json"`
	CreatedAt   int64  `json:"created_at"`
}

// Notification is a write-once user-facing summary of a terminal run.
type Notification struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Domain    string `json:"domain"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
}
