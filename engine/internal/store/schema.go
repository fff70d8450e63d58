package store

import "database/sql"

// Schema is the complete engine schema. All timestamps are integer
// milliseconds since epoch.
const Schema = `
-- Global kill switch and default tuning (single row, id=1)
CREATE TABLE IF NOT EXISTS global_config (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    enabled         INTEGER NOT NULL DEFAULT 1,
    overlap_minutes INTEGER NOT NULL DEFAULT 30,
    backfill_days   INTEGER NOT NULL DEFAULT 90,
    updated_at      INTEGER NOT NULL
);

-- Per-(account, domain) resumable cursor state
CREATE TABLE IF NOT EXISTS sync_state (
    account_id   TEXT NOT NULL,
    domain       TEXT NOT NULL,
    enabled      INTEGER NOT NULL DEFAULT 1,
    cursor_value TEXT NOT NULL DEFAULT '',
    last_run_at  INTEGER,
    last_error   TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    PRIMARY KEY (account_id, domain)
);

-- One row per sync attempt
CREATE TABLE IF NOT EXISTS worker_runs (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    domain       TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'running',
    started_at   INTEGER NOT NULL,
    heartbeat_at INTEGER NOT NULL,
    finished_at  INTEGER,
    summary_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_worker_runs_pair ON worker_runs(account_id, domain, status, heartbeat_at);
CREATE INDEX IF NOT EXISTS idx_worker_runs_started ON worker_runs(started_at DESC);

-- Append-only structured run timeline (observability)
CREATE TABLE IF NOT EXISTS run_log (
    id           TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL,
    account_id   TEXT NOT NULL,
    domain       TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    details_json TEXT NOT NULL DEFAULT '{}',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_log_run ON run_log(run_id, created_at);

-- One notification per terminal run
CREATE TABLE IF NOT EXISTS notifications (
    id         TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    domain     TEXT NOT NULL,
    run_id     TEXT NOT NULL UNIQUE,
    status     TEXT NOT NULL,
    title      TEXT NOT NULL,
    body       TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_account ON notifications(account_id, created_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
