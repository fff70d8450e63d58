// Package engine schedules and coordinates recurrent account syncs.
//
// For every active account and every registered data domain, the engine
// computes a resumable time window, takes a single-flight lock backed by
// the shared SQLite database, invokes the domain's sync routine, and
// leaves an auditable trail: a WorkerRun row per attempt, an append-only
// run log, and a notification per terminal run. Multiple engine
// processes can point at the same database; the lock serializes them.
package engine

import (
	"github.com/hazyhaar/accsync/engine/internal/coord"
	"github.com/hazyhaar/accsync/engine/internal/store"
)

// Re-export store types for the public API.
type (
	GlobalConfig = store.GlobalConfig
	SyncState    = store.SyncState
	WorkerRun    = store.WorkerRun
	RunLogEntry  = store.RunLogEntry
	Notification = store.Notification
	Summary      = coord.Summary
	RunFilter    = store.RunFilter
	CoordConfig  = coord.Config
)

// Run statuses.
const (
	StatusRunning   = store.StatusRunning
	StatusCompleted = store.StatusCompleted
	StatusError     = store.StatusError
)

// Run log event types.
const (
	EventStart = store.EventStart
	EventPage  = store.EventPage
	EventDone  = store.EventDone
	EventError = store.EventError
)

// Schema is the engine database schema, exported so callers can apply it
// via dbopen.WithSchema at open time.
const Schema = store.Schema
