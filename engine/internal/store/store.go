// Package store provides the data access layer for the sync engine.
//
// All engine state lives in one SQLite database: the global kill switch,
// per-(account, domain) sync state, worker run rows, the append-only run
// log, and notifications. The engine receives a *sql.DB opened by the
// caller (via dbopen), so multiple scheduler processes can share the same
// database file.
package store

import "database/sql"

// Store wraps the engine database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
