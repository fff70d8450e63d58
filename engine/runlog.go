package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hazyhaar/accsync/engine/internal/store"
	"github.com/hazyhaar/accsync/idgen"
)

// RunLogger appends structured events to a run's timeline. Pure
// recording: a failed log write is slogged and swallowed, it never
// aborts the run it describes.
type RunLogger struct {
	store  *store.Store
	newID  idgen.Generator
	logger *slog.Logger
}

func newRunLogger(st *store.Store, logger *slog.Logger) *RunLogger {
	return &RunLogger{
		store:  st,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: logger,
	}
}

// Record appends one event. details may be nil.
func (l *RunLogger) Record(ctx context.Context, run *WorkerRun, eventType string, details map[string]any) {
	detailsJSON := "{}"
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			detailsJSON = string(data)
		}
	}
	entry := &store.RunLogEntry{
		ID:          l.newID(),
		RunID:       run.ID,
		AccountID:   run.AccountID,
		Domain:      run.Domain,
		EventType:   eventType,
		DetailsJSON: detailsJSON,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := l.store.InsertRunLog(ctx, entry); err != nil {
		l.logger.Warn("engine: run log write failed",
			"run_id", run.ID, "event", eventType, "error", err)
	}
}
