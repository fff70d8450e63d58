package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/accsync/engine/internal/store"
	"github.com/hazyhaar/accsync/idgen"
)

// Notifier creates one user-facing notification per terminal run.
// Best-effort: a failure here is slogged and swallowed, it never turns
// an otherwise-successful run into a failure.
type Notifier struct {
	store  *store.Store
	newID  idgen.Generator
	logger *slog.Logger
}

func newNotifier(st *store.Store, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:  st,
		newID:  idgen.Prefixed("ntf_", idgen.Default),
		logger: logger,
	}
}

// Emit writes the notification for a finished run.
func (n *Notifier) Emit(ctx context.Context, run *WorkerRun, status string, sum Summary) {
	var title, body string
	switch status {
	case StatusCompleted:
		title = fmt.Sprintf("%s sync completed", run.Domain)
		body = fmt.Sprintf("fetched %d, stored %d (window %s → %s)",
			sum.TotalFetched, sum.TotalStored, sum.WindowFrom, sum.WindowTo)
	default:
		title = fmt.Sprintf("%s sync failed", run.Domain)
		body = sum.Error
	}

	err := n.store.InsertNotification(ctx, &store.Notification{
		ID:        n.newID(),
		AccountID: run.AccountID,
		Domain:    run.Domain,
		RunID:     run.ID,
		Status:    status,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		n.logger.Warn("engine: notification write failed",
			"run_id", run.ID, "account", run.AccountID, "error", err)
	}
}
