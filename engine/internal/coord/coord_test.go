package coord

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/accsync/dbopen"
	"github.com/hazyhaar/accsync/engine/internal/store"

	_ "modernc.org/sqlite"
)

func newTestCoord(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.NewStore(db)
	return New(st, Config{}, nil), st
}

func TestStart_SingleFlight(t *testing.T) {
	// WHAT: A second Start for the same pair returns nil, nil while the
	// first run is fresh; the first run keeps its row.
	// WHY: Skip-not-fail is the contract for an already-busy pair.
	c, _ := newTestCoord(t)
	ctx := context.Background()

	run, err := c.Start(ctx, "acct-1", "orders")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run == nil || run.ID == "" {
		t.Fatal("first start should win")
	}
	if !strings.HasPrefix(run.ID, "run_") {
		t.Errorf("run id = %q, want run_ prefix", run.ID)
	}

	dup, err := c.Start(ctx, "acct-1", "orders")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if dup != nil {
		t.Errorf("second start should skip, got run %s", dup.ID)
	}

	other, err := c.Start(ctx, "acct-1", "messages")
	if err != nil || other == nil {
		t.Errorf("other domain should start: run=%v err=%v", other, err)
	}
}

func TestStart_SupersedesStale(t *testing.T) {
	// WHAT: A running row whose heartbeat is older than the threshold no
	// longer blocks Start, and is left in running status untouched.
	// WHY: Crashed attempts age out; history is immutable.
	c, st := newTestCoord(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	stale, err := c.Start(ctx, "acct-1", "orders")
	if err != nil || stale == nil {
		t.Fatalf("setup start: run=%v err=%v", stale, err)
	}

	// Just inside the threshold: still blocked.
	c.now = func() time.Time { return base.Add(9 * time.Minute) }
	if run, _ := c.Start(ctx, "acct-1", "orders"); run != nil {
		t.Fatal("fresh run should still hold the lock at 9m")
	}

	// Past the threshold: superseded.
	c.now = func() time.Time { return base.Add(11 * time.Minute) }
	fresh, err := c.Start(ctx, "acct-1", "orders")
	if err != nil || fresh == nil {
		t.Fatalf("supersede: run=%v err=%v", fresh, err)
	}

	got, err := st.GetRun(ctx, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusRunning || got.HeartbeatAt != base.UnixMilli() {
		t.Errorf("stale row mutated: %+v", got)
	}
}

func TestHeartbeat(t *testing.T) {
	c, st := newTestCoord(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	run, err := c.Start(ctx, "acct-1", "orders")
	if err != nil {
		t.Fatal(err)
	}

	c.now = func() time.Time { return base.Add(30 * time.Second) }
	if err := c.Heartbeat(ctx, run); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	want := base.Add(30 * time.Second).UnixMilli()
	if run.HeartbeatAt != want {
		t.Errorf("in-memory heartbeat = %d, want %d", run.HeartbeatAt, want)
	}
	got, _ := st.GetRun(ctx, run.ID)
	if got.HeartbeatAt != want {
		t.Errorf("stored heartbeat = %d, want %d", got.HeartbeatAt, want)
	}
}

func TestKeepAlive_StampsAndStops(t *testing.T) {
	// WHAT: KeepAlive stamps the heartbeat on its interval and the stop
	// function halts the loop; calling stop twice is safe.
	// WHY: Callers defer stop and also call it explicitly before finish.
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	st := store.NewStore(db)
	c := New(st, Config{HeartbeatInterval: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	run, err := c.Start(ctx, "acct-1", "orders")
	if err != nil {
		t.Fatal(err)
	}
	before := run.HeartbeatAt

	stored := func() int64 {
		t.Helper()
		got, err := st.GetRun(ctx, run.ID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		return got.HeartbeatAt
	}

	stop := c.KeepAlive(ctx, run)
	deadline := time.Now().Add(2 * time.Second)
	for stored() == before {
		if time.Now().After(deadline) {
			t.Fatal("no heartbeat stamped within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()
	stop() // idempotent

	after := stored()
	time.Sleep(50 * time.Millisecond)
	if stored() != after {
		t.Error("heartbeat advanced after stop")
	}
}

func TestComplete_PersistsSummary(t *testing.T) {
	c, st := newTestCoord(t)
	ctx := context.Background()

	run, err := c.Start(ctx, "acct-1", "orders")
	if err != nil {
		t.Fatal(err)
	}
	sum := Summary{
		TotalFetched: 12, TotalStored: 10,
		WindowFrom: "2026-03-01T11:00:00Z", WindowTo: "2026-03-01T12:00:00Z",
		DurationMs: 1500,
	}
	if err := c.Complete(ctx, run, sum); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if run.Status != store.StatusCompleted || run.FinishedAt == nil {
		t.Errorf("in-memory run not terminal: %+v", run)
	}

	got, _ := st.GetRun(ctx, run.ID)
	if got.Status != store.StatusCompleted {
		t.Fatalf("status = %q", got.Status)
	}
	var decoded Summary
	if err := json.Unmarshal([]byte(got.SummaryJSON), &decoded); err != nil {
		t.Fatalf("summary json: %v", err)
	}
	if decoded != sum {
		t.Errorf("summary = %+v, want %+v", decoded, sum)
	}
}

func TestFail_TerminalOnce(t *testing.T) {
	// WHAT: Fail records the error in the summary; a later Complete on
	// the same run does not overwrite the terminal state.
	// WHY: Exactly one running→terminal transition per run.
	c, st := newTestCoord(t)
	ctx := context.Background()

	run, err := c.Start(ctx, "acct-1", "orders")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Fail(ctx, run, "api: 503", Summary{TotalFetched: 4}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := c.Complete(ctx, run, Summary{TotalFetched: 99}); err != nil {
		t.Fatalf("duplicate transition should not error: %v", err)
	}

	got, _ := st.GetRun(ctx, run.ID)
	if got.Status != store.StatusError {
		t.Fatalf("status = %q, want error", got.Status)
	}
	var decoded Summary
	json.Unmarshal([]byte(got.SummaryJSON), &decoded)
	if decoded.Error != "api: 503" || decoded.TotalFetched != 4 {
		t.Errorf("summary = %+v", decoded)
	}
}

func TestConfigDefaults(t *testing.T) {
	c, _ := newTestCoord(t)
	if c.config.StaleThreshold != 10*time.Minute {
		t.Errorf("stale threshold = %v", c.config.StaleThreshold)
	}
	if c.config.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat interval = %v", c.config.HeartbeatInterval)
	}
}
