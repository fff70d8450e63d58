package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/accsync/dbopen"
	"github.com/hazyhaar/accsync/engine"

	_ "modernc.org/sqlite"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Service, chan string) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(engine.Schema))
	provider := newStaticAccounts([]AccountConfig{{ID: "acct-1", Token: "tok"}})
	svc := engine.New(db, provider, provider, engine.Config{}, nil)

	synced := make(chan string, 8)
	svc.Registry().Register("orders", engine.RoutineFunc(
		func(ctx context.Context, job *engine.Job) (engine.Result, error) {
			synced <- job.AccountID
			return engine.Result{TotalFetched: 1, TotalStored: 1}, nil
		}))

	srv := httptest.NewServer(newRouter(context.Background(), svc))
	t.Cleanup(srv.Close)
	return srv, svc, synced
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func putJSON(t *testing.T, url string, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put %s: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestRoutes_Healthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var body map[string]string
	if code := getJSON(t, srv.URL+"/healthz", &body); code != 200 {
		t.Fatalf("healthz = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestRoutes_TriggerAccount(t *testing.T) {
	// WHAT: POST /sync/run/{account} returns 202 and runs the cycle in
	// the background; the run then shows up in /runs and /state.
	srv, _, synced := newTestServer(t)

	resp, err := http.Post(srv.URL+"/sync/run/acct-1", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 202 {
		t.Fatalf("trigger = %d", resp.StatusCode)
	}

	select {
	case acct := <-synced:
		if acct != "acct-1" {
			t.Errorf("synced account = %q", acct)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("routine not invoked within 2s")
	}

	// The run row lands shortly after the routine returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var runs []*engine.WorkerRun
		getJSON(t, srv.URL+"/runs?account=acct-1", &runs)
		if len(runs) == 1 && runs[0].Status == engine.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no completed run: %+v", runs)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var states []*engine.SyncState
	getJSON(t, srv.URL+"/state?account=acct-1", &states)
	if len(states) != 1 || states[0].CursorValue == "" {
		t.Errorf("states: %+v", states)
	}
}

func TestRoutes_KillSwitch(t *testing.T) {
	srv, _, _ := newTestServer(t)

	if code := putJSON(t, srv.URL+"/config/enabled", `{"enabled":false}`); code != 200 {
		t.Fatalf("disable = %d", code)
	}
	var body map[string]bool
	getJSON(t, srv.URL+"/config/enabled", &body)
	if body["enabled"] {
		t.Error("still enabled after disable")
	}

	if code := putJSON(t, srv.URL+"/config/enabled", `{"wrong":1}`); code != 400 {
		t.Errorf("malformed body = %d, want 400", code)
	}
}

func TestRoutes_DomainToggle(t *testing.T) {
	srv, svc, _ := newTestServer(t)
	ctx := context.Background()

	if code := putJSON(t, srv.URL+"/state/acct-1/orders/enabled", `{"enabled":false}`); code != 200 {
		t.Fatalf("toggle = %d", code)
	}
	states, _ := svc.SyncStates(ctx, "acct-1")
	if len(states) != 1 || states[0].Enabled {
		t.Errorf("states: %+v", states)
	}

	if code := putJSON(t, srv.URL+"/state/acct-1/bogus/enabled", `{"enabled":false}`); code != 400 {
		t.Errorf("unknown domain = %d, want 400", code)
	}
}
