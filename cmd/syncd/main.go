// Command syncd hosts the account sync engine: it opens the engine
// database, registers the configured API domains, and exposes the
// trigger and operations endpoints over HTTP.
//
// Usage:
//
//	syncd -config syncd.yaml              # serve, external trigger
//	syncd -config syncd.yaml -every 5m    # serve + internal cycle loop
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/accsync/dbopen"
	"github.com/hazyhaar/accsync/engine"
	"github.com/hazyhaar/accsync/shield"
	"github.com/hazyhaar/accsync/webapi"
)

func main() {
	configPath := flag.String("config", "syncd.yaml", "path to syncd.yaml config file")
	every := flag.Duration("every", 0, "run a full sync cycle on this interval (0 = external trigger only)")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, *configPath, *every); err != nil {
		logger.Error("syncd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, every time.Duration) error {
	cfg, err := LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Listen = ":" + port
	}
	if p := os.Getenv("DB_PATH"); p != "" {
		cfg.DBPath = p
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(),
		dbopen.WithSchema(engine.Schema), dbopen.WithSchema(webapi.Schema))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	provider := newStaticAccounts(cfg.Accounts)
	svc := engine.New(db, provider, provider, engine.Config{
		AccountConcurrency: cfg.Engine.AccountConcurrency,
		OverlapMinutes:     cfg.Engine.OverlapMinutes,
		BackfillDays:       cfg.Engine.BackfillDays,
		MaxWindow:          cfg.Engine.MaxWindow,
		Coord: engine.CoordConfig{
			StaleThreshold:    cfg.Engine.StaleThreshold,
			HeartbeatInterval: cfg.Engine.HeartbeatInterval,
		},
	}, logger)

	for domain, dc := range cfg.Domains {
		if err := svc.Registry().Register(domain, webapi.New(db, dc, logger)); err != nil {
			return fmt.Errorf("register domain %s: %w", domain, err)
		}
	}
	logger.Info("syncd: domains registered",
		"domains", svc.Registry().Domains(), "accounts", len(cfg.Accounts))

	// Optional MCP over stdio for agent tooling.
	if os.Getenv("MCP_TRANSPORT") == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "syncd",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("syncd: mcp", "error", err)
			}
		}()
	}

	// Internal cycle loop, for operators who want one process instead of
	// an external scheduler hitting POST /sync/run.
	if every > 0 {
		go func() {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := svc.RunForAllAccounts(ctx); err != nil {
						logger.Error("syncd: cycle", "error", err)
					}
				}
			}
		}()
	}

	r := newRouter(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("syncd: server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("syncd: server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("syncd: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("syncd: shutdown", "error", err)
	}
	logger.Info("syncd: stopped")
	return nil
}

// newRouter builds the operations surface. Triggers return 202 and run
// in the background under the daemon context, not the request's, so a
// closed client connection never cancels a sync mid-window.
func newRouter(daemonCtx context.Context, svc *engine.Service) chi.Router {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack() {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Post("/sync/run", func(w http.ResponseWriter, _ *http.Request) {
		go func() {
			if err := svc.RunForAllAccounts(daemonCtx); err != nil {
				slog.Error("syncd: run all", "error", err)
			}
		}()
		writeJSON(w, 202, map[string]string{"status": "started"})
	})

	r.Post("/sync/run/{account}", func(w http.ResponseWriter, req *http.Request) {
		account := chi.URLParam(req, "account")
		go func() {
			if err := svc.RunForAccount(daemonCtx, account); err != nil {
				slog.Error("syncd: run account", "account", account, "error", err)
			}
		}()
		writeJSON(w, 202, map[string]string{"status": "started", "account": account})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		runs, err := svc.Runs(req.Context(), engine.RunFilter{
			AccountID: q.Get("account"),
			Domain:    q.Get("domain"),
			Status:    q.Get("status"),
			Limit:     queryInt(req, "limit", 100),
		})
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, runs)
	})

	r.Get("/runs/{id}/log", func(w http.ResponseWriter, req *http.Request) {
		timeline, err := svc.RunTimeline(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, timeline)
	})

	r.Get("/state", func(w http.ResponseWriter, req *http.Request) {
		states, err := svc.SyncStates(req.Context(), req.URL.Query().Get("account"))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, states)
	})

	r.Get("/config/enabled", func(w http.ResponseWriter, req *http.Request) {
		enabled, err := svc.Enabled(req.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]bool{"enabled": enabled})
	})

	r.Put("/config/enabled", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Enabled == nil {
			writeJSON(w, 400, map[string]string{"error": "body must be {\"enabled\": bool}"})
			return
		}
		if err := svc.SetEnabled(req.Context(), *body.Enabled); err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]bool{"enabled": *body.Enabled})
	})

	r.Put("/state/{account}/{domain}/enabled", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Enabled == nil {
			writeJSON(w, 400, map[string]string{"error": "body must be {\"enabled\": bool}"})
			return
		}
		account := chi.URLParam(req, "account")
		domain := chi.URLParam(req, "domain")
		if err := svc.SetDomainEnabled(req.Context(), account, domain, *body.Enabled); err != nil {
			writeError(w, 400, err)
			return
		}
		writeJSON(w, 200, map[string]any{
			"account": account, "domain": domain, "enabled": *body.Enabled,
		})
	})

	r.Get("/notifications/{account}", func(w http.ResponseWriter, req *http.Request) {
		ntfs, err := svc.Notifications(req.Context(),
			chi.URLParam(req, "account"), queryInt(req, "limit", 50))
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, ntfs)
	})

	return r
}

// staticAccounts serves the account list and tokens straight from the
// config file. Token values expand ${ENV_VAR} at lookup time, so a
// rotated secret takes effect on the next run without a restart.
type staticAccounts struct {
	ids    []string
	tokens map[string]string
}

func newStaticAccounts(accounts []AccountConfig) *staticAccounts {
	s := &staticAccounts{tokens: make(map[string]string, len(accounts))}
	for _, a := range accounts {
		s.ids = append(s.ids, a.ID)
		s.tokens[a.ID] = a.Token
	}
	return s
}

func (s *staticAccounts) ListActive(ctx context.Context) ([]string, error) {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out, nil
}

func (s *staticAccounts) ValidToken(ctx context.Context, accountID string) (string, error) {
	raw, ok := s.tokens[accountID]
	if !ok {
		return "", fmt.Errorf("no credentials for account %s", accountID)
	}
	token := os.Expand(raw, os.Getenv)
	if token == "" {
		return "", fmt.Errorf("empty token for account %s", accountID)
	}
	return token, nil
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
