// Package webapi is a config-driven domain routine: it pulls records
// from a JSON HTTP API for a sync window and upserts them by natural
// key into a local table, so overlapping windows re-store the same
// records without duplicating them.
package webapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hazyhaar/accsync/engine"
)

// Schema creates the record table. Apply alongside engine.Schema when
// opening the database.
const Schema = `
CREATE TABLE IF NOT EXISTS api_records (
	account_id TEXT NOT NULL,
	domain     TEXT NOT NULL,
	record_key TEXT NOT NULL,
	payload    TEXT NOT NULL,
	fetched_at INTEGER NOT NULL,
	PRIMARY KEY (account_id, domain, record_key)
);
`

// Config describes how to call and parse one domain's API.
type Config struct {
	// URL is a template; {account}, {from} and {to} expand to the job's
	// account ID and RFC 3339 window bounds. ${ENV_VAR} is expanded too.
	URL string `yaml:"url" json:"url"`
	// Method defaults to GET.
	Method string `yaml:"method" json:"method"`
	// Headers are set on every request, ${ENV_VAR} expanded. An
	// Authorization header defaults to "Bearer <job token>".
	Headers map[string]string `yaml:"headers" json:"headers"`
	// ResultPath walks dot-notation into the response to the record
	// array, e.g. "data.items". Empty means the root is the array.
	ResultPath string `yaml:"result_path" json:"result_path"`
	// KeyField names the natural-key field inside each record.
	// Default: "id".
	KeyField string `yaml:"key_field" json:"key_field"`
	// Timeout bounds one request. Default: 30s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// Routine implements engine.Routine for one configured domain.
type Routine struct {
	db     *sql.DB
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New builds a Routine over the given database. The api_records table
// must exist (Schema).
func New(db *sql.DB, cfg Config, logger *slog.Logger) *Routine {
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.KeyField == "" {
		cfg.KeyField = "id"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Routine{
		db:     db,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Sync fetches the window's records and upserts them by natural key.
func (r *Routine) Sync(ctx context.Context, job *engine.Job) (engine.Result, error) {
	items, err := r.fetch(ctx, job)
	if err != nil {
		return engine.Result{}, err
	}

	res := engine.Result{TotalFetched: len(items)}
	now := time.Now().UnixMilli()
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key := asString(obj[r.cfg.KeyField])
		if key == "" {
			r.logger.Warn("webapi: record without key, skipping",
				"domain", job.Domain, "key_field", r.cfg.KeyField)
			continue
		}
		payload, err := json.Marshal(obj)
		if err != nil {
			continue
		}
		if err := r.upsert(ctx, job.AccountID, job.Domain, key, string(payload), now); err != nil {
			return res, fmt.Errorf("webapi: store record %q: %w", key, err)
		}
		res.TotalStored++
	}

	job.ReportPage(ctx, 1, res.TotalFetched, res.TotalStored)
	return res, nil
}

func (r *Routine) fetch(ctx context.Context, job *engine.Job) ([]any, error) {
	u := r.expandURL(job)
	req, err := http.NewRequestWithContext(ctx, r.cfg.Method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("webapi: new request: %w", err)
	}
	for k, v := range r.cfg.Headers {
		req.Header.Set(k, os.Expand(v, os.Getenv))
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("Authorization") == "" && job.Token != "" {
		req.Header.Set("Authorization", "Bearer "+job.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webapi: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("webapi: http %d from %s", resp.StatusCode, req.URL.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("webapi: read body: %w", err)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("webapi: json decode: %w", err)
	}
	items, err := walkPath(raw, r.cfg.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("webapi: walk path %q: %w", r.cfg.ResultPath, err)
	}
	return items, nil
}

func (r *Routine) expandURL(job *engine.Job) string {
	u := os.Expand(r.cfg.URL, os.Getenv)
	pairs := strings.NewReplacer(
		"{account}", url.QueryEscape(job.AccountID),
		"{from}", url.QueryEscape(job.From.UTC().Format(time.RFC3339)),
		"{to}", url.QueryEscape(job.To.UTC().Format(time.RFC3339)),
	)
	return pairs.Replace(u)
}

func (r *Routine) upsert(ctx context.Context, accountID, domain, key, payload string, now int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_records (account_id, domain, record_key, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, domain, record_key)
		DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		accountID, domain, key, payload, now)
	return err
}

// walkPath walks a dot-notation path into a decoded JSON value and
// returns the array found there. An empty path means the root itself.
func walkPath(v any, path string) ([]any, error) {
	current := v
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected object at %q, got %T", part, current)
			}
			current, ok = obj[part]
			if !ok {
				return nil, fmt.Errorf("key %q not found", part)
			}
		}
	}
	arr, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("path %q is not an array", path)
	}
	return arr, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
