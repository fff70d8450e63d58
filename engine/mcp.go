package engine

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/accsync/kit"
)

// RegisterMCP registers all sync engine tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerRunAll(srv)
	svc.registerRunAccount(srv)
	svc.registerListRuns(srv)
	svc.registerRunTimeline(srv)
	svc.registerSetEnabled(srv)
	svc.registerSetDomainEnabled(srv)
	svc.registerSyncStates(srv)
	svc.registerNotifications(srv)
}

// registerTool wires every tool endpoint through the shared middleware
// chain: each invocation is logged with its tool name and outcome.
func (svc *Service) registerTool(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, tool, endpoint, decode, svc.toolLog(tool.Name))
}

func (svc *Service) toolLog(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			if err != nil {
				svc.logger.Warn("engine: mcp tool failed", "tool", name, "error", err)
				return resp, err
			}
			svc.logger.Debug("engine: mcp tool handled", "tool", name)
			return resp, nil
		}
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (svc *Service) registerRunAll(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "sync_run_all",
		Description: "Run one full sync cycle across all active accounts",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := svc.RunForAllAccounts(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "dispatched"}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &req{}}, nil
	}

	svc.registerTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerRunAccount(srv *mcp.Server) {
	type req struct {
		AccountID string `json:"account_id"`
	}

	tool := &mcp.Tool{
		Name:        "sync_run_account",
		Description: "Run all enabled domains for one account",
		InputSchema: inputSchema(map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Account ID"},
		}, []string{"account_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if err := svc.RunForAccount(ctx, p.AccountID); err != nil {
			return nil, err
		}
		return map[string]string{"status": "dispatched", "account_id": p.AccountID}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request:   &p,
			EnrichCtx: func(ctx context.Context) context.Context { return kit.WithAccountID(ctx, p.AccountID) },
		}, nil
	}

	svc.registerTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerListRuns(srv *mcp.Server) {
	type req struct {
		AccountID string `json:"account_id"`
		Domain    string `json:"domain"`
		Status    string `json:"status"`
		Limit     int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "sync_list_runs",
		Description: "List sync run history, newest first",
		InputSchema: inputSchema(map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Filter by account"},
			"domain":     map[string]any{"type": "string", "description": "Filter by data domain"},
			"status":     map[string]any{"type": "string", "description": "Filter: running, completed, error"},
			"limit":      map[string]any{"type": "integer", "description": "Max rows (default 100)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Runs(ctx, RunFilter{
			AccountID: p.AccountID,
			Domain:    p.Domain,
			Status:    p.Status,
			Limit:     p.Limit,
		})
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	svc.registerTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerRunTimeline(srv *mcp.Server) {
	type req struct {
		RunID string `json:"run_id"`
	}

	tool := &mcp.Tool{
		Name:        "sync_run_timeline",
		Description: "Structured event timeline for one sync run",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run ID"},
		}, []string{"run_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.RunTimeline(ctx, p.RunID)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	svc.registerTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerSetEnabled(srv *mcp.Server) {
	type req struct {
		Enabled bool `json:"enabled"`
	}

	tool := &mcp.Tool{
		Name:        "sync_set_enabled",
		Description: "Flip the global sync kill switch",
		InputSchema: inputSchema(map[string]any{
			"enabled": map[string]any{"type": "boolean", "description": "true to enable syncing"},
		}, []string{"enabled"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if err := svc.SetEnabled(ctx, p.Enabled); err != nil {
			return nil, err
		}
		return map[string]bool{"enabled": p.Enabled}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	svc.registerTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerSetDomainEnabled(srv *mcp.Server) {
	type req struct {
		AccountID string `json:"account_id"`
		Domain    string `json:"domain"`
		Enabled   bool   `json:"enabled"`
	}

	tool := &mcp.Tool{
		Name:        "sync_set_domain_enabled",
		Description: "Enable or disable one data domain for one account",
		InputSchema: inputSchema(map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Account ID"},
			"domain":     map[string]any{"type": "string", "description": "Data domain tag"},
			"enabled":    map[string]any{"type": "boolean", "description": "true to enable"},
		}, []string{"account_id", "domain", "enabled"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if err := svc.SetDomainEnabled(ctx, p.AccountID, p.Domain, p.Enabled); err != nil {
			return nil, err
		}
		return map[string]any{"account_id": p.AccountID, "domain": p.Domain, "enabled": p.Enabled}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	svc.registerTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerSyncStates(srv *mcp.Server) {
	type req struct {
		AccountID string `json:"account_id"`
	}

	tool := &mcp.Tool{
		Name:        "sync_states",
		Description: "Cursor state per (account, domain) pair for health dashboards",
		InputSchema: inputSchema(map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Optional account filter"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.SyncStates(ctx, p.AccountID)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	svc.registerTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerNotifications(srv *mcp.Server) {
	type req struct {
		AccountID string `json:"account_id"`
		Limit     int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "sync_notifications",
		Description: "Notifications for an account, newest first",
		InputSchema: inputSchema(map[string]any{
			"account_id": map[string]any{"type": "string", "description": "Account ID"},
			"limit":      map[string]any{"type": "integer", "description": "Max rows (default 50)"},
		}, []string{"account_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Notifications(ctx, p.AccountID, p.Limit)
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	svc.registerTool(srv, tool, endpoint, decode)
}
