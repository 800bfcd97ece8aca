package riotsync

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/riotsync/audit"
	"github.com/hazyhaar/riotsync/kit"
)

// RegisterMCP registers the riotsync tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerSyncNow(srv)
	svc.registerLookupIP(srv)
	svc.registerStats(srv)
	svc.registerListCategory(srv)
}

// register adds one tool, audited under its name when an audit logger is set.
func (svc *Service) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	if svc.audit != nil {
		endpoint = audit.Middleware(svc.audit, tool.Name)(endpoint)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
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

func (svc *Service) registerSyncNow(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "riot_sync_now",
		Description: "Download the RIOT feed and upsert it into the local store now. Returns the run summary.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		sum, err := svc.Sync(ctx)
		if err != nil {
			return nil, err
		}
		return sum, nil
	}

	svc.register(srv, tool, endpoint, kit.DecodeArgs[req])
}

func (svc *Service) registerLookupIP(srv *mcp.Server) {
	type req struct {
		IP string `json:"ip"`
	}

	tool := &mcp.Tool{
		Name:        "riot_lookup_ip",
		Description: "Look up an IP address in the RIOT store (known benign business services)",
		InputSchema: inputSchema(map[string]any{
			"ip": map[string]any{"type": "string", "description": "IPv4 or IPv6 address"},
		}, []string{"ip"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.Lookup(ctx, p.IP)
	}

	svc.register(srv, tool, endpoint, kit.DecodeArgs[req])
}

func (svc *Service) registerStats(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "riot_stats",
		Description: "Document count, category count and last ingestion time of the RIOT store",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return svc.Stats(ctx)
	}

	svc.register(srv, tool, endpoint, kit.DecodeArgs[req])
}

func (svc *Service) registerListCategory(srv *mcp.Server) {
	type req struct {
		Category string `json:"category"`
		Limit    int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "riot_list_category",
		Description: "List stored RIOT documents of one category, ordered by ip",
		InputSchema: inputSchema(map[string]any{
			"category": map[string]any{"type": "string", "description": "Category, e.g. search_engine"},
			"limit":    map[string]any{"type": "integer", "description": "Max results (default 100)"},
		}, []string{"category"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.ListByCategory(ctx, p.Category, p.Limit)
	}

	svc.register(srv, tool, endpoint, kit.DecodeArgs[req])
}
