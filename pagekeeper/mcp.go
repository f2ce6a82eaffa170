// CLAUDE:SUMMARY Registers pagekeeper MCP tools: list/add pages, add elements, run a page, schedules, locator validation, element values, audit log.
package pagekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pricewatch/pagekeeper/internal/audit"
)

// RegisterMCP registers pagekeeper tools on an MCP server.
func (k *Keeper) RegisterMCP(srv *mcp.Server) {
	k.registerListPagesTool(srv)
	k.registerAddPageTool(srv)
	k.registerAddElementTool(srv)
	k.registerRunPageTool(srv)
	k.registerListSchedulesTool(srv)
	k.registerValidateTool(srv)
	k.registerElementDataTool(srv)
	k.registerAuditLogTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
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

// registerTool decodes the arguments into T, calls fn and returns its result
// as JSON text. Errors become tool errors, never protocol errors.
func registerTool[T any](srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, req *T) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r T
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := fn(audit.WithOrigin(ctx, audit.SourceMCP, ""), &r)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- pages ---

type listPagesRequest struct{}

func (k *Keeper) registerListPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagekeeper_list_pages",
		Description: "List tracked web pages with their daily run time and enabled flag.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, _ *listPagesRequest) (any, error) {
		return k.ListPages(ctx)
	})
}

func (k *Keeper) registerAddPageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagekeeper_add_page",
		Description: "Track a new web page. It is scraped once a day at run_hour:run_minute.",
		InputSchema: inputSchema(map[string]any{
			"url":        map[string]any{"type": "string", "description": "Absolute http(s) URL of the page"},
			"name":       map[string]any{"type": "string", "description": "Display name"},
			"run_hour":   map[string]any{"type": "integer", "minimum": 0, "maximum": 23, "description": "Hour of the daily run (default 10)"},
			"run_minute": map[string]any{"type": "integer", "minimum": 0, "maximum": 59, "description": "Minute of the daily run (default 0)"},
			"enabled":    map[string]any{"type": "boolean", "description": "Whether the page is scheduled (default true)"},
		}, []string{"url"}),
	}
	registerTool(srv, tool, func(ctx context.Context, in *PageInput) (any, error) {
		if err := k.writable(); err != nil {
			return nil, err
		}
		return k.AddPage(ctx, *in)
	})
}

// --- elements ---

type addElementRequest struct {
	WebpageID  string  `json:"webpage_id"`
	Locator    string  `json:"locator"`
	MetricName *string `json:"metric_name,omitempty"`
}

func (k *Keeper) registerAddElementTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagekeeper_add_element",
		Description: "Attach a CSS selector or XPath locator to a page. Its text is parsed as a number on every run.",
		InputSchema: inputSchema(map[string]any{
			"webpage_id":  map[string]any{"type": "string", "description": "Page ID"},
			"locator":     map[string]any{"type": "string", "description": "CSS selector, or XPath when it starts with / or ("},
			"metric_name": map[string]any{"type": "string", "description": "Optional label for the value"},
		}, []string{"webpage_id", "locator"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r *addElementRequest) (any, error) {
		if err := k.writable(); err != nil {
			return nil, err
		}
		return k.AddElement(ctx, r.WebpageID, ElementInput{Locator: &r.Locator, MetricName: r.MetricName})
	})
}

type elementDataRequest struct {
	ElementID string `json:"element_id"`
	Limit     int    `json:"limit,omitempty"`
}

func (k *Keeper) registerElementDataTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagekeeper_element_data",
		Description: "Return the newest scraped values of an element.",
		InputSchema: inputSchema(map[string]any{
			"element_id": map[string]any{"type": "string", "description": "Element ID"},
			"limit":      map[string]any{"type": "integer", "description": "Max values (default 100)"},
		}, []string{"element_id"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r *elementDataRequest) (any, error) {
		limit := r.Limit
		if limit <= 0 {
			limit = defaultDataLimit
		}
		return k.ElementData(ctx, r.ElementID, limit)
	})
}

// --- runs ---

type runPageRequest struct {
	WebpageID string `json:"webpage_id"`
}

func (k *Keeper) registerRunPageTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagekeeper_run_page",
		Description: "Scrape a page now. Returns the per-element outcomes and the values stored.",
		InputSchema: inputSchema(map[string]any{
			"webpage_id": map[string]any{"type": "string", "description": "Page ID"},
		}, []string{"webpage_id"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r *runPageRequest) (any, error) {
		if err := k.writable(); err != nil {
			return nil, err
		}
		return k.RunPage(ctx, r.WebpageID)
	})
}

type listSchedulesRequest struct{}

func (k *Keeper) registerListSchedulesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagekeeper_list_schedules",
		Description: "List the registered daily jobs, soonest first, with their next fire time.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(_ context.Context, _ *listSchedulesRequest) (any, error) {
		return k.Schedules(), nil
	})
}

type validateRequest struct {
	URL      string   `json:"url"`
	Locators []string `json:"locators"`
}

func (k *Keeper) registerValidateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagekeeper_validate",
		Description: "Fetch a URL once and parse each locator's text as a number without storing anything.",
		InputSchema: inputSchema(map[string]any{
			"url":      map[string]any{"type": "string", "description": "Absolute http(s) URL"},
			"locators": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "CSS selectors or XPath expressions"},
		}, []string{"url", "locators"}),
	}
	registerTool(srv, tool, func(ctx context.Context, r *validateRequest) (any, error) {
		return k.Validate(ctx, r.URL, r.Locators)
	})
}

// --- audit ---

type auditLogRequest struct {
	Operation string `json:"operation,omitempty"`
	TargetID  string `json:"target_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

func (k *Keeper) registerAuditLogTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagekeeper_audit_log",
		Description: "List recorded page/element changes and manual runs, newest first.",
		InputSchema: inputSchema(map[string]any{
			"operation": map[string]any{"type": "string", "description": "e.g. add_page, patch_element, run_page"},
			"target_id": map[string]any{"type": "string", "description": "Page or element ID"},
			"status":    map[string]any{"type": "string", "enum": []string{"success", "error"}},
			"limit":     map[string]any{"type": "integer", "description": "Max entries (default 100)"},
		}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, r *auditLogRequest) (any, error) {
		return k.AuditLog(ctx, AuditFilter{
			Operation: r.Operation,
			TargetID:  r.TargetID,
			Status:    r.Status,
			Limit:     r.Limit,
		})
	})
}
