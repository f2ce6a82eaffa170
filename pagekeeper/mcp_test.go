package pagekeeper

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testImpl = &mcp.Implementation{Name: "pagekeeper-test", Version: "0.1.0"}

// mcpSession registers the keeper's tools and returns a connected client
// session that can call them end-to-end.
func mcpSession(t *testing.T, k *Keeper) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	k.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func call(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result := call(t, session, name, args)
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text
}

func TestMCP_ListTools(t *testing.T) {
	session := mcpSession(t, testKeeper(t, nil))
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	want := map[string]bool{
		"pagekeeper_list_pages":     false,
		"pagekeeper_add_page":       false,
		"pagekeeper_add_element":    false,
		"pagekeeper_run_page":       false,
		"pagekeeper_list_schedules": false,
		"pagekeeper_validate":       false,
		"pagekeeper_element_data":   false,
		"pagekeeper_audit_log":      false,
	}
	for _, tool := range res.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestMCP_AddPageAndElement(t *testing.T) {
	k := testKeeper(t, nil)
	session := mcpSession(t, k)

	text := callTool(t, session, "pagekeeper_add_page", map[string]any{
		"url":      "https://example.com/p",
		"name":     "Example",
		"run_hour": 6,
	})
	var p Page
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.ID == "" || p.RunHour != 6 || p.RunMinute != 0 || !p.Enabled {
		t.Errorf("page: %+v", p)
	}

	text = callTool(t, session, "pagekeeper_add_element", map[string]any{
		"webpage_id":  p.ID,
		"locator":     "#price",
		"metric_name": "price",
	})
	var e Element
	json.Unmarshal([]byte(text), &e)
	if e.PageID != p.ID || e.Locator != "#price" || e.MetricName != "price" {
		t.Errorf("element: %+v", e)
	}

	text = callTool(t, session, "pagekeeper_list_pages", map[string]any{})
	var pages []Page
	json.Unmarshal([]byte(text), &pages)
	if len(pages) != 1 {
		t.Errorf("pages: got %d, want 1", len(pages))
	}

	text = callTool(t, session, "pagekeeper_list_schedules", map[string]any{})
	var scheds []Schedule
	json.Unmarshal([]byte(text), &scheds)
	if len(scheds) != 1 || scheds[0].ID != "webpage_"+p.ID {
		t.Errorf("schedules: %+v", scheds)
	}
}

func TestMCP_DuplicateLocatorIsToolError(t *testing.T) {
	k := testKeeper(t, nil)
	session := mcpSession(t, k)

	var p Page
	json.Unmarshal([]byte(callTool(t, session, "pagekeeper_add_page", map[string]any{"url": "https://example.com/p"})), &p)
	callTool(t, session, "pagekeeper_add_element", map[string]any{"webpage_id": p.ID, "locator": "#price"})

	res := call(t, session, "pagekeeper_add_element", map[string]any{"webpage_id": p.ID, "locator": "#price"})
	if !res.IsError {
		t.Error("expected a tool error for a duplicate locator")
	}
}

func TestMCP_RunPageAndData(t *testing.T) {
	site := testSite(t)
	k := testKeeper(t, nil)
	session := mcpSession(t, k)

	var p Page
	json.Unmarshal([]byte(callTool(t, session, "pagekeeper_add_page", map[string]any{"url": site.URL + "/product"})), &p)
	var e Element
	json.Unmarshal([]byte(callTool(t, session, "pagekeeper_add_element", map[string]any{"webpage_id": p.ID, "locator": "#price"})), &e)

	text := callTool(t, session, "pagekeeper_run_page", map[string]any{"webpage_id": p.ID})
	var rep Report
	json.Unmarshal([]byte(text), &rep)
	if len(rep.Pages) != 1 || rep.Pages[0].Status != "success" {
		t.Fatalf("report: %s", text)
	}

	text = callTool(t, session, "pagekeeper_element_data", map[string]any{"element_id": e.ID})
	var vals []ScrapedValue
	json.Unmarshal([]byte(text), &vals)
	if len(vals) != 1 || vals[0].Value != 1299.99 {
		t.Errorf("values: %s", text)
	}
}

func TestMCP_Validate(t *testing.T) {
	site := testSite(t)
	session := mcpSession(t, testKeeper(t, nil))

	text := callTool(t, session, "pagekeeper_validate", map[string]any{
		"url":      site.URL + "/product",
		"locators": []string{"#price", "#missing"},
	})
	var rep ValidationReport
	json.Unmarshal([]byte(text), &rep)
	if len(rep.Locators) != 1 || len(rep.Missing) != 1 {
		t.Errorf("report: %s", text)
	}

	res := call(t, session, "pagekeeper_validate", map[string]any{
		"url":      site.URL + "/product",
		"locators": []string{"#name"},
	})
	if !res.IsError {
		t.Error("expected a tool error for a non-numeric value")
	}
}

func TestMCP_ReadOnlyRejectsWrites(t *testing.T) {
	session := mcpSession(t, testKeeper(t, &Config{ReadOnly: true}))
	res := call(t, session, "pagekeeper_add_page", map[string]any{"url": "https://example.com/p"})
	if !res.IsError {
		t.Error("expected a tool error in read-only mode")
	}
	callTool(t, session, "pagekeeper_list_pages", map[string]any{})
}

func TestMCP_AuditLogTagsSource(t *testing.T) {
	// WHAT: changes made through MCP are audited with source "mcp".
	// WHY: agents editing the watch list must be distinguishable from humans on the API.
	k := testKeeper(t, nil)
	session := mcpSession(t, k)

	var p Page
	json.Unmarshal([]byte(callTool(t, session, "pagekeeper_add_page", map[string]any{"url": "https://example.com/p"})), &p)

	text := callTool(t, session, "pagekeeper_audit_log", map[string]any{"target_id": p.ID})
	var entries []AuditEntry
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	if entries[0].Source != "mcp" || entries[0].Operation != "add_page" {
		t.Errorf("entry: %+v", entries[0])
	}
}
