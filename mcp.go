package liveedit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/liveedit/kit"
	"github.com/hazyhaar/liveedit/patch"
)

// RegisterMCP registers the bridge's tools on an MCP server: list the
// annotated entries, apply a field update, focus a field.
func (b *Bridge) RegisterMCP(srv *mcp.Server) {
	b.registerEntriesTool(srv)
	b.registerApplyUpdateTool(srv)
	b.registerFocusTool(srv)
}

// instrument wraps a tool endpoint with call logging keyed by the transport
// and request id the kit adapter stamped.
func (b *Bridge) instrument(name string, ep kit.Endpoint) kit.Endpoint {
	logged := func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			b.logger.Debug("liveedit: tool call",
				"tool", name,
				"transport", kit.GetTransport(ctx),
				"request_id", kit.GetRequestID(ctx),
				"duration", time.Since(start),
				"error", err)
			return resp, err
		}
	}
	return kit.Chain(logged)(ep)
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

// --- entries ---

type entriesRequest struct {
	EntryID string `json:"entry_id,omitempty"`
}

type entryInfo struct {
	EntryID string `json:"entry_id"`
	FieldID string `json:"field_id,omitempty"`
	Locale  string `json:"locale,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (b *Bridge) registerEntriesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "liveedit_entries",
		Description: "List the editable entries and fields currently rendered in the page, with their visible text.",
		InputSchema: inputSchema(map[string]any{
			"entry_id": map[string]any{"type": "string", "description": "Restrict to one entry id"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*entriesRequest)
		entries := b.reg.Entries()
		out := make([]entryInfo, 0, len(entries))
		for _, e := range entries {
			if rr.EntryID != "" && e.RecordID != rr.EntryID {
				continue
			}
			out = append(out, entryInfo{
				EntryID: e.RecordID,
				FieldID: e.FieldID,
				Locale:  e.Locale,
				Text:    patch.TextContent(e.Node),
			})
		}
		return out, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr entriesRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, b.instrument(tool.Name, endpoint), decode)
}

// --- apply_update ---

type applyUpdateRequest struct {
	EntryID   string          `json:"entry_id"`
	FieldID   string          `json:"field_id"`
	FieldType string          `json:"field_type"`
	NewValue  json.RawMessage `json:"new_value"`
}

func (b *Bridge) registerApplyUpdateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "liveedit_apply_update",
		Description: "Apply a field value to the rendered page, the same way an editor field-update message would.",
		InputSchema: inputSchema(map[string]any{
			"entry_id":   map[string]any{"type": "string", "description": "Entry id the field belongs to"},
			"field_id":   map[string]any{"type": "string", "description": "Field api id"},
			"field_type": map[string]any{"type": "string", "description": "Field type tag (e.g. STRING, RICH_TEXT, NUMBER)"},
			"new_value":  map[string]any{"description": "New field value, in the field type's JSON shape"},
		}, []string{"entry_id", "field_id", "field_type", "new_value"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*applyUpdateRequest)
		res := b.ApplyUpdate(rr.EntryID, rr.FieldID, rr.FieldType, rr.NewValue)
		if res.Err != nil {
			return nil, res.Err
		}
		return map[string]any{"applied": res.OK, "nodes": res.NodeCount}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr applyUpdateRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, b.instrument(tool.Name, endpoint), decode)
}

// --- focus ---

type focusRequest struct {
	EntryID string `json:"entry_id"`
	FieldID string `json:"field_id,omitempty"`
}

func (b *Bridge) registerFocusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "liveedit_focus",
		Description: "Scroll to and highlight the rendered node for an entry field, as an editor focus event would.",
		InputSchema: inputSchema(map[string]any{
			"entry_id": map[string]any{"type": "string", "description": "Entry id to focus"},
			"field_id": map[string]any{"type": "string", "description": "Field api id; the whole entry when omitted"},
		}, []string{"entry_id"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		rr := req.(*focusRequest)
		var entries = b.reg.ByRecord(rr.EntryID)
		if rr.FieldID != "" {
			entries = b.reg.ByRecordField(rr.EntryID, rr.FieldID)
		}
		target := pickFocusTarget(entries, nil)
		if target == nil {
			return nil, fmt.Errorf("liveedit: %s/%s not rendered", rr.EntryID, rr.FieldID)
		}
		if b.opts.scrollTo != nil {
			b.opts.scrollTo(target.Node)
		}
		b.flashFocus(target.Node)
		return map[string]string{"status": "focused", "entry_id": target.RecordID, "field_id": target.FieldID}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr focusRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, b.instrument(tool.Name, endpoint), decode)
}
