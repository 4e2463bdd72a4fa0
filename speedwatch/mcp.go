package speedwatch

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/vscd/kit"
	"github.com/hazyhaar/vscd/speedwatch/internal/speed"
)

// RegisterMCP registers the speedwatch tools on an MCP server.
func (w *Watcher) RegisterMCP(srv *mcp.Server) {
	w.registerPagesTool(srv)
	w.registerControllersTool(srv)
	w.registerActionTool(srv)
	w.registerSpeedTool(srv)
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

var pageIDProp = map[string]any{"type": "string", "description": "Page ID from speedwatch_pages"}

// decodeArgs returns a decoder that unmarshals the tool arguments into a
// fresh T.
func decodeArgs[T any]() func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		r := new(T)
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	}
}

// --- pages ---

type pagesReq struct{}

func (w *Watcher) registerPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "speedwatch_pages",
		Description: "List the pages speedwatch is controlling.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(context.Context, any) (any, error) {
		return map[string]any{"pages": w.Pages()}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[pagesReq]())
}

// --- controllers ---

type controllersReq struct {
	PageID string `json:"page_id"`
}

func (w *Watcher) registerControllersTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "speedwatch_controllers",
		Description: "List the media controllers attached on a page with their speed and state.",
		InputSchema: inputSchema(map[string]any{"page_id": pageIDProp}, []string{"page_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*controllersReq)
		ctrls, err := w.Controllers(ctx, r.PageID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"controllers": ctrls}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[controllersReq]())
}

// --- action ---

func (w *Watcher) registerActionTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "speedwatch_action",
		Description: "Run a controller action (faster, slower, reset, fast, rewind, advance, pause, muted, louder, softer, mark, jump, display) on every controller of a page.",
		InputSchema: inputSchema(map[string]any{
			"page_id": pageIDProp,
			"action":  map[string]any{"type": "string", "description": "Action name"},
			"value":   map[string]any{"type": "number", "description": "Step, seconds or target speed, depending on the action"},
		}, []string{"page_id", "action"}),
	}
	run := w.command("speedwatch_action", w.actionEndpoint)
	endpoint := func(ctx context.Context, req any) (any, error) {
		ctrls, err := run(ctx, req)
		if err != nil {
			return nil, err
		}
		return map[string]any{"controllers": ctrls}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[actionReq]())
}

// --- set speed ---

type speedReq struct {
	PageID string   `json:"page_id"`
	Speed  *float64 `json:"speed"`
	Delta  *float64 `json:"delta"`
}

func (w *Watcher) registerSpeedTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "speedwatch_speed",
		Description: "Set an absolute speed, or adjust by a delta, on every controller of a page. Without either the speed is reset.",
		InputSchema: inputSchema(map[string]any{
			"page_id": pageIDProp,
			"speed":   map[string]any{"type": "number", "description": "Absolute playback rate"},
			"delta":   map[string]any{"type": "number", "description": "Relative change"},
		}, []string{"page_id"}),
	}
	send := w.command("speedwatch_message", w.messageEndpoint)
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*speedReq)
		msg := speed.Message{Type: speed.MessageResetSpeed}
		switch {
		case r.Speed != nil:
			msg = speed.Message{Type: speed.MessageSetSpeed, Payload: speed.MessagePayload{Speed: r.Speed}}
		case r.Delta != nil:
			msg = speed.Message{Type: speed.MessageAdjustSpeed, Payload: speed.MessagePayload{Delta: r.Delta}}
		}
		if _, err := send(ctx, &messageReq{PageID: r.PageID, Message: msg}); err != nil {
			return nil, err
		}
		return w.Controllers(ctx, r.PageID)
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeArgs[speedReq]())
}
