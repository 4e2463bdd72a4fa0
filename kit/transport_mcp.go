package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/vscd/idgen"
)

// MCPRequestIDMeta is the _meta key a client may use to name its call.
const MCPRequestIDMeta = "request_id"

// MCPDecodeResult holds the decoded request and an optional context enrichment.
type MCPDecodeResult struct {
	Request   any
	EnrichCtx func(context.Context) context.Context
}

// RegisterMCPTool exposes endpoint as an MCP tool. decode turns the raw
// arguments into the endpoint's request type. The endpoint context carries
// transport "mcp" and a request ID (see mcpRequestID). Decode and endpoint
// failures become tool errors, not protocol errors.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode func(*mcp.CallToolRequest) (*MCPDecodeResult, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithRequestID(WithTransport(ctx, "mcp"), mcpRequestID(ctx, req))

		decoded, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		if decoded.EnrichCtx != nil {
			ctx = decoded.EnrichCtx(ctx)
		}
		resp, err := endpoint(ctx, decoded.Request)
		if err != nil {
			return toolError(errors.New(err.Error())), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// mcpRequestID picks, in order: an ID already in ctx, the X-Request-ID
// header of the HTTP request that carried the call, the request_id _meta
// entry, a fresh ID.
func mcpRequestID(ctx context.Context, req *mcp.CallToolRequest) string {
	if id := GetRequestID(ctx); id != "" {
		return id
	}
	if req != nil && req.Extra != nil && req.Extra.Header != nil {
		if id := req.Extra.Header.Get("X-Request-ID"); id != "" {
			return id
		}
	}
	if req != nil && req.Params != nil {
		if id, ok := req.Params.Meta[MCPRequestIDMeta].(string); ok && id != "" {
			return id
		}
	}
	return idgen.New()
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
