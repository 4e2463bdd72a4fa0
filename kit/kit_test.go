package kit

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}
	expected := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order: got %v", order)
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) { return nil, errFail }
	noop := func(next Endpoint) Endpoint { return next }

	if _, err := Chain(noop)(base)(context.Background(), nil); !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Transport(t *testing.T) {
	if v := GetTransport(context.Background()); v != "http" {
		t.Fatalf("default transport: got %q", v)
	}
	if v := GetTransport(WithTransport(context.Background(), "mcp")); v != "mcp" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestContext_RequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_abc")
	if v := GetRequestID(ctx); v != "req_abc" {
		t.Fatalf("request_id: got %q", v)
	}
}

func TestMCPRequestID_Sources(t *testing.T) {
	withMeta := &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Meta: mcp.Meta{MCPRequestIDMeta: "meta-1"}}}
	withHeader := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{Meta: mcp.Meta{MCPRequestIDMeta: "meta-1"}},
		Extra:  &mcp.RequestExtra{Header: http.Header{"X-Request-Id": []string{"hdr-1"}}},
	}

	if id := mcpRequestID(WithRequestID(context.Background(), "ctx-1"), withHeader); id != "ctx-1" {
		t.Fatalf("context ID: got %q", id)
	}
	if id := mcpRequestID(context.Background(), withHeader); id != "hdr-1" {
		t.Fatalf("header ID: got %q", id)
	}
	if id := mcpRequestID(context.Background(), withMeta); id != "meta-1" {
		t.Fatalf("meta ID: got %q", id)
	}
	a := mcpRequestID(context.Background(), &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{}})
	b := mcpRequestID(context.Background(), &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{}})
	if a == "" || a == b {
		t.Fatalf("generated IDs: %q %q", a, b)
	}
}
