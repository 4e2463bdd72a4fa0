// Package kit holds the transport-neutral endpoint shape shared by the
// HTTP, MCP and connectivity surfaces of speedwatch.
package kit

import "context"

// Endpoint is a typed request/response function.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
