// Package connectivity dispatches named service calls to in-process
// handlers. speedwatch registers its per-page commands here so that other
// components (HTTP, MCP, embedding programs) reach them through one
// bytes-in, bytes-out contract.
//
//	router := connectivity.New()
//	w.RegisterConnectivity(router)
//	resp, err := router.Call(ctx, "speedwatch_action", payload)
package connectivity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Handler is a transport-agnostic service function.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Router maps service names to handlers. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	mw       HandlerMiddleware
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every handler registered after this option applies.
func WithMiddleware(mws ...HandlerMiddleware) Option {
	return func(r *Router) { r.mw = Chain(mws...) }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers (or replaces) the handler for service.
func (r *Router) RegisterLocal(service string, h Handler) {
	if r.mw != nil {
		h = r.mw(h)
	}
	r.mu.Lock()
	r.handlers[service] = h
	r.mu.Unlock()
}

// Unregister removes a service. Unknown names are ignored.
func (r *Router) Unregister(service string) {
	r.mu.Lock()
	delete(r.handlers, service)
	r.mu.Unlock()
}

// Call dispatches payload to the handler registered for service.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h := r.handlers[service]
	r.mu.RUnlock()

	if h == nil {
		return nil, &ErrServiceNotFound{Service: service}
	}
	r.logger.DebugContext(ctx, "connectivity: call", "service", service)
	return h(ctx, payload)
}

// Services lists registered service names in sorted order.
func (r *Router) Services() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
