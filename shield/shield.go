// Package shield provides the HTTP middleware guarding the speedwatch
// control API: security headers, body limits, request logging and per-IP
// rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger, shield.DefaultRate()) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// APIStack returns the standard middleware stack for the control API.
// Middleware is ordered: SecurityHeaders → MaxBody → RequestLogger → RateLimiter.
// /healthz and /metrics bypass rate limiting.
func APIStack(logger *slog.Logger, rc RateConfig) []func(http.Handler) http.Handler {
	rl := NewRateLimiter(rc, "/healthz", "/metrics")
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
		RequestLogger(logger),
		rl.Middleware,
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
