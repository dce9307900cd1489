// Package shield provides the HTTP middleware stack in front of the
// mangafetch API: security headers, body limits, request IDs and per-client
// rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.StackConfig{}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// StackConfig tunes DefaultStack. Zero values pick the defaults.
type StackConfig struct {
	Logger       *slog.Logger
	MaxBodyBytes int64 // default 64 KiB
	// ClientRequests per ClientWindow is the per-client budget. Zero
	// disables client rate limiting.
	ClientRequests int
	ClientWindow   time.Duration
	// Exclude lists path prefixes never rate limited (health probes).
	Exclude []string
}

// DefaultStack returns the middleware stack for the API, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, RequestID, then ClientLimiter when
// a client budget is set.
func DefaultStack(cfg StackConfig) []func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(cfg.MaxBodyBytes),
		RequestID(cfg.Logger, nil),
	}
	if cfg.ClientRequests > 0 {
		stack = append(stack, NewClientLimiter(cfg.ClientRequests, cfg.ClientWindow, cfg.Exclude...).Middleware)
	}
	return stack
}
