package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/mangafetch/horosafe"
	"github.com/hazyhaar/mangafetch/idgen"
	"github.com/hazyhaar/mangafetch/kit"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID tags each request with an ID, stores it under kit's request
// ID key so endpoint logs carry it, echoes it in the response and attaches
// a per-request logger. A well-formed inbound X-Request-ID is kept. A nil
// gen uses "req_" prefixed UUIDv7s.
func RequestID(logger *slog.Logger, gen idgen.Generator) func(http.Handler) http.Handler {
	if gen == nil {
		gen = idgen.Prefixed("req_", idgen.Default)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || horosafe.ValidateIdentifier(id) != nil {
				id = gen()
			}
			w.Header().Set(RequestIDHeader, id)

			reqLogger := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", ClientIP(r),
			)
			ctx := kit.WithRequestID(r.Context(), id)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.DebugContext(ctx, "request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
