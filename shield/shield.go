// Package shield provides the HTTP hardening middleware for the mirlist
// trigger API: security headers, request body limits, per-IP rate
// limiting, and request tracing. The trigger endpoints are reachable from
// webhook infrastructure, so they get the full stack even though the
// service carries no user accounts.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack() {
//		r.Use(mw)
//	}
package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// TraceIDKey is the context key for the per-request trace ID.
	TraceIDKey contextKey = "shield_trace_id"

	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"
)

// GetTraceID returns the request's trace ID, or "" outside a traced request.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// Logger returns the per-request logger, falling back to slog.Default.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// TraceID generates a random trace ID per request and injects it into the
// context, the X-Trace-ID response header, and a per-request logger.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := make([]byte, 4)
		rand.Read(id)
		traceID := hex.EncodeToString(id)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
		)

		ctx := context.WithValue(r.Context(), TraceIDKey, traceID)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DefaultStack returns the standard middleware stack for the trigger API,
// ordered: SecurityHeaders → MaxBody → TraceID. Rate limiting is attached
// per-route because only the trigger endpoints need it.
func DefaultStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(1 << 20),
		TraceID,
	}
}
