// Package observability carries request-scoped logging state through contexts.
package observability

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	keyLogger ctxKey = iota
	keyRequestID
	keySessionID
)

func lookup[T comparable](ctx context.Context, k ctxKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(k).(T)
	if !ok || v == zero {
		return zero, false
	}
	return v, true
}

// ContextWithLogger attaches lg to ctx. A nil logger leaves ctx untouched.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, keyLogger, lg)
}

// LoggerFromContext returns the request logger, falling back to slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if lg, ok := lookup[*slog.Logger](ctx, keyLogger); ok {
		return lg
	}
	return slog.Default()
}

// ContextWithRequestID records the HTTP request id so collaborator clients can
// forward it and tag their logs.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	rid, _ := lookup[string](ctx, keyRequestID)
	return rid
}

// SessionIDFromContext returns the interview session bound by WithSession, or "".
func SessionIDFromContext(ctx context.Context) string {
	sid, _ := lookup[string](ctx, keySessionID)
	return sid
}

// WithSession binds an interview session to ctx and returns a logger tagged
// with its id. Binding the same session twice does not duplicate the field.
func WithSession(ctx context.Context, sessionID string) (context.Context, *slog.Logger) {
	if sessionID == "" || SessionIDFromContext(ctx) == sessionID {
		return ctx, LoggerFromContext(ctx)
	}
	lg := LoggerFromContext(ctx).With(slog.String("session_id", sessionID))
	ctx = context.WithValue(ctx, keySessionID, sessionID)
	return ContextWithLogger(ctx, lg), lg
}
