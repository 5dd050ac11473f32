// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"log/slog"
	"os"
)

// requestIDKey is the context key for request/correlation IDs.
type requestIDKey struct{}

// jobIDKey is the context key for the job a log line is scoped to.
type jobIDKey struct{}

// New creates a new structured JSON logger.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// WithRequestID returns a new context with the given request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// WithJobID returns a new context with the given job identifier attached.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext extracts the job identifier from the context.
func JobIDFromContext(ctx context.Context) string {
	if v := ctx.Value(jobIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// FromContext returns a logger with context fields (request ID, job ID)
// attached, when present.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := base
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		l = l.With("request_id", reqID)
	}
	if jobID := JobIDFromContext(ctx); jobID != "" {
		l = l.With("job_id", jobID)
	}
	return l
}
