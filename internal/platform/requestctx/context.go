// Package requestctx carries the request-scoped logger and Cloud Trace metadata. It has no
// dependencies on the HTTP layer so services and repositories can read it too.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

// TraceInfo is the trace context parsed from X-Cloud-Trace-Context or created for the request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger returns a child context carrying logger. A nil logger is ignored.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerOr returns the request logger, or fallback when none was stored.
func LoggerOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	var stored *zap.Logger
	if ctx != nil {
		stored, _ = ctx.Value(loggerKey{}).(*zap.Logger)
	}
	switch {
	case stored != nil:
		return stored
	case fallback != nil:
		return fallback
	default:
		return zap.NewNop()
	}
}

// WithTrace stores trace metadata.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace returns the stored trace metadata.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID is shorthand for the stored trace id, "" when absent.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
