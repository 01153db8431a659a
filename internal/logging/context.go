package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey struct{}

func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, falling back to fallback and then
// zap.L(). trace_id/span_id are attached when ctx carries a recording span.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := fallback
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		logger = l
	}
	if logger == nil {
		logger = zap.L()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		logger = logger.With(
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	return logger
}
