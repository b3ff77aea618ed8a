package hostapi

import "context"

type traceIDKey struct{}

// WithTraceID attaches a trace ID to ctx for correlation across Host API
// calls, bus events, and logs (spec.md §3's trace_id propagation).
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace ID attached to ctx, or "" if none.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey{}).(string)
	return v
}
