package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TraceFields returns log fields identifying the span in ctx, or an empty map
// when ctx carries no valid span.
func TraceFields(ctx context.Context) map[string]interface{} {
	fields := make(map[string]interface{}, 2)
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return fields
	}
	fields["trace_id"] = sc.TraceID().String()
	fields["span_id"] = sc.SpanID().String()
	return fields
}

// WithTraceFields copies fields and adds the trace identifiers from ctx.
func WithTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	merged := TraceFields(ctx)
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
