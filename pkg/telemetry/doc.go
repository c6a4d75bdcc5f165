// Package telemetry wires OpenTelemetry tracing and metrics into nan.
//
// Setup installs a global SDK tracer provider with an OTLP/gRPC or stdout
// exporter. Library code never holds a tracer: it calls StartSpan, which
// resolves the global provider, so spans are no-ops until Setup runs.
//
//	provider, err := telemetry.Setup(ctx, telemetry.Config{
//	    Enabled:     true,
//	    Exporter:    "otlp",
//	    Endpoint:    "otel-collector:4317",
//	    ServiceName: "nan",
//	})
//	defer provider.Shutdown(ctx)
//
// # Spans
//
// Pool and agent operations open spans named after the operation
// (memory.pool.add, memory.agent.detach, ...) carrying agent and bundle ids.
//
// # Metrics
//
// RecordOperation feeds two instruments on the global meter:
//   - nan.memory.operations (counter, by operation and status)
//   - nan.memory.operation.duration (histogram, seconds)
//
// # Log correlation
//
// TraceFields returns trace_id/span_id for the span in ctx so log records can
// be joined with traces.
package telemetry
