package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	instrumentsOnce sync.Once
	opCounter       metric.Int64Counter
	opDuration      metric.Float64Histogram
)

func initInstruments() {
	meter := otel.Meter(InstrumentationName)
	// Instrument creation only fails on invalid names; the globals stay
	// nil in that case and RecordOperation degrades to a no-op.
	opCounter, _ = meter.Int64Counter(
		"nan.memory.operations",
		metric.WithDescription("Memory operations by outcome"),
	)
	opDuration, _ = meter.Float64Histogram(
		"nan.memory.operation.duration",
		metric.WithDescription("Memory operation duration"),
		metric.WithUnit("s"),
	)
}

// RecordOperation records one completed operation started at start.
func RecordOperation(ctx context.Context, operation string, start time.Time, err error) {
	instrumentsOnce.Do(initInstruments)

	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	if opCounter != nil {
		opCounter.Add(ctx, 1, attrs)
	}
	if opDuration != nil {
		opDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
