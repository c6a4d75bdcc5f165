package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
	ExporterStdout   = "stdout"
	ExporterNone     = "none"
)

// DefaultMetricsInterval is how often metrics are pushed.
const DefaultMetricsInterval = 30 * time.Second

// Config controls tracing and metrics setup.
type Config struct {
	Enabled     bool
	Exporter    string
	Endpoint    string
	Insecure    bool
	ServiceName string
	Version     string
	// SampleRatio in (0,1) enables ratio sampling; anything else samples all.
	SampleRatio float64

	// MetricsEndpoint is an OTLP/HTTP host:port. Metrics are only exported
	// with an OTLP trace exporter and a non-empty endpoint.
	MetricsEndpoint string
	MetricsInterval time.Duration
}

// Provider owns the SDK providers installed by Setup.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Setup installs a global tracer provider according to cfg. With tracing
// disabled it returns a Provider whose Shutdown is a no-op and leaves the
// global (no-op) provider in place.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled || os.Getenv("OTEL_SDK_DISABLED") == "true" {
		return &Provider{}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if serviceName == "" {
		serviceName = "nan"
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", cfg.Version),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
	}

	return &Provider{tp: tp, mp: mp}, nil
}

func newMeterProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	if !isOTLP(cfg.Exporter) || cfg.MetricsEndpoint == "" {
		return nil, nil
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.MetricsEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	interval := cfg.MetricsInterval
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	), nil
}

func isOTLP(exporter string) bool {
	switch strings.ToLower(exporter) {
	case ExporterOTLP, ExporterOTLPHTTP:
		return true
	}
	return false
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	exporter := strings.ToLower(cfg.Exporter)
	if isOTLP(exporter) {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("%s exporter requires an endpoint", exporter)
		}
		var (
			exp sdktrace.SpanExporter
			err error
		)
		if exporter == ExporterOTLPHTTP {
			httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
			if cfg.Insecure {
				httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
			}
			exp, err = otlptracehttp.New(ctx, httpOpts...)
		} else {
			grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
			if cfg.Insecure {
				grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
			}
			exp, err = otlptracegrpc.New(ctx, grpcOpts...)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil
	}

	switch exporter {
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio > 0 && ratio < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
	return sdktrace.AlwaysSample()
}

// Shutdown flushes and stops the installed providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	if p.mp != nil {
		errs = append(errs, p.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
