package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/Sumatoshi-tech/coverage-runner"

const attrAppMode = "app.mode"

// Providers holds the initialized observability providers.
type Providers struct {
	// Tracer names every merge, runner and MCP span.
	Tracer trace.Tracer

	Meter metric.Meter

	Logger *slog.Logger

	// Gatherer is set only when Config.PrometheusExport is.
	Gatherer prometheus.Gatherer

	// Shutdown flushes exporters, bounded by Config.ShutdownTimeoutSec.
	Shutdown func(ctx context.Context) error
}

type shutdownFunc func(ctx context.Context) error

// Init wires tracing, metrics and logging for cfg. Without an OTLP endpoint
// the tracer is a no-op, and without OTLP or Prometheus export so is the meter.
func Init(cfg Config) (Providers, error) {
	ctx := context.Background()

	res, err := buildResource(cfg)
	if err != nil {
		return Providers{}, err
	}

	var closers []shutdownFunc

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return Providers{}, fmt.Errorf("build tracer provider: %w", err)
	}

	if sdkTP, ok := tp.(*sdktrace.TracerProvider); ok {
		closers = append(closers, sdkTP.Shutdown)
	}

	mp, gatherer, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		return Providers{}, errors.Join(fmt.Errorf("build meter provider: %w", err), closeAll(ctx, closers))
	}

	if sdkMP, ok := mp.(*sdkmetric.MeterProvider); ok {
		closers = append(closers, sdkMP.Shutdown)
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	timeout := time.Duration(cfg.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultShutdownTimeoutSec * time.Second
	}

	return Providers{
		Tracer:   tp.Tracer(instrumentationName),
		Meter:    mp.Meter(instrumentationName),
		Logger:   NewLogger(os.Stderr, cfg),
		Gatherer: gatherer,
		Shutdown: func(shutdownCtx context.Context) error {
			boundedCtx, cancel := context.WithTimeout(shutdownCtx, timeout)
			defer cancel()

			return closeAll(boundedCtx, closers)
		},
	}, nil
}

// closeAll runs closers last-registered first and joins their errors.
func closeAll(ctx context.Context, closers []shutdownFunc) error {
	var errs []error

	for _, closeFn := range slices.Backward(closers) {
		errs = append(errs, closeFn(ctx))
	}

	return errors.Join(errs...)
}

// NewLogger builds the trace-aware logger writing to w.
func NewLogger(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	if cfg.LogJSON {
		return slog.New(NewTracingHandler(slog.NewJSONHandler(w, opts), cfg))
	}

	return slog.New(NewTracingHandler(slog.NewTextHandler(w, opts), cfg))
}

// buildResource layers the service identity over the SDK's default
// resource, which already carries telemetry.sdk.* and OTEL_RESOURCE_ATTRIBUTES.
func buildResource(cfg Config) (*resource.Resource, error) {
	kvs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}

	if cfg.ServiceVersion != "" {
		kvs = append(kvs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	if cfg.Environment != "" {
		kvs = append(kvs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	if cfg.Mode != "" {
		kvs = append(kvs, attribute.String(attrAppMode, string(cfg.Mode)))
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(kvs...))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	return res, nil
}

// samplerOptions pins a sampler only when the config asks for one. Otherwise
// the SDK resolves OTEL_TRACES_SAMPLER itself.
func samplerOptions(cfg Config) []sdktrace.TracerProviderOption {
	switch {
	case cfg.DebugTrace:
		return []sdktrace.TracerProviderOption{sdktrace.WithSampler(sdktrace.AlwaysSample())}
	case cfg.SampleRatio > 0:
		return []sdktrace.TracerProviderOption{
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		}
	default:
		return nil
	}
}

// otlpTarget is the collector both OTLP exporters talk to.
type otlpTarget struct {
	endpoint string
	insecure bool
	headers  map[string]string
}

func targetFor(cfg Config) otlpTarget {
	return otlpTarget{endpoint: cfg.OTLPEndpoint, insecure: cfg.OTLPInsecure, headers: cfg.OTLPHeaders}
}

func (t otlpTarget) enabled() bool { return t.endpoint != "" }

func (t otlpTarget) traceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.endpoint), otlptracegrpc.WithHeaders(t.headers)}
	if t.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter for %s: %w", t.endpoint, err)
	}

	return exp, nil
}

func (t otlpTarget) metricExporter(ctx context.Context) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(t.endpoint), otlpmetricgrpc.WithHeaders(t.headers)}
	if t.insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter for %s: %w", t.endpoint, err)
	}

	return exp, nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (trace.TracerProvider, error) {
	target := targetFor(cfg)
	if !target.enabled() {
		return nooptrace.NewTracerProvider(), nil
	}

	exp, err := target.traceExporter(ctx)
	if err != nil {
		return nil, err
	}

	opts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	}, samplerOptions(cfg)...)

	return sdktrace.NewTracerProvider(opts...), nil
}

// newMeterProvider attaches a Prometheus registry reader, an OTLP periodic
// reader, or both. With neither, metrics are dropped.
func newMeterProvider(
	ctx context.Context, cfg Config, res *resource.Resource,
) (metric.MeterProvider, prometheus.Gatherer, error) {
	target := targetFor(cfg)

	var (
		readers  []sdkmetric.Reader
		gatherer prometheus.Gatherer
	)

	if cfg.PrometheusExport {
		registry := prometheus.NewRegistry()

		reader, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}

		readers = append(readers, reader)
		gatherer = registry
	}

	if target.enabled() {
		exp, err := target.metricExporter(ctx)
		if err != nil {
			return nil, nil, err
		}

		readers = append(readers, sdkmetric.NewPeriodicReader(exp))
	}

	if len(readers) == 0 {
		return noopmetric.NewMeterProvider(), nil, nil
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, reader := range readers {
		opts = append(opts, sdkmetric.WithReader(reader))
	}

	return sdkmetric.NewMeterProvider(opts...), gatherer, nil
}
