package observability

import (
	"context"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// BuildResourceForTest exposes buildResource for testing.
func BuildResourceForTest(cfg Config) (*resource.Resource, error) {
	return buildResource(cfg)
}

// RootSampledForTest reports whether a root span survives the sampler cfg
// selects, falling back to whatever the SDK reads from the environment.
func RootSampledForTest(cfg Config) bool {
	exporter := tracetest.NewInMemoryExporter()

	opts := append([]sdktrace.TracerProviderOption{sdktrace.WithSyncer(exporter)}, samplerOptions(cfg)...)
	tp := sdktrace.NewTracerProvider(opts...)

	_, span := tp.Tracer("sampler-test").Start(context.Background(), "merge")
	span.End()

	sampled := len(exporter.GetSpans()) == 1

	return tp.Shutdown(context.Background()) == nil && sampled
}
