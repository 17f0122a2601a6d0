package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
)

func jsonLogger(buf *bytes.Buffer, cfg observability.Config) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	return slog.New(observability.NewTracingHandler(inner, cfg))
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var records []map[string]any

	dec := json.NewDecoder(buf)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))

		records = append(records, rec)
	}

	return records
}

func TestTracingHandler_SpanFields(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.Environment = "ci"

	logger := jsonLogger(&buf, cfg)

	ctx, span := tp.Tracer("test").Start(context.Background(), "merge.load")
	logger.InfoContext(ctx, "loaded coverage file", "path", "web/lcov.info")
	span.End()

	logger.InfoContext(context.Background(), "merge finished")

	records := decodeLines(t, &buf)
	require.Len(t, records, 2)

	assert.Equal(t, span.SpanContext().TraceID().String(), records[0]["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), records[0]["span_id"])
	assert.Equal(t, "coverage-runner", records[0]["service"])
	assert.Equal(t, "cli", records[0]["mode"])
	assert.Equal(t, "ci", records[0]["env"])

	assert.NotContains(t, records[1], "trace_id")
	assert.Equal(t, "coverage-runner", records[1]["service"])
}

func TestTracingHandler_WarningsBecomeSpanEvents(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var buf bytes.Buffer

	logger := jsonLogger(&buf, observability.DefaultConfig())

	ctx, span := tp.Tracer("test").Start(context.Background(), "merge.load")
	logger.DebugContext(ctx, "parsing", "format", "lcov")
	logger.WarnContext(ctx, "skipping unreadable coverage file", "path", "broken.json")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	events := ended[0].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "skipping unreadable coverage file", events[0].Name)
	assert.Equal(t, "WARN", events[0].Attributes[0].Value.AsString())
}

func TestTracingHandler_GroupsAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.Mode = observability.ModeMCP

	logger := jsonLogger(&buf, cfg).With("tool", "coverage_merge").WithGroup("report")
	logger.Info("written", "format", "cobertura")

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)

	assert.Equal(t, "mcp", records[0]["mode"])
	assert.Equal(t, "coverage_merge", records[0]["tool"])

	group, ok := records[0]["report"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cobertura", group["format"])
}

func TestNewLogger_LevelAndFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	cfg := observability.DefaultConfig()
	cfg.LogJSON = true
	cfg.LogLevel = slog.LevelWarn

	logger := observability.NewLogger(&buf, cfg)
	logger.Info("dropped")
	logger.Warn("kept", "files", 3)

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0]["msg"])
	assert.InDelta(t, 3.0, records[0]["files"], 0)

	var text bytes.Buffer

	cfg.LogJSON = false
	observability.NewLogger(&text, cfg).Error("merge failed")
	assert.Contains(t, text.String(), `msg="merge failed"`)
	assert.Contains(t, text.String(), "service=coverage-runner")
}

func TestOrDiscard(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, observability.OrDiscard(nil))

	logger := slog.New(slog.DiscardHandler)
	assert.Same(t, logger, observability.OrDiscard(logger))
}
