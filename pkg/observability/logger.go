package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	logKeyTraceID = "trace_id"
	logKeySpanID  = "span_id"
	logKeyService = "service"
	logKeyEnv     = "env"
	logKeyMode    = "mode"

	eventKeySeverity = "log.severity"
)

// TracingHandler decorates an [slog.Handler] with the active span.
//
// Records logged inside a span carry its trace_id and span_id. Warnings and
// errors are also added to a recording span as events, so a skipped coverage
// file shows up on the merge trace next to the stage that dropped it.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps inner and pins the service identity from cfg as
// top-level attributes.
func NewTracingHandler(inner slog.Handler, cfg Config) *TracingHandler {
	identity := []slog.Attr{
		slog.String(logKeyService, cfg.ServiceName),
		slog.String(logKeyMode, string(cfg.Mode)),
	}

	if cfg.Environment != "" {
		identity = append(identity, slog.String(logKeyEnv, cfg.Environment))
	}

	return &TracingHandler{inner: inner.WithAttrs(identity)}
}

// Enabled implements [slog.Handler].
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle implements [slog.Handler].
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	span := trace.SpanFromContext(ctx)

	if sc := span.SpanContext(); sc.IsValid() {
		record.AddAttrs(
			slog.String(logKeyTraceID, sc.TraceID().String()),
			slog.String(logKeySpanID, sc.SpanID().String()),
		)
	}

	if record.Level >= slog.LevelWarn && span.IsRecording() {
		span.AddEvent(record.Message, trace.WithAttributes(
			attribute.String(eventKeySeverity, record.Level.String()),
		))
	}

	handleErr := th.inner.Handle(ctx, record)
	if handleErr != nil {
		return fmt.Errorf("write log record: %w", handleErr)
	}

	return nil
}

// WithAttrs implements [slog.Handler].
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: th.inner.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler].
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: th.inner.WithGroup(name)}
}

// OrDiscard returns logger, or a logger that drops everything when nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return logger
}
