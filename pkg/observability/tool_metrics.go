package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricToolCalls    = "coverage_runner.mcp.tool.calls.total"
	metricToolDuration = "coverage_runner.mcp.tool.duration.seconds"
	metricToolActive   = "coverage_runner.mcp.tool.active"

	attrTool = "tool"

	// OutcomeOK and OutcomeError label finished tool calls.
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// durationBucketBoundaries spans one small report (10ms) up to a clone,
// install and full test run (10m).
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// ToolMetrics counts MCP tool calls, their latency and how many are running.
type ToolMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	active   metric.Int64UpDownCounter
}

// NewToolMetrics creates the tool-call instruments from mt.
func NewToolMetrics(mt metric.Meter) (*ToolMetrics, error) {
	calls, err := mt.Int64Counter(metricToolCalls,
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolCalls, err)
	}

	duration, err := mt.Float64Histogram(metricToolDuration,
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolDuration, err)
	}

	active, err := mt.Int64UpDownCounter(metricToolActive,
		metric.WithDescription("MCP tool calls currently running"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolActive, err)
	}

	return &ToolMetrics{calls: calls, duration: duration, active: active}, nil
}

// Begin marks a call of tool as running. The returned func ends it and
// records its outcome; call it exactly once. Safe on a nil receiver.
func (tm *ToolMetrics) Begin(ctx context.Context, tool string) func(failed bool) {
	if tm == nil {
		return func(bool) {}
	}

	started := time.Now()
	toolAttr := attribute.String(attrTool, tool)

	tm.active.Add(ctx, 1, metric.WithAttributes(toolAttr))

	return func(failed bool) {
		tm.active.Add(ctx, -1, metric.WithAttributes(toolAttr))

		outcome := OutcomeOK
		if failed {
			outcome = OutcomeError
		}

		attrs := metric.WithAttributes(toolAttr, attribute.String(attrOutcome, outcome))

		tm.calls.Add(ctx, 1, attrs)
		tm.duration.Record(ctx, time.Since(started).Seconds(), attrs)
	}
}
