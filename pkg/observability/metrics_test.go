package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
)

func manualMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()

	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

// collected maps instrument name to its aggregation.
func collected(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m.Data
		}
	}

	return out
}

func sumByAttr(t *testing.T, agg metricdata.Aggregation, key attribute.Key) map[string]int64 {
	t.Helper()

	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "want Sum[int64], got %T", agg)

	out := map[string]int64{}

	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(key)
		out[v.Emit()] += dp.Value
	}

	return out
}

func TestToolMetrics_Begin(t *testing.T) {
	t.Parallel()

	mp, reader := manualMeter(t)

	tm, err := observability.NewToolMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	finishMerge := tm.Begin(ctx, "coverage_merge")
	finishDetect := tm.Begin(ctx, "coverage_detect")

	running := sumByAttr(t, collected(t, reader)["coverage_runner.mcp.tool.active"], "tool")
	assert.Equal(t, map[string]int64{"coverage_merge": 1, "coverage_detect": 1}, running)

	finishMerge(false)
	finishDetect(true)
	tm.Begin(ctx, "coverage_merge")(false)

	got := collected(t, reader)

	running = sumByAttr(t, got["coverage_runner.mcp.tool.active"], "tool")
	assert.Equal(t, map[string]int64{"coverage_merge": 0, "coverage_detect": 0}, running)

	assert.Equal(t, map[string]int64{"coverage_merge": 2, "coverage_detect": 1},
		sumByAttr(t, got["coverage_runner.mcp.tool.calls.total"], "tool"))
	assert.Equal(t, map[string]int64{observability.OutcomeOK: 2, observability.OutcomeError: 1},
		sumByAttr(t, got["coverage_runner.mcp.tool.calls.total"], "outcome"))

	hist, ok := got["coverage_runner.mcp.tool.duration.seconds"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)
}

func TestToolMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var tm *observability.ToolMetrics

	tm.Begin(context.Background(), "coverage_merge")(true)
}

func TestMergeMetrics_RecordRun(t *testing.T) {
	t.Parallel()

	mp, reader := manualMeter(t)

	mm, err := observability.NewMergeMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	mm.RecordRun(ctx, observability.MergeStats{
		Success:       true,
		Loaded:        3,
		Failed:        1,
		Excluded:      2,
		UniqueFiles:   12,
		StatementsPct: 87.5,
		Duration:      250 * time.Millisecond,
	})
	mm.RecordRun(ctx, observability.MergeStats{Success: false, Skipped: 4, StatementsPct: 10})

	got := collected(t, reader)

	assert.Equal(t, map[string]int64{"loaded": 3, "failed": 1, "excluded": 2, "skipped": 4},
		sumByAttr(t, got["coverage_runner.merge.files.total"], "outcome"))
	assert.Equal(t, map[string]int64{"true": 1, "false": 1},
		sumByAttr(t, got["coverage_runner.merge.runs.total"], "success"))

	pct, ok := got["coverage_runner.merge.statement.coverage.percent"].(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, pct.DataPoints, 1)
	assert.InDelta(t, 87.5, pct.DataPoints[0].Value, 0.001)

	unique, ok := got["coverage_runner.merge.unique_files"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, unique.DataPoints, 1)
	assert.Equal(t, int64(12), unique.DataPoints[0].Value)

	assert.Contains(t, got, "coverage_runner.merge.duration.seconds")
}

func TestMergeMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var mm *observability.MergeMetrics

	mm.RecordRun(context.Background(), observability.MergeStats{Success: true})
}
