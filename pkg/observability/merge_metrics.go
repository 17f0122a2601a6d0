package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricMergeRuns      = "coverage_runner.merge.runs.total"
	metricFilesTotal     = "coverage_runner.merge.files.total"
	metricMergeDuration  = "coverage_runner.merge.duration.seconds"
	metricUniqueFiles    = "coverage_runner.merge.unique_files"
	metricStatementRatio = "coverage_runner.merge.statement.coverage.percent"

	attrOutcome = "outcome"
	attrSuccess = "success"

	outcomeLoaded   = "loaded"
	outcomeFailed   = "failed"
	outcomeSkipped  = "skipped"
	outcomeExcluded = "excluded"
)

// MergeMetrics holds instruments describing merge runs.
type MergeMetrics struct {
	runs          metric.Int64Counter
	files         metric.Int64Counter
	duration      metric.Float64Histogram
	uniqueFiles   metric.Int64Gauge
	statementsPct metric.Float64Gauge
}

// MergeStats is the outcome of one merge run.
type MergeStats struct {
	Success       bool
	Loaded        int
	Failed        int
	Skipped       int
	Excluded      int
	UniqueFiles   int
	StatementsPct float64
	Duration      time.Duration
}

// NewMergeMetrics creates merge instruments from mt.
func NewMergeMetrics(mt metric.Meter) (*MergeMetrics, error) {
	runs, err := mt.Int64Counter(metricMergeRuns,
		metric.WithDescription("Merge runs by success"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricMergeRuns, err)
	}

	files, err := mt.Int64Counter(metricFilesTotal,
		metric.WithDescription("Coverage input files by outcome"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFilesTotal, err)
	}

	duration, err := mt.Float64Histogram(metricMergeDuration,
		metric.WithDescription("Merge run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricMergeDuration, err)
	}

	unique, err := mt.Int64Gauge(metricUniqueFiles,
		metric.WithDescription("Source files in the last merged report"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricUniqueFiles, err)
	}

	pct, err := mt.Float64Gauge(metricStatementRatio,
		metric.WithDescription("Statement coverage of the last merged report"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricStatementRatio, err)
	}

	return &MergeMetrics{
		runs:          runs,
		files:         files,
		duration:      duration,
		uniqueFiles:   unique,
		statementsPct: pct,
	}, nil
}

// RecordRun records one finished merge. Safe on a nil receiver.
func (mm *MergeMetrics) RecordRun(ctx context.Context, stats MergeStats) {
	if mm == nil {
		return
	}

	mm.runs.Add(ctx, 1, metric.WithAttributes(attribute.Bool(attrSuccess, stats.Success)))
	mm.duration.Record(ctx, stats.Duration.Seconds())

	mm.addFiles(ctx, outcomeLoaded, stats.Loaded)
	mm.addFiles(ctx, outcomeFailed, stats.Failed)
	mm.addFiles(ctx, outcomeSkipped, stats.Skipped)
	mm.addFiles(ctx, outcomeExcluded, stats.Excluded)

	if stats.Success {
		mm.uniqueFiles.Record(ctx, int64(stats.UniqueFiles))
		mm.statementsPct.Record(ctx, stats.StatementsPct)
	}
}

func (mm *MergeMetrics) addFiles(ctx context.Context, outcome string, n int) {
	if n == 0 {
		return
	}

	mm.files.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}
