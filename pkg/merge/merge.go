// Package merge runs the coverage merge pipeline: discover input files,
// load them, fold them into one map, optionally normalize and filter it,
// and write the requested reports.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/filter"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/loaders"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/normalize"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/report"
)

// Pipeline errors.
var (
	// ErrNoInputFiles indicates no file matched the input patterns.
	ErrNoInputFiles = errors.New("no coverage files found")
	// ErrNoValidCoverageData indicates every matched file failed or was empty.
	ErrNoValidCoverageData = errors.New("no valid coverage data")
)

// Messages reported in Result.Error for the pipeline errors.
const (
	MsgNoInputFiles        = "No coverage files found matching the specified patterns"
	MsgNoValidCoverageData = "No valid coverage data found in any of the input files"
)

const spanPrefix = "merge."

// Result describes a finished merge run. Failures set Success to false and
// carry the message in Error.
type Result struct {
	Success         bool             `json:"success"`
	OutputDir       string           `json:"outputDir"`
	FilesProcessed  int              `json:"filesProcessed"`
	UniqueFiles     int              `json:"uniqueFiles"`
	NormalizedPaths *int             `json:"normalizedPaths,omitempty"`
	Excluded        int              `json:"excluded"`
	Outputs         []string         `json:"outputs"`
	Totals          coverage.Summary `json:"totals"`
	Error           string           `json:"error,omitempty"`

	// Coverage is the final map. Nil on failure.
	Coverage *coverage.CoverageMap `json:"-"`
	// Err is the underlying error behind Error.
	Err error `json:"-"`
}

// Orchestrator runs merge pipelines over a filesystem.
type Orchestrator struct {
	fs      afero.Fs
	loader  *loaders.Loader
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.MergeMetrics
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTracer sets the tracer used for stage spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithMetrics sets the instruments recording each run.
func WithMetrics(mm *observability.MergeMetrics) Option {
	return func(o *Orchestrator) { o.metrics = mm }
}

// New creates an Orchestrator reading inputs from and writing reports to fs.
func New(fs afero.Fs, logger *slog.Logger, opts ...Option) *Orchestrator {
	logger = observability.OrDiscard(logger)

	o := &Orchestrator{
		fs:     fs,
		loader: loaders.New(fs, logger),
		logger: logger,
		tracer: nooptrace.NewTracerProvider().Tracer(""),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run executes the pipeline. It never panics on bad input; every failure is
// reported through the returned Result.
func (o *Orchestrator) Run(ctx context.Context, opts Options) Result {
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, spanPrefix+"run",
		trace.WithAttributes(
			attribute.Int("merge.patterns", len(opts.InputPatterns)),
			attribute.String("merge.output_dir", opts.OutputDir),
		),
	)
	defer span.End()

	res, stats := o.run(ctx, opts)
	stats.Success = res.Success
	stats.Duration = time.Since(start)

	o.metrics.RecordRun(ctx, stats)

	if !res.Success {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Error)
		o.logger.ErrorContext(ctx, "coverage merge failed", "error", res.Error)

		return res
	}

	span.SetAttributes(
		attribute.Int("merge.files_processed", res.FilesProcessed),
		attribute.Int("merge.unique_files", res.UniqueFiles),
		attribute.Float64("merge.statements_pct", res.Totals.Statements.Pct),
	)

	o.logger.InfoContext(ctx, "coverage merged",
		"files_processed", res.FilesProcessed,
		"unique_files", res.UniqueFiles,
		"output_dir", res.OutputDir,
		"duration", stats.Duration,
	)

	return res
}

func (o *Orchestrator) run(ctx context.Context, opts Options) (Result, observability.MergeStats) {
	res := Result{OutputDir: opts.OutputDir}

	var stats observability.MergeStats

	validErr := opts.Validate()
	if validErr != nil {
		return fail(res, validErr), stats
	}

	patternErr := filter.ValidatePatterns(opts.ExcludePatterns)
	if patternErr != nil {
		return fail(res, patternErr), stats
	}

	files, discoverErr := o.discoverStage(ctx, opts)
	if discoverErr != nil {
		return fail(res, discoverErr), stats
	}

	loaded, loadStats, loadErr := o.loadStage(ctx, files, opts.Workers)
	stats.Loaded, stats.Failed, stats.Skipped = loadStats.loaded, loadStats.failed, loadStats.skipped

	if loadErr != nil {
		res.UniqueFiles = len(files)

		return fail(res, loadErr), stats
	}

	merged := coverage.MergeAll(loaded...)
	res.FilesProcessed = len(loaded)

	if opts.NormalizePaths {
		before := merged.Len()
		merged = normalize.Paths(merged, opts.RootDir)
		collapsed := before - merged.Len()
		res.NormalizedPaths = &collapsed

		o.logger.DebugContext(ctx, "normalized coverage paths", "before", before, "after", merged.Len())
	}

	if len(opts.ExcludePatterns) > 0 {
		before := merged.Len()

		filtered, filterErr := filter.Exclude(merged, opts.ExcludePatterns)
		if filterErr != nil {
			return fail(res, filterErr), stats
		}

		merged = filtered
		res.Excluded = before - merged.Len()
		stats.Excluded = res.Excluded
	}

	outputs, writeErr := o.writeStage(ctx, opts, merged)
	res.Outputs = outputs

	if writeErr != nil {
		return fail(res, writeErr), stats
	}

	res.Success = true
	res.UniqueFiles = merged.Len()
	res.Totals = merged.Summary()
	res.Coverage = merged

	stats.UniqueFiles = res.UniqueFiles
	stats.StatementsPct = res.Totals.Statements.Pct

	return res, stats
}

func (o *Orchestrator) discoverStage(ctx context.Context, opts Options) ([]string, error) {
	_, span := o.tracer.Start(ctx, spanPrefix+"discover")
	defer span.End()

	baseDir := opts.BaseDir
	if baseDir == "" {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return nil, fmt.Errorf("resolve working directory: %w", wdErr)
		}

		baseDir = wd
	}

	files, err := discover(o.fs, baseDir, opts.InputPatterns)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}

	span.SetAttributes(attribute.Int("merge.files_found", len(files)))
	o.logger.InfoContext(ctx, "found coverage files", "count", len(files))

	return files, nil
}

func (o *Orchestrator) writeStage(ctx context.Context, opts Options, cm *coverage.CoverageMap) ([]string, error) {
	_, span := o.tracer.Start(ctx, spanPrefix+"write")
	defer span.End()

	var outputs []string

	for _, format := range opts.formats() {
		written, err := o.writeFormat(format, opts, cm)
		outputs = append(outputs, written...)

		if err != nil {
			span.RecordError(err)

			return outputs, err
		}
	}

	span.SetAttributes(attribute.Int("merge.outputs", len(outputs)))

	return outputs, nil
}

func (o *Orchestrator) writeFormat(format report.Format, opts Options, cm *coverage.CoverageMap) ([]string, error) {
	switch format {
	case report.FormatJSON:
		return single(report.WriteJSON(o.fs, opts.OutputDir, cm))
	case report.FormatLCOV:
		return single(report.WriteLCOV(o.fs, opts.OutputDir, cm, o.logger))
	case report.FormatText:
		return report.WriteText(o.fs, opts.OutputDir, cm, opts.TextDetailed)
	case report.FormatHTML:
		return single(report.WriteHTML(o.fs, opts.OutputDir, cm))
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", report.ErrWrite, format)
	}
}

func single(path string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}

	return []string{path}, nil
}

func fail(res Result, err error) Result {
	res.Success = false
	res.Err = err

	switch {
	case errors.Is(err, ErrNoInputFiles):
		res.Error = MsgNoInputFiles
	case errors.Is(err, ErrNoValidCoverageData):
		res.Error = MsgNoValidCoverageData
	default:
		res.Error = err.Error()
	}

	return res
}
