// Package clone runs a project's test runners with coverage and combines
// what they produce, optionally after cloning the project from a git remote.
package clone

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/coverage-runner/internal/config"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/loaders"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/merge"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/normalize"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/report"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/runners"
)

// CoverageFileName is the Istanbul report each runner is expected to write.
const CoverageFileName = "coverage-final.json"

// DefaultTimeout bounds clone and install when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

const spanPrefix = "clone."

// Options configures a project run.
type Options struct {
	OutputDir  string
	ConfigPath string
	Workers    int

	// Clone-only settings.
	Branch      string
	KeepClone   bool
	SkipInstall bool
	Timeout     time.Duration
	// TempDir hosts the clone. Empty means the system temp directory.
	TempDir string
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}

	return o.Timeout
}

// RunnerOutcome is what one runner produced.
type RunnerOutcome struct {
	Runner       string                  `json:"runner"`
	Result       *runners.CoverageResult `json:"result,omitempty"`
	CoverageFile string                  `json:"coverageFile,omitempty"`
	Error        string                  `json:"error,omitempty"`
}

// Result describes a finished project run.
type Result struct {
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	OutputDir     string          `json:"outputDir"`
	ClonedPath    string          `json:"clonedPath,omitempty"`
	Branch        string          `json:"branch,omitempty"`
	Commit        string          `json:"commit,omitempty"`
	Strategy      string          `json:"strategy,omitempty"`
	Runners       []string        `json:"runners,omitempty"`
	Outcomes      []RunnerOutcome `json:"outcomes,omitempty"`
	CoverageFiles []string        `json:"coverageFiles,omitempty"`
	Outputs       []string        `json:"outputs,omitempty"`
	Merge         *merge.Result   `json:"merge,omitempty"`

	// Err is the underlying error behind Error.
	Err error `json:"-"`
}

func (r Result) fail(err error) Result {
	r.Success = false
	r.Err = err
	r.Error = Message(err)

	return r
}

// Service runs projects.
type Service struct {
	fs      afero.Fs
	cloner  Cloner
	exec    runners.Executor
	getenv  func(string) string
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.MergeMetrics
}

// Option customizes a Service.
type Option func(*Service)

// WithFs replaces the operating system filesystem.
func WithFs(fs afero.Fs) Option { return func(s *Service) { s.fs = fs } }

// WithCloner replaces the libgit2 cloner. Nil keeps the default.
func WithCloner(c Cloner) Option {
	return func(s *Service) {
		if c != nil {
			s.cloner = c
		}
	}
}

// WithExecutor replaces the os/exec executor used for installs and runners.
func WithExecutor(e runners.Executor) Option { return func(s *Service) { s.exec = e } }

// WithGetenv replaces os.Getenv for runner output resolution.
func WithGetenv(getenv func(string) string) Option { return func(s *Service) { s.getenv = getenv } }

// WithTracer sets the tracer for workflow and merge spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithMergeMetrics sets the instruments recording merges.
func WithMergeMetrics(mm *observability.MergeMetrics) Option {
	return func(s *Service) { s.metrics = mm }
}

// New creates a Service.
func New(logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		fs:     afero.NewOsFs(),
		cloner: GitCloner{},
		exec:   runners.OSExecutor{},
		getenv: os.Getenv,
		logger: observability.OrDiscard(logger),
		tracer: nooptrace.NewTracerProvider().Tracer(""),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RunProject detects the runners of the project in dir, runs each with
// coverage and combines their Istanbul reports per the configured strategy.
func (s *Service) RunProject(ctx context.Context, dir string, opts Options) Result {
	ctx, span := s.tracer.Start(ctx, spanPrefix+"run_project", trace.WithAttributes(attribute.String("project.dir", dir)))
	defer span.End()

	res := Result{OutputDir: opts.OutputDir}

	cfg, cfgErr := s.loadConfig(ctx, dir, opts.ConfigPath)
	if cfgErr != nil {
		return res.fail(cfgErr)
	}

	res.Strategy = cfg.Strategy()

	if commit, headErr := s.cloner.Head(dir); headErr == nil {
		res.Commit = commit
	} else {
		s.logger.DebugContext(ctx, "project commit unknown", "dir", dir, "error", headErr)
	}

	kinds := runners.DetectFromDir(s.fs, dir)
	if len(kinds) == 0 {
		return res.fail(ErrNoRunners)
	}

	for _, k := range kinds {
		res.Runners = append(res.Runners, string(k))
	}

	span.SetAttributes(attribute.StringSlice("project.runners", res.Runners))
	s.logger.InfoContext(ctx, "detected runners", "runners", res.Runners)

	factory := runners.NewFactory(
		runners.WithExecutor(s.exec),
		runners.WithWorkDir(dir),
		runners.WithOverrides(cfg.RunnerOverrides),
		runners.WithGetenv(s.getenv),
		runners.WithLogger(s.logger),
	)

	for _, kind := range kinds {
		outcome := s.runOne(ctx, factory, kind, dir)
		res.Outcomes = append(res.Outcomes, outcome)

		if outcome.CoverageFile != "" {
			res.CoverageFiles = append(res.CoverageFiles, outcome.CoverageFile)
		}
	}

	if len(res.CoverageFiles) == 0 {
		return res.fail(ErrNoCoverageGenerated)
	}

	if res.Strategy == config.StrategySeparate {
		collected, sepErr := s.loadPerRunner(res.Outcomes, dir)
		if sepErr != nil {
			return res.fail(&stageError{kind: ErrMerge, detail: sepErr.Error()})
		}

		written, writeErr := report.WriteSeparate(s.fs, opts.OutputDir, collected, cfg.ExcludePatterns)
		res.Outputs = written

		if writeErr != nil {
			return res.fail(&stageError{kind: ErrMerge, detail: writeErr.Error()})
		}

		res.Success = true

		return res
	}

	orch := merge.New(s.fs, s.logger, merge.WithTracer(s.tracer), merge.WithMetrics(s.metrics))
	mergeRes := orch.Run(ctx, merge.Options{
		InputPatterns:   res.CoverageFiles,
		OutputDir:       opts.OutputDir,
		NormalizePaths:  true,
		RootDir:         dir,
		ExcludePatterns: cfg.ExcludePatterns,
		Workers:         opts.Workers,
		BaseDir:         dir,
	})
	res.Merge = &mergeRes
	res.Outputs = mergeRes.Outputs

	if !mergeRes.Success {
		return res.fail(&stageError{kind: ErrMerge, detail: mergeRes.Error})
	}

	res.Success = true

	return res
}

// loadConfig returns the project config. An unreadable file falls back to
// defaults with a warning.
func (s *Service) loadConfig(ctx context.Context, dir, path string) (*config.Config, error) {
	cfg, err := config.Load(s.fs, dir, path)
	if err == nil {
		if cfg.Source != "" {
			s.logger.DebugContext(ctx, "loaded config", "source", cfg.Source)
		}

		return cfg, nil
	}

	if errors.Is(err, config.ErrReadConfig) {
		s.logger.WarnContext(ctx, "config unreadable, using defaults", "error", err)

		return config.Default(), nil
	}

	return nil, err
}

func (s *Service) runOne(ctx context.Context, factory *runners.Factory, kind runners.Kind, dir string) RunnerOutcome {
	outcome := RunnerOutcome{Runner: string(kind)}

	runner, createErr := factory.Create(kind)
	if createErr != nil {
		outcome.Error = createErr.Error()
		s.logger.WarnContext(ctx, "runner unavailable", "runner", string(kind), "error", createErr)

		return outcome
	}

	s.logger.InfoContext(ctx, "running coverage", "runner", string(kind))

	result := runner.RunCoverage(ctx)
	outcome.Result = &result

	if !result.Success {
		outcome.Error = result.Stderr
		if outcome.Error == "" {
			outcome.Error = "Unknown error"
		}

		s.logger.WarnContext(ctx, "coverage run failed", "runner", string(kind), "exit_code", result.ExitCode)

		return outcome
	}

	coverageFile := result.OutputPath
	if !filepath.IsAbs(coverageFile) {
		coverageFile = filepath.Join(dir, coverageFile)
	}

	coverageFile = filepath.Join(coverageFile, CoverageFileName)

	exists, _ := afero.Exists(s.fs, coverageFile)
	if !exists {
		outcome.Error = "coverage file not found at " + coverageFile
		s.logger.WarnContext(ctx, "coverage file not found", "runner", string(kind), "path", coverageFile)

		return outcome
	}

	outcome.CoverageFile = coverageFile
	s.logger.InfoContext(ctx, "coverage completed", "runner", string(kind), "duration", result.Duration)

	return outcome
}

// loadPerRunner loads each runner's report with paths normalized against dir.
func (s *Service) loadPerRunner(outcomes []RunnerOutcome, dir string) ([]report.RunnerCoverage, error) {
	loader := loaders.New(s.fs, s.logger)

	var collected []report.RunnerCoverage

	for _, outcome := range outcomes {
		if outcome.CoverageFile == "" {
			continue
		}

		cm, err := loader.LoadIstanbulJSON(outcome.CoverageFile)
		if err != nil {
			return nil, err
		}

		collected = append(collected, report.RunnerCoverage{
			Runner:   outcome.Runner,
			Coverage: normalize.Paths(cm, dir),
		})
	}

	return collected, nil
}
