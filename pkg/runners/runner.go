package runners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
)

// Runner factory errors.
var (
	// ErrRunnerNotImplemented indicates a detected runner that cannot run yet.
	ErrRunnerNotImplemented = errors.New("runner not yet implemented")
	// ErrUnknownRunner indicates an unrecognized runner kind.
	ErrUnknownRunner = errors.New("unknown runner type")
)

// Output directory defaults.
const (
	DefaultOutputDir = "./coverage"
	// EnvOutputDir overrides DefaultOutputDir for every runner.
	EnvOutputDir = "COVERAGE_OUTPUT_DIR"
)

const failedExitCode = 1

// CoverageResult is the outcome of one coverage run.
type CoverageResult struct {
	Success    bool          `json:"success"`
	OutputPath string        `json:"outputPath"`
	ExitCode   int           `json:"exitCode"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Runner runs a test suite with coverage enabled.
type Runner interface {
	Kind() Kind
	RunCoverage(ctx context.Context) CoverageResult
}

// commandRunner runs a runner CLI through npx.
type commandRunner struct {
	kind      Kind
	exec      Executor
	workDir   string
	outputDir string
	args      func(outputDir string) []string
	logger    *slog.Logger
}

func (r *commandRunner) Kind() Kind { return r.kind }

func (r *commandRunner) RunCoverage(ctx context.Context) CoverageResult {
	start := time.Now()
	args := append([]string{string(r.kind)}, r.args(r.outputDir)...)

	r.logger.DebugContext(ctx, "running coverage", "runner", string(r.kind),
		"command", "npx "+strings.Join(args, " "), "dir", r.workDir)

	out, err := r.exec.Run(ctx, r.workDir, "npx", args...)
	duration := time.Since(start)

	res := CoverageResult{
		OutputPath: r.outputDir,
		ExitCode:   out.ExitCode,
		Stdout:     out.Stdout,
		Stderr:     out.Stderr,
		Duration:   duration,
	}

	switch {
	case err != nil:
		if res.Stderr == "" {
			res.Stderr = err.Error()
		}

		if res.ExitCode == 0 {
			res.ExitCode = failedExitCode
		}
	case out.ExitCode == 0:
		res.Success = true
	}

	r.logger.DebugContext(ctx, "coverage run finished", "runner", string(r.kind),
		"success", res.Success, "exit_code", res.ExitCode, "duration", duration)

	return res
}

func jestArgs(outputDir string) []string {
	return []string{"--coverage", "--coverageDirectory", outputDir}
}

func vitestArgs(outputDir string) []string {
	return []string{"run", "--coverage", "--coverage.reportsDirectory", outputDir}
}

// DummyRunner succeeds immediately without running anything.
type DummyRunner struct {
	OutputDir string
}

// Kind implements Runner.
func (DummyRunner) Kind() Kind { return "dummy" }

// RunCoverage implements Runner.
func (d DummyRunner) RunCoverage(_ context.Context) CoverageResult {
	start := time.Now()

	outputDir := d.OutputDir
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}

	return CoverageResult{Success: true, OutputPath: outputDir, Duration: time.Since(start)}
}

// Factory creates runners sharing an executor, working directory and
// output directory overrides.
type Factory struct {
	exec      Executor
	workDir   string
	overrides map[string]string
	getenv    func(string) string
	logger    *slog.Logger
}

// FactoryOption customizes a Factory.
type FactoryOption func(*Factory)

// WithExecutor replaces the os/exec executor.
func WithExecutor(e Executor) FactoryOption {
	return func(f *Factory) { f.exec = e }
}

// WithWorkDir sets the directory commands run in.
func WithWorkDir(dir string) FactoryOption {
	return func(f *Factory) { f.workDir = dir }
}

// WithOverrides sets per-runner output directories keyed by runner kind.
func WithOverrides(overrides map[string]string) FactoryOption {
	return func(f *Factory) { f.overrides = overrides }
}

// WithGetenv replaces os.Getenv for output directory resolution.
func WithGetenv(getenv func(string) string) FactoryOption {
	return func(f *Factory) { f.getenv = getenv }
}

// WithLogger sets the factory logger.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		exec:   OSExecutor{},
		getenv: os.Getenv,
	}

	for _, opt := range opts {
		opt(f)
	}

	f.logger = observability.OrDiscard(f.logger)

	return f
}

// OutputDir resolves the coverage directory for kind: the default, then
// COVERAGE_OUTPUT_DIR, then the per-runner override.
func (f *Factory) OutputDir(kind Kind) string {
	dir := DefaultOutputDir

	if env := f.getenv(EnvOutputDir); env != "" {
		dir = env
	}

	if override := f.overrides[string(kind)]; override != "" {
		dir = override
	}

	return dir
}

// Create returns the runner for kind.
func (f *Factory) Create(kind Kind) (Runner, error) {
	switch kind {
	case KindJest:
		return f.command(kind, jestArgs), nil
	case KindVitest:
		return f.command(kind, vitestArgs), nil
	case KindMocha, KindAva:
		return nil, fmt.Errorf("%w: %s", ErrRunnerNotImplemented, kind)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRunner, kind)
	}
}

func (f *Factory) command(kind Kind, args func(string) []string) *commandRunner {
	return &commandRunner{
		kind:      kind,
		exec:      f.exec,
		workDir:   f.workDir,
		outputDir: f.OutputDir(kind),
		args:      args,
		logger:    f.logger,
	}
}
