package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/clone"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
)

// RunCommand holds the flags of the run command.
type RunCommand struct {
	flags *GlobalFlags
	opts  []clone.Option

	path        string
	repo        string
	branch      string
	noInstall   bool
	keepClone   bool
	outputDir   string
	configPath  string
	timeout     time.Duration
	workers     int
	metricsFile string
}

// NewRunCommand creates the run command.
func NewRunCommand(flags *GlobalFlags) *cobra.Command {
	return newRunCommandWithDeps(flags)
}

func newRunCommandWithDeps(flags *GlobalFlags, opts ...clone.Option) *cobra.Command {
	rc := &RunCommand{flags: flags, opts: opts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Detect runners, run them with coverage and merge the results",
		Long: `Detect the Jest and Vitest setup of a project, run each runner with
coverage and combine their Istanbul reports.

With --repo the project is cloned into a temporary directory first and its
dependencies are installed with the package manager its lockfile names.
The merge strategy, runner output directories and exclude patterns come
from the project's coverage config.`,
		Example: `  coverage-runner run --path ./app -o coverage/merged
  coverage-runner run --repo https://github.com/acme/app.git --branch main`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}

	cmd.Flags().StringVarP(&rc.path, "path", "p", ".", "Project directory")
	cmd.Flags().StringVar(&rc.repo, "repo", "", "Clone and run this git repository instead of --path")
	cmd.Flags().StringVar(&rc.branch, "branch", "", "Branch to check out with --repo")
	cmd.Flags().BoolVar(&rc.noInstall, "no-install", false, "Skip dependency installation with --repo")
	cmd.Flags().BoolVar(&rc.keepClone, "keep-clone", false, "Keep the cloned directory")
	cmd.Flags().StringVarP(&rc.outputDir, "output", "o", DefaultMergeOutputDir, "Output directory")
	cmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "Config file (default: searched in the project)")
	cmd.Flags().DurationVar(&rc.timeout, "timeout", clone.DefaultTimeout, "Timeout for clone and install")
	cmd.Flags().IntVar(&rc.workers, "workers", 0, "Parallel coverage file loads (0 = sequential)")
	cmd.Flags().StringVar(&rc.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	providers, shutdown, err := startObservability(rc.flags, observability.ModeCLI, rc.metricsFile)
	if err != nil {
		return err
	}
	defer shutdown()

	mm, err := observability.NewMergeMetrics(providers.Meter)
	if err != nil {
		return err
	}

	outputDir, err := filepath.Abs(rc.outputDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}

	opts := append([]clone.Option{clone.WithTracer(providers.Tracer), clone.WithMergeMetrics(mm)}, rc.opts...)
	svc := clone.New(providers.Logger, opts...)

	runOpts := clone.Options{
		OutputDir:   outputDir,
		ConfigPath:  rc.configPath,
		Workers:     rc.workers,
		Branch:      rc.branch,
		KeepClone:   rc.keepClone,
		SkipInstall: rc.noInstall,
		Timeout:     rc.timeout,
	}

	var res clone.Result

	if rc.repo != "" {
		res = svc.Execute(cmd.Context(), rc.repo, runOpts)
	} else {
		dir, absErr := filepath.Abs(rc.path)
		if absErr != nil {
			return fmt.Errorf("resolve project path: %w", absErr)
		}

		res = svc.RunProject(cmd.Context(), dir, runOpts)
	}

	out := cmd.OutOrStdout()
	printer := newStatusPrinter(out, rc.flags.colorEnabled(out))

	printOutcomes(printer, res)

	if !res.Success {
		printer.failure("%s", res.Error)

		return fmt.Errorf("%w: %s", ErrCommandFailed, res.Error)
	}

	printRunResult(out, printer, res, rc.flags)

	return nil
}

func printOutcomes(printer *statusPrinter, res clone.Result) {
	for _, outcome := range res.Outcomes {
		if outcome.CoverageFile == "" {
			printer.failure("%s: %s", outcome.Runner, outcome.Error)

			continue
		}

		took := ""
		if outcome.Result != nil {
			took = " in " + outcome.Result.Duration.Round(time.Millisecond).String()
		}

		printer.success("%s finished%s", outcome.Runner, took)
	}
}

func printRunResult(out io.Writer, printer *statusPrinter, res clone.Result, flags *GlobalFlags) {
	if res.Commit != "" {
		printer.detail("commit %s", res.Commit)
	}

	if res.Merge != nil {
		printMergeResult(out, printer, *res.Merge, flags)

		return
	}

	printer.success("Wrote %s per-runner reports (%s strategy)", humanize.Comma(int64(len(res.Outputs))), res.Strategy)

	for _, output := range res.Outputs {
		printer.detail("wrote %s", output)
	}
}
