package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/history"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/merge"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/report"
)

// DefaultMergeOutputDir receives merged reports when -o is not given.
const DefaultMergeOutputDir = "coverage-merged"

// MergeCommand holds the flags of the merge command.
type MergeCommand struct {
	flags *GlobalFlags
	fs    afero.Fs

	outputDir      string
	formats        []string
	jsonOnly       bool
	normalizePaths bool
	rootDir        string
	excludes       []string
	detailed       bool
	workers        int
	metricsFile    string
	historyDB      string
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(flags *GlobalFlags) *cobra.Command {
	return newMergeCommandWithFs(flags, afero.NewOsFs())
}

func newMergeCommandWithFs(flags *GlobalFlags, fs afero.Fs) *cobra.Command {
	mc := &MergeCommand{flags: flags, fs: fs}

	cmd := &cobra.Command{
		Use:   "merge <pattern>...",
		Short: "Merge coverage files matched by glob patterns",
		Long: `Merge LCOV (*.lcov, or any name containing "lcov" such as lcov.info),
Cobertura (.xml) and Istanbul (.json) coverage files into one coverage map and
write it in the requested formats.

Patterns are doublestar globs ("**/lcov.info") or plain paths. Files under
node_modules are ignored.`,
		Example: `  coverage-runner merge "packages/*/coverage/lcov.info" -o coverage/merged
  coverage-runner merge "**/coverage-final.json" --normalize-paths --exclude "**/*.test.ts"`,
		Args: cobra.MinimumNArgs(1),
		RunE: mc.run,
	}

	cmd.Flags().StringVarP(&mc.outputDir, "output", "o", DefaultMergeOutputDir, "Output directory")
	cmd.Flags().StringSliceVar(&mc.formats, "format", nil, "Output formats: json, lcov, text, html (default json,lcov)")
	cmd.Flags().BoolVar(&mc.jsonOnly, "json-only", false, "Write only "+report.JSONFileName)
	cmd.Flags().BoolVar(&mc.normalizePaths, "normalize-paths", false, "Collapse equivalent path spellings")
	cmd.Flags().StringVar(&mc.rootDir, "root-dir", "", "Make absolute paths relative to this directory when normalizing")
	cmd.Flags().StringSliceVar(&mc.excludes, "exclude", nil, "Glob patterns of source files to drop")
	cmd.Flags().BoolVar(&mc.detailed, "detailed", false, "Also write the per-file text report")
	cmd.Flags().IntVar(&mc.workers, "workers", 0, "Parallel file loads (0 = sequential)")
	cmd.Flags().StringVar(&mc.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	cmd.Flags().StringVar(&mc.historyDB, "history-db", "", "Record the run in this SQLite ledger")

	return cmd
}

func (mc *MergeCommand) run(cmd *cobra.Command, args []string) error {
	formats, err := parseFormats(mc.formats)
	if err != nil {
		return err
	}

	providers, shutdown, err := startObservability(mc.flags, observability.ModeCLI, mc.metricsFile)
	if err != nil {
		return err
	}
	defer shutdown()

	mm, err := observability.NewMergeMetrics(providers.Meter)
	if err != nil {
		return err
	}

	orch := merge.New(mc.fs, providers.Logger, merge.WithTracer(providers.Tracer), merge.WithMetrics(mm))

	res := orch.Run(cmd.Context(), merge.Options{
		InputPatterns:   args,
		OutputDir:       mc.outputDir,
		Formats:         formats,
		JSONOnly:        mc.jsonOnly,
		NormalizePaths:  mc.normalizePaths,
		RootDir:         mc.rootDir,
		ExcludePatterns: mc.excludes,
		TextDetailed:    mc.detailed,
		Workers:         mc.workers,
	})

	out := cmd.OutOrStdout()
	printer := newStatusPrinter(out, mc.flags.colorEnabled(out))

	if !res.Success {
		printer.failure("%s", res.Error)

		return fmt.Errorf("%w: %s", ErrCommandFailed, res.Error)
	}

	printMergeResult(out, printer, res, mc.flags)

	if mc.historyDB != "" {
		recordHistory(cmd.Context(), providers.Logger, mc.historyDB, res)
	}

	return nil
}

func parseFormats(names []string) ([]report.Format, error) {
	formats := make([]report.Format, 0, len(names))

	for _, name := range names {
		f, err := report.ParseFormat(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}

		formats = append(formats, f)
	}

	return formats, nil
}

func printMergeResult(out io.Writer, printer *statusPrinter, res merge.Result, flags *GlobalFlags) {
	printer.success("Merged %s coverage files into %s source files",
		humanize.Comma(int64(res.FilesProcessed)), humanize.Comma(int64(res.UniqueFiles)))

	if res.NormalizedPaths != nil && *res.NormalizedPaths > 0 {
		printer.detail("%s paths collapsed by normalization", humanize.Comma(int64(*res.NormalizedPaths)))
	}

	if res.Excluded > 0 {
		printer.detail("%s files excluded", humanize.Comma(int64(res.Excluded)))
	}

	for _, output := range res.Outputs {
		printer.detail("wrote %s", output)
	}

	if flags.Quiet || res.Coverage == nil {
		return
	}

	fmt.Fprintln(out)
	report.RenderTable(out, res.Coverage, flags.colorEnabled(out))
}

// recordHistory appends res to the ledger at dsn. Failures are logged only.
func recordHistory(ctx context.Context, logger *slog.Logger, dsn string, res merge.Result) {
	rec, err := history.FromResult(res)
	if err != nil {
		return
	}

	store, err := history.Open(dsn)
	if err != nil {
		logger.WarnContext(ctx, "history unavailable", "path", dsn, "error", err)

		return
	}

	defer func() {
		closeErr := store.Close()
		if closeErr != nil {
			logger.WarnContext(ctx, "close history", "error", closeErr)
		}
	}()

	recordErr := store.Record(ctx, &rec)
	if recordErr != nil {
		logger.WarnContext(ctx, "history not recorded", "error", recordErr)

		return
	}

	logger.DebugContext(ctx, "run recorded", "id", rec.ID, "path", dsn)
}
