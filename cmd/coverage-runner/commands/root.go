// Package commands implements CLI command handlers for coverage-runner.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/version"
)

// ErrCommandFailed marks a command whose outcome was reported as a failure.
var ErrCommandFailed = errors.New("command failed")

// GlobalFlags are the persistent flags shared by every command.
type GlobalFlags struct {
	Verbose bool
	Quiet   bool
	LogJSON bool
	NoColor bool
}

// observabilityConfig builds the observability config for the flags.
func (g *GlobalFlags) observabilityConfig(mode observability.AppMode) observability.Config {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version.Version
	cfg.Mode = mode
	cfg.ApplyEnv(os.Getenv)
	cfg.LogJSON = g.LogJSON

	switch {
	case g.Verbose:
		cfg.LogLevel = slog.LevelDebug
		cfg.DebugTrace = true
	case g.Quiet:
		cfg.LogLevel = slog.LevelError
	}

	return cfg
}

func (g *GlobalFlags) colorEnabled(w io.Writer) bool {
	if g.NoColor {
		return false
	}

	f, ok := w.(*os.File)

	return ok && f == os.Stdout && !color.NoColor
}

// NewRootCommand builds the coverage-runner command tree.
func NewRootCommand() *cobra.Command {
	flags := &GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "coverage-runner",
		Short: "Run JavaScript test runners with coverage and merge their reports",
		Long: `coverage-runner merges LCOV, Cobertura XML and Istanbul JSON coverage
into one report set, and can detect and run Jest or Vitest in a local
project or a freshly cloned repository.

Commands:
  merge     Merge coverage files matched by glob patterns
  run       Detect runners, run them with coverage and merge the results
  detect    List the test runners a project uses
  history   Show recorded merge runs
  mcp       Start the MCP server on stdio
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "only log errors and skip the summary table")
	rootCmd.PersistentFlags().BoolVar(&flags.LogJSON, "log-json", false, "log as JSON")
	rootCmd.PersistentFlags().BoolVar(&flags.NoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewMergeCommand(flags))
	rootCmd.AddCommand(NewRunCommand(flags))
	rootCmd.AddCommand(NewDetectCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewMCPCommand(flags))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// statusPrinter writes check-marked status lines.
type statusPrinter struct {
	w     io.Writer
	ok    *color.Color
	fail  *color.Color
	muted *color.Color
}

func newStatusPrinter(w io.Writer, enabled bool) *statusPrinter {
	p := &statusPrinter{
		w:     w,
		ok:    color.New(color.FgGreen, color.Bold),
		fail:  color.New(color.FgRed, color.Bold),
		muted: color.New(color.Faint),
	}

	for _, c := range []*color.Color{p.ok, p.fail, p.muted} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return p
}

func (p *statusPrinter) success(format string, args ...any) {
	p.ok.Fprint(p.w, "✓ ")
	p.ok.Fprintf(p.w, format+"\n", args...)
}

func (p *statusPrinter) failure(format string, args ...any) {
	p.fail.Fprint(p.w, "✗ ")
	p.fail.Fprintf(p.w, format+"\n", args...)
}

func (p *statusPrinter) detail(format string, args ...any) {
	p.muted.Fprintf(p.w, "  "+format+"\n", args...)
}
