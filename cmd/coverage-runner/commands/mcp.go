package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/mcp"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The server exposes coverage tooling that AI agents can discover and invoke:
  - coverage_merge: merge LCOV, Cobertura and Istanbul reports
  - coverage_detect: list the test runners a project uses`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mcpFlags := *flags
			mcpFlags.LogJSON = true

			providers, shutdown, err := startObservability(&mcpFlags, observability.ModeMCP, "")
			if err != nil {
				return err
			}
			defer shutdown()

			toolMetrics, err := observability.NewToolMetrics(providers.Meter)
			if err != nil {
				return err
			}

			srv := mcp.NewServer(mcp.ServerDeps{Logger: providers.Logger, Metrics: toolMetrics, Tracer: providers.Tracer})

			return srv.Run(cmd.Context())
		},
	}
}
