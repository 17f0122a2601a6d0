package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/runners"
)

// NewDetectCommand creates the detect command.
func NewDetectCommand() *cobra.Command {
	return newDetectCommandWithFs(afero.NewOsFs())
}

func newDetectCommandWithFs(fs afero.Fs) *cobra.Command {
	var (
		path   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List the test runners a project uses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve project path: %w", err)
			}

			kinds := runners.DetectFromDir(fs, dir)

			names := make([]string, 0, len(kinds))
			for _, k := range kinds {
				names = append(names, string(k))
			}

			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")

				return enc.Encode(map[string]any{"path": dir, "runners": names})
			}

			if len(names) == 0 {
				fmt.Fprintf(out, "no test runners detected in %s\n", dir)

				return nil
			}

			for _, name := range names {
				fmt.Fprintln(out, name)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", ".", "Project directory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}
