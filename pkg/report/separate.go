package report

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/filter"
)

// RunnerCoverage is the coverage collected from one test runner.
type RunnerCoverage struct {
	Runner   string
	Coverage *coverage.CoverageMap
}

// SeparateFileName returns the per-runner output name.
func SeparateFileName(runner string) string {
	return fmt.Sprintf("coverage-%s.json", runner)
}

// WriteSeparate writes one coverage-<runner>.json per result, each filtered
// by excludes. Runner maps are not merged.
func WriteSeparate(fs afero.Fs, outDir string, results []RunnerCoverage, excludes []string) ([]string, error) {
	written := make([]string, 0, len(results))

	for _, result := range results {
		filtered, filterErr := filter.Exclude(result.Coverage, excludes)
		if filterErr != nil {
			return written, filterErr
		}

		target, writeErr := writeJSONFile(fs, outDir, SeparateFileName(result.Runner), filtered)
		if writeErr != nil {
			return written, writeErr
		}

		written = append(written, target)
	}

	return written, nil
}
