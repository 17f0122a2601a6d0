package report

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

const jsonIndent = "  "

// WriteJSON writes the raw record mapping to outDir/coverage-merged.json.
func WriteJSON(fs afero.Fs, outDir string, cm *coverage.CoverageMap) (string, error) {
	return writeJSONFile(fs, outDir, JSONFileName, cm)
}

func writeJSONFile(fs afero.Fs, outDir, name string, cm *coverage.CoverageMap) (string, error) {
	data, marshalErr := json.MarshalIndent(cm.Data(), "", jsonIndent)
	if marshalErr != nil {
		return "", fmt.Errorf("%w: encode %s: %w", ErrWrite, name, marshalErr)
	}

	return writeFile(fs, outDir, name, data)
}
