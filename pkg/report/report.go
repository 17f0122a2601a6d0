// Package report writes a coverage map to disk in the supported output
// formats and renders console summaries of it.
package report

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Output file names.
const (
	JSONFileName     = "coverage-merged.json"
	LCOVFileName     = "coverage-merged.lcov"
	SummaryFileName  = "coverage-summary.txt"
	DetailedFileName = "coverage-detailed.txt"
	HTMLFileName     = "coverage-chart.html"
)

// Coverage watermarks in percent: below low is poor, at or above high is good.
const (
	WatermarkLow  = 50
	WatermarkHigh = 80
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// ErrWrite indicates an output could not be written.
var ErrWrite = errors.New("write coverage output")

// Format names an output format.
type Format string

// Supported output formats.
const (
	FormatJSON Format = "json"
	FormatLCOV Format = "lcov"
	FormatText Format = "text"
	FormatHTML Format = "html"
)

// ParseFormat converts a format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(name); f {
	case FormatJSON, FormatLCOV, FormatText, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", ErrWrite, name)
	}
}

// writeFile creates outDir with parents and overwrites outDir/name.
func writeFile(fs afero.Fs, outDir, name string, data []byte) (string, error) {
	mkdirErr := fs.MkdirAll(outDir, dirPerm)
	if mkdirErr != nil {
		return "", fmt.Errorf("%w: create %s: %w", ErrWrite, outDir, mkdirErr)
	}

	target := filepath.Join(outDir, name)

	writeErr := afero.WriteFile(fs, target, data, filePerm)
	if writeErr != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrWrite, target, writeErr)
	}

	return target, nil
}
