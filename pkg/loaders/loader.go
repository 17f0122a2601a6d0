// Package loaders parses coverage files (LCOV, Cobertura XML, Istanbul/V8
// JSON) into the canonical coverage map.
package loaders

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

// Format identifies a coverage file format.
type Format string

// Supported coverage formats.
const (
	FormatUnknown   Format = "unknown"
	FormatLCOV      Format = "lcov"
	FormatCobertura Format = "cobertura"
	FormatIstanbul  Format = "istanbul"
)

// Sentinel loader errors.
var (
	// ErrFileNotFound indicates the input path does not exist.
	ErrFileNotFound = errors.New("coverage file not found")
	// ErrParse indicates malformed content for the expected format.
	ErrParse = errors.New("parse coverage file")
	// ErrUnknownFormat indicates the format could not be sniffed from the name.
	ErrUnknownFormat = errors.New("unknown coverage format")
)

// Loader reads coverage files from a filesystem.
type Loader struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New creates a Loader over fs. A nil logger discards output.
// Use afero.NewOsFs() for real files or afero.NewMemMapFs() in tests.
func New(fs afero.Fs, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Loader{fs: fs, logger: logger}
}

// NewOs creates a Loader over the operating system filesystem.
func NewOs(logger *slog.Logger) *Loader {
	return New(afero.NewOsFs(), logger)
}

// DetectFormat infers the coverage format from the file extension and name.
func DetectFormat(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	name := strings.ToLower(filepath.Base(path))

	switch {
	case ext == ".lcov" || strings.Contains(name, "lcov"):
		return FormatLCOV
	case ext == ".xml" || strings.Contains(name, "cobertura") || strings.Contains(name, "coverage.xml"):
		return FormatCobertura
	case ext == ".json" || (strings.Contains(name, "coverage") && strings.Contains(name, "json")):
		return FormatIstanbul
	default:
		return FormatUnknown
	}
}

// Load sniffs the format of path and loads it. It returns the detected format
// alongside the map so callers can report what was read.
func (l *Loader) Load(path string) (*coverage.CoverageMap, Format, error) {
	format := DetectFormat(path)

	var (
		cm  *coverage.CoverageMap
		err error
	)

	switch format {
	case FormatLCOV:
		cm, err = l.LoadLCOV(path)
	case FormatCobertura:
		cm, err = l.LoadCobertura(path)
	case FormatIstanbul:
		cm, err = l.LoadIstanbulJSON(path)
	case FormatUnknown:
		return nil, format, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	return cm, format, err
}

// readInput returns the file content, or nil content for a blank file.
func (l *Loader) readInput(path string, format Format) ([]byte, error) {
	exists, statErr := afero.Exists(l.fs, path)
	if statErr != nil {
		return nil, fmt.Errorf("stat %s: %w", path, statErr)
	}

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	l.logger.Debug("loading coverage file", "path", path, "format", string(format))

	data, readErr := afero.ReadFile(l.fs, path)
	if readErr != nil {
		return nil, fmt.Errorf("read %s: %w", path, readErr)
	}

	if strings.TrimSpace(string(data)) == "" {
		l.logger.Debug("coverage file is empty", "path", path)

		return nil, nil
	}

	return data, nil
}

func parseError(path string, cause error) error {
	return fmt.Errorf("%w %s: %w", ErrParse, path, cause)
}
