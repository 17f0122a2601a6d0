package loaders

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

// LCOV directives understood by the parser. Anything else is ignored.
const (
	lcovSourceFile  = "SF:"
	lcovLineData    = "DA:"
	lcovEndOfRecord = "end_of_record"
)

// lcovMaxLine bounds a single LCOV line (long SF: paths in monorepos).
const lcovMaxLine = 1 << 20

var errMalformedLineData = errors.New("malformed DA line")

// LoadLCOV loads an LCOV tracefile.
func (l *Loader) LoadLCOV(path string) (*coverage.CoverageMap, error) {
	data, readErr := l.readInput(path, FormatLCOV)
	if readErr != nil {
		return nil, readErr
	}

	if data == nil {
		return coverage.New(), nil
	}

	cm, parseErr := ParseLCOV(bytes.NewReader(data))
	if parseErr != nil {
		return nil, parseError(path, parseErr)
	}

	return cm, nil
}

// ParseLCOV reads LCOV records from r. Each SF:/end_of_record block becomes
// one file record with a statement per DA: line, numbered from "0".
// A block without end_of_record is dropped.
func ParseLCOV(r io.Reader) (*coverage.CoverageMap, error) {
	cm := coverage.New()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), lcovMaxLine)

	var current *coverage.FileCoverage

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, lcovSourceFile):
			current = coverage.NewFileCoverage(strings.TrimPrefix(line, lcovSourceFile))
		case strings.HasPrefix(line, lcovLineData) && current != nil:
			srcLine, hits, daErr := parseLineData(strings.TrimPrefix(line, lcovLineData))
			if daErr != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, daErr)
			}

			current.AddStatement(coverage.LineRange(srcLine), hits)
		case line == lcovEndOfRecord && current != nil:
			addErr := cm.AddFileCoverage(current)
			if addErr != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, addErr)
			}

			current = nil
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("scan: %w", scanErr)
	}

	return cm, nil
}

// parseLineData parses "<line>,<hits>[,<checksum>]".
func parseLineData(body string) (int, int, error) {
	parts := strings.Split(body, ",")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("%w: %q", errMalformedLineData, body)
	}

	line, lineErr := strconv.Atoi(strings.TrimSpace(parts[0]))
	if lineErr != nil {
		return 0, 0, fmt.Errorf("%w: %q", errMalformedLineData, body)
	}

	hits, hitsErr := strconv.Atoi(strings.TrimSpace(parts[1]))
	if hitsErr != nil || hits < 0 {
		return 0, 0, fmt.Errorf("%w: %q", errMalformedLineData, body)
	}

	return line, hits, nil
}
