package report

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

var errInconsistentRecord = errors.New("inconsistent coverage record")

// WriteLCOV writes outDir/coverage-merged.lcov. Records the full generator
// cannot encode are written in the reduced line-only form instead.
func WriteLCOV(fs afero.Fs, outDir string, cm *coverage.CoverageMap, logger *slog.Logger) (string, error) {
	data, genErr := GenerateLCOV(cm)
	if genErr != nil {
		if logger != nil {
			logger.Debug("lcov generator failed, writing line-only lcov", "error", genErr)
		}

		data = FallbackLCOV(cm)
	}

	return writeFile(fs, outDir, LCOVFileName, data)
}

// GenerateLCOV encodes cm as lcovonly tracefile records with function,
// line and branch data.
func GenerateLCOV(cm *coverage.CoverageMap) ([]byte, error) {
	var buf bytes.Buffer

	for _, key := range cm.Files() {
		fc, _ := cm.FileCoverageFor(key)

		recErr := writeLCOVRecord(&buf, key, fc)
		if recErr != nil {
			return nil, recErr
		}
	}

	return buf.Bytes(), nil
}

func writeLCOVRecord(buf *bytes.Buffer, key string, fc *coverage.FileCoverage) error {
	sum := fc.Summary()

	buf.WriteString("TN:\n")
	buf.WriteString("SF:" + key + "\n")

	fnIDs := coverage.SortedIDs(fc.FnMap)

	for _, id := range fnIDs {
		fn := fc.FnMap[id]
		fmt.Fprintf(buf, "FN:%d,%s\n", fnLine(fn), fn.Name)
	}

	fmt.Fprintf(buf, "FNF:%d\nFNH:%d\n", sum.Functions.Total, sum.Functions.Covered)

	for _, id := range fnIDs {
		hits, ok := fc.F[id]
		if !ok {
			return fmt.Errorf("%w: %s function %s has no hit count", errInconsistentRecord, key, id)
		}

		fmt.Fprintf(buf, "FNDA:%d,%s\n", hits, fc.FnMap[id].Name)
	}

	lines := fc.LineHits()
	for _, line := range slices.Sorted(maps.Keys(lines)) {
		fmt.Fprintf(buf, "DA:%d,%d\n", line, lines[line])
	}

	fmt.Fprintf(buf, "LF:%d\nLH:%d\n", sum.Lines.Total, sum.Lines.Covered)

	for _, id := range coverage.SortedIDs(fc.B) {
		meta, ok := fc.BranchMap[id]
		if !ok {
			return fmt.Errorf("%w: %s branch %s has no declaration", errInconsistentRecord, key, id)
		}

		line := meta.Loc.Start.Line
		if line == 0 {
			line = meta.Line
		}

		for arm, hits := range fc.B[id] {
			fmt.Fprintf(buf, "BRDA:%d,%s,%d,%d\n", line, id, arm, hits)
		}
	}

	fmt.Fprintf(buf, "BRF:%d\nBRH:%d\n", sum.Branches.Total, sum.Branches.Covered)
	buf.WriteString("end_of_record\n")

	return nil
}

func fnLine(fn coverage.FnMapping) int {
	if fn.Decl.Start.Line != 0 {
		return fn.Decl.Start.Line
	}

	return fn.Line
}

// FallbackLCOV encodes cm with one DA line per statement. It never fails.
func FallbackLCOV(cm *coverage.CoverageMap) []byte {
	var buf bytes.Buffer

	for _, key := range cm.Files() {
		fc, _ := cm.FileCoverageFor(key)

		buf.WriteString("TN:\nSF:" + key + "\n")

		for _, id := range coverage.SortedIDs(fc.S) {
			loc, ok := fc.StatementMap[id]
			if !ok {
				continue
			}

			buf.WriteString("DA:" + strconv.Itoa(loc.Start.Line) + "," + strconv.Itoa(fc.S[id]) + "\n")
		}

		buf.WriteString("end_of_record\n")
	}

	return buf.Bytes()
}
