package report

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

const (
	summaryHeader  = "COVERAGE SUMMARY\n================\n\n"
	detailedHeader = "DETAILED COVERAGE REPORT\n========================\n\n"
	noCoverageData = "No coverage data found.\n"
	fileRuleWidth  = 50
	anonymousFn    = "anonymous"
)

// WriteText writes outDir/coverage-summary.txt and, when detailed is set,
// outDir/coverage-detailed.txt. It returns the written paths.
func WriteText(fs afero.Fs, outDir string, cm *coverage.CoverageMap, detailed bool) ([]string, error) {
	summaryPath, summaryErr := writeFile(fs, outDir, SummaryFileName, []byte(FormatSummary(cm)))
	if summaryErr != nil {
		return nil, summaryErr
	}

	written := []string{summaryPath}

	if !detailed {
		return written, nil
	}

	detailedPath, detailedErr := writeFile(fs, outDir, DetailedFileName, []byte(FormatDetailed(cm)))
	if detailedErr != nil {
		return written, detailedErr
	}

	return append(written, detailedPath), nil
}

// FormatSummary renders per-file metric blocks followed by a TOTAL block.
// Percentages are whole numbers and 0 when a metric has nothing to cover.
func FormatSummary(cm *coverage.CoverageMap) string {
	var sb strings.Builder

	sb.WriteString(summaryHeader)

	if cm.Len() == 0 {
		sb.WriteString(noCoverageData)

		return sb.String()
	}

	for _, key := range cm.Files() {
		fc, _ := cm.FileCoverageFor(key)
		sum := fc.Summary()

		fmt.Fprintf(&sb, "%s:\n", path.Base(key))
		fmt.Fprintf(&sb, "  Statements: %s\n", metricLine(sum.Statements))
		fmt.Fprintf(&sb, "  Functions:  %s\n", metricLine(sum.Functions))
		fmt.Fprintf(&sb, "  Lines:      %s\n", metricLine(sum.Lines))
		fmt.Fprintf(&sb, "  Branches:   %s\n\n", metricLine(sum.Branches))
	}

	total := cm.Summary()

	sb.WriteString("TOTAL:\n")
	fmt.Fprintf(&sb, "  Statements: %s\n", metricLine(total.Statements))
	fmt.Fprintf(&sb, "  Functions:  %s\n", metricLine(total.Functions))
	fmt.Fprintf(&sb, "  Lines:      %s\n", metricLine(total.Lines))
	fmt.Fprintf(&sb, "  Branches:   %s\n", metricLine(total.Branches))

	return sb.String()
}

// FormatDetailed renders, per file, its function hit list, statement count
// and the ids of uncovered statements.
func FormatDetailed(cm *coverage.CoverageMap) string {
	var sb strings.Builder

	sb.WriteString(detailedHeader)

	if cm.Len() == 0 {
		sb.WriteString(noCoverageData)

		return sb.String()
	}

	for _, key := range cm.Files() {
		fc, _ := cm.FileCoverageFor(key)

		fmt.Fprintf(&sb, "File: %s\nPath: %s\n%s\n\n", path.Base(key), key, strings.Repeat("=", fileRuleWidth))

		if len(fc.F) > 0 {
			sb.WriteString("Functions:\n")

			for _, id := range coverage.SortedIDs(fc.F) {
				count := fc.F[id]

				name := anonymousFn
				if fn, ok := fc.FnMap[id]; ok && fn.Name != "" {
					name = fn.Name
				}

				status := "Not covered"
				if count > 0 {
					status = "Covered"
				}

				fmt.Fprintf(&sb, "  %s: %s (%d calls)\n", name, status, count)
			}

			sb.WriteString("\n")
		}

		sum := fc.Summary()
		fmt.Fprintf(&sb, "Statements: %d/%d covered\n", sum.Statements.Covered, sum.Statements.Total)

		uncovered := fc.UncoveredStatements()
		if len(uncovered) > 0 {
			fmt.Fprintf(&sb, "Uncovered statements: %s\n", strings.Join(uncovered, ", "))
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

func metricLine(t coverage.Totals) string {
	return fmt.Sprintf("%d/%d (%d%%)", t.Covered, t.Total, coverage.RoundedPercent(t.Covered, t.Total))
}
