package coverage

import (
	"math"
	"slices"
)

// fullPct is reported for a metric with nothing to cover.
const fullPct = 100.0

// Totals holds covered/total counts for one metric.
type Totals struct {
	Total   int     `json:"total"`
	Covered int     `json:"covered"`
	Skipped int     `json:"skipped"`
	Pct     float64 `json:"pct"`
}

// Summary holds the four coverage metrics for a file or a whole map.
type Summary struct {
	Statements Totals `json:"statements"`
	Functions  Totals `json:"functions"`
	Lines      Totals `json:"lines"`
	Branches   Totals `json:"branches"`
}

// Percent returns covered/total as a percentage truncated to two decimals,
// or 100 when total is zero.
func Percent(covered, total int) float64 {
	if total <= 0 {
		return fullPct
	}

	return math.Floor(float64(covered)*fullPct*fullPct/float64(total)) / fullPct
}

// RoundedPercent returns covered/total as a percentage rounded to the nearest
// integer, or 0 when total is zero.
func RoundedPercent(covered, total int) int {
	if total <= 0 {
		return 0
	}

	return int(math.Round(float64(covered) * fullPct / float64(total)))
}

func newTotals(covered, total int) Totals {
	return Totals{Total: total, Covered: covered, Pct: Percent(covered, total)}
}

func (t *Totals) add(other Totals) {
	t.Total += other.Total
	t.Covered += other.Covered
	t.Skipped += other.Skipped
	t.Pct = Percent(t.Covered, t.Total)
}

func (s *Summary) add(other Summary) {
	s.Statements.add(other.Statements)
	s.Functions.add(other.Functions)
	s.Lines.add(other.Lines)
	s.Branches.add(other.Branches)
}

// Summary computes the record's coverage metrics.
func (fc *FileCoverage) Summary() Summary {
	return Summary{
		Statements: newTotals(countCovered(fc.S), len(fc.S)),
		Functions:  newTotals(countCovered(fc.F), len(fc.F)),
		Lines:      fc.lineTotals(),
		Branches:   fc.branchTotals(),
	}
}

// LineHits maps each line that starts a statement to the highest hit count
// of the statements starting on it.
func (fc *FileCoverage) LineHits() map[int]int {
	lines := make(map[int]int)

	for id, hits := range fc.S {
		loc, ok := fc.StatementMap[id]
		if !ok {
			continue
		}

		prev, seen := lines[loc.Start.Line]
		if !seen || prev < hits {
			lines[loc.Start.Line] = hits
		}
	}

	return lines
}

// UncoveredStatements returns the ids of statements with zero hits, in
// numeric id order.
func (fc *FileCoverage) UncoveredStatements() []string {
	var ids []string

	for id, hits := range fc.S {
		if hits == 0 {
			ids = append(ids, id)
		}
	}

	slices.SortFunc(ids, CompareIDs)

	return ids
}

func (fc *FileCoverage) lineTotals() Totals {
	lines := fc.LineHits()

	covered := 0

	for _, hits := range lines {
		if hits > 0 {
			covered++
		}
	}

	return newTotals(covered, len(lines))
}

func (fc *FileCoverage) branchTotals() Totals {
	total, covered := 0, 0

	for _, arms := range fc.B {
		total += len(arms)

		for _, hits := range arms {
			if hits > 0 {
				covered++
			}
		}
	}

	return newTotals(covered, total)
}

func countCovered(hits map[string]int) int {
	covered := 0

	for _, h := range hits {
		if h > 0 {
			covered++
		}
	}

	return covered
}
