// Package coverage holds the canonical in-memory coverage representation
// shared by every loader, transform, and writer: a map from source path to
// an Istanbul-shaped per-file record, plus the merge-by-summation rules.
package coverage

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Line-granularity column sentinels used by formats without column data.
const (
	ColumnStart = 0
	ColumnEnd   = 1000
)

// Sentinel validation errors.
var (
	// ErrMissingPath indicates a record has no path.
	ErrMissingPath = errors.New("file coverage has no path")
	// ErrNegativeHits indicates a hit counter below zero.
	ErrNegativeHits = errors.New("negative hit count")
	// ErrOrphanHits indicates a hit counter without a matching declaration.
	ErrOrphanHits = errors.New("hit count without declaration")
)

// Location is a line/column position in a source file.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range spans two locations.
type Range struct {
	Start Location `json:"start"`
	End   Location `json:"end"`
}

// LineRange returns a range covering the whole of one line.
func LineRange(line int) Range {
	return Range{
		Start: Location{Line: line, Column: ColumnStart},
		End:   Location{Line: line, Column: ColumnEnd},
	}
}

// FnMapping declares one function.
type FnMapping struct {
	Name string `json:"name"`
	Decl Range  `json:"decl"`
	Loc  Range  `json:"loc"`
	Line int    `json:"line"`
}

// BranchMapping declares one branch point and the location of each arm.
type BranchMapping struct {
	Loc       Range   `json:"loc"`
	Type      string  `json:"type"`
	Locations []Range `json:"locations"`
	Line      int     `json:"line"`
}

// FileCoverage is the coverage record for one source file.
type FileCoverage struct {
	Path         string                   `json:"path"`
	StatementMap map[string]Range         `json:"statementMap"`
	FnMap        map[string]FnMapping     `json:"fnMap"`
	BranchMap    map[string]BranchMapping `json:"branchMap"`
	S            map[string]int           `json:"s"`
	F            map[string]int           `json:"f"`
	B            map[string][]int         `json:"b"`
}

// NewFileCoverage returns an empty record for path with all maps allocated.
func NewFileCoverage(path string) *FileCoverage {
	fc := &FileCoverage{Path: path}
	fc.ensureMaps()

	return fc
}

func (fc *FileCoverage) ensureMaps() {
	if fc.StatementMap == nil {
		fc.StatementMap = make(map[string]Range)
	}

	if fc.FnMap == nil {
		fc.FnMap = make(map[string]FnMapping)
	}

	if fc.BranchMap == nil {
		fc.BranchMap = make(map[string]BranchMapping)
	}

	if fc.S == nil {
		fc.S = make(map[string]int)
	}

	if fc.F == nil {
		fc.F = make(map[string]int)
	}

	if fc.B == nil {
		fc.B = make(map[string][]int)
	}
}

// AddStatement appends a statement at the next sequential id and returns the id.
func (fc *FileCoverage) AddStatement(loc Range, hits int) string {
	fc.ensureMaps()

	id := strconv.Itoa(len(fc.StatementMap))
	fc.StatementMap[id] = loc
	fc.S[id] = hits

	return id
}

// Validate checks the record invariants.
func (fc *FileCoverage) Validate() error {
	if fc.Path == "" {
		return ErrMissingPath
	}

	for id, hits := range fc.S {
		if hits < 0 {
			return fmt.Errorf("%w: %s statement %s", ErrNegativeHits, fc.Path, id)
		}

		if _, ok := fc.StatementMap[id]; !ok {
			return fmt.Errorf("%w: %s statement %s", ErrOrphanHits, fc.Path, id)
		}
	}

	for id, hits := range fc.F {
		if hits < 0 {
			return fmt.Errorf("%w: %s function %s", ErrNegativeHits, fc.Path, id)
		}

		if _, ok := fc.FnMap[id]; !ok {
			return fmt.Errorf("%w: %s function %s", ErrOrphanHits, fc.Path, id)
		}
	}

	for id, arms := range fc.B {
		if slices.ContainsFunc(arms, func(h int) bool { return h < 0 }) {
			return fmt.Errorf("%w: %s branch %s", ErrNegativeHits, fc.Path, id)
		}

		if _, ok := fc.BranchMap[id]; !ok {
			return fmt.Errorf("%w: %s branch %s", ErrOrphanHits, fc.Path, id)
		}
	}

	return nil
}

// Clone returns a deep copy.
func (fc *FileCoverage) Clone() *FileCoverage {
	out := &FileCoverage{
		Path:         fc.Path,
		StatementMap: maps.Clone(fc.StatementMap),
		S:            maps.Clone(fc.S),
		F:            maps.Clone(fc.F),
		FnMap:        maps.Clone(fc.FnMap),
		BranchMap:    make(map[string]BranchMapping, len(fc.BranchMap)),
		B:            make(map[string][]int, len(fc.B)),
	}

	for id, bm := range fc.BranchMap {
		bm.Locations = slices.Clone(bm.Locations)
		out.BranchMap[id] = bm
	}

	for id, arms := range fc.B {
		out.B[id] = slices.Clone(arms)
	}

	out.ensureMaps()

	return out
}

// Merge adds other's hit counts into fc. Statements and functions are summed
// by id, branch arms element-wise by position. Declarations present only in
// other are copied over; declarations present in both keep fc's version.
func (fc *FileCoverage) Merge(other *FileCoverage) {
	fc.ensureMaps()

	for id, loc := range other.StatementMap {
		if _, ok := fc.StatementMap[id]; !ok {
			fc.StatementMap[id] = loc
		}
	}

	for id, hits := range other.S {
		fc.S[id] += hits
	}

	for id, fn := range other.FnMap {
		if _, ok := fc.FnMap[id]; !ok {
			fc.FnMap[id] = fn
		}
	}

	for id, hits := range other.F {
		fc.F[id] += hits
	}

	for id, bm := range other.BranchMap {
		if _, ok := fc.BranchMap[id]; !ok {
			bm.Locations = slices.Clone(bm.Locations)
			fc.BranchMap[id] = bm
		}
	}

	for id, arms := range other.B {
		fc.B[id] = sumArms(fc.B[id], arms)
	}
}

func sumArms(dst, src []int) []int {
	if len(src) > len(dst) {
		dst = append(dst, make([]int, len(src)-len(dst))...)
	}

	for i, hits := range src {
		dst[i] += hits
	}

	return dst
}
