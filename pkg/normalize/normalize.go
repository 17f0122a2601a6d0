// Package normalize canonicalizes coverage path keys so the same source file
// reported under different spellings collapses into one record.
package normalize

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

// Paths returns a fresh map whose keys are normalized with Path. Records that
// normalize to the same key are merged with the usual summation rules.
func Paths(cm *coverage.CoverageMap, rootDir string) *coverage.CoverageMap {
	return cm.Rekey(func(key string) string {
		return Path(key, rootDir)
	})
}

// Path normalizes one path key. An absolute p is made relative to a
// non-empty rootDir, which is itself resolved against the working directory
// when relative. "." and ".." segments are resolved, backslashes become
// forward slashes and a leading "./" is dropped. If p cannot be made
// relative to rootDir it is only cleaned.
func Path(p, rootDir string) string {
	if p == "" {
		return p
	}

	normalized := p

	if rootDir != "" && filepath.IsAbs(p) {
		normalized = relativeTo(rootDir, p)
	}

	normalized = path.Clean(strings.ReplaceAll(filepath.ToSlash(normalized), `\`, "/"))

	return strings.TrimPrefix(normalized, "./")
}

// relativeTo returns p relative to rootDir, or p unchanged when either
// cannot be resolved.
func relativeTo(rootDir, p string) string {
	absRoot, absErr := filepath.Abs(rootDir)
	if absErr != nil {
		return p
	}

	rel, relErr := filepath.Rel(absRoot, p)
	if relErr != nil {
		return p
	}

	return rel
}
