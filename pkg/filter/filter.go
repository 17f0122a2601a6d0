// Package filter drops coverage records whose path matches exclude globs.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
)

// ErrBadPattern indicates a malformed glob.
var ErrBadPattern = errors.New("invalid exclude pattern")

// ValidatePatterns reports the first malformed pattern.
func ValidatePatterns(patterns []string) error {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("%w: %q", ErrBadPattern, pattern)
		}
	}

	return nil
}

// Exclude returns a map without the records whose key matches any pattern.
// With no patterns cm itself is returned.
func Exclude(cm *coverage.CoverageMap, patterns []string) (*coverage.CoverageMap, error) {
	if len(patterns) == 0 {
		return cm, nil
	}

	validateErr := ValidatePatterns(patterns)
	if validateErr != nil {
		return nil, validateErr
	}

	return cm.Filter(func(key string) bool {
		return !Matches(key, patterns)
	}), nil
}

// Matches reports whether key matches any pattern. Patterns match the whole
// slash-separated key as stored, so "index.ts" does not match "src/index.ts".
func Matches(key string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchPattern(key, pattern) {
			return true
		}
	}

	return false
}

func matchPattern(key, pattern string) bool {
	if match(pattern, key) {
		return true
	}

	// A leading "**/" also spans the root of an absolute key.
	if strings.HasPrefix(pattern, "**/") && strings.HasPrefix(key, "/") {
		return match(pattern, strings.TrimPrefix(key, "/"))
	}

	return false
}

func match(pattern, name string) bool {
	matched, err := doublestar.Match(pattern, name)

	return err == nil && matched
}
