// Package config loads the coverage-runner project configuration.
package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/filter"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/runners"
)

// Merge strategies.
const (
	// StrategyMerge writes one merged report for all runners.
	StrategyMerge = "merge"
	// StrategySeparate writes coverage-<runner>.json per runner.
	StrategySeparate = "separate"
)

// Config is the project configuration.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	// RunnerOverrides maps a runner kind to its coverage output directory.
	RunnerOverrides map[string]string `mapstructure:"runnerOverrides" json:"runnerOverrides,omitempty"`
	ExcludePatterns []string          `mapstructure:"excludePatterns" json:"excludePatterns,omitempty"`
	MergeStrategy   string            `mapstructure:"mergeStrategy"   json:"mergeStrategy"`

	// Source is the file the configuration was read from, empty for defaults.
	Source string `mapstructure:"-" json:"-"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidMergeStrategy indicates mergeStrategy is not merge or separate.
	ErrInvalidMergeStrategy = errors.New("mergeStrategy must be \"merge\" or \"separate\"")
	// ErrInvalidExcludePattern indicates an excludePatterns entry is not a valid glob.
	ErrInvalidExcludePattern = errors.New("excludePatterns contains an invalid glob")
	// ErrUnknownRunnerOverride indicates a runnerOverrides key is not a known runner.
	ErrUnknownRunnerOverride = errors.New("runnerOverrides key is not a known runner")
	// ErrEmptyRunnerOverride indicates a runnerOverrides entry has no directory.
	ErrEmptyRunnerOverride = errors.New("runnerOverrides directory must not be empty")
)

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{MergeStrategy: StrategyMerge}
}

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	switch c.MergeStrategy {
	case "", StrategyMerge, StrategySeparate:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMergeStrategy, c.MergeStrategy)
	}

	patternErr := filter.ValidatePatterns(c.ExcludePatterns)
	if patternErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidExcludePattern, patternErr)
	}

	for _, kind := range slices.Sorted(maps.Keys(c.RunnerOverrides)) {
		if !runners.IsKnown(runners.Kind(kind)) {
			return fmt.Errorf("%w: %q", ErrUnknownRunnerOverride, kind)
		}

		if c.RunnerOverrides[kind] == "" {
			return fmt.Errorf("%w: %q", ErrEmptyRunnerOverride, kind)
		}
	}

	return nil
}

// Strategy returns MergeStrategy, defaulting to merge.
func (c *Config) Strategy() string {
	if c.MergeStrategy == "" {
		return StrategyMerge
	}

	return c.MergeStrategy
}
