package config_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/coverage-runner/internal/config"
)

const projectDir = "/project"

func writeFiles(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()

	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}

	return fs
}

func TestValidate_ZeroConfig_NoError(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.StrategyMerge, cfg.Strategy())
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.Config
		want error
	}{
		{name: "strategy", cfg: config.Config{MergeStrategy: "union"}, want: config.ErrInvalidMergeStrategy},
		{name: "glob", cfg: config.Config{ExcludePatterns: []string{"src/[x-"}}, want: config.ErrInvalidExcludePattern},
		{
			name: "unknown runner",
			cfg:  config.Config{RunnerOverrides: map[string]string{"karma": "./cov"}},
			want: config.ErrUnknownRunnerOverride,
		},
		{
			name: "empty override",
			cfg:  config.Config{RunnerOverrides: map[string]string{"jest": ""}},
			want: config.ErrEmptyRunnerOverride,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.ErrorIs(t, tt.cfg.Validate(), tt.want)
		})
	}
}

func TestLoad_NoConfig_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(afero.NewMemMapFs(), projectDir, "")
	require.NoError(t, err)

	assert.Equal(t, config.StrategyMerge, cfg.MergeStrategy)
	assert.Empty(t, cfg.ExcludePatterns)
	assert.Empty(t, cfg.RunnerOverrides)
	assert.Empty(t, cfg.Source)
}

func TestLoad_SearchPlaces(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		files  map[string]string
		source string
	}{
		{
			name: "json config",
			files: map[string]string{
				"/project/coverage.config.json": `{"mergeStrategy": "separate", "excludePatterns": ["**/*.spec.ts"],
					"runnerOverrides": {"jest": "./coverage/jest"}}`,
			},
			source: "/project/coverage.config.json",
		},
		{
			name: "yaml rc",
			files: map[string]string{
				"/project/.coveragerc.yaml": "mergeStrategy: separate\nexcludePatterns:\n  - \"**/*.spec.ts\"\n" +
					"runnerOverrides:\n  jest: ./coverage/jest\n",
			},
			source: "/project/.coveragerc.yaml",
		},
		{
			name: "package.json key",
			files: map[string]string{
				"/project/package.json": `{"name": "demo", "coverage": {"mergeStrategy": "separate",
					"excludePatterns": ["**/*.spec.ts"], "runnerOverrides": {"jest": "./coverage/jest"}}}`,
			},
			source: "/project/package.json",
		},
		{
			name: "earlier place wins",
			files: map[string]string{
				"/project/.coverage-config.json": `{"mergeStrategy": "separate", "excludePatterns": ["**/*.spec.ts"],
					"runnerOverrides": {"jest": "./coverage/jest"}}`,
				"/project/.coveragerc.json": `{"mergeStrategy": "merge"}`,
				"/project/package.json":     `{"coverage": {"mergeStrategy": "merge"}}`,
			},
			source: "/project/.coverage-config.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := config.Load(writeFiles(t, tt.files), projectDir, "")
			require.NoError(t, err)

			assert.Equal(t, tt.source, cfg.Source)
			assert.Equal(t, config.StrategySeparate, cfg.MergeStrategy)
			assert.Equal(t, []string{"**/*.spec.ts"}, cfg.ExcludePatterns)
			assert.Equal(t, map[string]string{"jest": "./coverage/jest"}, cfg.RunnerOverrides)
		})
	}
}

func TestLoad_PackageJSONWithoutKey(t *testing.T) {
	t.Parallel()

	fs := writeFiles(t, map[string]string{"/project/package.json": `{"name": "demo"}`})

	cfg, err := config.Load(fs, projectDir, "")
	require.NoError(t, err)
	assert.Empty(t, cfg.Source)
	assert.Equal(t, config.StrategyMerge, cfg.Strategy())
}

func TestLoad_ExplicitPath(t *testing.T) {
	t.Parallel()

	fs := writeFiles(t, map[string]string{
		"/etc/cov.yaml":                 "mergeStrategy: separate\n",
		"/project/coverage.config.json": `{"mergeStrategy": "merge"}`,
	})

	cfg, err := config.Load(fs, projectDir, "/etc/cov.yaml")
	require.NoError(t, err)
	assert.Equal(t, config.StrategySeparate, cfg.MergeStrategy)
	assert.Equal(t, "/etc/cov.yaml", cfg.Source)

	_, err = config.Load(fs, projectDir, "/etc/missing.json")
	require.ErrorIs(t, err, config.ErrReadConfig)
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown key", content: `{"mergeStrategy": "merge", "reporters": ["html"]}`},
		{name: "bad enum", content: `{"mergeStrategy": "union"}`},
		{name: "wrong type", content: `{"excludePatterns": "**/*.spec.ts"}`},
		{name: "non-string override", content: `{"runnerOverrides": {"jest": 3}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := writeFiles(t, map[string]string{"/project/coverage.config.json": tt.content})

			_, err := config.Load(fs, projectDir, "")
			require.ErrorIs(t, err, config.ErrSchema)
		})
	}

	fs := writeFiles(t, map[string]string{"/project/package.json": `{"coverage": "yes"}`})

	_, err := config.Load(fs, projectDir, "")
	require.ErrorIs(t, err, config.ErrSchema)
}

func TestLoad_UnknownRunnerOverride(t *testing.T) {
	t.Parallel()

	fs := writeFiles(t, map[string]string{
		"/project/coverage.config.json": `{"runnerOverrides": {"karma": "./coverage"}}`,
	})

	_, err := config.Load(fs, projectDir, "")
	require.ErrorIs(t, err, config.ErrUnknownRunnerOverride)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("COVERAGE_MERGESTRATEGY", "separate")

	fs := writeFiles(t, map[string]string{"/project/coverage.config.json": `{"mergeStrategy": "merge"}`})

	cfg, err := config.Load(fs, projectDir, "")
	require.NoError(t, err)
	assert.Equal(t, config.StrategySeparate, cfg.MergeStrategy)
}
