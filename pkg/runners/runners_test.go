package runners_test

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/runners"
)

type call struct {
	dir  string
	name string
	args []string
}

type fakeExecutor struct {
	result runners.ExecResult
	err    error
	calls  []call
}

func (f *fakeExecutor) Run(_ context.Context, dir, name string, args ...string) (runners.ExecResult, error) {
	f.calls = append(f.calls, call{dir: dir, name: name, args: args})

	return f.result, f.err
}

func noEnv(string) string { return "" }

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		manifest string
		want     []runners.Kind
	}{
		{
			name:     "dev dependency",
			manifest: `{"devDependencies": {"jest": "^29.0.0"}}`,
			want:     []runners.Kind{runners.KindJest},
		},
		{
			name:     "scoped dependency",
			manifest: `{"dependencies": {"@jest/core": "29"}}`,
			want:     []runners.Kind{runners.KindJest},
		},
		{
			name:     "script keyword is case insensitive",
			manifest: `{"scripts": {"test": "VITEST run", "lint": "eslint ."}}`,
			want:     []runners.Kind{runners.KindVitest},
		},
		{
			name:     "several runners in detection order",
			manifest: `{"devDependencies": {"vitest": "1", "mocha": "10"}, "scripts": {"test": "jest"}}`,
			want:     []runners.Kind{runners.KindJest, runners.KindVitest, runners.KindMocha},
		},
		{
			name:     "nothing referenced",
			manifest: `{"name": "plain", "scripts": {"build": "tsc"}}`,
			want:     nil,
		},
		{
			name:     "invalid json",
			manifest: `{"devDependencies": `,
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/app/package.json", []byte(tt.manifest), 0o644))

			assert.Equal(t, tt.want, runners.Detect(fs, "/app/package.json"))
			assert.Equal(t, tt.want, runners.DetectFromDir(fs, "/app"))
		})
	}
}

func TestDetect_MissingManifest(t *testing.T) {
	t.Parallel()

	assert.Empty(t, runners.DetectFromDir(afero.NewMemMapFs(), "/nowhere"))
}

func TestFactory_OutputDirPrecedence(t *testing.T) {
	t.Parallel()

	plain := runners.NewFactory(runners.WithGetenv(noEnv))
	assert.Equal(t, runners.DefaultOutputDir, plain.OutputDir(runners.KindJest))

	env := func(key string) string {
		if key == runners.EnvOutputDir {
			return "/tmp/cov"
		}

		return ""
	}

	fromEnv := runners.NewFactory(runners.WithGetenv(env))
	assert.Equal(t, "/tmp/cov", fromEnv.OutputDir(runners.KindVitest))

	overridden := runners.NewFactory(
		runners.WithGetenv(env),
		runners.WithOverrides(map[string]string{"vitest": "./coverage/vitest"}),
	)
	assert.Equal(t, "./coverage/vitest", overridden.OutputDir(runners.KindVitest))
	assert.Equal(t, "/tmp/cov", overridden.OutputDir(runners.KindJest))
}

func TestFactory_Create(t *testing.T) {
	t.Parallel()

	f := runners.NewFactory(runners.WithGetenv(noEnv))

	jest, err := f.Create(runners.KindJest)
	require.NoError(t, err)
	assert.Equal(t, runners.KindJest, jest.Kind())

	_, err = f.Create(runners.KindMocha)
	require.ErrorIs(t, err, runners.ErrRunnerNotImplemented)

	_, err = f.Create(runners.KindAva)
	require.ErrorIs(t, err, runners.ErrRunnerNotImplemented)

	_, err = f.Create("karma")
	require.ErrorIs(t, err, runners.ErrUnknownRunner)
}

func TestRunCoverage_CommandLines(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{}
	f := runners.NewFactory(
		runners.WithExecutor(exec),
		runners.WithWorkDir("/repo"),
		runners.WithGetenv(noEnv),
		runners.WithOverrides(map[string]string{"vitest": "out/v"}),
	)

	for _, kind := range []runners.Kind{runners.KindJest, runners.KindVitest} {
		r, err := f.Create(kind)
		require.NoError(t, err)

		res := r.RunCoverage(context.Background())
		assert.True(t, res.Success)
		assert.Zero(t, res.ExitCode)
	}

	require.Len(t, exec.calls, 2)

	assert.Equal(t, "/repo", exec.calls[0].dir)
	assert.Equal(t, "npx", exec.calls[0].name)
	assert.Equal(t, []string{"jest", "--coverage", "--coverageDirectory", "./coverage"}, exec.calls[0].args)
	assert.Equal(t,
		[]string{"vitest", "run", "--coverage", "--coverage.reportsDirectory", "out/v"},
		exec.calls[1].args)
}

func TestRunCoverage_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		exec       *fakeExecutor
		wantCode   int
		wantStderr string
	}{
		{
			name:       "non-zero exit",
			exec:       &fakeExecutor{result: runners.ExecResult{ExitCode: 2, Stdout: "1 failed", Stderr: "boom"}},
			wantCode:   2,
			wantStderr: "boom",
		},
		{
			name:       "could not start",
			exec:       &fakeExecutor{err: errors.New("npx not found")},
			wantCode:   1,
			wantStderr: "npx not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := runners.NewFactory(runners.WithExecutor(tt.exec), runners.WithGetenv(noEnv))

			r, err := f.Create(runners.KindJest)
			require.NoError(t, err)

			res := r.RunCoverage(context.Background())
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.ExitCode)
			assert.Equal(t, tt.wantStderr, res.Stderr)
			assert.Equal(t, runners.DefaultOutputDir, res.OutputPath)
		})
	}
}

func TestDummyRunner(t *testing.T) {
	t.Parallel()

	res := runners.DummyRunner{}.RunCoverage(context.Background())

	assert.True(t, res.Success)
	assert.Equal(t, runners.DefaultOutputDir, res.OutputPath)
	assert.Zero(t, res.ExitCode)
}

func TestOSExecutor_ReportsExitCode(t *testing.T) {
	t.Parallel()

	res, err := runners.OSExecutor{}.Run(context.Background(), t.TempDir(), "sh", "-c", "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Skipf("sh unavailable: %v", err)
	}

	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}
