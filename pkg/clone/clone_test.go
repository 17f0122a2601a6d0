package clone_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/clone"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/coverage"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/gitlib"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/report"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/runners"
)

const (
	tempDir = "/tmp"
	outDir  = "/out"
)

// istanbulFor returns a coverage-final.json body with absolute keys under dir.
func istanbulFor(dir string, files map[string]int) string {
	doc := map[string]any{}

	for rel, hits := range files {
		key := filepath.Join(dir, rel)
		doc[key] = map[string]any{
			"path": key,
			"statementMap": map[string]any{
				"0": map[string]any{
					"start": map[string]int{"line": 1, "column": 0},
					"end":   map[string]int{"line": 1, "column": 5},
				},
			},
			"s":     map[string]int{"0": hits},
			"fnMap": map[string]any{}, "f": map[string]int{},
			"branchMap": map[string]any{}, "b": map[string][]int{},
		}
	}

	data, _ := json.Marshal(doc)

	return string(data)
}

// fakeCloner materializes files under dest.
type fakeCloner struct {
	fs    afero.Fs
	files map[string]string
	err   error
	dest  string
	head  string
}

func (c *fakeCloner) Head(string) (string, error) {
	if c.head == "" {
		return "", errors.New("no repository")
	}

	return c.head, nil
}

func (c *fakeCloner) Clone(_ context.Context, _, dest, _ string) (string, error) {
	c.dest = dest

	if c.err != nil {
		return "", c.err
	}

	for name, content := range c.files {
		if err := afero.WriteFile(c.fs, filepath.Join(dest, name), []byte(content), 0o644); err != nil {
			return "", err
		}
	}

	return "abc1234", nil
}

// fakeExecutor records commands and lets a runner write its coverage.
type fakeExecutor struct {
	mu       sync.Mutex
	fs       afero.Fs
	commands []string
	coverage map[string]map[string]int
	failOn   string
	code     int
}

func (e *fakeExecutor) Run(_ context.Context, dir, name string, args ...string) (runners.ExecResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
	e.commands = append(e.commands, cmd)

	if e.failOn != "" && strings.HasPrefix(cmd, e.failOn) {
		return runners.ExecResult{ExitCode: e.code, Stderr: "failed: " + cmd}, nil
	}

	if name != "npx" || len(args) == 0 {
		return runners.ExecResult{}, nil
	}

	files, ok := e.coverage[args[0]]
	if !ok {
		return runners.ExecResult{}, nil
	}

	outputDir := args[len(args)-1]
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(dir, outputDir)
	}

	target := filepath.Join(outputDir, clone.CoverageFileName)
	if err := afero.WriteFile(e.fs, target, []byte(istanbulFor(dir, files)), 0o644); err != nil {
		return runners.ExecResult{}, err
	}

	return runners.ExecResult{}, nil
}

func noEnv(string) string { return "" }

func newService(fs afero.Fs, cl clone.Cloner, exec runners.Executor) *clone.Service {
	return clone.New(nil,
		clone.WithFs(fs),
		clone.WithCloner(cl),
		clone.WithExecutor(exec),
		clone.WithGetenv(noEnv),
	)
}

const dualManifest = `{"devDependencies": {"jest": "29", "vitest": "1"}}`

func TestExecute_MergeStrategy(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cl := &fakeCloner{fs: fs, files: map[string]string{
		"package.json": dualManifest,
		"yarn.lock":    "",
		"coverage.config.json": `{"runnerOverrides": {"vitest": "coverage/vitest"},
			"excludePatterns": ["**/*.spec.ts"]}`,
	}}
	exec := &fakeExecutor{fs: fs, coverage: map[string]map[string]int{
		"jest":   {"src/calc.ts": 2, "src/calc.spec.ts": 1},
		"vitest": {"src/calc.ts": 3, "src/util.ts": 0},
	}}

	res := newService(fs, cl, exec).Execute(context.Background(), "https://example.com/repo.git", clone.Options{
		OutputDir: outDir,
		TempDir:   tempDir,
		Branch:    "main",
	})
	require.True(t, res.Success, res.Error)

	assert.Equal(t, "abc1234", res.Commit)
	assert.Equal(t, "main", res.Branch)
	assert.True(t, strings.HasPrefix(res.ClonedPath, filepath.Join(tempDir, "coverage-runner-clone-")))
	assert.Equal(t, []string{"jest", "vitest"}, res.Runners)
	assert.Len(t, res.CoverageFiles, 2)

	assert.Equal(t, []string{
		"yarn install --frozen-lockfile",
		"npx jest --coverage --coverageDirectory ./coverage",
		"npx vitest run --coverage --coverage.reportsDirectory coverage/vitest",
	}, exec.commands)

	require.NotNil(t, res.Merge)
	assert.Equal(t, []string{"src/calc.ts", "src/util.ts"}, res.Merge.Coverage.Files())

	fc, _ := res.Merge.Coverage.FileCoverageFor("src/calc.ts")
	assert.Equal(t, map[string]int{"0": 5}, fc.S)

	exists, err := afero.Exists(fs, filepath.Join(outDir, report.JSONFileName))
	require.NoError(t, err)
	assert.True(t, exists)

	cloned, err := afero.DirExists(fs, res.ClonedPath)
	require.NoError(t, err)
	assert.False(t, cloned, "clone should be removed")
}

func TestExecute_SeparateStrategy(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cl := &fakeCloner{fs: fs, files: map[string]string{
		"package.json":     `{"devDependencies": {"jest": "29", "vitest": "1"}, "coverage": {"mergeStrategy": "separate"}}`,
		"package-lock.json": "{}",
	}}
	exec := &fakeExecutor{fs: fs, coverage: map[string]map[string]int{
		"jest":   {"src/a.ts": 1},
		"vitest": {"src/b.ts": 1},
	}}

	res := newService(fs, cl, exec).Execute(context.Background(), "repo", clone.Options{
		OutputDir: outDir,
		TempDir:   tempDir,
		KeepClone: true,
	})
	require.True(t, res.Success, res.Error)

	assert.Equal(t, "separate", res.Strategy)
	assert.Nil(t, res.Merge)
	assert.Equal(t, "npm ci", exec.commands[0])
	assert.Equal(t, []string{
		filepath.Join(outDir, "coverage-jest.json"),
		filepath.Join(outDir, "coverage-vitest.json"),
	}, res.Outputs)

	data, err := afero.ReadFile(fs, filepath.Join(outDir, "coverage-vitest.json"))
	require.NoError(t, err)

	var cm coverage.CoverageMap
	require.NoError(t, json.Unmarshal(data, &cm))
	assert.Equal(t, []string{"src/b.ts"}, cm.Files())

	kept, err := afero.DirExists(fs, res.ClonedPath)
	require.NoError(t, err)
	assert.True(t, kept)
}

func TestExecute_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   map[string]string
		cloneFn error
		exec    func(fs afero.Fs) *fakeExecutor
		opts    clone.Options
		want    string
		wantErr error
	}{
		{
			name:    "no manifest",
			files:   map[string]string{"README.md": "hi"},
			want:    clone.MsgNoManifest,
			wantErr: clone.ErrNoManifest,
		},
		{
			name:  "install fails",
			files: map[string]string{"package.json": dualManifest},
			exec: func(fs afero.Fs) *fakeExecutor {
				return &fakeExecutor{fs: fs, failOn: "npm ci", code: 1}
			},
			want:    clone.MsgInstallPrefix + "failed: npm ci",
			wantErr: clone.ErrInstall,
		},
		{
			name:    "no runners",
			files:   map[string]string{"package.json": `{"name": "x"}`},
			opts:    clone.Options{SkipInstall: true},
			want:    clone.MsgNoRunners,
			wantErr: clone.ErrNoRunners,
		},
		{
			name:  "runners produce nothing",
			files: map[string]string{"package.json": `{"devDependencies": {"jest": "29", "mocha": "10"}}`},
			exec: func(fs afero.Fs) *fakeExecutor {
				return &fakeExecutor{fs: fs, failOn: "npx jest", code: 1}
			},
			opts:    clone.Options{SkipInstall: true},
			want:    clone.MsgNoCoverageGenerated,
			wantErr: clone.ErrNoCoverageGenerated,
		},
		{
			name:    "clone fails",
			cloneFn: fmt.Errorf("%w bad: %w", gitlib.ErrClone, errors.New("unsupported URL protocol")),
			want:    clone.MsgCloneError,
			wantErr: gitlib.ErrClone,
		},
		{
			name:    "disk full",
			cloneFn: fmt.Errorf("write pack: %w", syscall.ENOSPC),
			want:    clone.MsgDiskSpace,
			wantErr: syscall.ENOSPC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			cl := &fakeCloner{fs: fs, files: tt.files, err: tt.cloneFn}

			exec := &fakeExecutor{fs: fs}
			if tt.exec != nil {
				exec = tt.exec(fs)
			}

			opts := tt.opts
			opts.OutputDir = outDir
			opts.TempDir = tempDir

			res := newService(fs, cl, exec).Execute(context.Background(), "repo", opts)

			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Error)
			require.ErrorIs(t, res.Err, tt.wantErr)

			cloned, err := afero.DirExists(fs, cl.dest)
			require.NoError(t, err)
			assert.False(t, cloned)
		})
	}
}

func TestRunProject_LocalDirectory(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/app/package.json", []byte(`{"scripts": {"test": "jest"}}`), 0o644))

	exec := &fakeExecutor{fs: fs, coverage: map[string]map[string]int{"jest": {"src/index.ts": 4}}}

	svc := newService(fs, &fakeCloner{head: "def5678"}, exec)

	res := svc.RunProject(context.Background(), "/work/app", clone.Options{OutputDir: outDir})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "def5678", res.Commit)

	assert.Equal(t, []string{"npx jest --coverage --coverageDirectory ./coverage"}, exec.commands)
	assert.Equal(t, []string{"/work/app/coverage/coverage-final.json"}, res.CoverageFiles)
	assert.Equal(t, []string{"src/index.ts"}, res.Merge.Coverage.Files())
}

func TestDetectPackageManager(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lockfiles []string
		want      clone.PackageManager
		command   string
	}{
		{lockfiles: nil, want: clone.NPM, command: "npm ci"},
		{lockfiles: []string{"package-lock.json"}, want: clone.NPM, command: "npm ci"},
		{lockfiles: []string{"yarn.lock"}, want: clone.Yarn, command: "yarn install --frozen-lockfile"},
		{lockfiles: []string{"pnpm-lock.yaml"}, want: clone.PNPM, command: "pnpm install --frozen-lockfile"},
		{lockfiles: []string{"pnpm-lock.yaml", "package-lock.json"}, want: clone.NPM, command: "npm ci"},
	}

	for _, tt := range tests {
		t.Run(string(tt.want)+strings.Join(tt.lockfiles, ","), func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			for _, lf := range tt.lockfiles {
				require.NoError(t, afero.WriteFile(fs, filepath.Join("/p", lf), nil, 0o644))
			}

			pm := clone.DetectPackageManager(fs, "/p")
			assert.Equal(t, tt.want, pm)

			name, args := clone.InstallCommand(pm)
			assert.Equal(t, tt.command, strings.Join(append([]string{name}, args...), " "))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, clone.MsgPermission, clone.Classify(errors.New("open /x: EACCES")))
	assert.Equal(t, clone.MsgTimeout, clone.Classify(context.DeadlineExceeded))
	assert.Equal(t, clone.MsgTimeout, clone.Classify(errors.New("Git clone operation timeout")))
	assert.Equal(t, "something else", clone.Classify(errors.New("something else")))
}
