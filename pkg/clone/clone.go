package clone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/gitlib"
	"github.com/Sumatoshi-tech/coverage-runner/pkg/runners"
)

const (
	cloneDirPrefix = "coverage-runner-clone-"
	dirPerm        = 0o755
)

// Cloner fetches repositories and reads the commit a working tree is on.
type Cloner interface {
	Clone(ctx context.Context, url, dest, branch string) (string, error)
	Head(dir string) (string, error)
}

// GitCloner clones with libgit2.
type GitCloner struct{}

// Clone implements Cloner. It returns the abbreviated HEAD commit.
func (GitCloner) Clone(ctx context.Context, url, dest, branch string) (string, error) {
	co, err := gitlib.Clone(ctx, url, dest, gitlib.CloneOptions{Branch: branch})
	if err != nil {
		return "", err
	}

	return co.ShortCommit(), nil
}

// Head implements Cloner.
func (GitCloner) Head(dir string) (string, error) {
	co, err := gitlib.Inspect(dir)
	if err != nil {
		return "", err
	}

	return co.ShortCommit(), nil
}

// Execute clones repoURL into a fresh temporary directory, installs its
// dependencies, runs its coverage and writes the result to opts.OutputDir.
// The clone is removed afterwards unless opts.KeepClone is set.
func (s *Service) Execute(ctx context.Context, repoURL string, opts Options) Result {
	ctx, span := s.tracer.Start(ctx, spanPrefix+"execute",
		trace.WithAttributes(attribute.String("clone.url", repoURL), attribute.String("clone.branch", opts.Branch)))
	defer span.End()

	res := s.execute(ctx, repoURL, opts)
	if !res.Success {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Error)
	}

	return res
}

func (s *Service) execute(ctx context.Context, repoURL string, opts Options) Result {
	res := Result{OutputDir: opts.OutputDir, Branch: opts.Branch}

	mkdirErr := s.fs.MkdirAll(opts.OutputDir, dirPerm)
	if mkdirErr != nil {
		return res.fail(fmt.Errorf("create output dir: %w", mkdirErr))
	}

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	clonedPath := filepath.Join(tempDir, cloneDirPrefix+uuid.NewString())
	res.ClonedPath = clonedPath

	if !opts.KeepClone {
		defer s.cleanup(ctx, clonedPath)
	}

	s.logger.InfoContext(ctx, "cloning repository", "url", repoURL, "branch", opts.Branch, "path", clonedPath)

	cloneCtx, cancelClone := context.WithTimeout(ctx, opts.timeout())
	commit, cloneErr := s.cloner.Clone(cloneCtx, repoURL, clonedPath, opts.Branch)

	cancelClone()

	if cloneErr != nil {
		return res.fail(cloneErr)
	}

	res.Commit = commit

	manifest, _ := afero.Exists(s.fs, filepath.Join(clonedPath, runners.ManifestName))
	if !manifest {
		return res.fail(ErrNoManifest)
	}

	if !opts.SkipInstall {
		installErr := s.install(ctx, clonedPath, opts.timeout())
		if installErr != nil {
			return res.fail(installErr)
		}
	}

	project := s.RunProject(ctx, clonedPath, opts)
	project.ClonedPath = clonedPath
	project.Branch = opts.Branch
	project.Commit = commit

	if project.Success {
		s.logger.InfoContext(ctx, "coverage analysis completed", "output_dir", opts.OutputDir)
	}

	return project
}

func (s *Service) install(ctx context.Context, dir string, timeout time.Duration) error {
	pm := DetectPackageManager(s.fs, dir)
	name, args := InstallCommand(pm)

	s.logger.InfoContext(ctx, "installing dependencies", "command", name+" "+strings.Join(args, " "))

	installCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := s.exec.Run(installCtx, dir, name, args...)
	if err != nil {
		if installCtx.Err() != nil {
			return &stageError{kind: ErrInstall, detail: fmt.Sprintf("package installation timed out after %s", timeout)}
		}

		return &stageError{kind: ErrInstall, detail: err.Error()}
	}

	if out.ExitCode != 0 {
		detail := strings.TrimSpace(out.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("%s exited with code %d", name, out.ExitCode)
		}

		return &stageError{kind: ErrInstall, detail: detail}
	}

	return nil
}

func (s *Service) cleanup(ctx context.Context, path string) {
	s.logger.DebugContext(ctx, "cleaning up cloned repository", "path", path)

	err := s.fs.RemoveAll(path)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to clean up cloned directory", "path", path, "error", err)
	}
}
