package runners

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ExecResult is the captured outcome of an external command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs an external command in a working directory.
// A non-zero exit is reported through ExecResult with a nil error; the error
// is reserved for commands that could not be started or were cancelled.
type Executor interface {
	Run(ctx context.Context, dir, name string, args ...string) (ExecResult, error)
}

// OSExecutor runs commands with os/exec.
type OSExecutor struct{}

// Run implements Executor.
func (OSExecutor) Run(ctx context.Context, dir, name string, args ...string) (ExecResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if runErr == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1

		return res, fmt.Errorf("run %s: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()

		return res, nil
	}

	return res, fmt.Errorf("run %s: %w", name, runErr)
}
