package clone

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"syscall"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/gitlib"
)

// Workflow errors.
var (
	// ErrNoManifest indicates the project has no package.json.
	ErrNoManifest = errors.New("no package.json")
	// ErrInstall indicates dependency installation failed.
	ErrInstall = errors.New("install dependencies")
	// ErrNoRunners indicates no supported runner was detected.
	ErrNoRunners = errors.New("no test runners detected")
	// ErrNoCoverageGenerated indicates every runner failed to produce coverage.
	ErrNoCoverageGenerated = errors.New("no coverage generated")
	// ErrMerge indicates the collected coverage could not be merged.
	ErrMerge = errors.New("merge coverage files")
)

// User-facing messages reported in Result.Error.
const (
	MsgNoManifest          = "Repository does not contain a package.json file"
	MsgInstallPrefix       = "Failed to install dependencies: "
	MsgNoRunners           = "No test runners detected in the repository. Supported: Jest, Vitest"
	MsgNoCoverageGenerated = "No coverage files were generated successfully"
	MsgMergePrefix         = "Failed to merge coverage files: "

	MsgDiskSpace  = "Failed to clone repository: insufficient disk space"
	MsgPermission = "Failed to clone repository: permission denied"
	MsgTimeout    = "Operation timed out"
	MsgCloneError = "Failed to clone repository: invalid URL or network error"
)

// stageError carries the detail shown after a message prefix.
type stageError struct {
	kind   error
	detail string
}

func (e *stageError) Error() string { return e.kind.Error() + ": " + e.detail }

func (e *stageError) Unwrap() error { return e.kind }

// Message maps a workflow error to its user-facing message.
func Message(err error) string {
	var se *stageError

	switch {
	case errors.Is(err, ErrNoManifest):
		return MsgNoManifest
	case errors.Is(err, ErrNoRunners):
		return MsgNoRunners
	case errors.Is(err, ErrNoCoverageGenerated):
		return MsgNoCoverageGenerated
	case errors.As(err, &se) && errors.Is(se.kind, ErrInstall):
		return MsgInstallPrefix + se.detail
	case errors.As(err, &se) && errors.Is(se.kind, ErrMerge):
		return MsgMergePrefix + se.detail
	default:
		return Classify(err)
	}
}

// Classify maps a clone-stage error to a user-facing message.
func Classify(err error) string {
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case errors.Is(err, syscall.ENOSPC) || strings.Contains(msg, "ENOSPC") || strings.Contains(lower, "no space left"):
		return MsgDiskSpace
	case errors.Is(err, fs.ErrPermission) || strings.Contains(msg, "EACCES"):
		return MsgPermission
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout"):
		return MsgTimeout
	case errors.Is(err, gitlib.ErrClone):
		return MsgCloneError
	default:
		return msg
	}
}
