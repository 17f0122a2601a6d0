// Package version carries build metadata set through -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build metadata, overridden with
// -ldflags "-X github.com/Sumatoshi-tech/coverage-runner/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = "<unknown>"
	Date    = "<unknown>"
)

// String renders the metadata on one line.
func String() string {
	return fmt.Sprintf("coverage-runner %s (commit %s, built %s)", resolved(), Commit, Date)
}

// resolved falls back to the module version when built with go install.
func resolved() string {
	if Version != "dev" {
		return Version
	}

	info, ok := debug.ReadBuildInfo()
	if ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	return Version
}
