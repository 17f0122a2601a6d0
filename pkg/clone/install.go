package clone

import (
	"path/filepath"

	"github.com/spf13/afero"
)

// PackageManager names the tool that installs project dependencies.
type PackageManager string

// Supported package managers.
const (
	NPM  PackageManager = "npm"
	Yarn PackageManager = "yarn"
	PNPM PackageManager = "pnpm"
)

// lockFiles are checked in order; the first present decides the manager.
var lockFiles = []struct {
	name    string
	manager PackageManager
}{
	{name: "package-lock.json", manager: NPM},
	{name: "yarn.lock", manager: Yarn},
	{name: "pnpm-lock.yaml", manager: PNPM},
}

// DetectPackageManager picks the package manager from the lockfile in dir,
// defaulting to npm.
func DetectPackageManager(fs afero.Fs, dir string) PackageManager {
	for _, lf := range lockFiles {
		exists, _ := afero.Exists(fs, filepath.Join(dir, lf.name))
		if exists {
			return lf.manager
		}
	}

	return NPM
}

// InstallCommand returns the frozen-lockfile install command for pm.
func InstallCommand(pm PackageManager) (string, []string) {
	switch pm {
	case Yarn:
		return "yarn", []string{"install", "--frozen-lockfile"}
	case PNPM:
		return "pnpm", []string{"install", "--frozen-lockfile"}
	default:
		return "npm", []string{"ci"}
	}
}
