package merge

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

const nodeModules = "node_modules"

// discover expands patterns into absolute file paths, deduplicated in
// first-seen order. Relative patterns resolve against baseDir.
func discover(fs afero.Fs, baseDir string, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})

	var files []string

	for _, pattern := range patterns {
		matches, err := expand(fs, baseDir, pattern)
		if err != nil {
			return nil, err
		}

		for _, match := range matches {
			if inNodeModules(match) {
				continue
			}

			if _, dup := seen[match]; dup {
				continue
			}

			seen[match] = struct{}{}
			files = append(files, match)
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoInputFiles, strings.Join(patterns, ", "))
	}

	return files, nil
}

func expand(fs afero.Fs, baseDir, pattern string) ([]string, error) {
	abs := pattern
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(baseDir, abs)
	}

	abs = filepath.Clean(abs)

	info, statErr := fs.Stat(abs)
	if statErr == nil && !info.IsDir() {
		return []string{abs}, nil
	}

	base, rel := doublestar.SplitPattern(filepath.ToSlash(abs))
	if rel == "" || rel == "." {
		return nil, nil
	}

	iofs := afero.NewIOFS(afero.NewBasePathFs(fs, filepath.FromSlash(base)))

	matches, err := doublestar.Glob(iofs, rel, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.FromSlash(path.Join(base, m)))
	}

	return out, nil
}

func inNodeModules(p string) bool {
	return slices.Contains(strings.Split(filepath.ToSlash(p), "/"), nodeModules)
}
