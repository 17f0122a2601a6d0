// Package runners detects JavaScript test runners from a package manifest
// and runs them with coverage enabled.
package runners

import (
	"encoding/json"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

// ManifestName is the package manifest file name.
const ManifestName = "package.json"

// Kind names a test runner.
type Kind string

// Known runner kinds.
const (
	KindJest   Kind = "jest"
	KindVitest Kind = "vitest"
	KindMocha  Kind = "mocha"
	KindAva    Kind = "ava"
)

// Kinds lists the known runners in detection order.
var Kinds = []Kind{KindJest, KindVitest, KindMocha, KindAva}

type detectionRule struct {
	dependencies   []string
	scriptKeywords []string
}

var detectionRules = map[Kind]detectionRule{
	KindJest:   {dependencies: []string{"jest", "@jest/core"}, scriptKeywords: []string{"jest"}},
	KindVitest: {dependencies: []string{"vitest"}, scriptKeywords: []string{"vitest"}},
	KindMocha:  {dependencies: []string{"mocha"}, scriptKeywords: []string{"mocha"}},
	KindAva:    {dependencies: []string{"ava"}, scriptKeywords: []string{"ava"}},
}

type manifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

// IsKnown reports whether k is one of Kinds.
func IsKnown(k Kind) bool {
	return slices.Contains(Kinds, k)
}

// Detect reads the manifest at manifestPath and returns the runners it
// references through a dependency name or a script keyword. A missing or
// unreadable manifest yields no runners.
func Detect(fs afero.Fs, manifestPath string) []Kind {
	data, readErr := afero.ReadFile(fs, manifestPath)
	if readErr != nil {
		return nil
	}

	var pkg manifest

	decodeErr := json.Unmarshal(data, &pkg)
	if decodeErr != nil {
		return nil
	}

	deps := make(map[string]string, len(pkg.Dependencies)+len(pkg.DevDependencies))
	maps.Copy(deps, pkg.Dependencies)
	maps.Copy(deps, pkg.DevDependencies)

	scripts := make([]string, 0, len(pkg.Scripts))
	for _, name := range slices.Sorted(maps.Keys(pkg.Scripts)) {
		scripts = append(scripts, pkg.Scripts[name])
	}

	allScripts := strings.ToLower(strings.Join(scripts, " "))

	var found []Kind

	for _, kind := range Kinds {
		rule := detectionRules[kind]

		if hasDependency(deps, rule.dependencies) || hasKeyword(allScripts, rule.scriptKeywords) {
			found = append(found, kind)
		}
	}

	return found
}

// DetectFromDir runs Detect on dir/package.json.
func DetectFromDir(fs afero.Fs, dir string) []Kind {
	return Detect(fs, filepath.Join(dir, ManifestName))
}

func hasDependency(deps map[string]string, names []string) bool {
	for _, name := range names {
		if _, ok := deps[name]; ok {
			return true
		}
	}

	return false
}

func hasKeyword(scripts string, keywords []string) bool {
	return slices.ContainsFunc(keywords, func(kw string) bool {
		return strings.Contains(scripts, strings.ToLower(kw))
	})
}
