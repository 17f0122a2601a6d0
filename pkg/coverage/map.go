package coverage

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// CoverageMap maps a source path key to its coverage record.
// A CoverageMap is owned by one pipeline stage at a time and is not safe for
// concurrent mutation.
type CoverageMap struct {
	data map[string]*FileCoverage
}

// New returns an empty CoverageMap.
func New() *CoverageMap {
	return &CoverageMap{data: make(map[string]*FileCoverage)}
}

// FromData builds a CoverageMap from raw records keyed by path. Records are
// deep-copied and must each carry a path.
func FromData(data map[string]*FileCoverage) (*CoverageMap, error) {
	cm := New()

	for key, fc := range data {
		if fc == nil {
			continue
		}

		rec := fc.Clone()

		validateErr := rec.Validate()
		if validateErr != nil {
			return nil, fmt.Errorf("record %q: %w", key, validateErr)
		}

		cm.mergeRecord(key, rec)
	}

	return cm, nil
}

// AddFileCoverage merges fc into the map under fc.Path.
func (cm *CoverageMap) AddFileCoverage(fc *FileCoverage) error {
	validateErr := fc.Validate()
	if validateErr != nil {
		return validateErr
	}

	cm.mergeRecord(fc.Path, fc.Clone())

	return nil
}

// mergeRecord stores rec under key, taking ownership of rec.
func (cm *CoverageMap) mergeRecord(key string, rec *FileCoverage) {
	existing, ok := cm.data[key]
	if !ok {
		cm.data[key] = rec

		return
	}

	existing.Merge(rec)
}

// Merge folds other into cm. other is left untouched.
func (cm *CoverageMap) Merge(other *CoverageMap) {
	if other == nil {
		return
	}

	for _, key := range other.Files() {
		cm.mergeRecord(key, other.data[key].Clone())
	}
}

// MergeAll folds maps into a fresh CoverageMap. The resulting hit counts do
// not depend on argument order.
func MergeAll(sources ...*CoverageMap) *CoverageMap {
	out := New()

	for _, cm := range sources {
		out.Merge(cm)
	}

	return out
}

// Data exposes the raw record mapping for serialization and inspection.
func (cm *CoverageMap) Data() map[string]*FileCoverage {
	return cm.data
}

// Files returns the path keys in lexical order.
func (cm *CoverageMap) Files() []string {
	return slices.Sorted(maps.Keys(cm.data))
}

// Len returns the number of file records.
func (cm *CoverageMap) Len() int {
	return len(cm.data)
}

// FileCoverageFor returns the record stored under path.
func (cm *CoverageMap) FileCoverageFor(path string) (*FileCoverage, bool) {
	fc, ok := cm.data[path]

	return fc, ok
}

// Filter returns a new map holding the records whose key satisfies keep.
// Records are shared with cm, so cm must not be mutated afterwards.
func (cm *CoverageMap) Filter(keep func(path string) bool) *CoverageMap {
	out := New()

	for key, fc := range cm.data {
		if keep(key) {
			out.data[key] = fc
		}
	}

	return out
}

// Rekey returns a new map with every key passed through rename. Records whose
// new keys collide are merged; each record's Path is set to its new key.
func (cm *CoverageMap) Rekey(rename func(path string) string) *CoverageMap {
	out := New()

	for _, key := range cm.Files() {
		newKey := rename(key)
		if newKey == "" {
			newKey = key
		}

		rec := cm.data[key].Clone()
		rec.Path = newKey

		out.mergeRecord(newKey, rec)
	}

	return out
}

// Summary aggregates the per-file summaries of every record.
func (cm *CoverageMap) Summary() Summary {
	var total Summary

	for _, key := range cm.Files() {
		total.add(cm.data[key].Summary())
	}

	return total
}

// MarshalJSON encodes the raw record mapping.
func (cm *CoverageMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(cm.data)
}

// UnmarshalJSON decodes a raw record mapping, validating each record.
func (cm *CoverageMap) UnmarshalJSON(raw []byte) error {
	var data map[string]*FileCoverage

	decodeErr := json.Unmarshal(raw, &data)
	if decodeErr != nil {
		return fmt.Errorf("decode coverage map: %w", decodeErr)
	}

	built, buildErr := FromData(data)
	if buildErr != nil {
		return buildErr
	}

	cm.data = built.data

	return nil
}
