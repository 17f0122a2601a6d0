package coverage

import (
	"cmp"
	"maps"
	"slices"
	"strconv"
)

// CompareIDs orders record ids numerically when both parse as integers and
// lexically otherwise, numeric ids first.
func CompareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)

	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

// SortedIDs returns the keys of m in CompareIDs order.
func SortedIDs[V any](m map[string]V) []string {
	ids := slices.Collect(maps.Keys(m))
	slices.SortFunc(ids, CompareIDs)

	return ids
}
