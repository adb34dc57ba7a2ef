package utils

import "sort"

// StringArrayEquivalent compares two string slices as sets.
// It returns whether they are equivalent, plus the elements only in a
// (added) and only in b (removed), both sorted.
func StringArrayEquivalent(a, b []string) (bool, []string, []string) {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
	}

	added := []string{}
	for s := range inA {
		if !inB[s] {
			added = append(added, s)
		}
	}
	removed := []string{}
	for s := range inB {
		if !inA[s] {
			removed = append(removed, s)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	return len(added) == 0 && len(removed) == 0, added, removed
}

// SortedKeys returns the keys of a string-keyed map in lexicographic order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
