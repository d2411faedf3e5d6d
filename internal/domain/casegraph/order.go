package casegraph

import (
	"sort"
)

// TieBreak picks one case out of several equally eligible candidates.
type TieBreak func(cases []*Case) *Case

// openedBefore orders by OpenedOn, then CaseID, matching the ORDER BY of PGStore.
func openedBefore(a, b *Case) bool {
	if !a.OpenedOn.Equal(b.OpenedOn) {
		return a.OpenedOn.Before(b.OpenedOn)
	}
	return a.CaseID < b.CaseID
}

// EarliestOpened returns the case with the smallest OpenedOn. Equal timestamps
// pick the smallest CaseID.
func EarliestOpened(cases []*Case) *Case {
	var best *Case
	for _, c := range cases {
		if best == nil || openedBefore(c, best) {
			best = c
		}
	}
	return best
}

// LatestOpened returns the case with the largest OpenedOn. Equal timestamps pick
// the smallest CaseID.
func LatestOpened(cases []*Case) *Case {
	var best *Case
	for _, c := range cases {
		if best == nil || c.OpenedOn.After(best.OpenedOn) ||
			(c.OpenedOn.Equal(best.OpenedOn) && c.CaseID < best.CaseID) {
			best = c
		}
	}
	return best
}

// Filter returns the cases for which keep returns true.
func Filter(cases []*Case, keep func(*Case) bool) []*Case {
	var out []*Case
	for _, c := range cases {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// OfType keeps cases of the given type.
func OfType(cases []*Case, caseType string) []*Case {
	return Filter(cases, func(c *Case) bool { return c.Type == caseType })
}

// IDs returns the case ids in order.
func IDs(cases []*Case) []string {
	ids := make([]string, 0, len(cases))
	for _, c := range cases {
		ids = append(ids, c.CaseID)
	}
	return ids
}

// SortByOpened sorts cases by OpenedOn ascending, then by CaseID.
func SortByOpened(cases []*Case) {
	sort.SliceStable(cases, func(i, j int) bool {
		return openedBefore(cases[i], cases[j])
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
