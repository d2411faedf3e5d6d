// Package reconcile collapses duplicate sibling cases that should be singular into
// one survivor and proposes close instructions for the rest.
package reconcile

import (
	cg "github.com/enikshay/casetools/internal/domain/casegraph"
)

// CloseReasonDuplicate is written to close_reason on every closed duplicate.
const CloseReasonDuplicate = "duplicate_reconciliation"

// ReasonEarliestOpened is the survivor reason when no predicate matched.
const ReasonEarliestOpened = "earliest_opened"

// Predicate is one priority tier. The first tier matching any candidate decides.
type Predicate struct {
	Name  string
	Match func(*cg.Case) bool
}

// SelectSurvivor returns the survivor and the name of the tier that chose it. Ties
// within a tier go to the earliest opened candidate; when no tier matches the
// earliest opened candidate of the whole group survives.
func SelectSurvivor(candidates []*cg.Case, predicates []Predicate) (*cg.Case, string) {
	for _, p := range predicates {
		if matched := cg.Filter(candidates, p.Match); len(matched) > 0 {
			return cg.EarliestOpened(matched), p.Name
		}
	}
	return cg.EarliestOpened(candidates), ReasonEarliestOpened
}

// Decision is the outcome of reconciling one group.
type Decision struct {
	Policy     string
	GroupKey   string
	Survivor   *cg.Case
	Reason     string
	Duplicates []*cg.Case

	closeProps map[string]string
}

func newDecision(policy, groupKey string, candidates []*cg.Case, survivor *cg.Case, reason string, closeProps map[string]string) Decision {
	d := Decision{
		Policy:     policy,
		GroupKey:   groupKey,
		Survivor:   survivor,
		Reason:     reason,
		closeProps: closeProps,
	}
	for _, c := range candidates {
		if c != survivor {
			d.Duplicates = append(d.Duplicates, c)
		}
	}
	return d
}

func closeDuplicate() map[string]string {
	return map[string]string{"close_reason": CloseReasonDuplicate}
}

// Instructions returns one close instruction per duplicate, in candidate order.
func (d Decision) Instructions() []cg.UpdateInstruction {
	out := make([]cg.UpdateInstruction, 0, len(d.Duplicates))
	for _, c := range d.Duplicates {
		props := make(map[string]string, len(d.closeProps))
		for k, v := range d.closeProps {
			props[k] = v
		}
		out = append(out, cg.UpdateInstruction{CaseID: c.CaseID, Properties: props, Close: true})
	}
	return out
}

// requireGroup enforces the shared precondition: at least two candidates, all with
// the same key.
func requireGroup(policy string, candidates []*cg.Case, key func(*cg.Case) string) (string, error) {
	if len(candidates) < 2 {
		var id string
		if len(candidates) == 1 {
			id = candidates[0].CaseID
		}
		return "", cg.Precondition(id, "asked to reconcile %s cases when not needed (%d candidates)", policy, len(candidates))
	}
	groupKey := key(candidates[0])
	for _, c := range candidates[1:] {
		if k := key(c); k != groupKey {
			return "", cg.Precondition(c.CaseID, "%s reconciliation across groups: %q and %q", policy, groupKey, k)
		}
	}
	return groupKey, nil
}

func indexes(c *cg.Case, parentID string) bool {
	for _, id := range c.ParentIDs() {
		if id == parentID {
			return true
		}
	}
	return false
}
