package casegraph

import (
	"context"
)

// ReverseQuery filters the children returned by GetReverseIndexedCases. An empty
// CaseTypes matches every type; a nil Closed matches open and closed cases.
type ReverseQuery struct {
	CaseTypes []string
	Closed    *bool
}

// Open restricts the query to open cases.
func (q ReverseQuery) Open() ReverseQuery {
	f := false
	q.Closed = &f
	return q
}

// Types is shorthand for a ReverseQuery over the given case types.
func Types(caseTypes ...string) ReverseQuery {
	return ReverseQuery{CaseTypes: caseTypes}
}

func (q ReverseQuery) matches(c *Case) bool {
	if q.Closed != nil && c.Closed != *q.Closed {
		return false
	}
	if len(q.CaseTypes) == 0 {
		return true
	}
	for _, t := range q.CaseTypes {
		if c.Type == t {
			return true
		}
	}
	return false
}

// Accessor reads the case graph of one platform.
type Accessor interface {
	// GetCase returns a NotFound *LookupError when the case does not exist.
	GetCase(ctx context.Context, domain, caseID string) (*Case, error)
	// GetCases returns the cases that exist, in the order of ids; missing ids are skipped.
	GetCases(ctx context.Context, domain string, caseIDs []string) ([]*Case, error)
	// GetReverseIndexedCases returns non-deleted cases indexing any of caseIDs.
	GetReverseIndexedCases(ctx context.Context, domain string, caseIDs []string, q ReverseQuery) ([]*Case, error)
	// CaseIDsByType lists non-deleted case ids of caseType.
	CaseIDsByType(ctx context.Context, domain, caseType string, openOnly bool) ([]string, error)
}

// BulkUpdater applies update instructions. The result is not inspected.
type BulkUpdater interface {
	BulkUpdateCases(ctx context.Context, domain string, updates []UpdateInstruction, sourceTag string) error
}

// Store is an Accessor that can also apply updates.
type Store interface {
	Accessor
	BulkUpdater
}
