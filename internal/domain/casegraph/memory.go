package casegraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// AppliedUpdate records one BulkUpdateCases call against a MemoryStore.
type AppliedUpdate struct {
	Domain    string
	SourceTag string
	Updates   []UpdateInstruction
}

// MemoryStore is an in-process Store used by tests and fixture-driven dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	cases   map[string]map[string]*Case
	order   map[string][]string
	applied []AppliedUpdate
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases: make(map[string]map[string]*Case),
		order: make(map[string][]string),
		now:   time.Now,
	}
}

// Put inserts or replaces cases. Cases with an empty Domain are rejected.
func (m *MemoryStore) Put(cases ...*Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cases {
		if c.Domain == "" {
			return fmt.Errorf("case %s has no domain", c.CaseID)
		}
		if c.CaseID == "" {
			return fmt.Errorf("case without case_id in domain %s", c.Domain)
		}
		byID, ok := m.cases[c.Domain]
		if !ok {
			byID = make(map[string]*Case)
			m.cases[c.Domain] = byID
		}
		if _, exists := byID[c.CaseID]; !exists {
			m.order[c.Domain] = append(m.order[c.Domain], c.CaseID)
		}
		cp := *c
		byID[c.CaseID] = &cp
	}
	return nil
}

type fixture struct {
	Cases []*Case `json:"cases"`
}

// DecodeFixture reads a JSON document of the form {"cases": [...]}.
func DecodeFixture(r io.Reader) ([]*Case, error) {
	var f fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return f.Cases, nil
}

// LoadFixture puts every case of a DecodeFixture document.
func (m *MemoryStore) LoadFixture(r io.Reader) error {
	cases, err := DecodeFixture(r)
	if err != nil {
		return err
	}
	return m.Put(cases...)
}

func (m *MemoryStore) GetCase(_ context.Context, domain, caseID string) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[domain][caseID]
	if !ok || c.Deleted {
		return nil, NotFound(caseID, "couldn't find case: %s", caseID)
	}
	return c, nil
}

func (m *MemoryStore) GetCases(_ context.Context, domain string, caseIDs []string) ([]*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Case
	for _, id := range caseIDs {
		if c, ok := m.cases[domain][id]; ok && !c.Deleted {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetReverseIndexedCases(_ context.Context, domain string, caseIDs []string, q ReverseQuery) ([]*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parents := make(map[string]bool, len(caseIDs))
	for _, id := range caseIDs {
		parents[id] = true
	}
	var out []*Case
	for _, id := range m.order[domain] {
		c := m.cases[domain][id]
		if c.Deleted || !q.matches(c) {
			continue
		}
		for _, idx := range c.Indices {
			if parents[idx.ReferencedID] {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) CaseIDsByType(_ context.Context, domain, caseType string, openOnly bool) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, id := range m.order[domain] {
		c := m.cases[domain][id]
		if c.Deleted || c.Type != caseType || (openOnly && c.Closed) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// BulkUpdateCases applies the updates copy-on-write so previously returned cases are
// never mutated.
func (m *MemoryStore) BulkUpdateCases(_ context.Context, domain string, updates []UpdateInstruction, sourceTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for _, u := range updates {
		c, ok := m.cases[domain][u.CaseID]
		if !ok {
			return NotFound(u.CaseID, "couldn't find case: %s", u.CaseID)
		}
		next := *c
		next.Properties = c.Properties.Merge(u.Properties)
		next.ModifiedOn = now
		if u.Close && !c.Closed {
			next.Closed = true
			closedOn := now
			next.ClosedOn = &closedOn
		}
		m.cases[domain][u.CaseID] = &next
	}
	batch := make([]UpdateInstruction, len(updates))
	copy(batch, updates)
	m.applied = append(m.applied, AppliedUpdate{Domain: domain, SourceTag: sourceTag, Updates: batch})
	return nil
}

// Applied returns every BulkUpdateCases call in order.
func (m *MemoryStore) Applied() []AppliedUpdate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AppliedUpdate, len(m.applied))
	copy(out, m.applied)
	return out
}
