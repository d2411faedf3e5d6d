// Package casegraphtest builds in-memory case graphs for tests.
package casegraphtest

import (
	"context"
	"testing"
	"time"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
)

// Domain is the domain every Graph case is created in.
const Domain = "enikshay"

// Graph wraps a MemoryStore with helpers for declaring cases. Cases without an
// explicit Opened time are opened one hour after the previous one, starting at
// 2017-01-01T00:00Z, so declaration order is open order.
type Graph struct {
	t     testing.TB
	Store *cg.MemoryStore
	types map[string]string
	clock time.Time
}

func New(t testing.TB) *Graph {
	return &Graph{
		t:     t,
		Store: cg.NewMemoryStore(),
		types: make(map[string]string),
		clock: time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Option customises a declared case.
type Option func(g *Graph, c *cg.Case)

// Parent adds a host index to parentID, which must already be declared.
func Parent(parentID string) Option {
	return func(g *Graph, c *cg.Case) {
		parentType, ok := g.types[parentID]
		if !ok {
			g.t.Fatalf("parent %s of %s is not declared", parentID, c.CaseID)
		}
		c.Indices = append(c.Indices, cg.Index{
			Identifier:     "host",
			ReferencedID:   parentID,
			ReferencedType: parentType,
			Relationship:   cg.RelationshipExtension,
		})
	}
}

func Opened(t time.Time) Option {
	return func(_ *Graph, c *cg.Case) { c.OpenedOn = t }
}

func Closed() Option {
	return func(_ *Graph, c *cg.Case) { c.Closed = true }
}

func Deleted() Option {
	return func(_ *Graph, c *cg.Case) { c.Deleted = true }
}

func Owner(ownerID string) Option {
	return func(_ *Graph, c *cg.Case) { c.OwnerID = ownerID }
}

// Props sets properties from alternating key, value pairs.
func Props(kv ...string) Option {
	return func(_ *Graph, c *cg.Case) {
		for i := 0; i+1 < len(kv); i += 2 {
			c.Properties.Set(kv[i], kv[i+1])
		}
	}
}

// Case declares and stores a case.
func (g *Graph) Case(id, caseType string, opts ...Option) *cg.Case {
	g.t.Helper()
	g.clock = g.clock.Add(time.Hour)
	c := &cg.Case{
		CaseID:     id,
		Domain:     Domain,
		Type:       caseType,
		OwnerID:    "owner",
		OpenedOn:   g.clock,
		ModifiedOn: g.clock,
	}
	for _, opt := range opts {
		opt(g, c)
	}
	g.types[id] = caseType
	if err := g.Store.Put(c); err != nil {
		g.t.Fatalf("put case %s: %v", id, err)
	}
	return c
}

func (g *Graph) Person(id string, opts ...Option) *cg.Case {
	g.t.Helper()
	return g.Case(id, cg.TypePerson, opts...)
}

func (g *Graph) Occurrence(id, personID string, opts ...Option) *cg.Case {
	g.t.Helper()
	return g.Case(id, cg.TypeOccurrence, append([]Option{Parent(personID)}, opts...)...)
}

// Episode declares an active episode of episodeType under occurrenceID.
func (g *Graph) Episode(id, occurrenceID, episodeType string, opts ...Option) *cg.Case {
	g.t.Helper()
	base := []Option{Parent(occurrenceID), Props("episode_type", episodeType, "is_active", "yes")}
	return g.Case(id, cg.TypeEpisode, append(base, opts...)...)
}

func (g *Graph) Adherence(id, episodeID, adherenceDate string, opts ...Option) *cg.Case {
	g.t.Helper()
	base := []Option{Parent(episodeID), Props("adherence_date", adherenceDate)}
	return g.Case(id, cg.TypeAdherence, append(base, opts...)...)
}

// Get returns the current stored version of a case.
func (g *Graph) Get(id string) *cg.Case {
	g.t.Helper()
	c, err := g.Store.GetCase(context.Background(), Domain, id)
	if err != nil {
		g.t.Fatalf("get case %s: %v", id, err)
	}
	return c
}
