package hierarchy

import (
	"context"
	"errors"
	"testing"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/casegraph/casegraphtest"
)

func TestSector(t *testing.T) {
	tests := []struct {
		name string
		c    *cg.Case
		want string
	}{
		{"private person", &cg.Case{Type: cg.TypePerson, Properties: cg.NewProperties("enrolled_in_private", "true")}, SectorPrivate},
		{"public person", &cg.Case{Type: cg.TypePerson}, SectorPublic},
		{"private episode", &cg.Case{Type: cg.TypeEpisode, Properties: cg.NewProperties("enrolled_in_private", "true")}, SectorPrivate},
		{"false flag", &cg.Case{Type: cg.TypeEpisode, Properties: cg.NewProperties("enrolled_in_private", "false")}, SectorPublic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Sector(tt.c)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Sector() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := Sector(&cg.Case{CaseID: "t", Type: cg.TypeTest}); !errors.Is(err, cg.ErrUnknownCaseType) {
		t.Errorf("expected ErrUnknownCaseType, got %v", err)
	}
}

func TestActivePersonEpisodes(t *testing.T) {
	g := casegraphtest.New(t)
	g.Person("public-person")
	g.Occurrence("o1", "public-person")
	g.Episode("public-episode", "o1", cg.EpisodeConfirmedTB)

	g.Person("private-person", casegraphtest.Props("enrolled_in_private", "true"))
	g.Occurrence("o2", "private-person")
	g.Episode("private-episode", "o2", cg.EpisodeConfirmedTB, casegraphtest.Props("enrolled_in_private", "true"))

	g.Person("archived", casegraphtest.Owner(cg.ArchivedOwnerID))
	g.Occurrence("o3", "archived")
	g.Episode("archived-episode", "o3", cg.EpisodeConfirmedTB)

	g.Person("closed-person", casegraphtest.Closed())
	g.Occurrence("o4", "closed-person")
	g.Episode("closed-person-episode", "o4", cg.EpisodeConfirmedTB)

	g.Case("orphan-episode", cg.TypeEpisode)
	g.Episode("closed-episode", "o1", cg.EpisodeConfirmedTB, casegraphtest.Closed())

	ids := []string{"public-episode", "private-episode", "archived-episode", "closed-person-episode",
		"orphan-episode", "closed-episode", "o1", "missing"}
	r := newResolver(g)
	ctx := context.Background()

	all, err := r.ActivePersonEpisodes(ctx, ids, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || all[0].Episode.CaseID != "public-episode" || all[1].Person.CaseID != "private-person" {
		t.Errorf("unexpected pairs: %+v", all)
	}

	private, err := r.ActivePersonEpisodes(ctx, ids, SectorPrivate)
	if err != nil || len(private) != 1 || private[0].Episode.CaseID != "private-episode" {
		t.Errorf("unexpected private pairs: %+v, %v", private, err)
	}
	public, err := r.ActivePersonEpisodes(ctx, ids, SectorPublic)
	if err != nil || len(public) != 1 || public[0].Episode.CaseID != "public-episode" {
		t.Errorf("unexpected public pairs: %+v, %v", public, err)
	}

	if _, err := r.ActivePersonEpisodes(ctx, ids, "hybrid"); err == nil {
		t.Error("expected error for unknown sector")
	}
}
