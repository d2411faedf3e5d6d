package hierarchy

import (
	"context"
	"errors"
	"fmt"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
)

// Sector reports whether a person or episode is enrolled in the private sector.
func Sector(c *cg.Case) (string, error) {
	if c.Type != cg.TypeEpisode && c.Type != cg.TypePerson {
		return "", cg.UnknownCaseType(c.CaseID, c.Type)
	}
	if c.Property("enrolled_in_private") == "true" {
		return SectorPrivate, nil
	}
	return SectorPublic, nil
}

// PersonEpisode pairs an open episode with its person.
type PersonEpisode struct {
	Person  *cg.Case
	Episode *cg.Case
}

// ActivePersonEpisodes loads episodeIDs and pairs each open episode with its person.
// Episodes whose person is missing, archived or closed are skipped, as are episodes
// outside sector when sector is non-empty.
func (r *Resolver) ActivePersonEpisodes(ctx context.Context, episodeIDs []string, sector string) ([]PersonEpisode, error) {
	if sector != "" && sector != SectorPublic && sector != SectorPrivate {
		return nil, fmt.Errorf("sector must be %q, %q or empty, got %q", SectorPublic, SectorPrivate, sector)
	}

	episodes, err := r.cases.GetCases(ctx, r.domain, episodeIDs)
	if err != nil {
		return nil, fmt.Errorf("load episodes: %w", err)
	}

	var out []PersonEpisode
	for _, episode := range episodes {
		if episode.Type != cg.TypeEpisode || episode.Closed {
			continue
		}
		private := episode.Property("enrolled_in_private") == "true"
		if (sector == SectorPrivate && !private) || (sector == SectorPublic && private) {
			continue
		}

		person, err := r.PersonFromEpisode(ctx, episode.CaseID)
		if errors.Is(err, cg.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if person.OwnerID == cg.ArchivedOwnerID || person.Closed {
			continue
		}
		out = append(out, PersonEpisode{Person: person, Episode: episode})
	}
	return out, nil
}
