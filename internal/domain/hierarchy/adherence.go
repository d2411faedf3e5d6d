package hierarchy

import (
	"context"
	"sort"
	"time"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
)

// AdherenceBetweenDates returns the open adherence cases of the person's open
// episode whose adherence_date lies in [start, end]. Both bounds are inclusive and
// compared in UTC. The result is in accessor order.
func (r *Resolver) AdherenceBetweenDates(ctx context.Context, personID string, start, end time.Time) ([]*cg.Case, error) {
	episode, err := r.OpenEpisodeFromPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	candidates, err := r.children(ctx, []string{episode.CaseID}, cg.Types(cg.TypeAdherence).Open())
	if err != nil {
		return nil, err
	}
	return InWindow(candidates, start, end)
}

// InWindow keeps the cases whose adherence_date falls in [start, end] after UTC
// normalisation. Any unparseable date fails the whole call with InvalidProperty.
func InWindow(cases []*cg.Case, start, end time.Time) ([]*cg.Case, error) {
	startUTC, endUTC := start.UTC(), end.UTC()
	var out []*cg.Case
	for _, c := range cases {
		t, err := c.AdherenceTime()
		if err != nil {
			return nil, err
		}
		t = t.UTC()
		if !t.Before(startUTC) && !t.After(endUTC) {
			out = append(out, c)
		}
	}
	return out, nil
}

// AdherenceFromEpisode returns all adherence cases of the episode, open or closed.
func (r *Resolver) AdherenceFromEpisode(ctx context.Context, episodeID string) ([]*cg.Case, error) {
	return r.children(ctx, []string{episodeID}, cg.Types(cg.TypeAdherence))
}

// AdherenceByDay groups the episode's adherence cases by the calendar date written
// in adherence_date.
func (r *Resolver) AdherenceByDay(ctx context.Context, episodeID string) (map[time.Time][]*cg.Case, error) {
	cases, err := r.AdherenceFromEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	return GroupByDay(cases)
}

// GroupByDay groups cases by the calendar date of adherence_date. Cases without an
// adherence_date are skipped.
func GroupByDay(cases []*cg.Case) (map[time.Time][]*cg.Case, error) {
	byDay := make(map[time.Time][]*cg.Case)
	for _, c := range cases {
		if c.AdherenceDate() == "" {
			continue
		}
		t, err := c.AdherenceTime()
		if err != nil {
			return nil, err
		}
		day := cg.Day(t)
		byDay[day] = append(byDay[day], c)
	}
	return byDay, nil
}

// SortByAdherenceDate orders cases by adherence_date ascending. Callers must have
// validated the dates; unparseable values sort first.
func SortByAdherenceDate(cases []*cg.Case) {
	key := func(c *cg.Case) time.Time {
		t, _ := c.AdherenceTime()
		return t
	}
	sort.SliceStable(cases, func(i, j int) bool {
		return key(cases[i]).Before(key(cases[j]))
	})
}

func sortByProperty(cases []*cg.Case, name string) {
	sort.SliceStable(cases, func(i, j int) bool {
		return cases[i].Property(name) < cases[j].Property(name)
	})
}
