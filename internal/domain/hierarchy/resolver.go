// Package hierarchy walks the enikshay case graph:
// person <- occurrence <- episode <- test/adherence/prescription/voucher.
package hierarchy

import (
	"context"
	"errors"
	"fmt"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
)

// Sectors a person or episode can be enrolled in.
const (
	SectorPublic  = "public"
	SectorPrivate = "private"
)

// DuplicateReferralReason marks referrals closed by referral reconciliation.
const DuplicateReferralReason = "duplicate_referral_reconciliation"

// Episode close reasons that exclude it from "most recent episode".
var invalidEpisodeCloseReasons = map[string]bool{
	"invalid_episode":      true,
	"duplicate":            true,
	"invalid_registration": true,
}

// Resolver resolves related cases within one domain. Where several candidates are
// equally eligible the tie-break picks one; the default is EarliestOpened.
type Resolver struct {
	cases  cg.Accessor
	domain string
	pick   cg.TieBreak
}

func NewResolver(cases cg.Accessor, domain string) *Resolver {
	return &Resolver{cases: cases, domain: domain, pick: cg.EarliestOpened}
}

// WithTieBreak returns a copy of r using pick for multi-candidate lookups.
func (r *Resolver) WithTieBreak(pick cg.TieBreak) *Resolver {
	cp := *r
	cp.pick = pick
	return &cp
}

func (r *Resolver) Domain() string { return r.domain }

func (r *Resolver) Accessor() cg.Accessor { return r.cases }

func (r *Resolver) children(ctx context.Context, ids []string, q cg.ReverseQuery) ([]*cg.Case, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out, err := r.cases.GetReverseIndexedCases(ctx, r.domain, ids, q)
	if err != nil {
		return nil, fmt.Errorf("reverse indexed cases of %v: %w", ids, err)
	}
	return out, nil
}

func (r *Resolver) getCase(ctx context.Context, caseID string) (*cg.Case, error) {
	c, err := r.cases.GetCase(ctx, r.domain, caseID)
	if errors.Is(err, cg.ErrNotFound) {
		return nil, cg.NotFound(caseID, "couldn't find case: %s", caseID)
	}
	return c, err
}

// AllParents returns the non-deleted cases caseID indexes, in index order.
func (r *Resolver) AllParents(ctx context.Context, caseID string) ([]*cg.Case, error) {
	child, err := r.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	parents, err := r.cases.GetCases(ctx, r.domain, child.ParentIDs())
	if err != nil {
		return nil, fmt.Errorf("parents of %s: %w", caseID, err)
	}
	return cg.Filter(parents, func(c *cg.Case) bool { return !c.Deleted }), nil
}

// FirstParentOfType returns the first parent of caseID, in index order, whose type is
// parentType.
func (r *Resolver) FirstParentOfType(ctx context.Context, caseID, parentType string) (*cg.Case, error) {
	parents, err := r.AllParents(ctx, caseID)
	if err != nil {
		return nil, err
	}
	matching := cg.OfType(parents, parentType)
	if len(matching) == 0 {
		return nil, cg.NotFound(caseID, "couldn't find any %s cases for id: %s", parentType, caseID)
	}
	return matching[0], nil
}

func (r *Resolver) OccurrenceFromEpisode(ctx context.Context, episodeID string) (*cg.Case, error) {
	return r.FirstParentOfType(ctx, episodeID, cg.TypeOccurrence)
}

func (r *Resolver) PersonFromOccurrence(ctx context.Context, occurrenceID string) (*cg.Case, error) {
	return r.FirstParentOfType(ctx, occurrenceID, cg.TypePerson)
}

func (r *Resolver) PersonFromEpisode(ctx context.Context, episodeID string) (*cg.Case, error) {
	occurrence, err := r.OccurrenceFromEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	return r.PersonFromOccurrence(ctx, occurrence.CaseID)
}

func (r *Resolver) EpisodeFromAdherence(ctx context.Context, adherenceID string) (*cg.Case, error) {
	return r.FirstParentOfType(ctx, adherenceID, cg.TypeEpisode)
}

func (r *Resolver) OccurrenceFromTest(ctx context.Context, testID string) (*cg.Case, error) {
	return r.FirstParentOfType(ctx, testID, cg.TypeOccurrence)
}

func (r *Resolver) PrescriptionFromVoucher(ctx context.Context, voucherID string) (*cg.Case, error) {
	return r.FirstParentOfType(ctx, voucherID, cg.TypePrescription)
}

// AllOccurrencesFromPerson returns open and closed occurrences of the person.
func (r *Resolver) AllOccurrencesFromPerson(ctx context.Context, personID string) ([]*cg.Case, error) {
	return r.children(ctx, []string{personID}, cg.Types(cg.TypeOccurrence))
}

func (r *Resolver) OpenOccurrencesFromPerson(ctx context.Context, personID string) ([]*cg.Case, error) {
	return r.children(ctx, []string{personID}, cg.Types(cg.TypeOccurrence).Open())
}

// OpenOccurrenceFromPerson picks one open occurrence of the person with the
// resolver's tie-break.
func (r *Resolver) OpenOccurrenceFromPerson(ctx context.Context, personID string) (*cg.Case, error) {
	open, err := r.OpenOccurrencesFromPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, cg.NotFound(personID, "person with id: %s exists but has no open occurrence cases", personID)
	}
	return r.pick(open), nil
}

func isConfirmedTB(c *cg.Case) bool { return c.EpisodeType() == cg.EpisodeConfirmedTB }

// OpenEpisodeFromOccurrence picks one open confirmed_tb episode of the occurrence.
func (r *Resolver) OpenEpisodeFromOccurrence(ctx context.Context, occurrenceID string) (*cg.Case, error) {
	open, err := r.children(ctx, []string{occurrenceID}, cg.Types(cg.TypeEpisode).Open())
	if err != nil {
		return nil, err
	}
	confirmed := cg.Filter(open, isConfirmedTB)
	if len(confirmed) == 0 {
		return nil, cg.NotFound(occurrenceID, "occurrence with id: %s exists but has no open episode cases", occurrenceID)
	}
	return r.pick(confirmed), nil
}

// OpenActiveEpisodesFromOccurrence returns the open episodes with is_active=yes.
func (r *Resolver) OpenActiveEpisodesFromOccurrence(ctx context.Context, occurrenceID string) ([]*cg.Case, error) {
	open, err := r.children(ctx, []string{occurrenceID}, cg.Types(cg.TypeEpisode).Open())
	if err != nil {
		return nil, err
	}
	return cg.Filter(open, (*cg.Case).IsActive), nil
}

// OpenActiveEpisodeFromOccurrence returns the single open active episode of the
// occurrence. More than one is Ambiguous.
func (r *Resolver) OpenActiveEpisodeFromOccurrence(ctx context.Context, occurrenceID string) (*cg.Case, error) {
	active, err := r.OpenActiveEpisodesFromOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	switch len(active) {
	case 0:
		return nil, cg.NotFound(occurrenceID, "occurrence with id: %s has no open active episode cases", occurrenceID)
	case 1:
		return active[0], nil
	}
	return nil, cg.Ambiguous(occurrenceID, "multiple active open episode cases found for occurrence: %s (%v)",
		occurrenceID, cg.IDs(active))
}

// OpenEpisodeFromPerson resolves person -> open occurrence -> open confirmed_tb episode.
func (r *Resolver) OpenEpisodeFromPerson(ctx context.Context, personID string) (*cg.Case, error) {
	occurrence, err := r.OpenOccurrenceFromPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	return r.OpenEpisodeFromOccurrence(ctx, occurrence.CaseID)
}

// AllEpisodesFromPerson returns confirmed_tb episodes, open or closed, under every
// occurrence of the person.
func (r *Resolver) AllEpisodesFromPerson(ctx context.Context, personID string) ([]*cg.Case, error) {
	occurrences, err := r.AllOccurrencesFromPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	episodes, err := r.children(ctx, cg.IDs(occurrences), cg.Types(cg.TypeEpisode))
	if err != nil {
		return nil, err
	}
	return cg.Filter(episodes, isConfirmedTB), nil
}

// MostRecentEpisodeFromPerson returns the latest-opened episode that was not closed
// as invalid or duplicate, or nil when there is none.
func (r *Resolver) MostRecentEpisodeFromPerson(ctx context.Context, personID string) (*cg.Case, error) {
	occurrences, err := r.AllOccurrencesFromPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	episodes, err := r.children(ctx, cg.IDs(occurrences), cg.Types(cg.TypeEpisode))
	if err != nil {
		return nil, err
	}
	valid := cg.Filter(episodes, func(c *cg.Case) bool {
		return !invalidEpisodeCloseReasons[c.Property("close_reason")]
	})
	return cg.LatestOpened(valid), nil
}

// AssociatedEpisodeForTest returns the episode named on the test through
// new_episode_case_id or episode_case_id, falling back to the open confirmed_tb
// episode of occurrenceID.
func (r *Resolver) AssociatedEpisodeForTest(ctx context.Context, test *cg.Case, occurrenceID string) (*cg.Case, error) {
	episodeID := test.Property("new_episode_case_id")
	if episodeID == "" {
		episodeID = test.Property("episode_case_id")
	}
	if episodeID == "" {
		return r.OpenEpisodeFromOccurrence(ctx, occurrenceID)
	}
	episode, err := r.cases.GetCase(ctx, r.domain, episodeID)
	if errors.Is(err, cg.ErrNotFound) {
		return nil, cg.NotFound(test.CaseID, "could not find episode case %s associated with test %s", episodeID, test.CaseID)
	}
	return episode, err
}

// PrivateDiagnosticTestsFromEpisode returns the open, reported, private-sector
// diagnostic tests of the episode's occurrence ordered by date_reported.
func (r *Resolver) PrivateDiagnosticTestsFromEpisode(ctx context.Context, episodeID string) ([]*cg.Case, error) {
	occurrence, err := r.OccurrenceFromEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	tests, err := r.children(ctx, []string{occurrence.CaseID}, cg.Types(cg.TypeTest).Open())
	if err != nil {
		return nil, err
	}
	diagnostic := cg.Filter(tests, func(c *cg.Case) bool {
		return c.Property("purpose_of_test") == "diagnostic" &&
			c.Property("date_reported") != "" &&
			c.Property("enrolled_in_private") == "true"
	})
	sortByProperty(diagnostic, "date_reported")
	return diagnostic, nil
}

func (r *Resolver) OpenDRTBHIVReferralFromEpisode(ctx context.Context, episodeID string) (*cg.Case, error) {
	open, err := r.children(ctx, []string{episodeID}, cg.Types(cg.TypeDRTBHIVReferral).Open())
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, cg.NotFound(episodeID, "episode with id: %s exists but has no open drtb-hiv-referral cases", episodeID)
	}
	return r.pick(open), nil
}

// referralsFromPerson returns referrals under the person and under its open
// occurrences.
func (r *Resolver) referralsFromPerson(ctx context.Context, personID string, q cg.ReverseQuery) ([]*cg.Case, error) {
	direct, err := r.children(ctx, []string{personID}, cg.ReverseQuery{
		CaseTypes: []string{cg.TypeReferral, cg.TypeOccurrence},
		Closed:    q.Closed,
	})
	if err != nil {
		return nil, err
	}
	referrals := cg.OfType(direct, cg.TypeReferral)
	openOccurrences := cg.Filter(direct, func(c *cg.Case) bool {
		return c.Type == cg.TypeOccurrence && !c.Closed
	})
	nested, err := r.children(ctx, cg.IDs(openOccurrences), cg.ReverseQuery{
		CaseTypes: []string{cg.TypeReferral},
		Closed:    q.Closed,
	})
	if err != nil {
		return nil, err
	}
	return append(referrals, nested...), nil
}

// OpenReferralsFromPerson returns every open referral of the person.
func (r *Resolver) OpenReferralsFromPerson(ctx context.Context, personID string) ([]*cg.Case, error) {
	return r.referralsFromPerson(ctx, personID, cg.ReverseQuery{}.Open())
}

// OpenReferralFromPerson returns the earliest-opened open referral, or nil.
func (r *Resolver) OpenReferralFromPerson(ctx context.Context, personID string) (*cg.Case, error) {
	open, err := r.OpenReferralsFromPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	return cg.EarliestOpened(open), nil
}

// MostRecentReferralFromPerson returns the latest-opened referral that was not
// closed by referral reconciliation, or nil.
func (r *Resolver) MostRecentReferralFromPerson(ctx context.Context, personID string) (*cg.Case, error) {
	all, err := r.referralsFromPerson(ctx, personID, cg.ReverseQuery{})
	if err != nil {
		return nil, err
	}
	valid := cg.Filter(all, func(c *cg.Case) bool {
		return c.Property("referral_closed_reason") != DuplicateReferralReason
	})
	return cg.LatestOpened(valid), nil
}

// LatestTrailFromPerson returns the latest-opened trail under the person or its open
// occurrences, or nil.
func (r *Resolver) LatestTrailFromPerson(ctx context.Context, personID string) (*cg.Case, error) {
	direct, err := r.children(ctx, []string{personID}, cg.Types(cg.TypeTrail, cg.TypeOccurrence))
	if err != nil {
		return nil, err
	}
	trails := cg.OfType(direct, cg.TypeTrail)
	openOccurrences := cg.Filter(direct, func(c *cg.Case) bool {
		return c.Type == cg.TypeOccurrence && !c.Closed
	})
	nested, err := r.children(ctx, cg.IDs(openOccurrences), cg.Types(cg.TypeTrail))
	if err != nil {
		return nil, err
	}
	trails = append(trails, nested...)
	cg.SortByOpened(trails)
	if len(trails) == 0 {
		return nil, nil
	}
	return trails[len(trails)-1], nil
}

func (r *Resolver) LabReferralFromTest(ctx context.Context, testID string) (*cg.Case, error) {
	referrals, err := r.children(ctx, []string{testID}, cg.Types(cg.TypeLabReferral))
	if err != nil {
		return nil, err
	}
	if len(referrals) == 0 {
		return nil, cg.NotFound(testID, "test with id: %s exists but has no lab referral cases", testID)
	}
	return r.pick(referrals), nil
}

func (r *Resolver) PersonFromLabReferral(ctx context.Context, labReferralID string) (*cg.Case, error) {
	test, err := r.FirstParentOfType(ctx, labReferralID, cg.TypeTest)
	if err != nil {
		return nil, err
	}
	return r.personFromTest(ctx, test.CaseID)
}

func (r *Resolver) personFromTest(ctx context.Context, testID string) (*cg.Case, error) {
	occurrence, err := r.OccurrenceFromTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	return r.PersonFromOccurrence(ctx, occurrence.CaseID)
}

func (r *Resolver) PersonFromPrescription(ctx context.Context, prescriptionID string) (*cg.Case, error) {
	episode, err := r.FirstParentOfType(ctx, prescriptionID, cg.TypeEpisode)
	if err != nil {
		return nil, err
	}
	return r.PersonFromEpisode(ctx, episode.CaseID)
}

func (r *Resolver) PersonFromPrescriptionItem(ctx context.Context, itemID string) (*cg.Case, error) {
	prescription, err := r.FirstParentOfType(ctx, itemID, cg.TypePrescription)
	if err != nil {
		return nil, err
	}
	return r.PersonFromPrescription(ctx, prescription.CaseID)
}

func (r *Resolver) PersonFromReferral(ctx context.Context, referralID string) (*cg.Case, error) {
	occurrence, err := r.FirstParentOfType(ctx, referralID, cg.TypeOccurrence)
	if err != nil {
		return nil, err
	}
	return r.PersonFromOccurrence(ctx, occurrence.CaseID)
}

func (r *Resolver) PersonFromTrail(ctx context.Context, trailID string) (*cg.Case, error) {
	occurrence, err := r.FirstParentOfType(ctx, trailID, cg.TypeOccurrence)
	if err != nil {
		return nil, err
	}
	return r.PersonFromOccurrence(ctx, occurrence.CaseID)
}

// PersonCase resolves the person owning caseID, whatever its type.
func (r *Resolver) PersonCase(ctx context.Context, caseID string) (*cg.Case, error) {
	c, err := r.getCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	switch c.Type {
	case cg.TypePerson:
		return c, nil
	case cg.TypeEpisode:
		return r.PersonFromEpisode(ctx, c.CaseID)
	case cg.TypeAdherence:
		episode, err := r.EpisodeFromAdherence(ctx, c.CaseID)
		if err != nil {
			return nil, err
		}
		return r.PersonFromEpisode(ctx, episode.CaseID)
	case cg.TypeTest:
		return r.personFromTest(ctx, c.CaseID)
	case cg.TypeOccurrence:
		return r.PersonFromOccurrence(ctx, c.CaseID)
	case cg.TypeVoucher:
		return r.PersonFromVoucher(ctx, c.CaseID)
	case cg.TypeLabReferral:
		return r.PersonFromLabReferral(ctx, c.CaseID)
	case cg.TypePrescription:
		return r.PersonFromPrescription(ctx, c.CaseID)
	case cg.TypePrescriptionItem:
		return r.PersonFromPrescriptionItem(ctx, c.CaseID)
	case cg.TypeReferral:
		return r.PersonFromReferral(ctx, c.CaseID)
	case cg.TypeTrail:
		return r.PersonFromTrail(ctx, c.CaseID)
	}
	return nil, cg.UnknownCaseType(c.CaseID, c.Type)
}

// OpenDrugResistanceFromOccurrence returns the open drug_resistance cases of the
// occurrence.
func (r *Resolver) OpenDrugResistanceFromOccurrence(ctx context.Context, occurrenceID string) ([]*cg.Case, error) {
	return r.children(ctx, []string{occurrenceID}, cg.Types(cg.TypeDrugResistance).Open())
}

// OpenInvestigationsFromEpisode returns the open investigation cases of the episode.
func (r *Resolver) OpenInvestigationsFromEpisode(ctx context.Context, episodeID string) ([]*cg.Case, error) {
	return r.children(ctx, []string{episodeID}, cg.Types(cg.TypeInvestigation).Open())
}

// AllEpisodeIDs lists the open episode ids of the domain.
func (r *Resolver) AllEpisodeIDs(ctx context.Context) ([]string, error) {
	ids, err := r.cases.CaseIDsByType(ctx, r.domain, cg.TypeEpisode, true)
	if err != nil {
		return nil, fmt.Errorf("list open episodes: %w", err)
	}
	return ids, nil
}

// AllPersonIDs lists the open person ids of the domain.
func (r *Resolver) AllPersonIDs(ctx context.Context) ([]string, error) {
	ids, err := r.cases.CaseIDsByType(ctx, r.domain, cg.TypePerson, true)
	if err != nil {
		return nil, fmt.Errorf("list open persons: %w", err)
	}
	return ids, nil
}
