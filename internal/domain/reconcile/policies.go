package reconcile

import (
	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
)

// Policy names, as used in reports and on the command line.
const (
	PolicyDrugResistance = "drug_resistance"
	PolicyOccurrence     = "occurrence"
	PolicyEpisode        = "episode"
	PolicyReferral       = "referral"
	PolicyInvestigation  = "investigation"
)

// ReasonLatestOpened is the survivor reason for referral reconciliation.
const ReasonLatestOpened = "latest_opened"

var drugResistanceTiers = []Predicate{
	{Name: "resistant", Match: func(c *cg.Case) bool { return c.Sensitivity() == "resistant" }},
	{Name: "sensitive", Match: func(c *cg.Case) bool { return c.Sensitivity() == "sensitive" }},
}

var episodeTiers = []Predicate{
	{Name: cg.EpisodeConfirmedDRTB, Match: func(c *cg.Case) bool { return c.EpisodeType() == cg.EpisodeConfirmedDRTB }},
	{Name: cg.EpisodeConfirmedTB, Match: func(c *cg.Case) bool { return c.EpisodeType() == cg.EpisodeConfirmedTB }},
}

var investigationTiers = []Predicate{
	{Name: "reported", Match: func(c *cg.Case) bool { return c.Property("date_reported") != "" }},
}

// parentOf keys a case by its first index to a case of parentType.
func parentOf(parentType string) func(*cg.Case) string {
	return func(c *cg.Case) string {
		for _, idx := range c.Indices {
			if idx.ReferencedType == parentType {
				return idx.ReferencedID
			}
		}
		return ""
	}
}

func requireType(policy, caseType string, candidates []*cg.Case) error {
	for _, c := range candidates {
		if c.Type != caseType {
			return cg.Precondition(c.CaseID, "%s reconciliation given a %s case", policy, c.Type)
		}
	}
	return nil
}

// DrugResistance reconciles open drug_resistance cases sharing a drug_id:
// resistant, then sensitive, then earliest opened.
func DrugResistance(candidates []*cg.Case) (Decision, error) {
	if err := requireType(PolicyDrugResistance, cg.TypeDrugResistance, candidates); err != nil {
		return Decision{}, err
	}
	key, err := requireGroup(PolicyDrugResistance, candidates, (*cg.Case).DrugID)
	if err != nil {
		return Decision{}, err
	}
	survivor, reason := SelectSurvivor(candidates, drugResistanceTiers)
	return newDecision(PolicyDrugResistance, key, candidates, survivor, reason, closeDuplicate()), nil
}

func hasActiveEpisode(episodes []*cg.Case, episodeType string) bool {
	for _, e := range episodes {
		if !e.Closed && e.IsActive() && e.EpisodeType() == episodeType {
			return true
		}
	}
	return false
}

// Occurrences reconciles the open occurrences of one person. episodes maps each
// occurrence id to its episodes; the occurrence owning an active open confirmed_drtb
// episode wins, then one owning an active open confirmed_tb episode, then the
// earliest opened.
func Occurrences(occurrences []*cg.Case, episodes map[string][]*cg.Case) (Decision, error) {
	if err := requireType(PolicyOccurrence, cg.TypeOccurrence, occurrences); err != nil {
		return Decision{}, err
	}
	key, err := requireGroup(PolicyOccurrence, occurrences, parentOf(cg.TypePerson))
	if err != nil {
		return Decision{}, err
	}
	for _, o := range occurrences {
		if o.Closed {
			return Decision{}, cg.Precondition(o.CaseID, "occurrence reconciliation given closed occurrence %s", o.CaseID)
		}
	}
	tiers := []Predicate{
		{Name: cg.EpisodeConfirmedDRTB, Match: func(o *cg.Case) bool {
			return hasActiveEpisode(episodes[o.CaseID], cg.EpisodeConfirmedDRTB)
		}},
		{Name: cg.EpisodeConfirmedTB, Match: func(o *cg.Case) bool {
			return hasActiveEpisode(episodes[o.CaseID], cg.EpisodeConfirmedTB)
		}},
	}
	survivor, reason := SelectSurvivor(occurrences, tiers)
	return newDecision(PolicyOccurrence, key, occurrences, survivor, reason, closeDuplicate()), nil
}

// Episodes reconciles the active open episodes of one occurrence: confirmed_drtb,
// then confirmed_tb, then earliest opened.
func Episodes(episodes []*cg.Case) (Decision, error) {
	if err := requireType(PolicyEpisode, cg.TypeEpisode, episodes); err != nil {
		return Decision{}, err
	}
	key, err := requireGroup(PolicyEpisode, episodes, parentOf(cg.TypeOccurrence))
	if err != nil {
		return Decision{}, err
	}
	for _, e := range episodes {
		if e.Closed || !e.IsActive() {
			return Decision{}, cg.Precondition(e.CaseID, "episode reconciliation given inactive or closed episode %s", e.CaseID)
		}
	}
	survivor, reason := SelectSurvivor(episodes, episodeTiers)
	return newDecision(PolicyEpisode, key, episodes, survivor, reason, closeDuplicate()), nil
}

// Referrals keeps the most recently opened open referral of personID.
func Referrals(personID string, referrals []*cg.Case) (Decision, error) {
	if err := requireType(PolicyReferral, cg.TypeReferral, referrals); err != nil {
		return Decision{}, err
	}
	if _, err := requireGroup(PolicyReferral, referrals, func(*cg.Case) string { return personID }); err != nil {
		return Decision{}, err
	}
	for _, r := range referrals {
		if r.Closed {
			return Decision{}, cg.Precondition(r.CaseID, "referral reconciliation given closed referral %s", r.CaseID)
		}
	}
	survivor := cg.LatestOpened(referrals)
	props := map[string]string{"referral_closed_reason": hierarchy.DuplicateReferralReason}
	return newDecision(PolicyReferral, personID, referrals, survivor, ReasonLatestOpened, props), nil
}

// Investigations reconciles open investigations sharing an investigation_interval:
// a reported investigation wins, then the earliest opened.
func Investigations(candidates []*cg.Case) (Decision, error) {
	if err := requireType(PolicyInvestigation, cg.TypeInvestigation, candidates); err != nil {
		return Decision{}, err
	}
	key, err := requireGroup(PolicyInvestigation, candidates, func(c *cg.Case) string {
		return c.Property("investigation_interval")
	})
	if err != nil {
		return Decision{}, err
	}
	survivor, reason := SelectSurvivor(candidates, investigationTiers)
	return newDecision(PolicyInvestigation, key, candidates, survivor, reason, closeDuplicate()), nil
}

// Group is a set of cases sharing a key.
type Group struct {
	Key   string
	Cases []*cg.Case
}

// GroupBy partitions cases by key, keeping groups in order of first appearance and
// cases in input order.
func GroupBy(cases []*cg.Case, key func(*cg.Case) string) []Group {
	pos := make(map[string]int)
	var out []Group
	for _, c := range cases {
		k := key(c)
		i, ok := pos[k]
		if !ok {
			i = len(out)
			pos[k] = i
			out = append(out, Group{Key: k})
		}
		out[i].Cases = append(out[i].Cases, c)
	}
	return out
}

// Duplicated keeps the groups with more than one case.
func Duplicated(groups []Group) []Group {
	var out []Group
	for _, g := range groups {
		if len(g.Cases) > 1 {
			out = append(out, g)
		}
	}
	return out
}
