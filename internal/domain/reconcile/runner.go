package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
)

// Batch command names.
const (
	CommandDrugResistance         = "drug-resistance"
	CommandOccurrencesAndEpisodes = "occurrences-and-episodes"
	CommandReferrals              = "referrals"
	CommandInvestigations         = "investigations"
)

// Row actions.
const (
	ActionRetain = "retain"
	ActionClose  = "close"
)

// DefaultBatchSize is the number of close instructions per bulk update.
const DefaultBatchSize = 100

// ErrUnknownCommand is returned by Run for a command it does not know.
var ErrUnknownCommand = errors.New("unknown reconciliation command")

// ReportHeader is the CSV header matching Row.Record.
var ReportHeader = []string{"person_id", "case_id", "case_type", "group_key", "action", "reason", "error"}

// Row is one line of a reconciliation report.
type Row struct {
	PersonID string `json:"person_id"`
	CaseID   string `json:"case_id"`
	CaseType string `json:"case_type"`
	GroupKey string `json:"group_key,omitempty"`
	Action   string `json:"action,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (r Row) Record() []string {
	return []string{r.PersonID, r.CaseID, r.CaseType, r.GroupKey, r.Action, r.Reason, r.Error}
}

// Options configure one Run.
type Options struct {
	Domain string
	// PersonIDs limits the run; empty means every open person of the domain.
	PersonIDs []string
	Commit    bool
	SourceTag string
	BatchSize int
}

// Result summarises a Run. On an aborted run it holds the rows produced so far.
type Result struct {
	RunID     string `json:"run_id"`
	Command   string `json:"command"`
	Domain    string `json:"domain"`
	Committed bool   `json:"committed"`
	Persons   int    `json:"persons"`
	Groups    int    `json:"groups"`
	Closed    int    `json:"closed"`
	Errors    int    `json:"errors"`
	Rows      []Row  `json:"rows"`
}

type step func(ctx context.Context, run *personRun) ([]Decision, error)

// personRun carries the state for the person currently being processed.
type personRun struct {
	res      *hierarchy.Resolver
	cache    *hierarchy.RowCache
	personID string
}

var commands = map[string]step{
	CommandDrugResistance:         drugResistanceStep,
	CommandOccurrencesAndEpisodes: occurrencesAndEpisodesStep,
	CommandReferrals:              referralsStep,
	CommandInvestigations:         investigationsStep,
}

// Commands lists the known command names in sorted order.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner executes reconciliation commands against a case store.
type Runner struct {
	cases     cg.Store
	logger    zerolog.Logger
	observers []func(*Result, error)
}

func NewRunner(cases cg.Store, logger zerolog.Logger) *Runner {
	return &Runner{
		cases:  cases,
		logger: logger.With().Str("component", "reconcile").Logger(),
	}
}

// Observe registers fn to receive every run's result and error, including
// aborted runs. Runs rejected before starting are not observed.
func (r *Runner) Observe(fn func(*Result, error)) *Runner {
	r.observers = append(r.observers, fn)
	return r
}

// Run executes command for every selected person. Lookup misses become error rows.
// Ambiguity, precondition and store failures abort the run; updates already
// committed stay applied.
func (r *Runner) Run(ctx context.Context, command string, opts Options) (*Result, error) {
	result, err := r.run(ctx, command, opts)
	if result != nil {
		for _, fn := range r.observers {
			fn(result, err)
		}
	}
	return result, err
}

func (r *Runner) run(ctx context.Context, command string, opts Options) (*Result, error) {
	fn, ok := commands[command]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
	if opts.Domain == "" {
		return nil, errors.New("reconcile: domain is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SourceTag == "" {
		opts.SourceTag = "reconcile:" + command
	}

	res := hierarchy.NewResolver(r.cases, opts.Domain)
	result := &Result{
		RunID:     uuid.NewString(),
		Command:   command,
		Domain:    opts.Domain,
		Committed: opts.Commit,
		Rows:      []Row{},
	}
	logger := r.logger.With().
		Str("run_id", result.RunID).
		Str("policy", command).
		Str("domain", opts.Domain).
		Bool("commit", opts.Commit).
		Logger()

	personIDs := opts.PersonIDs
	if len(personIDs) == 0 {
		ids, err := res.AllPersonIDs(ctx)
		if err != nil {
			return result, err
		}
		personIDs = ids
	}
	logger.Info().Int("persons", len(personIDs)).Msg("reconciliation started")

	var pending []cg.UpdateInstruction
	flush := func() error {
		if !opts.Commit || len(pending) == 0 {
			pending = nil
			return nil
		}
		if err := r.cases.BulkUpdateCases(ctx, opts.Domain, pending, opts.SourceTag); err != nil {
			return fmt.Errorf("bulk update %d cases: %w", len(pending), err)
		}
		logger.Info().Int("updated", len(pending)).Msg("bulk update applied")
		pending = nil
		return nil
	}

	for _, personID := range personIDs {
		result.Persons++
		run := &personRun{res: res, cache: hierarchy.NewRowCache(), personID: personID}
		decisions, err := runPerson(ctx, run, fn)
		if err != nil {
			if cg.IsFatal(err) || cg.KindOf(err) == 0 {
				logger.Error().Err(err).Str("person_id", personID).Msg("reconciliation aborted")
				return result, fmt.Errorf("%s: person %s: %w", command, personID, err)
			}
			result.Errors++
			result.Rows = append(result.Rows, errorRow(personID, err))
			logger.Warn().Err(err).Str("person_id", personID).Msg("person skipped")
			continue
		}

		closed := 0
		for _, d := range decisions {
			result.Groups++
			result.Rows = append(result.Rows, decisionRows(personID, d)...)
			pending = append(pending, d.Instructions()...)
			closed += len(d.Duplicates)
		}
		result.Closed += closed
		if closed > 0 {
			logger.Info().Str("person_id", personID).Int("closed", closed).Msg("duplicates found")
		}
		if len(pending) >= opts.BatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	logger.Info().
		Int("persons", result.Persons).
		Int("groups", result.Groups).
		Int("closed", result.Closed).
		Int("errors", result.Errors).
		Msg("reconciliation finished")
	return result, nil
}

func runPerson(ctx context.Context, run *personRun, fn step) ([]Decision, error) {
	person, err := run.res.Accessor().GetCase(ctx, run.res.Domain(), run.personID)
	if err != nil {
		return nil, err
	}
	if person.Type != cg.TypePerson {
		return nil, cg.UnknownCaseType(person.CaseID, person.Type)
	}
	return fn(ctx, run)
}

func decisionRows(personID string, d Decision) []Row {
	rows := make([]Row, 0, len(d.Duplicates)+1)
	rows = append(rows, Row{
		PersonID: personID,
		CaseID:   d.Survivor.CaseID,
		CaseType: d.Survivor.Type,
		GroupKey: d.GroupKey,
		Action:   ActionRetain,
		Reason:   d.Reason,
	})
	for _, c := range d.Duplicates {
		rows = append(rows, Row{
			PersonID: personID,
			CaseID:   c.CaseID,
			CaseType: c.Type,
			GroupKey: d.GroupKey,
			Action:   ActionClose,
			Reason:   "duplicate of " + d.Survivor.CaseID,
		})
	}
	return rows
}

func errorRow(personID string, err error) Row {
	row := Row{PersonID: personID, Error: err.Error()}
	var le *cg.LookupError
	if errors.As(err, &le) {
		row.CaseID = le.CaseID
	}
	return row
}

func (p *personRun) openOccurrences(ctx context.Context) ([]*cg.Case, error) {
	return hierarchy.Remember(p.cache, "open_occurrences", func() ([]*cg.Case, error) {
		occurrences, err := p.res.OpenOccurrencesFromPerson(ctx, p.personID)
		if err != nil {
			return nil, err
		}
		if len(occurrences) == 0 {
			return nil, cg.NotFound(p.personID, "person with id: %s exists but has no open occurrence cases", p.personID)
		}
		return occurrences, nil
	})
}

func (p *personRun) activeEpisodes(ctx context.Context, occurrenceID string) ([]*cg.Case, error) {
	return hierarchy.Remember(p.cache, "active_episodes:"+occurrenceID, func() ([]*cg.Case, error) {
		return p.res.OpenActiveEpisodesFromOccurrence(ctx, occurrenceID)
	})
}

func drugResistanceStep(ctx context.Context, p *personRun) ([]Decision, error) {
	occurrences, err := p.openOccurrences(ctx)
	if err != nil {
		return nil, err
	}
	var out []Decision
	for _, o := range occurrences {
		cases, err := p.res.OpenDrugResistanceFromOccurrence(ctx, o.CaseID)
		if err != nil {
			return nil, err
		}
		for _, g := range Duplicated(GroupBy(cases, (*cg.Case).DrugID)) {
			d, err := DrugResistance(g.Cases)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// occurrencesAndEpisodesStep reduces the person to one open occurrence, then that
// occurrence to one active episode. Either step only runs with duplicates present.
func occurrencesAndEpisodesStep(ctx context.Context, p *personRun) ([]Decision, error) {
	occurrences, err := p.openOccurrences(ctx)
	if err != nil {
		return nil, err
	}
	var out []Decision
	survivor := occurrences[0]
	if len(occurrences) > 1 {
		episodes := make(map[string][]*cg.Case, len(occurrences))
		for _, o := range occurrences {
			active, err := p.activeEpisodes(ctx, o.CaseID)
			if err != nil {
				return nil, err
			}
			episodes[o.CaseID] = active
		}
		d, err := Occurrences(occurrences, episodes)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
		survivor = d.Survivor
	}

	active, err := p.activeEpisodes(ctx, survivor.CaseID)
	if err != nil {
		return nil, err
	}
	if len(active) > 1 {
		d, err := Episodes(active)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func referralsStep(ctx context.Context, p *personRun) ([]Decision, error) {
	referrals, err := p.res.OpenReferralsFromPerson(ctx, p.personID)
	if err != nil {
		return nil, err
	}
	if len(referrals) < 2 {
		return nil, nil
	}
	d, err := Referrals(p.personID, referrals)
	if err != nil {
		return nil, err
	}
	return []Decision{d}, nil
}

func investigationsStep(ctx context.Context, p *personRun) ([]Decision, error) {
	episode, err := p.res.OpenEpisodeFromPerson(ctx, p.personID)
	if err != nil {
		return nil, err
	}
	cases, err := p.res.OpenInvestigationsFromEpisode(ctx, episode.CaseID)
	if err != nil {
		return nil, err
	}
	groups := Duplicated(GroupBy(cases, func(c *cg.Case) string { return c.Property("investigation_interval") }))
	out := make([]Decision, 0, len(groups))
	for _, g := range groups {
		d, err := Investigations(g.Cases)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
