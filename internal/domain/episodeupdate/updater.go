package episodeupdate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
)

// SourceTag identifies bulk updates made by the episode updater.
const SourceTag = "episodeupdate.Updater"

// Defaults for Config fields left at zero.
const (
	DefaultBatchSize     = 100
	DefaultWorkers       = 4
	DefaultPartitionSize = 1000
)

// EpisodeUpdate proposes property values for one episode.
type EpisodeUpdate interface {
	Name() string
	UpdateJSON(ctx context.Context, episode *cg.Case) (map[string]string, error)
}

// Config tunes an Updater.
type Config struct {
	BatchSize       int
	Workers         int
	PartitionSize   int
	FDCThreshold    int
	NonFDCThreshold int
	// Commit applies the updates; otherwise they are only counted.
	Commit bool
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PartitionSize <= 0 {
		c.PartitionSize = DefaultPartitionSize
	}
	return c
}

// ErrorHeader is the CSV header matching ErrorRow.Record.
var ErrorHeader = []string{"episode_id", "domain", "updater", "error"}

// ErrorRow records one updater failing on one episode.
type ErrorRow struct {
	EpisodeID string `json:"episode_id"`
	Domain    string `json:"domain"`
	Updater   string `json:"updater"`
	Error     string `json:"error"`
}

func (r ErrorRow) Record() []string {
	return []string{r.EpisodeID, r.Domain, r.Updater, r.Error}
}

// BatchStatus summarises one partition.
type BatchStatus struct {
	Episodes    int           `json:"episodes"`
	Updated     int           `json:"updated"`
	NotUpdated  int           `json:"not_updated"`
	Succeeded   int           `json:"succeeded"`
	CaseBatches int           `json:"case_batches"`
	Errors      []ErrorRow    `json:"errors"`
	Duration    time.Duration `json:"duration"`
}

// Summary totals a Run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Domain     string        `json:"domain"`
	Batches    []BatchStatus `json:"batches"`
	Updated    int           `json:"updated"`
	NotUpdated int           `json:"not_updated"`
	Errors     []ErrorRow    `json:"errors"`
	Duration   time.Duration `json:"duration"`
}

// Updater runs every EpisodeUpdate over the open episodes of a domain.
type Updater struct {
	cases     cg.Store
	schedules ScheduleStore
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

func NewUpdater(cases cg.Store, schedules ScheduleStore, cfg Config, logger zerolog.Logger) *Updater {
	return &Updater{
		cases:     cases,
		schedules: schedules,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "episode-updater").Logger(),
		now:       time.Now,
	}
}

func (u *Updater) updates(res *hierarchy.Resolver, schedules map[string]Schedule) []EpisodeUpdate {
	return []EpisodeUpdate{
		NewAdherenceUpdate(res, schedules, u.now()),
		NewVoucherUpdate(res, u.cfg.FDCThreshold, u.cfg.NonFDCThreshold),
		NewTestUpdate(res),
	}
}

// Run partitions the open episodes of domain and processes the partitions on a
// bounded number of workers. Per-episode updater failures are collected in the
// summary; store failures stop the run.
func (u *Updater) Run(ctx context.Context, domain string) (*Summary, error) {
	started := u.now()
	res := hierarchy.NewResolver(u.cases, domain)
	schedules, err := u.schedules.Schedules(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	ids, err := res.AllEpisodeIDs(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{RunID: uuid.NewString(), Domain: domain, Errors: []ErrorRow{}}
	logger := u.logger.With().Str("run_id", summary.RunID).Str("domain", domain).Logger()
	partitions := partition(ids, u.cfg.PartitionSize)
	logger.Info().Int("episodes", len(ids)).Int("partitions", len(partitions)).Msg("episode update started")

	updates := u.updates(res, schedules)
	statuses := make([]BatchStatus, len(partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Workers)
	for i, part := range partitions {
		i, part := i, part
		g.Go(func() error {
			status, err := u.runBatch(gctx, logger, res, updates, part)
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			statuses[i] = status
			logger.Info().
				Int("partition", i).
				Int("updated", status.Updated).
				Int("errors", len(status.Errors)).
				Dur("duration", status.Duration).
				Msg("partition finished")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, s := range statuses {
		summary.Updated += s.Updated
		summary.NotUpdated += s.NotUpdated
		summary.Errors = append(summary.Errors, s.Errors...)
	}
	summary.Batches = statuses
	summary.Duration = u.now().Sub(started)
	logger.Info().
		Int("updated", summary.Updated).
		Int("not_updated", summary.NotUpdated).
		Int("errors", len(summary.Errors)).
		Dur("duration", summary.Duration).
		Msg("episode update finished")
	return summary, nil
}

func (u *Updater) runBatch(ctx context.Context, logger zerolog.Logger, res *hierarchy.Resolver, updates []EpisodeUpdate, ids []string) (BatchStatus, error) {
	started := u.now()
	status := BatchStatus{Errors: []ErrorRow{}}

	pairs, err := res.ActivePersonEpisodes(ctx, ids, "")
	if err != nil {
		return status, err
	}

	var pending []cg.UpdateInstruction
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if u.cfg.Commit {
			if err := u.cases.BulkUpdateCases(ctx, res.Domain(), pending, SourceTag); err != nil {
				return fmt.Errorf("bulk update %d episodes: %w", len(pending), err)
			}
		}
		status.CaseBatches++
		pending = nil
		return nil
	}

	for _, pe := range pairs {
		status.Episodes++
		episode := pe.Episode
		existing := episode.DynamicProperties()
		merged := make(map[string]string)
		failed := false
		for _, up := range updates {
			proposed, err := up.UpdateJSON(ctx, episode)
			if err != nil {
				if ctx.Err() != nil {
					return status, ctx.Err()
				}
				failed = true
				status.Errors = append(status.Errors, ErrorRow{
					EpisodeID: episode.CaseID,
					Domain:    res.Domain(),
					Updater:   up.Name(),
					Error:     err.Error(),
				})
				continue
			}
			for k, v := range UpdatedFields(existing, proposed) {
				merged[k] = v
			}
		}
		if failed {
			logger.Warn().Str("episode_id", episode.CaseID).Msg("episode updater failed")
		} else {
			status.Succeeded++
		}

		if len(merged) == 0 {
			status.NotUpdated++
			continue
		}
		status.Updated++
		pending = append(pending, cg.UpdateInstruction{CaseID: episode.CaseID, Properties: merged})
		if len(pending) >= u.cfg.BatchSize {
			if err := flush(); err != nil {
				return status, err
			}
		}
	}
	if err := flush(); err != nil {
		return status, err
	}
	status.Duration = u.now().Sub(started)
	return status, nil
}

func partition(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
