package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/enikshay/casetools/internal/config"
	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/episodeupdate"
	"github.com/enikshay/casetools/internal/domain/reconcile"
	"github.com/enikshay/casetools/internal/platform/blobstore"
	"github.com/enikshay/casetools/internal/platform/db"
	"github.com/enikshay/casetools/internal/platform/telemetry"
)

// env is what every subcommand needs: configuration, a logger and the case
// and schedule stores, backed either by Postgres or by a fixture file.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	domain string

	cases     cg.Store
	schedules episodeupdate.ScheduleStore
	// pool is nil for fixture-backed runs.
	pool *pgxpool.Pool

	putSchedules func(ctx context.Context, schedules []episodeupdate.Schedule) error
}

func (e *env) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// setup loads configuration and opens the stores selected by --fixture. Logs go
// to stderr so that command output on stdout stays machine readable.
func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: newLogger(cfg, cmd.ErrOrStderr())}

	e.domain, _ = cmd.Flags().GetString("domain")
	if e.domain == "" {
		e.domain = cfg.DefaultDomain
	}
	if !db.ValidDomain(e.domain) {
		return nil, fmt.Errorf("invalid domain %q", e.domain)
	}

	fixture, _ := cmd.Flags().GetString("fixture")
	if fixture != "" {
		if err := e.openFixture(fixture); err != nil {
			return nil, err
		}
		return e, nil
	}

	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Msg("connected to database")
	schedules := episodeupdate.NewPGSchedules(pool)
	e.pool = pool
	e.cases = cg.NewPGStore(pool)
	e.schedules = schedules
	e.putSchedules = func(ctx context.Context, s []episodeupdate.Schedule) error {
		return schedules.Put(ctx, e.domain, s...)
	}
	return e, nil
}

func (e *env) openFixture(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	store := cg.NewMemoryStore()
	if err := store.LoadFixture(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	schedules := episodeupdate.NewMemorySchedules()
	e.cases = store
	e.schedules = schedules
	e.putSchedules = func(_ context.Context, s []episodeupdate.Schedule) error {
		schedules.Put(e.domain, s...)
		return nil
	}
	e.logger.Info().Str("fixture", path).Msg("loaded case fixture")
	return nil
}

// loadSchedules reads a schedule file into the schedule store.
func (e *env) loadSchedules(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open schedules: %w", err)
	}
	defer f.Close()

	schedules, err := episodeupdate.DecodeSchedules(f)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := e.putSchedules(ctx, schedules); err != nil {
		return err
	}
	e.logger.Info().Int("schedules", len(schedules)).Msg("loaded adherence schedules")
	return nil
}

func observeReconcile(m *telemetry.Metrics) func(*reconcile.Result, error) {
	return func(r *reconcile.Result, err error) {
		m.ReconcileRun(r.Command, r.Closed, r.Errors, err != nil)
	}
}

// pushMetrics sends batch metrics to PUSHGATEWAY_URL when it is set. A failed
// push is logged and does not fail the command.
func (e *env) pushMetrics(m *telemetry.Metrics, job string) {
	if e.cfg.PushgatewayURL == "" {
		return
	}
	if err := m.Push(e.cfg.PushgatewayURL, job, e.domain); err != nil {
		e.logger.Warn().Err(err).Str("job", job).Msg("metrics push failed")
	}
}

// archiveReport copies a written report to REPORT_S3_BUCKET when it is set.
// The local file stays authoritative; a failed upload is only logged.
func (e *env) archiveReport(ctx context.Context, path string) {
	if e.cfg.ReportS3Bucket == "" {
		return
	}
	archive, err := blobstore.NewS3(ctx, blobstore.Config{
		Bucket:    e.cfg.ReportS3Bucket,
		Region:    e.cfg.ReportS3Region,
		Endpoint:  e.cfg.ReportS3Endpoint,
		Prefix:    e.cfg.ReportS3Prefix,
		PathStyle: e.cfg.ReportS3PathStyle,
	})
	if err == nil {
		var key string
		key, err = blobstore.UploadReport(ctx, archive, e.domain, path)
		if err == nil {
			e.logger.Info().Str("bucket", e.cfg.ReportS3Bucket).Str("key", key).Msg("report archived")
			return
		}
	}
	e.logger.Warn().Err(err).Str("report", path).Msg("report archive failed")
}
