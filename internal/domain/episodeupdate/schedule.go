package episodeupdate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enikshay/casetools/internal/platform/db"
)

// DailyScheduleID is assumed for episodes without adherence_schedule_id.
const DailyScheduleID = "schedule_daily"

// NoThreshold is the dose count used when an episode's schedule is unknown, so that
// threshold dates are never reached.
const NoThreshold = math.MaxInt32

// Schedule is one row of the adherence schedule fixture.
type Schedule struct {
	ID                        string `json:"schedule_id"`
	DosesPerWeek              int    `json:"doses_per_week"`
	DoseCountIPNew            int    `json:"dose_count_ip_new_patient"`
	DoseCountIPRecurring      int    `json:"dose_count_ip_recurring_patient"`
	DoseCountCPNew            int    `json:"dose_count_cp_new_patient"`
	DoseCountCPRecurring      int    `json:"dose_count_cp_recurring_patient"`
	DoseCountOutcomeNew       int    `json:"dose_count_outcome_due_new_patient"`
	DoseCountOutcomeRecurring int    `json:"dose_count_outcome_due_recurring_patient"`
}

// Thresholds are the dose counts that trigger follow-up dates for one patient type.
type Thresholds struct {
	IP, CP, OutcomeDue int
}

// ThresholdsFor picks the new or recurring patient dose counts.
func (s Schedule) ThresholdsFor(newPatient bool) Thresholds {
	if newPatient {
		return Thresholds{IP: s.DoseCountIPNew, CP: s.DoseCountCPNew, OutcomeDue: s.DoseCountOutcomeNew}
	}
	return Thresholds{IP: s.DoseCountIPRecurring, CP: s.DoseCountCPRecurring, OutcomeDue: s.DoseCountOutcomeRecurring}
}

// DecodeSchedules reads a JSON array of schedules. Rows without a schedule_id are
// rejected.
func DecodeSchedules(r io.Reader) ([]Schedule, error) {
	var out []Schedule
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}
	for i, s := range out {
		if s.ID == "" {
			return nil, fmt.Errorf("schedule %d has no schedule_id", i)
		}
	}
	return out, nil
}

// ScheduleStore loads the adherence schedules of a domain keyed by schedule id.
type ScheduleStore interface {
	Schedules(ctx context.Context, domain string) (map[string]Schedule, error)
}

// MemorySchedules is a ScheduleStore backed by a map, for tests and fixture runs.
type MemorySchedules struct {
	mu   sync.RWMutex
	rows map[string]map[string]Schedule
}

func NewMemorySchedules() *MemorySchedules {
	return &MemorySchedules{rows: make(map[string]map[string]Schedule)}
}

func (m *MemorySchedules) Put(domain string, schedules ...Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.rows[domain]
	if !ok {
		byID = make(map[string]Schedule)
		m.rows[domain] = byID
	}
	for _, s := range schedules {
		byID[s.ID] = s
	}
}

func (m *MemorySchedules) Schedules(_ context.Context, domain string) (map[string]Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Schedule, len(m.rows[domain]))
	for id, s := range m.rows[domain] {
		out[id] = s
	}
	return out, nil
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PGSchedules reads the adherence_schedules table.
type PGSchedules struct{ pool *pgxpool.Pool }

func NewPGSchedules(pool *pgxpool.Pool) *PGSchedules {
	return &PGSchedules{pool: pool}
}

func (s *PGSchedules) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *PGSchedules) Schedules(ctx context.Context, domain string) (map[string]Schedule, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT schedule_id, doses_per_week,
			dose_count_ip_new, dose_count_ip_recurring,
			dose_count_cp_new, dose_count_cp_recurring,
			dose_count_outcome_due_new, dose_count_outcome_due_recurring
		FROM adherence_schedules WHERE domain = $1`, domain)
	if err != nil {
		return nil, fmt.Errorf("query adherence schedules: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Schedule)
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.ID, &sc.DosesPerWeek,
			&sc.DoseCountIPNew, &sc.DoseCountIPRecurring,
			&sc.DoseCountCPNew, &sc.DoseCountCPRecurring,
			&sc.DoseCountOutcomeNew, &sc.DoseCountOutcomeRecurring); err != nil {
			return nil, fmt.Errorf("scan adherence schedule: %w", err)
		}
		out[sc.ID] = sc
	}
	return out, rows.Err()
}

// Put upserts schedules; used when loading the fixture.
func (s *PGSchedules) Put(ctx context.Context, domain string, schedules ...Schedule) error {
	return db.InTx(ctx, s.pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)
		for _, sc := range schedules {
			_, err := tx.Exec(ctx, `
				INSERT INTO adherence_schedules (domain, schedule_id, doses_per_week,
					dose_count_ip_new, dose_count_ip_recurring,
					dose_count_cp_new, dose_count_cp_recurring,
					dose_count_outcome_due_new, dose_count_outcome_due_recurring)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (domain, schedule_id) DO UPDATE SET
					doses_per_week = EXCLUDED.doses_per_week,
					dose_count_ip_new = EXCLUDED.dose_count_ip_new,
					dose_count_ip_recurring = EXCLUDED.dose_count_ip_recurring,
					dose_count_cp_new = EXCLUDED.dose_count_cp_new,
					dose_count_cp_recurring = EXCLUDED.dose_count_cp_recurring,
					dose_count_outcome_due_new = EXCLUDED.dose_count_outcome_due_new,
					dose_count_outcome_due_recurring = EXCLUDED.dose_count_outcome_due_recurring`,
				domain, sc.ID, sc.DosesPerWeek,
				sc.DoseCountIPNew, sc.DoseCountIPRecurring,
				sc.DoseCountCPNew, sc.DoseCountCPRecurring,
				sc.DoseCountOutcomeNew, sc.DoseCountOutcomeRecurring)
			if err != nil {
				return fmt.Errorf("upsert adherence schedule %s: %w", sc.ID, err)
			}
		}
		return nil
	})
}
