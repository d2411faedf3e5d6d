package episodeupdate

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/enikshay/casetools/internal/platform/db"
	"github.com/enikshay/casetools/migrations"
)

func TestPGSchedules_PutAndLoad(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := "schedules_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	pool, err := db.NewPool(ctx, url, schema, 2, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	defer pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
	if _, err := db.NewMigrator(pool, migrations.Files, schema).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := NewPGSchedules(pool)
	daily := Schedule{ID: DailyScheduleID, DosesPerWeek: 7, DoseCountIPNew: 56, DoseCountCPNew: 112}
	if err := store.Put(ctx, "enikshay", daily); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	daily.DoseCountIPNew = 60
	if err := store.Put(ctx, "enikshay", daily, Schedule{ID: "schedule_thrice", DosesPerWeek: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Schedules(ctx, "enikshay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[DailyScheduleID].DoseCountIPNew != 60 || got["schedule_thrice"].DosesPerWeek != 3 {
		t.Errorf("unexpected schedules: %+v", got)
	}
	if other, _ := store.Schedules(ctx, "other"); len(other) != 0 {
		t.Errorf("expected no schedules for another domain, got %v", other)
	}
}
