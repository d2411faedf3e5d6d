package episodeupdate

import (
	"context"
	"fmt"
	"time"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
)

// PurgeDays is how long adherence cases stay open after their adherence_date.
const PurgeDays = 30

var scoreWindows = []struct {
	days int
	name string
}{
	{3, "three_day"},
	{7, "one_week"},
	{14, "two_week"},
	{30, "month"},
}

// AdherenceUpdate computes adherence scores, aggregated counts and follow-up test
// threshold dates for an episode.
type AdherenceUpdate struct {
	res       *hierarchy.Resolver
	schedules map[string]Schedule
	today     time.Time
}

// NewAdherenceUpdate evaluates scores as of the India calendar date of now.
func NewAdherenceUpdate(res *hierarchy.Resolver, schedules map[string]Schedule, now time.Time) *AdherenceUpdate {
	return &AdherenceUpdate{res: res, schedules: schedules, today: cg.Day(now.In(India))}
}

func (u *AdherenceUpdate) Name() string { return "adherence" }

func (u *AdherenceUpdate) UpdateJSON(ctx context.Context, episode *cg.Case) (map[string]string, error) {
	cases, err := u.res.AdherenceFromEpisode(ctx, episode.CaseID)
	if err != nil {
		return nil, err
	}
	var schedule *Schedule
	id := episode.Property("adherence_schedule_id")
	if id == "" {
		id = DailyScheduleID
	}
	if s, ok := u.schedules[id]; ok {
		schedule = &s
	}
	return AdherenceProperties(episode, cases, schedule, u.today)
}

// AdherenceProperties derives the adherence summary of episode from its adherence
// cases as of today. It returns nil when no schedule start date is set or when every
// value already matches the episode. A nil schedule counts zero doses per week and
// never crosses a threshold.
func AdherenceProperties(episode *cg.Case, adherenceCases []*cg.Case, schedule *Schedule, today time.Time) (map[string]string, error) {
	raw := episode.Property("adherence_schedule_date_start")
	if raw == "" {
		return nil, nil
	}
	start, err := cg.ParseDay(raw)
	if err != nil {
		return nil, cg.InvalidProperty(episode.CaseID, "adherence_schedule_date_start", err)
	}
	today = cg.Day(today)

	known := cg.Filter(adherenceCases, DoseKnown)
	statuses, err := DoseStatusByDay(known)
	if err != nil {
		return nil, err
	}
	latest, err := latestAdherenceDate(known)
	if err != nil {
		return nil, err
	}

	dosesPerWeek := 0
	thresholds := Thresholds{IP: NoThreshold, CP: NoThreshold, OutcomeDue: NoThreshold}
	if schedule != nil {
		dosesPerWeek = schedule.DosesPerWeek
		thresholds = schedule.ThresholdsFor(episode.Property("patient_type_choice") == "new")
	}

	props := map[string]string{
		"adherence_total_doses_taken": formatInt(CountDosesOfType(DoseTaken, statuses, Window{})),
		"doses_per_week":              formatInt(dosesPerWeek),
	}
	adherenceScores(props, statuses, start, today)
	aggregatedScores(props, statuses, start, latest, today.AddDate(0, 0, -PurgeDays), dosesPerWeek)

	ipCrossed, ipExpected := thresholdDates(thresholds.IP-dosesPerWeek, statuses)
	props["adherence_ip_date_threshold_crossed"] = ipCrossed
	props["adherence_ip_date_followup_test_expected"] = ipExpected
	cpCrossed, cpExpected := thresholdDates(thresholds.CP-dosesPerWeek, statuses)
	props["adherence_cp_date_threshold_crossed"] = cpCrossed
	props["adherence_cp_date_followup_test_expected"] = cpExpected
	_, outcomeDue := thresholdDates(thresholds.OutcomeDue-dosesPerWeek, statuses)
	props["adherence_date_outcome_due"] = outcomeDue

	if unchanged(episode.DynamicProperties(), props) {
		return nil, nil
	}
	return props, nil
}

// latestAdherenceDate is the latest day recorded by an open case, or the zero time.
func latestAdherenceDate(cases []*cg.Case) (time.Time, error) {
	var latest time.Time
	for _, c := range cases {
		if c.Closed {
			continue
		}
		t, err := c.AdherenceTime()
		if err != nil {
			return time.Time{}, err
		}
		if d := cg.Day(t); d.After(latest) {
			latest = d
		}
	}
	return latest, nil
}

func adherenceScores(props map[string]string, statuses map[time.Time]DoseStatus, start, today time.Time) {
	for _, w := range scoreWindows {
		var taken, missed, unknown int
		bySource := make(map[string]int, len(AdherenceSources))
		windowStart := today.AddDate(0, 0, -w.days)
		if !windowStart.Before(start) {
			window := Window{Start: windowStart, End: today}
			taken = CountDosesOfType(DoseTaken, statuses, window)
			missed = CountDosesOfType(DoseMissed, statuses, window)
			unknown = w.days - missed - taken
			bySource = CountDosesTakenBySource(statuses, window)
		}

		props[w.name+"_score_count_taken"] = formatInt(taken)
		props[w.name+"_adherence_score"] = formatScore(percentageScore(taken, w.days))
		props[w.name+"_missed_count"] = formatInt(missed)
		props[w.name+"_missed_score"] = formatScore(percentageScore(missed, w.days))
		props[w.name+"_unknown_count"] = formatInt(unknown)
		props[w.name+"_unknown_score"] = formatScore(percentageScore(unknown, w.days))
		for _, source := range AdherenceSources {
			props[fmt.Sprintf("%s_score_count_taken_%s", w.name, source)] = formatInt(bySource[source])
			props[fmt.Sprintf("%s_adherence_score_%s", w.name, source)] = formatScore(percentageScore(bySource[source], w.days))
		}
	}
}

// aggregatedScores covers the days up to the purge date, after which adherence
// cases are closed and no longer sent to the phone.
func aggregatedScores(props map[string]string, statuses map[time.Time]DoseStatus, start, latest, purge time.Time, dosesPerWeek int) {
	if start.After(purge) || latest.IsZero() {
		dayBefore := start.AddDate(0, 0, -1)
		props["aggregated_score_date_calculated"] = formatDate(dayBefore)
		props["expected_doses_taken"] = "0"
		props["aggregated_score_count_taken"] = "0"
		if latest.IsZero() {
			props["adherence_latest_date_recorded"] = formatDate(dayBefore)
		} else {
			props["adherence_latest_date_recorded"] = formatDate(latest)
		}
		return
	}

	calculated := purge
	if latest.Before(purge) {
		calculated = latest
	}
	props["adherence_latest_date_recorded"] = formatDate(latest)
	props["aggregated_score_date_calculated"] = formatDate(calculated)
	props["aggregated_score_count_taken"] = formatInt(CountDosesOfType(DoseTaken, statuses, Window{Start: start, End: calculated}))

	numDays := int(calculated.Sub(start).Hours()/24) + 1
	props["expected_doses_taken"] = formatInt(dosesPerWeek * numDays / 7)
}

// thresholdDates returns the day the nth dose was taken and the follow-up test date
// a week later, both empty when the threshold is not reached.
func thresholdDates(n int, statuses map[time.Time]DoseStatus) (crossed, expected string) {
	day, ok := DateOfNthDose(n, statuses)
	if !ok {
		return "", ""
	}
	return formatDate(day), formatDate(day.AddDate(0, 0, 7))
}
