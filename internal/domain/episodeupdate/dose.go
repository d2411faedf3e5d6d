// Package episodeupdate recomputes the adherence, voucher and test summary
// properties stored on open episode cases.
package episodeupdate

import (
	"sort"
	"time"

	cg "github.com/enikshay/casetools/internal/domain/casegraph"
	"github.com/enikshay/casetools/internal/domain/hierarchy"
)

// Adherence values.
const (
	ValueMissedDose  = "missed_dose"
	ValueMissingData = "missing_data"
)

// DoseTakenIndicators are the adherence_value values that count as a dose taken.
var DoseTakenIndicators = map[string]bool{
	"directly_observed_dose": true,
	"unobserved_dose":        true,
	"self_administered_dose": true,
}

// HistoricalClosureReason marks enikshay adherence cases closed by the purge; they
// still count towards the day they record.
const HistoricalClosureReason = "historical_adherence"

// SourceEnikshay is the adherence_source of cases entered in the app itself.
const SourceEnikshay = "enikshay"

// AdherenceSources are the sources reported per window, in report order.
var AdherenceSources = []string{"99DOTS", "MERM", "treatment_supervisor", "other"}

// DoseStatus is the outcome recorded for one calendar day.
type DoseStatus struct {
	Taken   bool
	Missed  bool
	Unknown bool
	Source  string
}

// DoseKind selects which statuses CountDosesOfType counts.
type DoseKind int

const (
	DoseTaken DoseKind = iota
	DoseMissed
	DoseUnknown
)

func (s DoseStatus) is(kind DoseKind) bool {
	switch kind {
	case DoseTaken:
		return s.Taken
	case DoseMissed:
		return s.Missed
	case DoseUnknown:
		return s.Unknown
	}
	return false
}

// DoseKnown reports whether the adherence case records a taken or missed dose.
func DoseKnown(c *cg.Case) bool {
	v := c.Property("adherence_value")
	return DoseTakenIndicators[v] || v == ValueMissedDose
}

// DoseStatusByDay reduces adherence cases to one status per calendar date. Days
// whose relevant case is neither taken nor missed are left out of the map; callers
// treat absent days as unknown.
func DoseStatusByDay(cases []*cg.Case) (map[time.Time]DoseStatus, error) {
	byDay, err := hierarchy.GroupByDay(cases)
	if err != nil {
		return nil, err
	}
	out := make(map[time.Time]DoseStatus, len(byDay))
	for day, group := range byDay {
		c := relevantCase(group)
		if c == nil {
			continue
		}
		v := c.Property("adherence_value")
		switch {
		case DoseTakenIndicators[v]:
			source := c.Property("adherence_report_source")
			if source == "" {
				source = c.Property("adherence_source")
			}
			out[day] = DoseStatus{Taken: true, Source: source}
		case v == ValueMissedDose:
			out[day] = DoseStatus{Missed: true}
		}
	}
	return out, nil
}

// relevantCase picks the case that decides a day. Without enikshay-sourced cases the
// latest modified case wins, open or closed. Otherwise only enikshay cases that are
// open, or closed by the historical purge, are considered.
func relevantCase(cases []*cg.Case) *cg.Case {
	valid := cases
	hasEnikshay := false
	for _, c := range cases {
		if c.Property("adherence_source") == SourceEnikshay {
			hasEnikshay = true
			break
		}
	}
	if hasEnikshay {
		valid = cg.Filter(cases, func(c *cg.Case) bool {
			if c.Property("adherence_source") != SourceEnikshay {
				return false
			}
			return !c.Closed || c.Property("adherence_closure_reason") == HistoricalClosureReason
		})
	}
	var latest *cg.Case
	for _, c := range valid {
		if latest == nil || !c.ModifiedOn.Before(latest.ModifiedOn) {
			latest = c
		}
	}
	return latest
}

// Window is an inclusive range of calendar days. The zero Window covers all days.
type Window struct {
	Start, End time.Time
}

// Between returns the window [start, end] over calendar dates.
func Between(start, end time.Time) Window {
	return Window{Start: cg.Day(start), End: cg.Day(end)}
}

func (w Window) all() bool { return w.Start.IsZero() && w.End.IsZero() }

func (w Window) Contains(day time.Time) bool {
	if w.all() {
		return true
	}
	return !day.Before(w.Start) && !day.After(w.End)
}

// CountDosesOfType counts the days of kind inside w.
func CountDosesOfType(kind DoseKind, statuses map[time.Time]DoseStatus, w Window) int {
	n := 0
	for day, s := range statuses {
		if s.is(kind) && w.Contains(day) {
			n++
		}
	}
	return n
}

// CountDosesTakenBySource counts taken days inside w per known source. Every known
// source is present in the result.
func CountDosesTakenBySource(statuses map[time.Time]DoseStatus, w Window) map[string]int {
	counts := make(map[string]int, len(AdherenceSources))
	known := make(map[string]bool, len(AdherenceSources))
	for _, s := range AdherenceSources {
		counts[s] = 0
		known[s] = true
	}
	for day, s := range statuses {
		if s.Taken && known[s.Source] && w.Contains(day) {
			counts[s.Source]++
		}
	}
	return counts
}

// DateOfNthDose returns the day on which the nth taken dose was recorded.
func DateOfNthDose(n int, statuses map[time.Time]DoseStatus) (time.Time, bool) {
	if n <= 0 {
		return time.Time{}, false
	}
	days := make([]time.Time, 0, len(statuses))
	for day, s := range statuses {
		if s.Taken {
			days = append(days, day)
		}
	}
	if len(days) < n {
		return time.Time{}, false
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days[n-1], true
}
