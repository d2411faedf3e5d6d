package casegraph

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted for timestamp-valued properties. Values without an offset are
// read as UTC; a bare date is midnight UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses a loosely formatted date or datetime property value.
// Offsets are preserved on the returned time so that Day reports the calendar date
// as written.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// Day truncates t to the calendar date in its own location, returned as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses value and returns its calendar date as midnight UTC.
func ParseDay(value string) (time.Time, error) {
	t, err := ParseTimestamp(value)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// AdherenceTime parses the adherence_date property.
func (c *Case) AdherenceTime() (time.Time, error) {
	t, err := ParseTimestamp(c.AdherenceDate())
	if err != nil {
		return time.Time{}, InvalidProperty(c.CaseID, "adherence_date", err)
	}
	return t, nil
}
