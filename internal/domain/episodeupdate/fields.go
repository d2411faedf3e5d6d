package episodeupdate

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// India is the calendar the adherence schedule is kept in.
var India = time.FixedZone("IST", 5*60*60+30*60)

// missingValue stands in for properties the episode does not have when diffing.
const missingValue = "--"

// UpdatedFields returns the proposed properties whose value differs from the
// existing one. Properties missing from existing compare as "--".
func UpdatedFields(existing, proposed map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range proposed {
		old, ok := existing[k]
		if !ok {
			old = missingValue
		}
		if old != v {
			out[k] = v
		}
	}
	return out
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func formatInt(n int) string {
	return strconv.Itoa(n)
}

// percentageScore is count/days as a percentage rounded to two places.
func percentageScore(count, days int) float64 {
	return math.Round(float64(count)/float64(days)*100*100) / 100
}

// formatScore renders scores with at least one decimal place: 100.0, 42.86.
func formatScore(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func unchanged(existing, proposed map[string]string) bool {
	for k, v := range proposed {
		if old, ok := existing[k]; !ok || old != v {
			return false
		}
	}
	return true
}
