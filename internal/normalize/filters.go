package normalize

import (
	"math"
	"sort"
	"strings"
)

// Filter field naming: filter_<name>_remaining and filter_<name>_total.
const (
	filterPrefix    = "filter_"
	remainingSuffix = "_remaining"
	totalSuffix     = "_total"

	// DefaultFilterThreshold is the percentage below which a filter is low.
	DefaultFilterThreshold = 10

	// lowHoursWithoutTotal applies to filters that report only hours left.
	lowHoursWithoutTotal = 72
)

// FilterLevel is the derived state of one filter.
type FilterLevel struct {
	Name      string
	Remaining float64

	// Total and Percent are zero and -1 when the device reports no total.
	Total   float64
	Percent int

	Low bool
}

// Filters derives the level of every filter present in the status.
func Filters(s Status, thresholdPercent int) []FilterLevel {
	var out []FilterLevel
	for _, field := range s.Fields() {
		if !strings.HasPrefix(field, filterPrefix) || !strings.HasSuffix(field, remainingSuffix) {
			continue
		}
		remaining, ok := asFloat(s[field])
		if !ok {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(field, filterPrefix), remainingSuffix)
		lvl := FilterLevel{Name: name, Remaining: remaining, Percent: -1}

		if total, ok := asFloat(s[filterPrefix+name+totalSuffix]); ok && total > 0 {
			lvl.Total = total
			lvl.Percent = int(math.Round(100 * remaining / total)) //nolint:mnd // percent
			lvl.Low = lvl.Percent < thresholdPercent
		} else {
			lvl.Low = remaining < lowHoursWithoutTotal
		}
		out = append(out, lvl)
	}
	return out
}

// LowFilters returns the sorted names of filters below the threshold.
func LowFilters(s Status, thresholdPercent int) []string {
	var low []string
	for _, f := range Filters(s, thresholdPercent) {
		if f.Low {
			low = append(low, f.Name)
		}
	}
	sort.Strings(low)
	return low
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
