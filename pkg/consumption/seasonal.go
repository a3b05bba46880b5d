package consumption

import (
	"sort"
	"time"

	"github.com/willbeeching/boilerjuice/pkg/oilunits"
	"github.com/willbeeching/boilerjuice/pkg/types"
)

const dateKeyLayout = "2006-01-02"

// Season returns the meteorological season name for a point in time.
func Season(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}

// dailyTotals sums history entries sharing a calendar date. Same-day
// apportioned shares must collapse into one figure before any averaging
// or they would be double counted. Dates come back sorted ascending.
func dailyTotals(history []HistoryEntry) (map[string]float64, []string) {
	totals := make(map[string]float64, len(history))
	for _, e := range history {
		totals[e.Date.Format(dateKeyLayout)] += e.Litres
	}
	dates := make([]string, 0, len(totals))
	for d := range totals {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return totals, dates
}

// SeasonalStatsFrom buckets per-day consumption totals by season and by
// calendar month. Pure function over the history; returns nil when there
// is nothing to report.
func SeasonalStatsFrom(history []HistoryEntry, now time.Time) *types.SeasonalStats {
	totals, dates := dailyTotals(history)
	if len(dates) == 0 {
		return nil
	}

	perSeason := make(map[string][]float64)
	perMonth := make(map[string][]float64)
	for _, key := range dates {
		day, err := time.Parse(dateKeyLayout, key)
		if err != nil {
			continue
		}
		perSeason[Season(day)] = append(perSeason[Season(day)], totals[key])
		month := day.Month().String()
		perMonth[month] = append(perMonth[month], totals[key])
	}

	stats := &types.SeasonalStats{
		Seasons: make(map[string]types.SeasonStat, len(perSeason)),
		Monthly: make(map[string]float64, len(perMonth)),
	}
	for name, vals := range perSeason {
		stats.Seasons[name] = summarizeSeason(name, vals)
	}
	for month, vals := range perMonth {
		stats.Monthly[month] = oilunits.Round1(mean(vals))
	}

	current := Season(now)
	if st, ok := stats.Seasons[current]; ok {
		stats.CurrentSeason = st
	} else {
		stats.CurrentSeason = types.SeasonStat{Name: current}
	}
	return stats
}

func summarizeSeason(name string, vals []float64) types.SeasonStat {
	minVal, maxVal := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return types.SeasonStat{
		Name:    name,
		Avg:     oilunits.Round1(mean(vals)),
		Min:     oilunits.Round1(minVal),
		Max:     oilunits.Round1(maxVal),
		Samples: len(vals),
	}
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
