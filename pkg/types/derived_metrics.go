package types

// SeasonStat is the per-season daily consumption summary, rounded to one
// decimal place.
type SeasonStat struct {
	Name    string  `json:"name"`
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Samples int     `json:"samples"`
}

// SeasonalStats buckets per-day consumption totals by season and by
// calendar month. Recomputed on demand, never persisted as authoritative
// state.
type SeasonalStats struct {
	CurrentSeason SeasonStat            `json:"current_season"`
	Seasons       map[string]SeasonStat `json:"seasons"`
	// Month name -> average daily consumption in litres
	Monthly map[string]float64 `json:"monthly"`
}

// DerivedMetrics is the read-only result of one ingestion cycle, the
// values published to whatever surfaces them (HTTP, websocket, dashboard).
type DerivedMetrics struct {
	TankID string `json:"tank_id"`

	LevelPercentage *float64 `json:"level_percentage,omitempty"`
	VolumeLitres    *float64 `json:"volume_litres,omitempty"`
	CapacityLitres  *int     `json:"capacity_litres,omitempty"`
	HeightCM        *int     `json:"height_cm,omitempty"`

	TotalConsumedLitres   float64 `json:"total_consumed_litres"`
	TotalConsumedKWH      float64 `json:"total_consumed_kwh"`
	DailyRateLitresPerDay float64 `json:"daily_rate_litres_per_day"`

	DaysUntilEmpty *float64 `json:"days_until_empty,omitempty"`

	// One-shot estimate on the bootstrap cycle, for operator visibility
	// only. Never folded into the totals.
	EstimatedUsedLitres *float64 `json:"estimated_used_litres,omitempty"`

	CurrentPricePence *float64 `json:"current_price_pence,omitempty"`
	CostPerKWH        *float64 `json:"cost_per_kwh,omitempty"`

	Seasonal *SeasonalStats `json:"seasonal_stats,omitempty"`

	LastUpdate string `json:"last_update,omitempty"` // RFC3339, empty if never
}
