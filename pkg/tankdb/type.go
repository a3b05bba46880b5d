package tankdb

import "database/sql"

type ConsumptionStateRow struct {
	TankID              string          `db:"tank_id"`
	TotalConsumedLitres float64         `db:"total_consumed_litres"`
	TotalConsumedKWH    float64         `db:"total_consumed_kwh"`
	DailyRateLitres     float64         `db:"daily_rate_litres"`
	ReferenceVolume     sql.NullFloat64 `db:"reference_volume"`
	ReferenceLevel      sql.NullFloat64 `db:"reference_level"`
	// ISO-8601. Unparseable values load as absent, not as errors.
	LastUpdate sql.NullString `db:"last_update"`
}

type ConsumptionHistoryRow struct {
	TankID     string  `db:"tank_id"`
	RecordedAt string  `db:"recorded_at"` // ISO-8601
	Litres     float64 `db:"litres"`
}
