package consumption

import "time"

const (
	// Storage key used when no tank ID is configured or reported.
	DefaultTankKey = "default"

	// Daily rate is a rolling average over the most recent days that
	// actually recorded consumption.
	RollingDays = 7

	// History entries older than this are pruned every cycle.
	RetentionDays = 30

	// Last-resort days-until-empty heuristic: assume 2% of capacity
	// burned per day.
	fallbackDailyCapacityFraction = 0.02

	// Tolerance before the kWh total is rewritten from the litres total.
	kwhDriftTolerance = 0.1
)

// HistoryEntry is one recorded share of consumption attributed to a
// calendar day. Multiple entries may share a date; they are summed when
// daily totals are computed.
type HistoryEntry struct {
	Date   time.Time
	Litres float64
}

// State is the persisted consumption record for one tank.
//
// Invariants held after every mutation:
//   - TotalConsumedLitres never decreases except through Reset.
//   - TotalConsumedKWH tracks TotalConsumedLitres * kWh-per-litre within
//     kwhDriftTolerance.
//   - ReferenceVolume and ReferenceLevel are both set or both nil.
//   - History only holds entries from the last RetentionDays days.
type State struct {
	ReferenceVolume *float64
	ReferenceLevel  *float64

	TotalConsumedLitres   float64
	TotalConsumedKWH      float64
	DailyRateLitresPerDay float64

	History []HistoryEntry

	LastUpdate *time.Time
}

// Store is the durable backing for tracker state. Implementations may
// fail transiently; the tracker logs and carries on with its in-memory
// state as authoritative until the next successful save.
type Store interface {
	LoadState(tankID string) (*State, error)
	SaveState(tankID string, state *State) error
}
