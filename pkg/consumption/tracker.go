package consumption

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/willbeeching/boilerjuice/pkg/oilunits"
	"github.com/willbeeching/boilerjuice/pkg/types"
)

// Tracker turns successive, irregularly timed tank readings into
// monotonically accumulating consumption totals and a smoothed daily
// rate. One Tracker per tank; methods are safe for concurrent use but
// callers are expected to serialize polls per tank.
type Tracker struct {
	mu          sync.Mutex
	tankID      string
	kwhPerLitre float64
	store       Store
	state       State
	lastReading *types.TankReading
	log         *logrus.Entry
}

func NewTracker(tankID string, kwhPerLitre float64, store Store) *Tracker {
	if tankID == "" {
		tankID = DefaultTankKey
	}
	if kwhPerLitre <= 0 {
		kwhPerLitre = oilunits.DefaultKWHPerLitre
	}
	return &Tracker{
		tankID:      tankID,
		kwhPerLitre: kwhPerLitre,
		store:       store,
		log:         logrus.WithField("tank_id", tankID),
	}
}

// Hydrate loads persisted state. Must complete before the first Ingest so
// the baseline references are observed; the registry guarantees this.
func (t *Tracker) Hydrate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	stored, err := t.store.LoadState(t.tankID)
	if err != nil {
		t.log.WithError(err).Warn("Could not load stored consumption state, starting fresh")
		return
	}
	if stored == nil {
		return
	}

	// A half-written reference pair degrades to zero rather than
	// breaking the both-or-neither invariant.
	if stored.ReferenceVolume != nil && stored.ReferenceLevel == nil {
		zero := 0.0
		stored.ReferenceLevel = &zero
	}
	if stored.ReferenceLevel != nil && stored.ReferenceVolume == nil {
		zero := 0.0
		stored.ReferenceVolume = &zero
	}

	t.state = *stored
	t.log.WithFields(logrus.Fields{
		"total_litres": oilunits.Round1(t.state.TotalConsumedLitres),
		"daily_litres": oilunits.Round1(t.state.DailyRateLitresPerDay),
		"history_len":  len(t.state.History),
	}).Info("Loaded stored consumption state")
}

// State returns a copy of the current state, mainly for inspection.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.state
	st.History = append([]HistoryEntry(nil), t.state.History...)
	return st
}

// Ingest processes one poll's reading taken at now and returns the
// published metrics for this cycle. Degraded or missing signal never
// errors; the dependent branch is simply skipped.
func (t *Tracker) Ingest(reading *types.TankReading, now time.Time) types.DerivedMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastReading = reading
	s := &t.state

	// Bootstrap: no baseline yet, establish one without registering any
	// consumption delta.
	if s.ReferenceVolume == nil || s.ReferenceLevel == nil {
		return t.bootstrapLocked(reading, now)
	}

	curVol := reading.Volume()
	curLvl := reading.Level()

	detected := false
	refill := false
	var delta float64

	// Volume delta is the preferred signal when the portal exposes it.
	if curVol != nil {
		switch {
		case *curVol > *s.ReferenceVolume:
			refill = true
			t.log.WithFields(logrus.Fields{
				"litres_added": oilunits.Round1(*curVol - *s.ReferenceVolume),
				"from":         *s.ReferenceVolume,
				"to":           *curVol,
			}).Info("Detected tank refill from volume change")
			// Next detected drop must not be attributed to the refill gap
			s.LastUpdate = &now
		case *curVol < *s.ReferenceVolume:
			delta = *s.ReferenceVolume - *curVol
			detected = true
			t.log.WithFields(logrus.Fields{
				"litres_used": oilunits.Round1(delta),
				"from":        *s.ReferenceVolume,
				"to":          *curVol,
			}).Info("Detected consumption from volume change")
		}
	}

	// Percentage fallback, only when the volume signal saw no movement.
	if !detected && !refill && curLvl != nil && reading.CapacityLitres != nil {
		switch {
		case *curLvl > *s.ReferenceLevel:
			refill = true
			t.log.WithFields(logrus.Fields{
				"percent_added": oilunits.Round1(*curLvl - *s.ReferenceLevel),
				"capacity":      *reading.CapacityLitres,
			}).Info("Detected tank refill from level change")
			s.LastUpdate = &now
		case *curLvl < *s.ReferenceLevel:
			delta = oilunits.PercentToLitres(*s.ReferenceLevel-*curLvl, *reading.CapacityLitres)
			detected = true
			t.log.WithFields(logrus.Fields{
				"percent_used": oilunits.Round1(*s.ReferenceLevel - *curLvl),
				"litres_used":  oilunits.Round1(delta),
				"capacity":     *reading.CapacityLitres,
			}).Info("Detected consumption from level change")
		}
	}

	if detected {
		entries := apportion(delta, s.LastUpdate, now)
		s.History = append(s.History, entries...)
		s.TotalConsumedLitres += delta
		s.TotalConsumedKWH += oilunits.LitresToKWH(delta, t.kwhPerLitre)
		s.LastUpdate = &now
	}

	// References track the latest reading regardless of branch taken.
	t.updateReferencesLocked(curVol, curLvl)

	// Recomputed every cycle, not only on detection, so stale entries age
	// out of the rolling window even across quiet polls.
	s.History = prune(s.History, now)
	s.DailyRateLitresPerDay = rollingDailyRate(s.History)

	t.correctKWHLocked()
	t.persistLocked()

	return t.metricsLocked(reading, now)
}

func (t *Tracker) bootstrapLocked(reading *types.TankReading, now time.Time) types.DerivedMetrics {
	curVol := reading.Volume()
	curLvl := reading.Level()

	var estimated *float64
	if curVol != nil || curLvl != nil {
		t.updateReferencesLocked(curVol, curLvl)
		t.state.LastUpdate = &now
		t.log.Info("First reading, setting baseline without calculating consumption")

		// Informational only: roughly how much of the tank has been
		// burned already, based on the missing fraction of capacity.
		if reading.CapacityLitres != nil && curLvl != nil && *curLvl < 100 {
			est := oilunits.Round1(oilunits.PercentToLitres(100-*curLvl, *reading.CapacityLitres))
			estimated = &est
			t.log.WithFields(logrus.Fields{
				"estimated_litres": est,
				"level_percent":    *curLvl,
			}).Info("Estimated oil used so far based on current level")
		}
		t.persistLocked()
	}

	m := t.metricsLocked(reading, now)
	m.EstimatedUsedLitres = estimated
	return m
}

// updateReferencesLocked records the current reading as the new baseline.
// A missing counterpart field is stored as zero so the reference pair
// stays both-present; zero references can only ever look like a refill,
// never phantom consumption.
func (t *Tracker) updateReferencesLocked(curVol, curLvl *float64) {
	if curVol == nil && curLvl == nil {
		return
	}
	vol, lvl := 0.0, 0.0
	if curVol != nil {
		vol = *curVol
	}
	if curLvl != nil {
		lvl = *curLvl
	}
	t.state.ReferenceVolume = &vol
	t.state.ReferenceLevel = &lvl
}

// Reset zeroes all accumulated totals and clears the baseline. The next
// reading takes the bootstrap path.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = State{}
	t.log.Info("Consumption counters reset")
	t.persistLocked()
}

// ForceReference sets the current reading as the new baseline without
// touching totals or history. Used to correct drift manually.
func (t *Tracker) ForceReference(reading *types.TankReading, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.forceReferenceLocked(reading, now)
	t.persistLocked()
}

func (t *Tracker) forceReferenceLocked(reading *types.TankReading, now time.Time) {
	vol, lvl := 0.0, 0.0
	if v := reading.Volume(); v != nil {
		vol = *v
	}
	if l := reading.Level(); l != nil {
		lvl = *l
	}
	t.state.ReferenceVolume = &vol
	t.state.ReferenceLevel = &lvl
	t.state.LastUpdate = &now
	t.lastReading = reading
	t.log.WithFields(logrus.Fields{
		"reference_volume": vol,
		"reference_level":  lvl,
	}).Info("Force-set consumption reference values")
}

// SetConsumption overwrites the accumulated totals, and optionally the
// daily rate. The last seen reading becomes the new baseline so future
// deltas are computed from the overridden figure, not stale references.
// Values are assumed validated non-negative at the boundary.
func (t *Tracker) SetConsumption(totalLitres float64, dailyLitres *float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.TotalConsumedLitres = totalLitres
	t.state.TotalConsumedKWH = oilunits.LitresToKWH(totalLitres, t.kwhPerLitre)
	if dailyLitres != nil {
		t.state.DailyRateLitresPerDay = *dailyLitres
	}
	if t.lastReading != nil {
		t.forceReferenceLocked(t.lastReading, now)
	}
	t.log.WithFields(logrus.Fields{
		"total_litres": totalLitres,
		"total_kwh":    oilunits.Round1(t.state.TotalConsumedKWH),
	}).Info("Consumption totals overridden")
	t.persistLocked()
}

// DaysUntilEmpty estimates how long the given volume lasts at the current
// daily rate, falling back to a flat 2%-of-capacity-per-day guess when no
// rate has been observed yet. Returns nil when no estimate is possible.
func (t *Tracker) DaysUntilEmpty(currentVolume float64) *float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.daysUntilEmptyLocked(currentVolume, t.lastReading)
}

func (t *Tracker) daysUntilEmptyLocked(currentVolume float64, reading *types.TankReading) *float64 {
	if t.state.DailyRateLitresPerDay > 0 {
		d := oilunits.Round1(currentVolume / t.state.DailyRateLitresPerDay)
		return &d
	}
	if reading != nil && reading.CapacityLitres != nil {
		if lvl := reading.Level(); lvl != nil && *lvl > 0 {
			estimatedDaily := float64(*reading.CapacityLitres) * fallbackDailyCapacityFraction
			d := oilunits.Round1(currentVolume / estimatedDaily)
			return &d
		}
	}
	return nil
}

func (t *Tracker) correctKWHLocked() {
	s := &t.state
	expected := oilunits.LitresToKWH(s.TotalConsumedLitres, t.kwhPerLitre)
	if math.Abs(s.TotalConsumedKWH-expected) > kwhDriftTolerance {
		t.log.WithFields(logrus.Fields{
			"stored_kwh":    s.TotalConsumedKWH,
			"corrected_kwh": expected,
		}).Info("Correcting drifted kWh total")
		s.TotalConsumedKWH = expected
	}
}

// persistLocked writes the full state. A failed save is logged and
// swallowed; the in-memory state stays authoritative and the next
// successful save catches up.
func (t *Tracker) persistLocked() {
	if t.store == nil {
		return
	}
	if err := t.store.SaveState(t.tankID, &t.state); err != nil {
		t.log.WithError(err).Warn("Failed to persist consumption state")
	}
}

func (t *Tracker) metricsLocked(reading *types.TankReading, now time.Time) types.DerivedMetrics {
	s := &t.state
	m := types.DerivedMetrics{
		TankID:                t.tankID,
		LevelPercentage:       reading.Level(),
		VolumeLitres:          reading.Volume(),
		CapacityLitres:        reading.CapacityLitres,
		HeightCM:              reading.HeightCM,
		TotalConsumedLitres:   s.TotalConsumedLitres,
		TotalConsumedKWH:      s.TotalConsumedKWH,
		DailyRateLitresPerDay: s.DailyRateLitresPerDay,
		CurrentPricePence:     reading.CurrentPricePence,
	}
	if reading.CurrentPricePence != nil {
		cost := oilunits.CostPerKWH(*reading.CurrentPricePence, t.kwhPerLitre)
		m.CostPerKWH = &cost
	}
	if v := reading.Volume(); v != nil {
		m.DaysUntilEmpty = t.daysUntilEmptyLocked(*v, reading)
	}
	if len(s.History) > 0 {
		m.Seasonal = SeasonalStatsFrom(s.History, now)
	}
	if s.LastUpdate != nil {
		m.LastUpdate = s.LastUpdate.Format(time.RFC3339)
	}
	return m
}

// apportion distributes a detected consumption delta across the calendar
// days between the last update and now, one even share per day in the
// inclusive span, so a multi-day gap between polls does not pile onto a
// single day. Shares always sum to delta.
func apportion(delta float64, lastUpdate *time.Time, now time.Time) []HistoryEntry {
	if lastUpdate == nil {
		return []HistoryEntry{{Date: now, Litres: delta}}
	}

	daysElapsed := now.Sub(*lastUpdate).Hours() / 24
	if daysElapsed < 1 {
		// Same-day poll, or a clock that stepped backwards: treat as
		// same-day rather than emitting negative history.
		return []HistoryEntry{{Date: now, Litres: delta}}
	}

	first := dateOf(*lastUpdate)
	last := dateOf(now)

	numDays := 0
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		numDays++
	}

	share := delta / float64(numDays)
	entries := make([]HistoryEntry, 0, numDays)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		entries = append(entries, HistoryEntry{Date: day, Litres: share})
	}
	return entries
}

// dateOf truncates to midnight of the same calendar day.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func prune(history []HistoryEntry, now time.Time) []HistoryEntry {
	cutoff := now.AddDate(0, 0, -RetentionDays)
	kept := history[:0]
	for _, e := range history {
		if !e.Date.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// rollingDailyRate averages the most recent RollingDays distinct dates
// that recorded consumption. Days without data are absent, not
// zero-filled.
func rollingDailyRate(history []HistoryEntry) float64 {
	totals, dates := dailyTotals(history)
	if len(dates) == 0 {
		return 0
	}
	if len(dates) > RollingDays {
		dates = dates[len(dates)-RollingDays:]
	}
	sum := 0.0
	for _, d := range dates {
		sum += totals[d]
	}
	return sum / float64(len(dates))
}
