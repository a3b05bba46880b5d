package consumption

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willbeeching/boilerjuice/pkg/types"
)

// memStore is an in-memory Store for tracker tests.
type memStore struct {
	saved    map[string]State
	saveErr  error
	numSaves int
}

func newMemStore() *memStore {
	return &memStore{saved: make(map[string]State)}
}

func (m *memStore) LoadState(tankID string) (*State, error) {
	st, ok := m.saved[tankID]
	if !ok {
		return nil, nil
	}
	cp := st
	cp.History = append([]HistoryEntry(nil), st.History...)
	return &cp, nil
}

func (m *memStore) SaveState(tankID string, state *State) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *state
	cp.History = append([]HistoryEntry(nil), state.History...)
	m.saved[tankID] = cp
	m.numSaves++
	return nil
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func volumeReading(volume float64) *types.TankReading {
	return &types.TankReading{
		TankID:              "12345",
		UsableVolumeLitres:  fptr(volume),
		CurrentVolumeLitres: fptr(volume),
	}
}

func fullReading(volume, level float64, capacity int) *types.TankReading {
	r := volumeReading(volume)
	r.TotalLevelPercentage = fptr(level)
	r.UsableLevelPercentage = fptr(level)
	r.CapacityLitres = iptr(capacity)
	return r
}

var t0 = time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

func TestBootstrapSetsReferenceWithoutConsumption(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())

	metrics := tr.Ingest(volumeReading(500), t0)

	assert.Zero(t, metrics.TotalConsumedLitres)
	assert.Zero(t, metrics.TotalConsumedKWH)

	st := tr.State()
	require.NotNil(t, st.ReferenceVolume)
	assert.Equal(t, 500.0, *st.ReferenceVolume)
	require.NotNil(t, st.LastUpdate)
	assert.True(t, st.LastUpdate.Equal(t0))
	assert.Empty(t, st.History)
}

func TestBootstrapEstimateIsInformationalOnly(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())

	metrics := tr.Ingest(fullReading(500, 50, 1000), t0)

	require.NotNil(t, metrics.EstimatedUsedLitres)
	assert.Equal(t, 500.0, *metrics.EstimatedUsedLitres)
	assert.Zero(t, metrics.TotalConsumedLitres)

	// The estimate is one-shot: it does not reappear on later cycles.
	metrics = tr.Ingest(fullReading(500, 50, 1000), t0.Add(time.Hour))
	assert.Nil(t, metrics.EstimatedUsedLitres)
}

func TestBootstrapWithNoSignalKeepsBootstrapping(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())

	tr.Ingest(&types.TankReading{TankID: "12345"}, t0)

	st := tr.State()
	assert.Nil(t, st.ReferenceVolume)
	assert.Nil(t, st.ReferenceLevel)
	assert.Nil(t, st.LastUpdate)

	// The first real reading still takes the bootstrap branch.
	metrics := tr.Ingest(volumeReading(480), t0.Add(time.Hour))
	assert.Zero(t, metrics.TotalConsumedLitres)
}

func TestSingleDayConsumption(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(500), t0)

	metrics := tr.Ingest(volumeReading(480), t0.Add(2*time.Hour))

	assert.InDelta(t, 20.0, metrics.TotalConsumedLitres, 1e-9)
	assert.InDelta(t, 20.0*10.35, metrics.TotalConsumedKWH, 0.1)
	assert.InDelta(t, 20.0, metrics.DailyRateLitresPerDay, 1e-9)

	st := tr.State()
	require.Len(t, st.History, 1)
	assert.InDelta(t, 20.0, st.History[0].Litres, 1e-9)
	assert.Equal(t, t0.Day(), st.History[0].Date.Day())
}

func TestMultiDayApportionment(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(500), t0)

	metrics := tr.Ingest(volumeReading(460), t0.Add(72*time.Hour))

	assert.InDelta(t, 40.0, metrics.TotalConsumedLitres, 1e-9)

	st := tr.State()
	require.Len(t, st.History, 4)
	sum := 0.0
	for _, e := range st.History {
		assert.InDelta(t, 10.0, e.Litres, 1e-9)
		sum += e.Litres
	}
	assert.InDelta(t, 40.0, sum, 1e-9)
	// One entry per calendar day in the inclusive span
	assert.Equal(t, 10, st.History[0].Date.Day())
	assert.Equal(t, 13, st.History[3].Date.Day())

	assert.InDelta(t, 10.0, metrics.DailyRateLitresPerDay, 1e-9)
}

func TestApportionmentSumsToDelta(t *testing.T) {
	last := t0
	for _, gap := range []time.Duration{
		30 * time.Minute,
		25 * time.Hour,
		5*24*time.Hour + 7*time.Hour,
		14 * 24 * time.Hour,
	} {
		entries := apportion(33.3, &last, t0.Add(gap))
		sum := 0.0
		for _, e := range entries {
			sum += e.Litres
		}
		assert.InDelta(t, 33.3, sum, 1e-9, "gap %v", gap)
	}
}

func TestRefillDoesNotIncreaseTotals(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(100), t0)

	refillTime := t0.Add(48 * time.Hour)
	metrics := tr.Ingest(volumeReading(400), refillTime)

	assert.Zero(t, metrics.TotalConsumedLitres)

	st := tr.State()
	require.NotNil(t, st.ReferenceVolume)
	assert.Equal(t, 400.0, *st.ReferenceVolume)
	// The refill resets the gap so the next drop is not spread over it
	require.NotNil(t, st.LastUpdate)
	assert.True(t, st.LastUpdate.Equal(refillTime))
}

func TestConsumptionAfterRefillSpreadsFromRefill(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(100), t0)
	tr.Ingest(volumeReading(400), t0.Add(10*24*time.Hour)) // refill after a long gap

	// A drop two hours later is same-day, not spread over the 10 days
	metrics := tr.Ingest(volumeReading(390), t0.Add(10*24*time.Hour+2*time.Hour))

	assert.InDelta(t, 10.0, metrics.TotalConsumedLitres, 1e-9)
	st := tr.State()
	require.Len(t, st.History, 1)
	assert.InDelta(t, 10.0, st.History[0].Litres, 1e-9)
}

func TestPercentageFallbackWhenNoVolume(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())

	first := &types.TankReading{
		UsableLevelPercentage: fptr(80),
		CapacityLitres:        iptr(1000),
	}
	tr.Ingest(first, t0)

	second := &types.TankReading{
		UsableLevelPercentage: fptr(75),
		CapacityLitres:        iptr(1000),
	}
	metrics := tr.Ingest(second, t0.Add(3*time.Hour))

	assert.InDelta(t, 50.0, metrics.TotalConsumedLitres, 1e-9)
}

func TestPercentageFallbackSkippedWithoutCapacity(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())

	tr.Ingest(&types.TankReading{UsableLevelPercentage: fptr(80)}, t0)
	metrics := tr.Ingest(&types.TankReading{UsableLevelPercentage: fptr(75)}, t0.Add(time.Hour))

	// No capacity means no litres figure can be derived
	assert.Zero(t, metrics.TotalConsumedLitres)
}

func TestVolumeSignalTakesPrecedence(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(fullReading(500, 50, 1000), t0)

	// Volume dropped 20 L while the level dropped 10% (100 L worth).
	// Only the volume delta counts.
	metrics := tr.Ingest(fullReading(480, 40, 1000), t0.Add(time.Hour))

	assert.InDelta(t, 20.0, metrics.TotalConsumedLitres, 1e-9)
}

func TestVolumeRefillSkipsPercentageInterpretation(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(fullReading(100, 50, 1000), t0)

	// Volume rose (refill) while the scraped level looks lower. The
	// refill wins; no consumption is registered.
	metrics := tr.Ingest(fullReading(400, 40, 1000), t0.Add(time.Hour))

	assert.Zero(t, metrics.TotalConsumedLitres)
}

func TestUnchangedReadingIsNoOp(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(500), t0)
	before := tr.State()

	tr.Ingest(volumeReading(500), t0.Add(6*time.Hour))

	after := tr.State()
	assert.Equal(t, before.TotalConsumedLitres, after.TotalConsumedLitres)
	assert.Empty(t, after.History)
	require.NotNil(t, after.LastUpdate)
	assert.True(t, after.LastUpdate.Equal(*before.LastUpdate))
}

func TestMonotonicTotalsAcrossMixedSequence(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())

	volumes := []float64{500, 480, 480, 495, 700, 690, 688, 900, 850}
	prevTotal := 0.0
	for i, v := range volumes {
		metrics := tr.Ingest(volumeReading(v), t0.Add(time.Duration(i)*6*time.Hour))
		assert.GreaterOrEqual(t, metrics.TotalConsumedLitres, prevTotal)
		prevTotal = metrics.TotalConsumedLitres
	}
	// 20 + 12 (refill at 495->700 ignored, 700->690->688) + 50 (900->850)
	assert.InDelta(t, 82.0, prevTotal, 1e-9)
}

func TestKWHConsistencyAfterEveryIngest(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())

	volumes := []float64{500, 470, 440, 600, 580}
	for i, v := range volumes {
		metrics := tr.Ingest(volumeReading(v), t0.Add(time.Duration(i)*24*time.Hour))
		assert.InDelta(t, metrics.TotalConsumedLitres*10.35, metrics.TotalConsumedKWH, 0.1)
	}
}

func TestKWHDriftIsCorrected(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(500), t0)
	tr.Ingest(volumeReading(480), t0.Add(time.Hour))

	// Simulate a partial update in stored state
	tr.state.TotalConsumedKWH = 999

	metrics := tr.Ingest(volumeReading(480), t0.Add(2*time.Hour))
	assert.InDelta(t, 20.0*10.35, metrics.TotalConsumedKWH, 0.1)
}

func TestClockStepBackwardsClampsToSameDay(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(500), t0)

	// Host clock stepped back two days
	metrics := tr.Ingest(volumeReading(490), t0.Add(-48*time.Hour))

	assert.InDelta(t, 10.0, metrics.TotalConsumedLitres, 1e-9)
	st := tr.State()
	require.Len(t, st.History, 1)
	assert.InDelta(t, 10.0, st.History[0].Litres, 1e-9)
}

func TestHistoryPrunedAfterRetentionWindow(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(500), t0)
	tr.Ingest(volumeReading(480), t0.Add(2*time.Hour))

	// A quiet poll 40 days later ages the old entry out
	tr.Ingest(volumeReading(480), t0.Add(40*24*time.Hour))

	st := tr.State()
	assert.Empty(t, st.History)
	assert.Zero(t, st.DailyRateLitresPerDay)
}

func TestRollingRateUsesAtMostSevenDaysWithData(t *testing.T) {
	var history []HistoryEntry
	for day := 1; day <= 10; day++ {
		history = append(history, HistoryEntry{Date: t0.AddDate(0, 0, day), Litres: float64(day)})
	}

	// Mean of the last 7 daily totals: days 4..10
	expected := (4.0 + 5 + 6 + 7 + 8 + 9 + 10) / 7
	assert.InDelta(t, expected, rollingDailyRate(history), 1e-9)

	// Apportioned shares landing on the same date collapse into one day
	history = append(history, HistoryEntry{Date: t0.AddDate(0, 0, 10), Litres: 3})
	expected = (4.0 + 5 + 6 + 7 + 8 + 9 + 13) / 7
	assert.InDelta(t, expected, rollingDailyRate(history), 1e-9)

	// Fewer days than the window averages over what exists
	assert.InDelta(t, 2.0, rollingDailyRate(history[:3]), 1e-9)
	assert.Zero(t, rollingDailyRate(nil))
}

func TestResetClearsEverything(t *testing.T) {
	store := newMemStore()
	tr := NewTracker("12345", 0, store)
	tr.Ingest(volumeReading(500), t0)
	tr.Ingest(volumeReading(350), t0.Add(24*time.Hour))
	require.Greater(t, tr.State().TotalConsumedLitres, 0.0)

	tr.Reset()

	st := tr.State()
	assert.Zero(t, st.TotalConsumedLitres)
	assert.Zero(t, st.TotalConsumedKWH)
	assert.Zero(t, st.DailyRateLitresPerDay)
	assert.Nil(t, st.ReferenceVolume)
	assert.Nil(t, st.ReferenceLevel)
	assert.Nil(t, st.LastUpdate)
	assert.Empty(t, st.History)

	// The reset is persisted too
	saved := store.saved["12345"]
	assert.Zero(t, saved.TotalConsumedLitres)
	assert.Nil(t, saved.ReferenceVolume)
}

func TestForceReferencePreservesTotals(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(500), t0)
	tr.Ingest(volumeReading(450), t0.Add(24*time.Hour))
	totalBefore := tr.State().TotalConsumedLitres

	forceTime := t0.Add(30 * time.Hour)
	tr.ForceReference(volumeReading(600), forceTime)

	st := tr.State()
	assert.Equal(t, totalBefore, st.TotalConsumedLitres)
	require.NotNil(t, st.ReferenceVolume)
	assert.Equal(t, 600.0, *st.ReferenceVolume)
	require.NotNil(t, st.LastUpdate)
	assert.True(t, st.LastUpdate.Equal(forceTime))
}

func TestSetConsumptionOverridesBaseline(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	tr.Ingest(volumeReading(500), t0)
	tr.Ingest(volumeReading(480), t0.Add(time.Hour))

	daily := 5.0
	tr.SetConsumption(150, &daily, t0.Add(2*time.Hour))

	st := tr.State()
	assert.Equal(t, 150.0, st.TotalConsumedLitres)
	assert.InDelta(t, 150*10.35, st.TotalConsumedKWH, 0.1)
	assert.Equal(t, 5.0, st.DailyRateLitresPerDay)
	// Baseline moved to the last seen reading
	require.NotNil(t, st.ReferenceVolume)
	assert.Equal(t, 480.0, *st.ReferenceVolume)

	// Future deltas add on top of the override
	metrics := tr.Ingest(volumeReading(470), t0.Add(3*time.Hour))
	assert.InDelta(t, 160.0, metrics.TotalConsumedLitres, 1e-9)
}

func TestDaysUntilEmpty(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())

	// No rate and no reading: no estimate possible
	assert.Nil(t, tr.DaysUntilEmpty(300))

	// No rate yet, but capacity and level known: 2%-of-capacity fallback
	tr.Ingest(fullReading(500, 50, 1000), t0)
	d := tr.DaysUntilEmpty(500)
	require.NotNil(t, d)
	assert.InDelta(t, 25.0, *d, 1e-9) // 500 / (1000*0.02)

	// With an observed rate the fallback is ignored
	tr.Ingest(fullReading(480, 48, 1000), t0.Add(12*time.Hour))
	d = tr.DaysUntilEmpty(480)
	require.NotNil(t, d)
	assert.InDelta(t, 24.0, *d, 1e-9) // 480 / 20 per day
}

func TestMetricsCarryPriceAndCost(t *testing.T) {
	tr := NewTracker("12345", 0, newMemStore())
	reading := volumeReading(500)
	reading.CurrentPricePence = fptr(62.1)

	metrics := tr.Ingest(reading, t0)

	require.NotNil(t, metrics.CurrentPricePence)
	assert.Equal(t, 62.1, *metrics.CurrentPricePence)
	require.NotNil(t, metrics.CostPerKWH)
	assert.InDelta(t, 62.1/100/10.35, *metrics.CostPerKWH, 1e-9)
}

func TestHydrateRestoresBaseline(t *testing.T) {
	store := newMemStore()
	first := NewTracker("12345", 0, store)
	first.Ingest(volumeReading(500), t0)
	first.Ingest(volumeReading(470), t0.Add(24*time.Hour))

	// A fresh tracker over the same store picks up where it left off
	second := NewTracker("12345", 0, store)
	second.Hydrate()

	st := second.State()
	assert.InDelta(t, 30.0, st.TotalConsumedLitres, 1e-9)
	require.NotNil(t, st.ReferenceVolume)
	assert.Equal(t, 470.0, *st.ReferenceVolume)

	// And the next drop computes against the restored reference, not the
	// bootstrap branch
	metrics := second.Ingest(volumeReading(460), t0.Add(25*time.Hour))
	assert.InDelta(t, 40.0, metrics.TotalConsumedLitres, 1e-9)
}

func TestFailedSaveKeepsInMemoryStateAuthoritative(t *testing.T) {
	store := newMemStore()
	tr := NewTracker("12345", 0, store)
	tr.Ingest(volumeReading(500), t0)

	store.saveErr = errors.New("disk full")
	metrics := tr.Ingest(volumeReading(480), t0.Add(time.Hour))
	assert.InDelta(t, 20.0, metrics.TotalConsumedLitres, 1e-9)

	// Next successful save catches up
	store.saveErr = nil
	tr.Ingest(volumeReading(470), t0.Add(2*time.Hour))
	assert.InDelta(t, 30.0, store.saved["12345"].TotalConsumedLitres, 1e-9)
}

func TestRegistryDefaultsAndReuse(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, 0)

	a := reg.Tracker("")
	b := reg.Tracker(DefaultTankKey)
	assert.Same(t, a, b)

	c := reg.Tracker("99999")
	assert.NotSame(t, a, c)
	assert.ElementsMatch(t, []string{DefaultTankKey, "99999"}, reg.TankIDs())
}
