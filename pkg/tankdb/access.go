package tankdb

import (
	"database/sql"
	"log"
	"time"

	"github.com/willbeeching/boilerjuice/pkg/consumption"
)

// StateStore adapts this package to the consumption.Store contract.
type StateStore struct{}

var _ consumption.Store = StateStore{}

// SaveState writes the full state for one tank in a single transaction.
// Last write wins per tank; the collector serializes writers per tank.
func (StateStore) SaveState(tankID string, state *consumption.State) error {
	db := GetDB()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var lastUpdate sql.NullString
	if state.LastUpdate != nil {
		lastUpdate = sql.NullString{String: state.LastUpdate.Format(time.RFC3339), Valid: true}
	}
	var refVolume, refLevel sql.NullFloat64
	if state.ReferenceVolume != nil {
		refVolume = sql.NullFloat64{Float64: *state.ReferenceVolume, Valid: true}
	}
	if state.ReferenceLevel != nil {
		refLevel = sql.NullFloat64{Float64: *state.ReferenceLevel, Valid: true}
	}

	_, err = tx.Exec(
		"INSERT OR REPLACE INTO consumption_state "+
			"(tank_id, total_consumed_litres, total_consumed_kwh, daily_rate_litres, reference_volume, reference_level, last_update) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?)",
		tankID,
		state.TotalConsumedLitres,
		state.TotalConsumedKWH,
		state.DailyRateLitresPerDay,
		refVolume,
		refLevel,
		lastUpdate,
	)
	if err != nil {
		return err
	}

	// History is rewritten whole; it is bounded by the 30 day retention
	// window so the rewrite stays small.
	_, err = tx.Exec("DELETE FROM consumption_history WHERE tank_id = ?", tankID)
	if err != nil {
		return err
	}
	for _, entry := range state.History {
		_, err = tx.Exec(
			"INSERT INTO consumption_history (tank_id, recorded_at, litres) "+
				"VALUES (?, ?, ?)",
			tankID,
			entry.Date.Format(time.RFC3339),
			entry.Litres,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadState reconstructs the state for one tank, or returns (nil, nil)
// when the tank has never been saved. A malformed last_update loads as
// absent and malformed history rows are dropped rather than failing the
// whole load.
func (StateStore) LoadState(tankID string) (*consumption.State, error) {
	db := GetDB()

	var row ConsumptionStateRow
	err := db.QueryRow(
		"SELECT tank_id, total_consumed_litres, total_consumed_kwh, daily_rate_litres, reference_volume, reference_level, last_update "+
			"FROM consumption_state WHERE tank_id = ?",
		tankID,
	).Scan(
		&row.TankID,
		&row.TotalConsumedLitres,
		&row.TotalConsumedKWH,
		&row.DailyRateLitres,
		&row.ReferenceVolume,
		&row.ReferenceLevel,
		&row.LastUpdate,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &consumption.State{
		TotalConsumedLitres:   row.TotalConsumedLitres,
		TotalConsumedKWH:      row.TotalConsumedKWH,
		DailyRateLitresPerDay: row.DailyRateLitres,
	}
	if row.ReferenceVolume.Valid {
		v := row.ReferenceVolume.Float64
		state.ReferenceVolume = &v
	}
	if row.ReferenceLevel.Valid {
		l := row.ReferenceLevel.Float64
		state.ReferenceLevel = &l
	}
	if row.LastUpdate.Valid {
		if ts, err := time.Parse(time.RFC3339, row.LastUpdate.String); err == nil {
			state.LastUpdate = &ts
		} else {
			log.Printf("Ignoring unparseable last_update %q for tank %s", row.LastUpdate.String, tankID)
		}
	}

	rows, err := db.Query(
		"SELECT recorded_at, litres FROM consumption_history "+
			"WHERE tank_id = ? ORDER BY recorded_at ASC",
		tankID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var hist ConsumptionHistoryRow
		if err := rows.Scan(&hist.RecordedAt, &hist.Litres); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339, hist.RecordedAt)
		if err != nil {
			log.Printf("Dropping corrupt history entry %q for tank %s", hist.RecordedAt, tankID)
			continue
		}
		state.History = append(state.History, consumption.HistoryEntry{
			Date:   ts,
			Litres: hist.Litres,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return state, nil
}
