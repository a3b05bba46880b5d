package types

import "encoding/json"

// TankReading is one poll's snapshot of the tank as scraped from the
// BoilerJuice portal. Optional fields are pointers because the portal
// omits them freely depending on account and page layout.
type TankReading struct {
	TankID    string `json:"tank_id"`
	Timestamp string `json:"timestamp"` // RFC3339, time of the scrape

	// The portal now reports a single oil level. Total and usable are
	// kept as separate fields in case they ever diverge again.
	TotalLevelPercentage  *float64 `json:"total_level_percentage,omitempty"`
	UsableLevelPercentage *float64 `json:"usable_level_percentage,omitempty"`

	CurrentVolumeLitres *float64 `json:"current_volume_litres,omitempty"`
	UsableVolumeLitres  *float64 `json:"usable_volume_litres,omitempty"`

	// Tank geometry, static but re-scraped on every poll
	CapacityLitres *int `json:"capacity_litres,omitempty"`
	HeightCM       *int `json:"height_cm,omitempty"`

	Name         string `json:"name,omitempty"`
	Shape        string `json:"shape,omitempty"`
	OilType      string `json:"oil_type,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`

	// Pence per litre from the kerosene prices page
	CurrentPricePence *float64 `json:"current_price_pence,omitempty"`
}

// Level returns the usable level percentage, falling back to the total
// level for older portal layouts that only exposed one of the two.
func (r *TankReading) Level() *float64 {
	if r.UsableLevelPercentage != nil {
		return r.UsableLevelPercentage
	}
	return r.TotalLevelPercentage
}

// Volume returns the usable volume, falling back to the current volume.
func (r *TankReading) Volume() *float64 {
	if r.UsableVolumeLitres != nil {
		return r.UsableVolumeLitres
	}
	return r.CurrentVolumeLitres
}

func (r *TankReading) ToJsonBytes() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

// ReadingFromJsonBytes parses a TankReading, returning nil on failure.
func ReadingFromJsonBytes(data []byte) *TankReading {
	var reading TankReading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil
	}
	return &reading
}
