package oilunits

import "math"

// Typical energy density of kerosene heating oil.
const DefaultKWHPerLitre = 10.35

func LitresToKWH(litres, kwhPerLitre float64) float64 {
	return litres * kwhPerLitre
}

// PercentToLitres converts a level percentage drop to litres for a tank
// of the given capacity.
func PercentToLitres(percent float64, capacityLitres int) float64 {
	return (percent / 100) * float64(capacityLitres)
}

// CostPerKWH converts a pence-per-litre oil price to pounds per kWh.
func CostPerKWH(pencePerLitre, kwhPerLitre float64) float64 {
	return pencePerLitre / 100 / kwhPerLitre
}

// Round1 rounds to one decimal place, the precision used for published
// consumption figures.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
