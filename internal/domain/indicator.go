package domain

import "time"

// IndicatorPoint is one precomputed indicator value in long format.
// Corresponds to the indicator_values table.
type IndicatorPoint struct {
	Instrument string    `json:"instrument"`
	Date       time.Time `json:"date"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
}
