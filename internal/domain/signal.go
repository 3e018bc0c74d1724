package domain

import "time"

// WindowStats holds the trend statistics of the short sub-window.
// It is always present on a CurrencySignal; SampleCount 0 means no ticks fell inside it.
type WindowStats struct {
	WindowMinutes     int
	SampleCount       int
	PercentageGain    float64
	SlopeAngleDegrees float64
	VolatilityFactor  float64
}

// CurrencySignal is the trend statistics for one currency over the primary window.
type CurrencySignal struct {
	BaseCurrency      string
	Currency          string
	WindowMinutes     int
	SampleCount       int
	CurrentPrice      float64 // Last price of the newest tick
	PastPrice         float64 // Last price of the oldest tick in the window
	PercentageGain    float64 // Projected % change over the window from the regression line
	Slope             float64 // Price units per minute
	SlopeAngleDegrees float64
	VolatilityFactor  float64 // R² of the regression, in [0,1]
	Volume24h         float64
	HighestBid        float64
	Short             WindowStats
	UpdatedAt         time.Time
}

// Pair returns the BASE_QUOTE pair the signal was computed for.
func (s CurrencySignal) Pair() string {
	return JoinPair(s.BaseCurrency, s.Currency)
}
