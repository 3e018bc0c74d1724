package signal

import (
	"fmt"
	"math"
	"sort"

	"trendBot/internal/domain"
	"trendBot/internal/ports"
)

// Aggregate fits a trend through ticks of a single currency and reports it as a signal over windowMinutes.
// The caller restricts ticks to the window; Aggregate only orders them.
func Aggregate(ticks []domain.Tick, windowMinutes int) (domain.CurrencySignal, error) {
	if len(ticks) == 0 {
		return domain.CurrencySignal{}, fmt.Errorf("aggregate %d minute window: %w", windowMinutes, ports.ErrInsufficientData)
	}

	ordered := make([]domain.Tick, len(ticks))
	copy(ordered, ticks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	oldest, newest := ordered[0], ordered[len(ordered)-1]
	samples := make([]Sample, 0, len(ordered))
	for _, t := range ordered {
		samples = append(samples, Sample{
			X: t.Timestamp.Sub(oldest.Timestamp).Minutes(),
			Y: t.Last,
		})
	}

	reg, err := Fit(samples)
	if err != nil {
		return domain.CurrencySignal{}, err
	}

	sig := domain.CurrencySignal{
		WindowMinutes:    windowMinutes,
		SampleCount:      len(ordered),
		CurrentPrice:     newest.Last,
		PastPrice:        oldest.Last,
		Slope:            reg.Slope,
		VolatilityFactor: reg.RSquared,
		Volume24h:        newest.BaseVolume,
		HighestBid:       newest.HighestBid,
	}
	if currency, err := newest.Currency(); err == nil {
		sig.Currency = currency
	}
	if len(ordered) == 1 {
		sig.VolatilityFactor = 0
		return sig, nil
	}

	span := float64(windowMinutes)
	delta := reg.At(span) - reg.Intercept
	sig.PercentageGain = percentOf(delta, reg.Intercept)
	if span > 0 {
		sig.SlopeAngleDegrees = math.Atan(delta/span) * 180 / math.Pi
	}
	return sig, nil
}

// percentOf returns delta as a percentage of base, or 0 when base is 0.
func percentOf(delta, base float64) float64 {
	if base == 0 {
		return 0
	}
	v := delta / base * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// shortStats projects a short-window signal onto the nested stats of the primary signal.
func shortStats(s domain.CurrencySignal) domain.WindowStats {
	return domain.WindowStats{
		WindowMinutes:     s.WindowMinutes,
		SampleCount:       s.SampleCount,
		PercentageGain:    s.PercentageGain,
		SlopeAngleDegrees: s.SlopeAngleDegrees,
		VolatilityFactor:  s.VolatilityFactor,
	}
}
