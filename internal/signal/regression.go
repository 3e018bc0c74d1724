// Package signal turns raw ticks into per-currency trend signals using windowed linear regression.
package signal

import (
	"fmt"
	"math"
	"sort"

	"trendBot/internal/ports"
)

// Sample is one (x, y) observation fed to the regression.
type Sample struct {
	X float64
	Y float64
}

// Regression is an ordinary least squares fit y = Intercept + Slope*x.
type Regression struct {
	Slope     float64
	Intercept float64
	RSquared  float64 // Coefficient of determination, clamped to [0,1]
}

// At returns the fitted value at x.
func (r Regression) At(x float64) float64 {
	return r.Intercept + r.Slope*x
}

// Fit computes the least squares line through samples.
// The samples are summed in a canonical order so the result only depends on the multiset.
func Fit(samples []Sample) (Regression, error) {
	if len(samples) == 0 {
		return Regression{}, fmt.Errorf("regression over empty sample set: %w", ports.ErrInvalidInput)
	}
	if len(samples) == 1 {
		return Regression{Intercept: samples[0].Y}, nil
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	n := float64(len(sorted))
	var sumX, sumY float64
	for _, s := range sorted {
		sumX += s.X
		sumY += s.Y
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy, syy float64
	for _, s := range sorted {
		dx, dy := s.X-meanX, s.Y-meanY
		sxx += dx * dx
		sxy += dx * dy
		syy += dy * dy
	}

	// All samples share one x: no trend can be fitted.
	if sxx == 0 {
		return Regression{Intercept: meanY}, nil
	}

	r := Regression{Slope: sxy / sxx}
	r.Intercept = meanY - r.Slope*meanX
	r.RSquared = rSquared(sorted, r, syy)
	return r, nil
}

func rSquared(samples []Sample, r Regression, totalVariance float64) float64 {
	if totalVariance == 0 {
		return 0
	}
	var residual float64
	for _, s := range samples {
		d := s.Y - r.At(s.X)
		residual += d * d
	}
	v := 1 - residual/totalVariance
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
