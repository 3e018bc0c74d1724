package backtest

import (
	"math"
	"time"
)

// Performance holds the summary statistics of a backtest.
type Performance struct {
	TotalTrades          int
	WinningTrades        int
	LosingTrades         int
	WinRate              float64
	TotalProfit          float64
	AverageWin           float64
	AverageLoss          float64
	ProfitFactor         float64
	SharpeRatio          float64 // Mean over standard deviation of per-trade returns, risk-free rate 0
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageHoldDuration  time.Duration
	MaxDrawdown          float64 // Largest peak-to-trough fall of the equity curve, as a fraction
	FinalEquity          float64
	ReturnOnInvestment   float64
	EquityCurve          []EquityPoint
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance computes trade statistics and equity drawdowns.
func AnalyzePerformance(trades []Trade, curve []EquityPoint, initialFunds float64) Performance {
	p := Performance{FinalEquity: initialFunds}

	var grossWin, grossLoss float64
	var consecutiveWins, consecutiveLosses int
	var held time.Duration
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		if cost := t.BuyPrice * t.Amount; cost > 0 {
			returns = append(returns, t.PNL/cost)
		}
		p.TotalTrades++
		p.TotalProfit += t.PNL
		held += t.SellTime.Sub(t.BuyTime)

		if t.PNL > 0 {
			p.WinningTrades++
			grossWin += t.PNL
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			p.LosingTrades++
			grossLoss += t.PNL
			consecutiveLosses++
			consecutiveWins = 0
		}
		if consecutiveWins > p.MaxConsecutiveWins {
			p.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > p.MaxConsecutiveLosses {
			p.MaxConsecutiveLosses = consecutiveLosses
		}
	}

	if p.TotalTrades > 0 {
		p.WinRate = float64(p.WinningTrades) / float64(p.TotalTrades)
		p.AverageHoldDuration = held / time.Duration(p.TotalTrades)
	}
	if p.WinningTrades > 0 {
		p.AverageWin = grossWin / float64(p.WinningTrades)
	}
	if p.LosingTrades > 0 {
		p.AverageLoss = grossLoss / float64(p.LosingTrades)
	}
	if grossLoss != 0 {
		p.ProfitFactor = grossWin / -grossLoss
	}

	p.SharpeRatio = sharpeRatio(returns)

	peak := initialFunds
	p.EquityCurve = make([]EquityPoint, len(curve))
	for i, pt := range curve {
		if pt.Value > peak {
			peak = pt.Value
		}
		if peak > 0 {
			pt.Drawdown = (peak - pt.Value) / peak
		}
		if pt.Drawdown > p.MaxDrawdown {
			p.MaxDrawdown = pt.Drawdown
		}
		p.EquityCurve[i] = pt
	}
	if len(curve) > 0 {
		p.FinalEquity = curve[len(curve)-1].Value
	}
	if initialFunds > 0 {
		p.ReturnOnInvestment = (p.FinalEquity - initialFunds) / initialFunds
	}
	return p
}

func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}
