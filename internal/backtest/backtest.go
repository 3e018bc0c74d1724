// Package backtest replays recorded ticks through the signal builder and decision engine against a paper account.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trendBot/internal/decision"
	"trendBot/internal/domain"
	"trendBot/internal/ports"
	"trendBot/internal/signal"
)

// Config holds configuration for backtesting
type Config struct {
	BaseCurrency string
	Windows      signal.WindowConfig
	Step         time.Duration // Simulated cycle interval
	InitialFunds float64
	BuyFraction  float64
	FeeRate      float64 // Charged on the quote value of every fill
	Logger       ports.Logger
}

// Result holds the results of a backtest
type Result struct {
	Cycles       int
	Orders       int
	FailedOrders int
	Trades       []Trade
	Performance  Performance
	FinalState   domain.AccountState
}

// Run replays ticks from the first full primary window to the last tick, one decision cycle per step.
func Run(ctx context.Context, ticks []domain.Tick, cfg Config) (*Result, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for backtest")
	}
	if cfg.Step <= 0 || cfg.InitialFunds <= 0 {
		return nil, fmt.Errorf("step and initial funds must be positive: %w", ports.ErrConfigurationError)
	}
	if len(ticks) == 0 {
		return nil, fmt.Errorf("no ticks to replay: %w", ports.ErrInsufficientData)
	}
	builder, err := signal.NewBuilder(cfg.Windows, 1)
	if err != nil {
		return nil, err
	}

	sorted := make([]domain.Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	start := sorted[0].Timestamp.Add(cfg.Windows.Primary())
	end := sorted[len(sorted)-1].Timestamp
	if start.After(end) {
		return nil, fmt.Errorf("ticks span less than the %d minute primary window: %w", cfg.Windows.PrimaryMinutes, ports.ErrInsufficientData)
	}

	var now time.Time
	paper := NewPaperExchange(cfg.BaseCurrency, cfg.InitialFunds, cfg.FeeRate, func() time.Time { return now })
	engine, err := decision.NewEngine(decision.Config{
		QuoteCurrency: cfg.BaseCurrency,
		BuyFraction:   cfg.BuyFraction,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{}
	state := domain.NewAccountState()
	curve := make([]EquityPoint, 0)
	upTo := 0
	for now = start; !now.After(end); now = now.Add(cfg.Step) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for upTo < len(sorted) && !sorted[upTo].Timestamp.After(now) {
			upTo++
		}

		built := builder.Build(ctx, cfg.BaseCurrency, sorted[:upTo], now)
		d := engine.Decide(ctx, built.Signals, state, paper.Balances(), paper)
		state = d.NewState
		res.Cycles++
		res.Orders += len(d.Orders)
		res.FailedOrders += len(d.Errors)

		prices := make(map[string]float64, len(built.Signals))
		for _, s := range built.Signals {
			prices[s.Currency] = s.CurrentPrice
		}
		curve = append(curve, EquityPoint{Time: now, Value: paper.Equity(prices)})
	}

	res.Trades = paper.Trades()
	res.FinalState = state
	res.Performance = AnalyzePerformance(res.Trades, curve, cfg.InitialFunds)
	cfg.Logger.Info(ctx, "Backtest completed", map[string]interface{}{
		"baseCurrency": cfg.BaseCurrency,
		"cycles":       res.Cycles,
		"orders":       res.Orders,
		"trades":       len(res.Trades),
		"finalEquity":  res.Performance.FinalEquity,
	})
	return res, nil
}
