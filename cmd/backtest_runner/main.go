package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"trendBot/config"
	"trendBot/internal/adapters/logger"
	"trendBot/internal/adapters/sqlite"
	"trendBot/internal/backtest"
	"trendBot/internal/signal"
)

// Replays recorded ticks through the decision engine against a paper account.
func main() {
	base := flag.String("base", "USDT", "base currency to replay")
	since := flag.Duration("since", 24*time.Hour, "how far back to load recorded ticks")
	funds := flag.Float64("funds", 1000, "initial paper balance in the base currency")
	fee := flag.Float64("fee", 0.001, "fee rate charged on every fill")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig(false)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.LoggerOptions())
	defer appLogger.Sync()
	ctx := context.Background()

	// 2. Load recorded ticks
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	ticks, err := repo.FetchRecent(ctx, *base, *since)
	if err != nil {
		log.Fatalf("Error loading ticks: %v", err)
	}
	appLogger.Info(ctx, "Loaded ticks", map[string]interface{}{"baseCurrency": *base, "count": len(ticks)})

	// 3. Replay one cycle per configured interval
	result, err := backtest.Run(ctx, ticks, backtest.Config{
		BaseCurrency: *base,
		Windows:      signal.WindowConfig{PrimaryMinutes: cfg.PrimaryWindowMinutes, ShortMinutes: cfg.ShortWindowMinutes},
		Step:         cfg.CycleInterval,
		InitialFunds: *funds,
		BuyFraction:  cfg.BuyFraction,
		FeeRate:      *fee,
		Logger:       appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Backtest error")
		log.Fatalf("Backtest error: %v", err)
	}

	perf := result.Performance
	appLogger.Info(ctx, "Backtest result", map[string]interface{}{
		"Cycles":       result.Cycles,
		"Orders":       result.Orders,
		"FailedOrders": result.FailedOrders,
		"Trades":       perf.TotalTrades,
		"WinRate":      perf.WinRate * 100,
		"ProfitFactor": perf.ProfitFactor,
		"MaxDrawdown":  perf.MaxDrawdown * 100,
		"FinalEquity":  perf.FinalEquity,
		"ROI":          perf.ReturnOnInvestment * 100,
	})

	fmt.Printf("Replayed %d cycles over %d ticks\n", result.Cycles, len(ticks))
	fmt.Printf("Trades: %d (won %d, lost %d, win rate %.2f%%)\n", perf.TotalTrades, perf.WinningTrades, perf.LosingTrades, perf.WinRate*100)
	fmt.Printf("Profit: %.4f %s (avg win %.4f, avg loss %.4f, profit factor %.2f, sharpe %.2f)\n",
		perf.TotalProfit, *base, perf.AverageWin, perf.AverageLoss, perf.ProfitFactor, perf.SharpeRatio)
	fmt.Printf("Streaks: %d wins, %d losses; average hold %s\n", perf.MaxConsecutiveWins, perf.MaxConsecutiveLosses, perf.AverageHoldDuration)
	fmt.Printf("Equity: %.4f -> %.4f (ROI %.2f%%, max drawdown %.2f%%)\n", *funds, perf.FinalEquity, perf.ReturnOnInvestment*100, perf.MaxDrawdown*100)
	for _, t := range result.Trades {
		fmt.Printf("  %s bought %.8f @ %.8f on %s, sold @ %.8f on %s, pnl %.4f\n",
			t.Currency, t.Amount, t.BuyPrice, t.BuyTime.Format(time.RFC3339), t.SellPrice, t.SellTime.Format(time.RFC3339), t.PNL)
	}
}
