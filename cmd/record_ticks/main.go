package main

import (
	"context"
	"log"
	"time"

	"trendBot/config"
	"trendBot/internal/adapters/binanceclient"
	"trendBot/internal/adapters/logger"
	"trendBot/internal/adapters/metrics"
	"trendBot/internal/adapters/sqlite"
	"trendBot/internal/ingest"
)

// Stores one ticker snapshot per configured base currency, then exits.
func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig(false)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LoggerOptions())
	defer appLogger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// 3. Initialize Repository and Exchange Client
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:             cfg.APIKey,
		SecretKey:          cfg.SecretKey,
		UseTestnet:         cfg.IsTestnet,
		Logger:             appLogger,
		BreakerMaxFailures: cfg.BreakerMaxFailures,
		BreakerTimeout:     cfg.BreakerTimeout,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 4. Record
	recorder, err := ingest.NewRecorder(ingest.Config{
		BaseCurrencies: cfg.BaseCurrencies,
		Retention:      cfg.TickRetention,
		Logger:         appLogger,
	}, binanceClient, repo, metrics.Noop{})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ticker recorder: %v", err)
	}

	n, err := recorder.Record(ctx)
	if err != nil {
		appLogger.Error(ctx, err, "Ticker snapshot incomplete", map[string]interface{}{"recorded": n})
		log.Fatalf("Ticker snapshot incomplete: %v", err)
	}
	appLogger.Info(ctx, "Ticker snapshot recorded", map[string]interface{}{"count": n, "baseCurrencies": cfg.BaseCurrencies})
}
