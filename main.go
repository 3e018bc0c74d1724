package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"trendBot/config"
	"trendBot/internal/adapters/binanceclient"
	"trendBot/internal/adapters/logger"
	"trendBot/internal/adapters/metrics"
	"trendBot/internal/adapters/redisnotifier"
	"trendBot/internal/adapters/sqlite"
	"trendBot/internal/app"
	"trendBot/internal/ingest"
	"trendBot/internal/ports"
	"trendBot/internal/scheduler"
	"trendBot/internal/signal"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig(true)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LoggerOptions())
	defer appLogger.Sync()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "file": cfg.LogFile})

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client (Binance Adapter)
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
	if err := binanceClient.Ping(ctx); err != nil {
		appLogger.Warn(ctx, "Exchange not reachable at startup, cycles will retry", map[string]interface{}{"error": err.Error()})
	}

	// 5. Notifications and metrics
	var notifier ports.Notifier = redisnotifier.LogNotifier{Logger: appLogger}
	if cfg.RedisAddr != "" {
		redisNotifier, err := redisnotifier.New(ctx, redisnotifier.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Logger:   appLogger,
		})
		if err != nil {
			appLogger.Warn(ctx, "Redis connection failed, notifications will only be logged", map[string]interface{}{"error": err.Error()})
		} else {
			defer redisNotifier.Close()
			notifier = redisNotifier
		}
	}

	prom := metrics.NewPrometheus()
	if cfg.MetricsAddr != "" {
		srv, _ := prom.Serve(cfg.MetricsAddr, appLogger)
		appLogger.Info(ctx, "Metrics endpoint started", map[string]interface{}{"addr": cfg.MetricsAddr})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 6. Initialize Application Service
	cycleService, err := app.NewCycleService(
		app.CycleConfig{
			AccountKey:         cfg.AccountKey,
			TradingBase:        cfg.TradingBase,
			AggregationWorkers: cfg.AggregationWorkers,
			BuyFraction:        cfg.BuyFraction,
			OrderPolicy:        cfg.OrderPolicy,
		},
		appLogger,
		repo, // ticks
		repo, // signals
		repo, // account state
		binanceClient,
		notifier,
		prom,
	)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize cycle service: %v", err)
	}

	var recorder scheduler.TickRecorder
	if cfg.IngestEnabled {
		rec, err := ingest.NewRecorder(ingest.Config{
			BaseCurrencies: cfg.BaseCurrencies,
			Retention:      cfg.TickRetention,
			Logger:         appLogger,
		}, binanceClient, repo, prom)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize ticker recorder: %v", err)
		}
		recorder = rec
	}

	sched, err := scheduler.New(scheduler.Config{
		BaseCurrencies:  cfg.BaseCurrencies,
		Windows:         signal.WindowConfig{PrimaryMinutes: cfg.PrimaryWindowMinutes, ShortMinutes: cfg.ShortWindowMinutes},
		Interval:        cfg.CycleInterval,
		MaxRetryElapsed: cfg.MaxRetryElapsed,
		Logger:          appLogger,
	}, cycleService, recorder)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize scheduler: %v", err)
	}

	// 7. Run until interrupted
	if err := sched.Run(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Scheduler exited with error")
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
