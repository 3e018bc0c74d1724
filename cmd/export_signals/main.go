package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"trendBot/config"
	"trendBot/internal/adapters/logger"
	"trendBot/internal/adapters/sqlite"
	"trendBot/internal/utils"
)

// Dumps the persisted signals of one base currency to CSV.
func main() {
	base := flag.String("base", "USDT", "base currency whose signals are exported")
	out := flag.String("out", "", "output file (default data/signals_<BASE>_<date>.csv, '-' for stdout)")
	flag.Parse()

	cfg, err := config.LoadConfig(false)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.LoggerOptions())
	defer appLogger.Sync()
	ctx := context.Background()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	signals, err := repo.FindSignals(ctx, *base)
	if err != nil {
		log.Fatalf("Error loading signals: %v", err)
	}

	if *out == "-" {
		if err := utils.WriteSignalsCSV(os.Stdout, signals); err != nil {
			log.Fatalf("Error writing CSV: %v", err)
		}
		return
	}

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/signals_%s_%s.csv", *base, time.Now().Format("20060102_150405"))
	}
	if err := utils.WriteSignalsToCSV(signals, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename, "signals": len(signals)})
}
