package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"trendBot/internal/adapters/logger" // Import the logger package for LogLevel
	"trendBot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading
	BaseCurrencies []string // Currencies signals are refreshed for, e.g. USDT,BTC
	TradingBase    string   // The one base currency that decides and places orders; must be in BaseCurrencies
	AccountKey     string
	BuyFraction    float64 // Share of the available base balance one buy may spend
	OrderPolicy    domain.OrderPolicy

	// Signals
	PrimaryWindowMinutes int
	ShortWindowMinutes   int
	AggregationWorkers   int

	// Scheduling
	CycleInterval   time.Duration
	MaxRetryElapsed time.Duration
	IngestEnabled   bool
	TickRetention   time.Duration

	// Exchange circuit breaker
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration

	// Database
	DBPath string

	// Notifications, empty address logs instead of publishing
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Metrics, empty address disables the endpoint
	MetricsAddr string

	// Logging
	LogLevel      logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// LoadConfig loads configuration from environment variables (.env file).
// Exchange credentials are only validated when requireCredentials is set.
func LoadConfig(requireCredentials bool) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if requireCredentials {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	}

	// Trading
	cfg.BaseCurrencies = getEnvAsList("BASE_CURRENCIES", []string{"USDT"})
	if len(cfg.BaseCurrencies) == 0 {
		errs = append(errs, "BASE_CURRENCIES must list at least one currency")
	} else {
		// The wallet is shared, so only one base may hold positions.
		cfg.TradingBase = strings.ToUpper(strings.TrimSpace(getEnv("TRADING_BASE", cfg.BaseCurrencies[0])))
		if !contains(cfg.BaseCurrencies, cfg.TradingBase) {
			errs = append(errs, fmt.Sprintf("TRADING_BASE %s must be one of BASE_CURRENCIES", cfg.TradingBase))
		}
	}
	cfg.AccountKey = getEnv("ACCOUNT_KEY", "strategy1")

	cfg.BuyFraction, err = getEnvAsFloatRequired("BUY_FRACTION", 1.0/3.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BUY_FRACTION: %v", err))
	} else if cfg.BuyFraction <= 0 || cfg.BuyFraction > 1 {
		errs = append(errs, "BUY_FRACTION must be within (0, 1]")
	}

	cfg.OrderPolicy, err = parseTimeInForce(getEnv("ORDER_TIME_IN_FORCE", "IOC"))
	if err != nil {
		errs = append(errs, err.Error())
	}

	// Signals
	cfg.PrimaryWindowMinutes, err = getEnvAsIntRequired("PRIMARY_WINDOW_MINUTES", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRIMARY_WINDOW_MINUTES: %v", err))
	}
	cfg.ShortWindowMinutes, err = getEnvAsIntRequired("SHORT_WINDOW_MINUTES", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SHORT_WINDOW_MINUTES: %v", err))
	}
	if cfg.PrimaryWindowMinutes <= 0 || cfg.ShortWindowMinutes <= 0 {
		errs = append(errs, "window lengths must be positive")
	} else if cfg.ShortWindowMinutes >= cfg.PrimaryWindowMinutes {
		errs = append(errs, "SHORT_WINDOW_MINUTES must be less than PRIMARY_WINDOW_MINUTES")
	}

	cfg.AggregationWorkers = getEnvAsInt("AGGREGATION_WORKERS", 4)
	if cfg.AggregationWorkers <= 0 {
		errs = append(errs, "AGGREGATION_WORKERS must be positive")
	}

	// Scheduling
	intervalSeconds := getEnvAsInt("CYCLE_INTERVAL_SECONDS", 60)
	if intervalSeconds <= 0 {
		errs = append(errs, "CYCLE_INTERVAL_SECONDS must be positive")
	}
	cfg.CycleInterval = time.Duration(intervalSeconds) * time.Second

	retrySeconds := getEnvAsInt("MAX_RETRY_ELAPSED_SECONDS", 120)
	if retrySeconds <= 0 {
		errs = append(errs, "MAX_RETRY_ELAPSED_SECONDS must be positive")
	}
	cfg.MaxRetryElapsed = time.Duration(retrySeconds) * time.Second

	cfg.IngestEnabled = getEnvAsBool("INGEST_ENABLED", true)
	retentionMinutes := getEnvAsInt("TICK_RETENTION_MINUTES", 60)
	if retentionMinutes < cfg.PrimaryWindowMinutes {
		errs = append(errs, "TICK_RETENTION_MINUTES must cover PRIMARY_WINDOW_MINUTES")
	}
	cfg.TickRetention = time.Duration(retentionMinutes) * time.Minute

	// Exchange circuit breaker
	maxFailures := getEnvAsInt("BREAKER_MAX_FAILURES", 5)
	if maxFailures <= 0 {
		errs = append(errs, "BREAKER_MAX_FAILURES must be positive")
	} else {
		cfg.BreakerMaxFailures = uint32(maxFailures)
	}
	breakerSeconds := getEnvAsInt("BREAKER_TIMEOUT_SECONDS", 30)
	if breakerSeconds <= 0 {
		errs = append(errs, "BREAKER_TIMEOUT_SECONDS must be positive")
	}
	cfg.BreakerTimeout = time.Duration(breakerSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trend_bot.db")

	// Notifications
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvAsIntRequired("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REDIS_DB: %v", err))
	}

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFile = getEnv("LOG_FILE", "")
	cfg.LogMaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", 100)
	cfg.LogMaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", 5)
	cfg.LogMaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", 30)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// LoggerOptions returns the logger adapter settings.
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.LogLevel,
		FilePath:   c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
	}
}

func parseTimeInForce(v string) (domain.OrderPolicy, error) {
	switch strings.ToUpper(v) {
	case "IOC":
		return domain.OrderPolicy{ImmediateOrCancel: true}, nil
	case "FOK":
		return domain.OrderPolicy{FillOrKill: true}, nil
	case "GTC":
		return domain.OrderPolicy{}, nil
	default:
		return domain.OrderPolicy{}, fmt.Errorf("ORDER_TIME_IN_FORCE must be one of IOC, FOK, GTC (got %q)", v)
	}
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks and upper-casing entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
