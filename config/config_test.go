package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendBot/internal/adapters/logger"
	"trendBot/internal/domain"
)

var configKeys = []string{
	"BINANCE_API_KEY", "BINANCE_API_SECRET", "IS_TESTNET", "BASE_CURRENCIES", "TRADING_BASE", "ACCOUNT_KEY",
	"BUY_FRACTION", "ORDER_TIME_IN_FORCE", "PRIMARY_WINDOW_MINUTES", "SHORT_WINDOW_MINUTES",
	"AGGREGATION_WORKERS", "CYCLE_INTERVAL_SECONDS", "MAX_RETRY_ELAPSED_SECONDS", "INGEST_ENABLED",
	"TICK_RETENTION_MINUTES", "BREAKER_MAX_FAILURES", "BREAKER_TIMEOUT_SECONDS", "DB_PATH",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "METRICS_ADDR", "LOG_LEVEL", "LOG_FILE",
	"LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
}

// clearEnv blanks every key so defaults apply regardless of the host environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(false)
	require.NoError(t, err)

	assert.True(t, cfg.IsTestnet)
	assert.Equal(t, []string{"USDT"}, cfg.BaseCurrencies)
	assert.Equal(t, "USDT", cfg.TradingBase)
	assert.Equal(t, "strategy1", cfg.AccountKey)
	assert.InDelta(t, 1.0/3.0, cfg.BuyFraction, 1e-12)
	assert.Equal(t, domain.OrderPolicy{ImmediateOrCancel: true}, cfg.OrderPolicy)
	assert.Equal(t, 10, cfg.PrimaryWindowMinutes)
	assert.Equal(t, 5, cfg.ShortWindowMinutes)
	assert.Equal(t, 4, cfg.AggregationWorkers)
	assert.Equal(t, time.Minute, cfg.CycleInterval)
	assert.Equal(t, 2*time.Minute, cfg.MaxRetryElapsed)
	assert.True(t, cfg.IngestEnabled)
	assert.Equal(t, time.Hour, cfg.TickRetention)
	assert.Equal(t, uint32(5), cfg.BreakerMaxFailures)
	assert.Equal(t, 30*time.Second, cfg.BreakerTimeout)
	assert.Equal(t, "./data/trend_bot.db", cfg.DBPath)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, logger.LevelInfo, cfg.LogLevel)
	assert.Equal(t, logger.LevelInfo, cfg.LoggerOptions().Level)
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	t.Setenv("IS_TESTNET", "false")
	t.Setenv("BASE_CURRENCIES", " usdt, btc ,,")
	t.Setenv("BUY_FRACTION", "0.5")
	t.Setenv("ORDER_TIME_IN_FORCE", "fok")
	t.Setenv("PRIMARY_WINDOW_MINUTES", "15")
	t.Setenv("SHORT_WINDOW_MINUTES", "3")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FILE", "/tmp/trend.log")

	cfg, err := LoadConfig(true)
	require.NoError(t, err)

	assert.False(t, cfg.IsTestnet)
	assert.Equal(t, []string{"USDT", "BTC"}, cfg.BaseCurrencies)
	assert.Equal(t, "USDT", cfg.TradingBase)
	assert.Equal(t, 0.5, cfg.BuyFraction)
	assert.Equal(t, domain.OrderPolicy{FillOrKill: true}, cfg.OrderPolicy)
	assert.Equal(t, 15, cfg.PrimaryWindowMinutes)
	assert.Equal(t, 3, cfg.ShortWindowMinutes)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, logger.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "/tmp/trend.log", cfg.LoggerOptions().FilePath)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		creds   bool
		wantMsg string
	}{
		{name: "missing credentials", creds: true, wantMsg: "BINANCE_API_KEY must be set"},
		{name: "short window not shorter", env: map[string]string{"SHORT_WINDOW_MINUTES": "10"}, wantMsg: "SHORT_WINDOW_MINUTES must be less than"},
		{name: "zero window", env: map[string]string{"PRIMARY_WINDOW_MINUTES": "0"}, wantMsg: "window lengths must be positive"},
		{name: "fraction above one", env: map[string]string{"BUY_FRACTION": "1.5"}, wantMsg: "BUY_FRACTION must be within"},
		{name: "fraction not a number", env: map[string]string{"BUY_FRACTION": "third"}, wantMsg: "invalid BUY_FRACTION"},
		{name: "unknown time in force", env: map[string]string{"ORDER_TIME_IN_FORCE": "DAY"}, wantMsg: "ORDER_TIME_IN_FORCE"},
		{name: "retention shorter than window", env: map[string]string{"TICK_RETENTION_MINUTES": "5"}, wantMsg: "TICK_RETENTION_MINUTES"},
		{name: "no base currencies", env: map[string]string{"BASE_CURRENCIES": " , "}, wantMsg: "BASE_CURRENCIES"},
		{name: "trading base not refreshed", env: map[string]string{"BASE_CURRENCIES": "USDT", "TRADING_BASE": "BTC"}, wantMsg: "TRADING_BASE BTC must be one of BASE_CURRENCIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(tt.creds)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadConfig_TradingBaseOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_CURRENCIES", "USDT,BTC")
	t.Setenv("TRADING_BASE", " btc ")

	cfg, err := LoadConfig(false)
	require.NoError(t, err)
	assert.Equal(t, "BTC", cfg.TradingBase)
}
