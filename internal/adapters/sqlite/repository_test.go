package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trendBot/internal/domain"
	"trendBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "trend-bot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_SaveAndFetchRecentTicks(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 10, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	ticks := []domain.Tick{
		{CurrencyPair: "USDT_BTC", Timestamp: now.Add(-20 * time.Minute), Last: 90},
		{CurrencyPair: "USDT_BTC", Timestamp: now.Add(-5 * time.Minute), Last: 105, HighestBid: 104.5, BaseVolume: 1200},
		{CurrencyPair: "USDT_ETH", Timestamp: now.Add(-8 * time.Minute), Last: 20, IsFrozen: true},
		{CurrencyPair: "USDTX_BTC", Timestamp: now.Add(-2 * time.Minute), Last: 1},
		{CurrencyPair: "BTC_ETH", Timestamp: now.Add(-1 * time.Minute), Last: 0.05},
	}
	require.NoError(t, repo.SaveTicks(ctx, ticks))

	got, err := repo.FetchRecent(ctx, "USDT", 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Oldest first
	assert.Equal(t, "USDT_ETH", got[0].CurrencyPair)
	assert.True(t, got[0].IsFrozen)
	assert.Equal(t, "USDT_BTC", got[1].CurrencyPair)
	assert.Equal(t, 105.0, got[1].Last)
	assert.Equal(t, 104.5, got[1].HighestBid)
	assert.Equal(t, 1200.0, got[1].BaseVolume)
	assert.True(t, now.Add(-5*time.Minute).Equal(got[1].Timestamp))

	btc, err := repo.FetchRecent(ctx, "BTC", time.Hour)
	require.NoError(t, err)
	require.Len(t, btc, 1)
	assert.Equal(t, "BTC_ETH", btc[0].CurrencyPair)
}

func TestRepository_SaveTicksEmpty(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	assert.NoError(t, repo.SaveTicks(context.Background(), nil))
}

func TestRepository_PruneTicks(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	require.NoError(t, repo.SaveTicks(ctx, []domain.Tick{
		{CurrencyPair: "USDT_BTC", Timestamp: now.Add(-2 * time.Hour), Last: 1},
		{CurrencyPair: "USDT_BTC", Timestamp: now.Add(-90 * time.Minute), Last: 2},
		{CurrencyPair: "USDT_BTC", Timestamp: now.Add(-time.Minute), Last: 3},
	}))

	n, err := repo.PruneTicks(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := repo.FetchRecent(ctx, "USDT", 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, 3.0, left[0].Last)
}

func TestRepository_PutAndFindSignals(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	updated := time.Date(2024, 3, 1, 12, 10, 0, 0, time.UTC)
	btc := domain.CurrencySignal{
		BaseCurrency:      "USDT",
		Currency:          "BTC",
		WindowMinutes:     10,
		SampleCount:       4,
		CurrentPrice:      109,
		PastPrice:         101,
		PercentageGain:    9.5,
		Slope:             1,
		SlopeAngleDegrees: 45,
		VolatilityFactor:  0.98,
		Volume24h:         1109,
		HighestBid:        108.5,
		Short:             domain.WindowStats{WindowMinutes: 5, SampleCount: 2, PercentageGain: 4.6, SlopeAngleDegrees: 44, VolatilityFactor: 1},
		UpdatedAt:         updated,
	}
	eth := domain.CurrencySignal{BaseCurrency: "USDT", Currency: "ETH", WindowMinutes: 10, SampleCount: 2, CurrentPrice: 19, PastPrice: 20, Slope: -1,
		Short: domain.WindowStats{WindowMinutes: 5}, UpdatedAt: updated}

	require.NoError(t, repo.PutSignals(ctx, "USDT", []domain.CurrencySignal{eth, btc}))

	got, err := repo.FindSignals(ctx, "USDT")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, btc, got[0])
	assert.Equal(t, eth, got[1])

	// A new set replaces the row for the same currency and drops currencies no longer present
	btc.CurrentPrice = 120
	btc.Short.SampleCount = 3
	require.NoError(t, repo.PutSignals(ctx, "USDT", []domain.CurrencySignal{btc}))
	got, err = repo.FindSignals(ctx, "USDT")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTC", got[0].Currency)
	assert.Equal(t, 120.0, got[0].CurrentPrice)
	assert.Equal(t, 3, got[0].Short.SampleCount)

	other, err := repo.FindSignals(ctx, "BTC")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRepository_PutSignalsScopedToBase(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	updated := time.Date(2024, 3, 1, 12, 10, 0, 0, time.UTC)
	require.NoError(t, repo.PutSignals(ctx, "USDT", []domain.CurrencySignal{
		{BaseCurrency: "USDT", Currency: "BTC", CurrentPrice: 100, UpdatedAt: updated},
		{BaseCurrency: "USDT", Currency: "ETH", CurrentPrice: 20, UpdatedAt: updated},
	}))
	require.NoError(t, repo.PutSignals(ctx, "BTC", []domain.CurrencySignal{
		{BaseCurrency: "BTC", Currency: "ETH", CurrentPrice: 0.05, UpdatedAt: updated},
	}))

	// An empty set clears only the given base
	require.NoError(t, repo.PutSignals(ctx, "USDT", nil))

	got, err := repo.FindSignals(ctx, "USDT")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = repo.FindSignals(ctx, "BTC")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ETH", got[0].Currency)
}

func TestRepository_AccountState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Repository) error
		want  domain.AccountState
	}{
		{
			name: "missing state is empty and buy eligible",
			want: domain.NewAccountState(),
		},
		{
			name: "round trip",
			setup: func(r *Repository) error {
				return r.PutAccountState(context.Background(), "strategy1", domain.AccountState{
					LastAction: domain.ActionBuy,
					Positions: map[string]domain.Position{
						"BTC": {BuyPrice: 100, PeakPrice: 110, LowPrice: 95},
						"ETH": {BuyPrice: 20, PeakPrice: 20, LowPrice: 20},
					},
					UpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
				})
			},
			want: domain.AccountState{
				LastAction: domain.ActionBuy,
				Positions: map[string]domain.Position{
					"BTC": {BuyPrice: 100, PeakPrice: 110, LowPrice: 95},
					"ETH": {BuyPrice: 20, PeakPrice: 20, LowPrice: 20},
				},
				UpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		{
			name: "overwrite drops sold positions",
			setup: func(r *Repository) error {
				ctx := context.Background()
				err := r.PutAccountState(ctx, "strategy1", domain.AccountState{
					LastAction: domain.ActionBuy,
					Positions:  map[string]domain.Position{"BTC": {BuyPrice: 100, PeakPrice: 120, LowPrice: 100}},
					UpdatedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
				})
				if err != nil {
					return err
				}
				return r.PutAccountState(ctx, "strategy1", domain.AccountState{
					LastAction: domain.ActionSell,
					Positions:  map[string]domain.Position{},
					UpdatedAt:  time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC),
				})
			},
			want: domain.AccountState{
				LastAction: domain.ActionSell,
				Positions:  map[string]domain.Position{},
				UpdatedAt:  time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, cleanup := setupTestDB(t)
			defer cleanup()

			if tt.setup != nil {
				require.NoError(t, tt.setup(repo))
			}

			got, err := repo.GetAccountState(context.Background(), "strategy1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepository_AccountStateIsolatedPerKey(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.PutAccountState(ctx, "a", domain.AccountState{
		LastAction: domain.ActionBuy,
		Positions:  map[string]domain.Position{"BTC": domain.OpenPosition(100)},
	}))

	b, err := repo.GetAccountState(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNone, b.LastAction)
	assert.Empty(t, b.Positions)
}

func TestRepository_ClosedDatabaseReportsPersistenceError(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	require.NoError(t, repo.db.Close())

	_, err := repo.FindSignals(context.Background(), "USDT")
	assert.ErrorIs(t, err, ports.ErrPersistence)
	assert.ErrorIs(t, err, ports.ErrQueryFailed)

	err = repo.PutAccountState(context.Background(), "strategy1", domain.NewAccountState())
	assert.ErrorIs(t, err, ports.ErrPersistence)
}
