package ports

import (
	"context"

	"trendBot/internal/domain"
)

// ExchangeClient defines the trading operations the decision cycle needs from an exchange.
// Implementations wrap failures with ErrExchange.
type ExchangeClient interface {
	// GetBalances returns the free balance per currency (e.g. "USDT", "BTC").
	GetBalances(ctx context.Context) (map[string]float64, error)

	// PlaceOrder places a limit order for the intent using its time-in-force policy.
	PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}

// TickerClient fetches the current market snapshot of every pair quoted in baseCurrency.
type TickerClient interface {
	GetTickers(ctx context.Context, baseCurrency string) ([]domain.Tick, error)
}
