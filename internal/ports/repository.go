package ports

import (
	"context"
	"time"

	"trendBot/internal/domain"
)

// TickSource returns recent ticks for the pairs of a base currency.
type TickSource interface {
	// FetchRecent returns ticks whose pair starts with "<baseCurrency>_" and that are newer than maxAge.
	FetchRecent(ctx context.Context, baseCurrency string, maxAge time.Duration) ([]domain.Tick, error)
}

// TickRepository stores raw ticks written by the ingestion job.
type TickRepository interface {
	SaveTicks(ctx context.Context, ticks []domain.Tick) error
	// PruneTicks deletes ticks observed before olderThan and reports how many were removed.
	PruneTicks(ctx context.Context, olderThan time.Time) (int64, error)
}

// SignalRepository stores the latest signal per currency.
type SignalRepository interface {
	// PutSignals replaces the signal set of baseCurrency in a single write; currencies absent from signals are removed.
	PutSignals(ctx context.Context, baseCurrency string, signals []domain.CurrencySignal) error
	// FindSignals returns the stored signals of baseCurrency ordered by currency.
	FindSignals(ctx context.Context, baseCurrency string) ([]domain.CurrencySignal, error)
}

// AccountRepository stores the position memory of trading accounts.
type AccountRepository interface {
	// GetAccountState returns the stored state, or an empty state when none exists.
	GetAccountState(ctx context.Context, accountKey string) (domain.AccountState, error)
	// PutAccountState replaces the stored state atomically.
	PutAccountState(ctx context.Context, accountKey string, state domain.AccountState) error
}
