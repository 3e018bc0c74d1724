// Package ingest records exchange ticker snapshots into the tick store the signal builder reads from.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trendBot/internal/domain"
	"trendBot/internal/ports"
)

// TickCounter counts stored ticks per base currency.
type TickCounter interface {
	AddTicks(baseCurrency string, n int)
}

// Config holds the recorder settings.
type Config struct {
	BaseCurrencies []string
	Retention      time.Duration // Ticks older than this are pruned after each snapshot
	Logger         ports.Logger
}

// Recorder polls tickers for each base currency and stores them as ticks.
type Recorder struct {
	bases     []string
	retention time.Duration
	tickers   ports.TickerClient
	store     ports.TickRepository
	counter   TickCounter
	logger    ports.Logger
	now       func() time.Time
}

// NewRecorder creates a ticker recorder.
func NewRecorder(cfg Config, tickers ports.TickerClient, store ports.TickRepository, counter TickCounter) (*Recorder, error) {
	if cfg.Logger == nil || tickers == nil || store == nil || counter == nil {
		return nil, fmt.Errorf("missing required dependencies for Recorder")
	}
	if len(cfg.BaseCurrencies) == 0 {
		return nil, fmt.Errorf("at least one base currency is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("tick retention must be positive: %w", ports.ErrConfigurationError)
	}
	return &Recorder{
		bases:     cfg.BaseCurrencies,
		retention: cfg.Retention,
		tickers:   tickers,
		store:     store,
		counter:   counter,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// Record takes one snapshot per base currency and prunes expired ticks.
// A failing base currency does not stop the others; all failures are joined into the returned error.
func (r *Recorder) Record(ctx context.Context) (int, error) {
	var errs []error
	total := 0
	for _, base := range r.bases {
		n, err := r.recordBase(ctx, base)
		if err != nil {
			r.logger.Error(ctx, err, "Ticker snapshot failed", map[string]interface{}{"baseCurrency": base})
			errs = append(errs, err)
			continue
		}
		total += n
	}

	pruned, err := r.store.PruneTicks(ctx, r.now().Add(-r.retention))
	if err != nil {
		errs = append(errs, fmt.Errorf("prune ticks: %w", err))
	} else if pruned > 0 {
		r.logger.Debug(ctx, "Expired ticks pruned", map[string]interface{}{"count": pruned})
	}

	return total, errors.Join(errs...)
}

func (r *Recorder) recordBase(ctx context.Context, base string) (int, error) {
	ticks, err := r.tickers.GetTickers(ctx, base)
	if err != nil {
		return 0, fmt.Errorf("fetch tickers for %s: %w", base, err)
	}

	live := make([]domain.Tick, 0, len(ticks))
	for _, t := range ticks {
		if t.IsFrozen {
			continue
		}
		live = append(live, t)
	}

	if err := r.store.SaveTicks(ctx, live); err != nil {
		return 0, fmt.Errorf("save tickers for %s: %w", base, err)
	}
	r.counter.AddTicks(base, len(live))
	r.logger.Info(ctx, "Ticker snapshot recorded", map[string]interface{}{"baseCurrency": base, "ticks": len(live), "frozen": len(ticks) - len(live)})
	return len(live), nil
}
