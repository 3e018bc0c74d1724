package signal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"trendBot/internal/domain"
	"trendBot/internal/ports"
)

// WindowConfig holds the trailing windows a signal is computed over.
type WindowConfig struct {
	PrimaryMinutes int
	ShortMinutes   int
}

// Validate checks that the short window is a strict sub-window of the primary one.
func (w WindowConfig) Validate() error {
	if w.PrimaryMinutes <= 0 || w.ShortMinutes <= 0 {
		return fmt.Errorf("window lengths must be positive (primary=%d, short=%d): %w", w.PrimaryMinutes, w.ShortMinutes, ports.ErrConfigurationError)
	}
	if w.ShortMinutes >= w.PrimaryMinutes {
		return fmt.Errorf("short window %d must be shorter than primary window %d: %w", w.ShortMinutes, w.PrimaryMinutes, ports.ErrConfigurationError)
	}
	return nil
}

// Primary returns the primary window as a duration.
func (w WindowConfig) Primary() time.Duration {
	return time.Duration(w.PrimaryMinutes) * time.Minute
}

// Short returns the short window as a duration.
func (w WindowConfig) Short() time.Duration {
	return time.Duration(w.ShortMinutes) * time.Minute
}

// Builder groups ticks by currency and aggregates each currency over the configured windows.
type Builder struct {
	windows WindowConfig
	workers int
}

// NewBuilder creates a signal builder. workers bounds the number of currencies aggregated concurrently.
func NewBuilder(windows WindowConfig, workers int) (*Builder, error) {
	if err := windows.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}
	return &Builder{windows: windows, workers: workers}, nil
}

// Windows returns the configured windows.
func (b *Builder) Windows() WindowConfig {
	return b.windows
}

// Result is the outcome of one build pass.
type Result struct {
	Signals []domain.CurrencySignal // One per currency, ordered by currency
	Errors  []domain.CurrencyError
}

type currencyTicks struct {
	currency string
	ticks    []domain.Tick
}

type slot struct {
	signal domain.CurrencySignal
	err    error
}

// Build computes one signal per currency from ticks observed before now.
// Ticks older than the primary window are discarded; the output only depends on ticks and now.
func (b *Builder) Build(ctx context.Context, baseCurrency string, ticks []domain.Tick, now time.Time) Result {
	var res Result
	primaryCutoff := now.Add(-b.windows.Primary())
	shortCutoff := now.Add(-b.windows.Short())

	groups := make(map[string]*currencyTicks)
	order := make([]string, 0)
	for _, t := range ticks {
		if !t.Timestamp.After(primaryCutoff) {
			continue
		}
		currency, err := t.Currency()
		if err != nil {
			res.Errors = append(res.Errors, domain.CurrencyError{
				Currency: t.CurrencyPair,
				Stage:    domain.StageAggregate,
				Err:      fmt.Errorf("%v: %w", err, ports.ErrInvalidInput),
			})
			continue
		}
		g, ok := groups[currency]
		if !ok {
			g = &currencyTicks{currency: currency}
			groups[currency] = g
			order = append(order, currency)
		}
		g.ticks = append(g.ticks, t)
	}
	sort.Strings(order)

	slots := make([]slot, len(order))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.workers)
	for i, currency := range order {
		i, g := i, groups[currency]
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				slots[i].err = err
				return nil
			}
			slots[i] = b.buildCurrency(baseCurrency, g, shortCutoff, now)
			return nil
		})
	}
	_ = eg.Wait() // workers record failures in their slot

	for i, currency := range order {
		if slots[i].err != nil {
			res.Errors = append(res.Errors, domain.CurrencyError{Currency: currency, Stage: domain.StageAggregate, Err: slots[i].err})
			continue
		}
		res.Signals = append(res.Signals, slots[i].signal)
	}
	return res
}

func (b *Builder) buildCurrency(baseCurrency string, g *currencyTicks, shortCutoff, now time.Time) slot {
	primary, err := Aggregate(g.ticks, b.windows.PrimaryMinutes)
	if err != nil {
		return slot{err: err}
	}
	primary.BaseCurrency = baseCurrency
	primary.Currency = g.currency
	primary.UpdatedAt = now
	primary.Short = domain.WindowStats{WindowMinutes: b.windows.ShortMinutes}

	shortTicks := make([]domain.Tick, 0, len(g.ticks))
	for _, t := range g.ticks {
		if t.Timestamp.After(shortCutoff) {
			shortTicks = append(shortTicks, t)
		}
	}
	if len(shortTicks) > 0 {
		short, err := Aggregate(shortTicks, b.windows.ShortMinutes)
		if err != nil {
			return slot{err: err}
		}
		primary.Short = shortStats(short)
	}
	return slot{signal: primary}
}
