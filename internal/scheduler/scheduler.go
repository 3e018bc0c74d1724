// Package scheduler triggers ticker ingestion and decision cycles on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"trendBot/internal/app"
	"trendBot/internal/ports"
	"trendBot/internal/signal"
)

// CycleRunner runs one decision cycle for a base currency.
type CycleRunner interface {
	RunCycle(ctx context.Context, baseCurrency string, windows signal.WindowConfig) (*app.CycleResult, error)
	AccountKey() string
}

// TickRecorder stores one ticker snapshot.
type TickRecorder interface {
	Record(ctx context.Context) (int, error)
}

// Config holds the scheduling settings.
type Config struct {
	BaseCurrencies  []string
	Windows         signal.WindowConfig
	Interval        time.Duration
	MaxRetryElapsed time.Duration // Upper bound on retrying one failed cycle
	Logger          ports.Logger
}

// Scheduler runs one cycle per base currency on every trigger.
type Scheduler struct {
	cfg      Config
	runner   CycleRunner
	recorder TickRecorder // optional
	logger   ports.Logger
	inflight singleflight.Group

	newBackOff func() backoff.BackOff
}

// New creates a scheduler. recorder may be nil when ticks are ingested elsewhere.
func New(cfg Config, runner CycleRunner, recorder TickRecorder) (*Scheduler, error) {
	if cfg.Logger == nil || runner == nil {
		return nil, fmt.Errorf("missing required dependencies for Scheduler")
	}
	if len(cfg.BaseCurrencies) == 0 {
		return nil, fmt.Errorf("at least one base currency is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("cycle interval must be positive: %w", ports.ErrConfigurationError)
	}
	if err := cfg.Windows.Validate(); err != nil {
		return nil, err
	}

	if cfg.MaxRetryElapsed <= 0 {
		cfg.MaxRetryElapsed = 2 * time.Minute
	}

	s := &Scheduler{cfg: cfg, runner: runner, recorder: recorder, logger: cfg.Logger}
	s.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 1 * time.Second
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = cfg.MaxRetryElapsed
		b.Multiplier = 2.0
		b.RandomizationFactor = 0.1
		return b
	}
	return s, nil
}

// Run triggers immediately and then on every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Scheduler started", map[string]interface{}{
		"interval":       s.cfg.Interval.String(),
		"baseCurrencies": s.cfg.BaseCurrencies,
		"accountKey":     s.runner.AccountKey(),
	})

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick records a ticker snapshot and runs one cycle per base currency, in order.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.recorder != nil {
		if _, err := s.recorder.Record(ctx); err != nil {
			s.logger.Warn(ctx, "Ticker snapshot incomplete", map[string]interface{}{"error": err.Error()})
		}
	}
	for _, base := range s.cfg.BaseCurrencies {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.RunOnce(ctx, base); err != nil {
			s.logger.Error(ctx, err, "Cycle abandoned after retries", map[string]interface{}{"baseCurrency": base})
		}
	}
}

// RunOnce runs the cycle of baseCurrency, retrying failures with exponential backoff.
// Cycles that already placed orders are never retried.
// Overlapping calls for the same account state share a single execution.
func (s *Scheduler) RunOnce(ctx context.Context, baseCurrency string) (*app.CycleResult, error) {
	key := app.StateKey(s.runner.AccountKey(), baseCurrency)
	v, err, shared := s.inflight.Do(key, func() (interface{}, error) {
		return s.runWithRetry(ctx, baseCurrency)
	})
	if shared {
		s.logger.Debug(ctx, "Joined in-flight cycle", map[string]interface{}{"stateKey": key})
	}
	if err != nil {
		return nil, err
	}
	return v.(*app.CycleResult), nil
}

func (s *Scheduler) runWithRetry(ctx context.Context, baseCurrency string) (*app.CycleResult, error) {
	var result *app.CycleResult
	operation := func() error {
		res, err := s.runner.RunCycle(ctx, baseCurrency, s.cfg.Windows)
		if err != nil {
			// Rerunning after orders went out would repeat the decision pass.
			if errors.Is(err, ports.ErrConfigurationError) || errors.Is(err, ports.ErrOrdersCommitted) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn(ctx, "Cycle failed, retrying", map[string]interface{}{
			"baseCurrency": baseCurrency,
			"error":        err.Error(),
			"retryIn":      next.String(),
		})
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(s.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return result, nil
}
