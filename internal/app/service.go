package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trendBot/internal/decision"
	"trendBot/internal/domain"
	"trendBot/internal/ports"
	"trendBot/internal/signal"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// notifyMessage is the payload published after the signals of a base currency are refreshed.
const notifyMessage = "currency data updated"

// NotifyTopic returns the channel a base currency's refresh notification is published on.
func NotifyTopic(baseCurrency string) string {
	return "new-currency-data-" + baseCurrency
}

// StateKey returns the account state key used for cycles of baseCurrency.
// Each base currency keeps its own position memory under the shared account.
func StateKey(accountKey, baseCurrency string) string {
	return accountKey + ":" + baseCurrency
}

// CycleConfig holds the per-account settings of the decision cycle.
type CycleConfig struct {
	AccountKey         string
	TradingBase        string // Only cycles of this base currency decide and place orders
	AggregationWorkers int
	BuyFraction        float64
	OrderPolicy        domain.OrderPolicy
}

// CycleResult is the outcome of one RunCycle call.
type CycleResult struct {
	CycleID        string
	BaseCurrency   string
	Action         domain.Action // Pass that ran, ActionNone when the decision was skipped
	SignalsUpdated int
	Signals        []domain.CurrencySignal
	OrdersPlaced   []domain.OrderIntent
	Errors         []domain.CurrencyError
	NotifyErr      error // Set when the refresh notification could not be published
	State          domain.AccountState
}

// CycleService runs the signal-build and decision pipeline for one account.
type CycleService struct {
	cfg      CycleConfig
	logger   ports.Logger
	ticks    ports.TickSource
	signals  ports.SignalRepository
	accounts ports.AccountRepository
	exchange ports.ExchangeClient
	notifier ports.Notifier
	metrics  ports.Metrics

	now          func() time.Time
	newID        func() string
	stateBackOff func() backoff.BackOff
}

// NewCycleService creates a new application service instance.
func NewCycleService(
	cfg CycleConfig,
	logger ports.Logger,
	ticks ports.TickSource,
	signals ports.SignalRepository,
	accounts ports.AccountRepository,
	exchange ports.ExchangeClient,
	notifier ports.Notifier,
	metrics ports.Metrics,
) (*CycleService, error) {
	if logger == nil || ticks == nil || signals == nil || accounts == nil || exchange == nil || notifier == nil || metrics == nil {
		return nil, fmt.Errorf("missing required dependencies for CycleService")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("configuration AccountKey must be set: %w", ports.ErrConfigurationError)
	}
	if cfg.TradingBase == "" {
		return nil, fmt.Errorf("configuration TradingBase must be set: %w", ports.ErrConfigurationError)
	}
	if cfg.BuyFraction < 0 || cfg.BuyFraction > 1 {
		return nil, fmt.Errorf("configuration BuyFraction must be within (0,1]: %w", ports.ErrConfigurationError)
	}

	return &CycleService{
		cfg:      cfg,
		logger:   logger,
		ticks:    ticks,
		signals:  signals,
		accounts: accounts,
		exchange: exchange,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
		newID:    uuid.NewString,
		stateBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}, nil
}

// AccountKey returns the account the service trades for.
func (s *CycleService) AccountKey() string {
	return s.cfg.AccountKey
}

// RunCycle refreshes the signals of every currency quoted in baseCurrency and, for the trading base,
// runs one decision pass. Per-currency failures are collected in the result; failures to read ticks
// or account state, or to persist signals or the new state, abort the cycle and are returned.
// A state write that still fails after orders were placed wraps ErrOrdersCommitted and must not be
// retried by running the cycle again.
func (s *CycleService) RunCycle(ctx context.Context, baseCurrency string, windows signal.WindowConfig) (result *CycleResult, err error) {
	start := s.now()
	cycleID := s.newID()
	fields := map[string]interface{}{"cycleId": cycleID, "baseCurrency": baseCurrency, "accountKey": s.cfg.AccountKey}
	defer func() {
		s.metrics.ObserveCycle(baseCurrency, s.now().Sub(start), err)
		if err != nil {
			s.logger.Error(ctx, err, "Cycle failed", fields)
		}
	}()

	builder, err := signal.NewBuilder(windows, s.cfg.AggregationWorkers)
	if err != nil {
		return nil, err
	}
	engine, err := decision.NewEngine(decision.Config{
		QuoteCurrency: baseCurrency,
		BuyFraction:   s.cfg.BuyFraction,
		Policy:        s.cfg.OrderPolicy,
		Logger:        s.logger,
	})
	if err != nil {
		return nil, err
	}

	result = &CycleResult{CycleID: cycleID, BaseCurrency: baseCurrency, Action: domain.ActionNone}
	s.logger.Info(ctx, "Cycle started", fields)

	// 1. Ticks
	ticks, err := s.ticks.FetchRecent(ctx, baseCurrency, windows.Primary())
	if err != nil {
		return nil, fmt.Errorf("fetch ticks for %s: %w", baseCurrency, err)
	}

	// 2. Signals
	built := builder.Build(ctx, baseCurrency, ticks, start)
	for _, ce := range built.Errors {
		s.logger.Warn(ctx, "Currency skipped during aggregation", map[string]interface{}{"cycleId": cycleID, "currency": ce.Currency, "error": ce.Err.Error()})
		s.recordError(result, ce)
	}

	if err := s.signals.PutSignals(ctx, baseCurrency, built.Signals); err != nil {
		return nil, persistence(fmt.Errorf("store signals for %s: %w", baseCurrency, err))
	}
	result.Signals = built.Signals
	result.SignalsUpdated = len(built.Signals)
	s.metrics.AddSignals(baseCurrency, len(built.Signals))

	if err := s.notifier.Publish(ctx, NotifyTopic(baseCurrency), notifyMessage); err != nil {
		s.logger.Warn(ctx, "Refresh notification failed", map[string]interface{}{"cycleId": cycleID, "error": err.Error()})
		s.metrics.IncCurrencyErrors("notify")
		result.NotifyErr = err
	}

	if baseCurrency != s.cfg.TradingBase {
		fields["signals"] = result.SignalsUpdated
		fields["errors"] = len(result.Errors)
		s.logger.Info(ctx, "Cycle completed, base currency not traded", fields)
		return result, nil
	}

	// 3. Decision
	stateKey := StateKey(s.cfg.AccountKey, baseCurrency)
	state, err := s.accounts.GetAccountState(ctx, stateKey)
	if err != nil {
		return nil, persistence(fmt.Errorf("load account state %s: %w", stateKey, err))
	}
	result.State = state

	balances, err := s.exchange.GetBalances(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Balances unavailable, decision skipped", map[string]interface{}{"cycleId": cycleID, "error": err.Error()})
		s.recordError(result, domain.CurrencyError{Stage: domain.StageBalance, Err: exchangeErr(err)})
		return result, nil
	}

	d := engine.Decide(ctx, built.Signals, state, balances, decision.ExecutorFunc(s.execute))
	result.Action = d.Pass
	result.OrdersPlaced = d.Orders
	for _, ce := range d.Errors {
		s.recordError(result, ce)
	}

	d.NewState.UpdatedAt = s.now()
	write := func() error { return s.accounts.PutAccountState(ctx, stateKey, d.NewState) }
	retrying := func(err error, next time.Duration) {
		s.logger.Warn(ctx, "Account state write failed, retrying", map[string]interface{}{
			"cycleId": cycleID, "stateKey": stateKey, "error": err.Error(), "retryIn": next.String(),
		})
	}
	if err := backoff.RetryNotify(write, backoff.WithContext(s.stateBackOff(), ctx), retrying); err != nil {
		err = persistence(fmt.Errorf("store account state %s after %d orders: %w", stateKey, len(d.Orders), err))
		if len(d.Orders) > 0 {
			err = fmt.Errorf("%w: %w", ports.ErrOrdersCommitted, err)
		}
		return nil, err
	}
	result.State = d.NewState

	fields["action"] = result.Action
	fields["signals"] = result.SignalsUpdated
	fields["orders"] = len(result.OrdersPlaced)
	fields["errors"] = len(result.Errors)
	fields["duration"] = s.now().Sub(start).String()
	s.logger.Info(ctx, "Cycle completed", fields)
	return result, nil
}

// execute places one order through the exchange and counts it.
func (s *CycleService) execute(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error) {
	res, err := s.exchange.PlaceOrder(ctx, intent)
	if err != nil {
		return nil, exchangeErr(err)
	}
	s.metrics.IncOrders(string(intent.Side))
	return res, nil
}

func (s *CycleService) recordError(result *CycleResult, ce domain.CurrencyError) {
	result.Errors = append(result.Errors, ce)
	s.metrics.IncCurrencyErrors(ce.Stage)
}

func exchangeErr(err error) error {
	if errors.Is(err, ports.ErrExchange) {
		return err
	}
	return fmt.Errorf("%w: %w", ports.ErrExchange, err)
}

func persistence(err error) error {
	if errors.Is(err, ports.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", ports.ErrPersistence, err)
}
