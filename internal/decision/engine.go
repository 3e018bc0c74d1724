// Package decision implements the buy/sell state machine driven by currency signals and remembered position prices.
package decision

import (
	"context"
	"fmt"
	"sort"

	"trendBot/internal/domain"
	"trendBot/internal/ports"
)

const (
	// DefaultBuyFraction is the share of the available quote balance one buy may spend.
	DefaultBuyFraction = 1.0 / 3.0

	buyThresholdBase   = 5.0
	buyThresholdWeight = 4.0

	sellThresholdBase   = 15.0
	sellThresholdWeight = 5.0
)

// Executor places an order intent. A nil result with a nil error is treated as success.
type Executor interface {
	Execute(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error) {
	return f(ctx, intent)
}

// Config holds the decision policy parameters.
type Config struct {
	QuoteCurrency string  // Currency buys are paid in, e.g. "USDT"
	BuyFraction   float64 // Share of the available quote balance spent per buy
	Policy        domain.OrderPolicy
	Logger        ports.Logger
}

// Engine decides, per currency, whether to buy, sell or hold.
type Engine struct {
	quote       string
	buyFraction float64
	policy      domain.OrderPolicy
	logger      ports.Logger
}

// NewEngine creates a decision engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for decision engine")
	}
	if cfg.QuoteCurrency == "" {
		return nil, fmt.Errorf("quote currency is required: %w", ports.ErrConfigurationError)
	}
	fraction := cfg.BuyFraction
	if fraction == 0 {
		fraction = DefaultBuyFraction
	}
	if fraction < 0 || fraction > 1 {
		return nil, fmt.Errorf("buy fraction %v outside (0,1]: %w", fraction, ports.ErrConfigurationError)
	}
	return &Engine{quote: cfg.QuoteCurrency, buyFraction: fraction, policy: cfg.Policy, logger: cfg.Logger}, nil
}

// Decision is the outcome of one decision pass.
type Decision struct {
	Pass     domain.Action        // Which pass ran
	Orders   []domain.OrderIntent // Intents whose placement succeeded, in placement order
	NewState domain.AccountState
	Errors   []domain.CurrencyError
}

// Decide runs the buy pass when the account is buy-eligible and the sell pass otherwise.
// Orders go through exec one at a time; a failed order leaves that currency's state untouched.
// The input state is never modified.
func (e *Engine) Decide(ctx context.Context, signals []domain.CurrencySignal, state domain.AccountState, balances map[string]float64, exec Executor) Decision {
	if state.LastAction == domain.ActionBuy {
		return e.sellPass(ctx, signals, state, balances, exec)
	}
	return e.buyPass(ctx, signals, state, balances, exec)
}

// buyThreshold is the minimum price increase (%) needed to buy; confident fits lower it.
func buyThreshold(volatilityFactor float64) float64 {
	return buyThresholdBase - buyThresholdWeight*volatilityFactor
}

// sellThreshold is the minimum drawdown from peak (% of total gain) needed to sell.
func sellThreshold(volatilityFactor float64) float64 {
	return sellThresholdBase - sellThresholdWeight*volatilityFactor
}

// rankForBuy keeps upward trends ordered by slope*volatilityFactor, highest first.
// Equal scores keep their input order.
func rankForBuy(signals []domain.CurrencySignal) []domain.CurrencySignal {
	ranked := make([]domain.CurrencySignal, 0, len(signals))
	for _, s := range signals {
		if s.Slope > 0 {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Slope*ranked[i].VolatilityFactor > ranked[j].Slope*ranked[j].VolatilityFactor
	})
	return ranked
}

// buyLedger is the accumulator folded over the ranked currencies of a buy pass.
type buyLedger struct {
	available float64 // Quote balance left after successful buys
	maxBuy    float64 // Spend cap per buy, fixed at pass start
}

func (e *Engine) buyPass(ctx context.Context, signals []domain.CurrencySignal, state domain.AccountState, balances map[string]float64, exec Executor) Decision {
	d := Decision{Pass: domain.ActionBuy, NewState: state.Clone()}
	ranked := rankForBuy(signals)

	available := balances[e.quote]
	ledger := buyLedger{available: available, maxBuy: available * e.buyFraction}
	e.logger.Debug(ctx, "Buy pass started", map[string]interface{}{"candidates": len(ranked), "available": available, "maxBuyCash": ledger.maxBuy})

	for _, sig := range ranked {
		ledger = e.considerBuy(ctx, sig, ledger, &d, exec)
	}

	d.NewState.LastAction = domain.ActionBuy
	return d
}

func (e *Engine) considerBuy(ctx context.Context, sig domain.CurrencySignal, ledger buyLedger, d *Decision, exec Executor) buyLedger {
	buyCash := ledger.maxBuy
	if ledger.available < buyCash {
		buyCash = ledger.available
	}
	increase := percentChange(sig.PastPrice, sig.CurrentPrice)
	threshold := buyThreshold(sig.VolatilityFactor)
	fields := map[string]interface{}{
		"currency":         sig.Currency,
		"buyCash":          buyCash,
		"priceIncreasePct": increase,
		"threshold":        threshold,
	}

	if buyCash <= 0 || sig.CurrentPrice <= 0 || increase <= threshold {
		if pos, ok := d.NewState.Position(sig.Currency); ok {
			d.NewState.Positions[sig.Currency] = pos.Track(sig.CurrentPrice)
		}
		e.logger.Debug(ctx, "Buy skipped", fields)
		return ledger
	}

	intent := domain.OrderIntent{
		Pair:     domain.JoinPair(e.quote, sig.Currency),
		Currency: sig.Currency,
		Side:     domain.Buy,
		Rate:     sig.CurrentPrice,
		Amount:   buyCash / sig.CurrentPrice,
		Cost:     buyCash,
		Policy:   e.policy,
	}
	if _, err := exec.Execute(ctx, intent); err != nil {
		e.logger.Error(ctx, err, "Buy order failed, position left unchanged", fields)
		d.Errors = append(d.Errors, domain.CurrencyError{Currency: sig.Currency, Stage: domain.StageOrder, Err: err})
		return ledger
	}

	e.logger.Info(ctx, "Buy order placed", fields)
	d.Orders = append(d.Orders, intent)
	d.NewState.Positions[sig.Currency] = domain.OpenPosition(sig.CurrentPrice)
	ledger.available -= buyCash
	return ledger
}

func (e *Engine) sellPass(ctx context.Context, signals []domain.CurrencySignal, state domain.AccountState, balances map[string]float64, exec Executor) Decision {
	d := Decision{Pass: domain.ActionSell, NewState: state.Clone()}

	for _, sig := range signals {
		if sig.Slope >= 0 {
			continue
		}
		before, ok := state.Position(sig.Currency)
		if !ok {
			continue
		}

		pos := before.Track(sig.CurrentPrice)
		d.NewState.Positions[sig.Currency] = pos

		threshold := sellThreshold(sig.VolatilityFactor)
		balance := balances[sig.Currency]
		fields := map[string]interface{}{
			"currency":  sig.Currency,
			"buyPrice":  pos.BuyPrice,
			"peakPrice": pos.PeakPrice,
			"lowPrice":  pos.LowPrice,
			"balance":   balance,
			"threshold": threshold,
		}

		drawdown, ok := peakDrawdown(pos, sig.CurrentPrice)
		if !ok {
			e.logger.Debug(ctx, "Sell skipped, no gain recorded since buying", fields)
			continue
		}
		fields["peakPriceDifferentialPct"] = drawdown
		if balance <= 0 || drawdown <= threshold {
			e.logger.Debug(ctx, "Sell skipped", fields)
			continue
		}

		intent := domain.OrderIntent{
			Pair:     domain.JoinPair(e.quote, sig.Currency),
			Currency: sig.Currency,
			Side:     domain.Sell,
			Rate:     sig.CurrentPrice,
			Amount:   balance,
			Cost:     balance * sig.CurrentPrice,
			Policy:   e.policy,
		}
		if _, err := exec.Execute(ctx, intent); err != nil {
			e.logger.Error(ctx, err, "Sell order failed, position left unchanged", fields)
			d.NewState.Positions[sig.Currency] = before
			d.Errors = append(d.Errors, domain.CurrencyError{Currency: sig.Currency, Stage: domain.StageOrder, Err: err})
			continue
		}

		e.logger.Info(ctx, "Sell order placed", fields)
		d.Orders = append(d.Orders, intent)
		delete(d.NewState.Positions, sig.Currency)
	}

	d.NewState.LastAction = domain.ActionSell
	return d
}

// peakDrawdown is the fall from peak as a percentage of the total gain since buying.
// It reports false when the peak never rose above the buy price.
func peakDrawdown(pos domain.Position, price float64) (float64, bool) {
	gain := pos.PeakPrice - pos.BuyPrice
	if gain <= 0 {
		return 0, false
	}
	return (pos.PeakPrice - price) / gain * 100, true
}

// percentChange returns the change from past to current in percent, 0 when past is 0.
func percentChange(past, current float64) float64 {
	if past == 0 {
		return 0
	}
	return (current - past) / past * 100
}
