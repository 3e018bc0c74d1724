package backtest

import (
	"context"
	"fmt"
	"time"

	"trendBot/internal/domain"
	"trendBot/internal/ports"
)

// Trade is one completed buy/sell round trip.
type Trade struct {
	Currency  string
	BuyPrice  float64
	SellPrice float64
	Amount    float64
	PNL       float64 // In the quote currency, after fees
	BuyTime   time.Time
	SellTime  time.Time
}

type lot struct {
	price  float64
	amount float64
	cost   float64 // Quote spent including fee
	time   time.Time
}

// PaperExchange fills limit orders at their rate against simulated balances.
type PaperExchange struct {
	quote    string
	feeRate  float64
	balances map[string]float64
	marks    map[string]float64 // Last known price per currency
	open     map[string]lot
	trades   []Trade
	clock    func() time.Time
	nextID   int64
}

// NewPaperExchange creates a simulated account holding initialFunds of quote.
func NewPaperExchange(quote string, initialFunds, feeRate float64, clock func() time.Time) *PaperExchange {
	return &PaperExchange{
		quote:    quote,
		feeRate:  feeRate,
		balances: map[string]float64{quote: initialFunds},
		marks:    make(map[string]float64),
		open:     make(map[string]lot),
		clock:    clock,
	}
}

// Balances returns a copy of the simulated balances.
func (p *PaperExchange) Balances() map[string]float64 {
	out := make(map[string]float64, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out
}

// Trades returns the completed round trips in fill order.
func (p *PaperExchange) Trades() []Trade {
	return p.trades
}

// Execute fills intent in full or rejects it.
func (p *PaperExchange) Execute(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error) {
	if intent.Rate <= 0 || intent.Amount <= 0 {
		return nil, fmt.Errorf("paper order %s: %w", intent.Pair, ports.ErrInvalidRequest)
	}
	now := p.clock()
	fee := intent.Cost * p.feeRate
	p.marks[intent.Currency] = intent.Rate

	switch intent.Side {
	case domain.Buy:
		if p.balances[p.quote] < intent.Cost+fee {
			return nil, fmt.Errorf("paper buy %s for %.8f: %w", intent.Pair, intent.Cost, ports.ErrInsufficientFunds)
		}
		p.balances[p.quote] -= intent.Cost + fee
		p.balances[intent.Currency] += intent.Amount

		l := p.open[intent.Currency]
		l.cost += intent.Cost + fee
		l.amount += intent.Amount
		l.price = l.cost / l.amount
		if l.time.IsZero() {
			l.time = now
		}
		p.open[intent.Currency] = l
	case domain.Sell:
		if p.balances[intent.Currency] < intent.Amount {
			return nil, fmt.Errorf("paper sell %s of %.8f: %w", intent.Pair, intent.Amount, ports.ErrInsufficientFunds)
		}
		proceeds := intent.Cost - fee
		p.balances[intent.Currency] -= intent.Amount
		p.balances[p.quote] += proceeds

		l := p.open[intent.Currency]
		share := 1.0
		if l.amount > 0 && intent.Amount < l.amount {
			share = intent.Amount / l.amount
		}
		p.trades = append(p.trades, Trade{
			Currency:  intent.Currency,
			BuyPrice:  l.price,
			SellPrice: intent.Rate,
			Amount:    intent.Amount,
			PNL:       proceeds - l.cost*share,
			BuyTime:   l.time,
			SellTime:  now,
		})
		if share >= 1 {
			delete(p.open, intent.Currency)
		} else {
			l.cost -= l.cost * share
			l.amount -= intent.Amount
			p.open[intent.Currency] = l
		}
	default:
		return nil, fmt.Errorf("paper order side %q: %w", intent.Side, ports.ErrInvalidRequest)
	}

	p.nextID++
	return &domain.OrderResult{
		OrderID:      p.nextID,
		Pair:         intent.Pair,
		Side:         intent.Side,
		Status:       "FILLED",
		Price:        intent.Rate,
		OrigQuantity: intent.Amount,
		ExecutedQty:  intent.Amount,
		Timestamp:    now,
	}, nil
}

// Equity values all balances in the quote currency. prices update the marks; a currency missing
// from prices keeps its last known price, and one never priced is valued at zero.
func (p *PaperExchange) Equity(prices map[string]float64) float64 {
	for currency, price := range prices {
		if price > 0 {
			p.marks[currency] = price
		}
	}
	total := 0.0
	for currency, amount := range p.balances {
		if currency == p.quote {
			total += amount
			continue
		}
		total += amount * p.marks[currency]
	}
	return total
}
