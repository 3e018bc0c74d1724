package domain

import "time"

// Position tracks the prices remembered for one currency since it was bought.
type Position struct {
	BuyPrice  float64
	PeakPrice float64 // Highest price observed since buying, never below BuyPrice
	LowPrice  float64 // Lowest price observed since buying, never above BuyPrice
}

// Track moves the peak up and the low down to include price.
func (p Position) Track(price float64) Position {
	if price > p.PeakPrice {
		p.PeakPrice = price
	}
	if price < p.LowPrice {
		p.LowPrice = price
	}
	return p
}

// OpenPosition returns a fresh position bought at price.
func OpenPosition(price float64) Position {
	return Position{BuyPrice: price, PeakPrice: price, LowPrice: price}
}

// AccountState is the persisted position memory of one trading account.
type AccountState struct {
	LastAction Action
	Positions  map[string]Position // Keyed by currency
	UpdatedAt  time.Time
}

// NewAccountState returns an empty state that is eligible to buy.
func NewAccountState() AccountState {
	return AccountState{LastAction: ActionNone, Positions: make(map[string]Position)}
}

// Clone returns a deep copy so a decision pass never mutates its input.
func (s AccountState) Clone() AccountState {
	c := AccountState{LastAction: s.LastAction, UpdatedAt: s.UpdatedAt, Positions: make(map[string]Position, len(s.Positions))}
	for k, v := range s.Positions {
		c.Positions[k] = v
	}
	if c.LastAction == "" {
		c.LastAction = ActionNone
	}
	return c
}

// Position returns the open position for currency, if any.
func (s AccountState) Position(currency string) (Position, bool) {
	p, ok := s.Positions[currency]
	return p, ok
}
