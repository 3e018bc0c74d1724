package domain

import "time"

// OrderPolicy selects the time-in-force of an order.
type OrderPolicy struct {
	FillOrKill        bool
	ImmediateOrCancel bool
}

// OrderIntent is an order the decision engine wants placed.
type OrderIntent struct {
	Pair     string // BASE_QUOTE
	Currency string
	Side     OrderSide
	Rate     float64 // Limit price in the base currency
	Amount   float64 // Quantity in the traded currency
	Cost     float64 // Rate * Amount, the base currency committed
	Policy   OrderPolicy
}

// OrderResult is what the exchange reported after placing an order.
type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Pair          string
	Side          OrderSide
	Status        string
	Price         float64
	OrigQuantity  float64
	ExecutedQty   float64
	Timestamp     time.Time
}
