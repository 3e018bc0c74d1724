package domain

import (
	"fmt"
	"strings"
)

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Action is the last decision pass an account ran. It drives which pass runs next.
type Action string

const (
	ActionNone Action = "NONE"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ParseAction converts a stored action string to an Action, treating unknown values as ActionNone.
func ParseAction(s string) Action {
	switch Action(strings.ToUpper(s)) {
	case ActionBuy:
		return ActionBuy
	case ActionSell:
		return ActionSell
	default:
		return ActionNone
	}
}

// PairDelimiter separates the base and quote segments of a currency pair ("USDT_BTC").
const PairDelimiter = "_"

// SplitPair splits a BASE_QUOTE pair into its base and quote currencies.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.SplitN(pair, PairDelimiter, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed currency pair %q", pair)
	}
	return parts[0], parts[1], nil
}

// JoinPair builds a BASE_QUOTE pair.
func JoinPair(base, quote string) string {
	return base + PairDelimiter + quote
}

// CurrencyError records a failure isolated to one currency during a cycle.
type CurrencyError struct {
	Currency string
	Stage    string // aggregate, order, balance
	Err      error
}

const (
	StageAggregate = "aggregate"
	StageOrder     = "order"
	StageBalance   = "balance"
)

func (e CurrencyError) Error() string {
	if e.Currency == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Currency, e.Err)
}

func (e CurrencyError) Unwrap() error {
	return e.Err
}
