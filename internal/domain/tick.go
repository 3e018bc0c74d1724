package domain

import "time"

// Tick is one market snapshot for a currency pair as recorded by the tick source.
type Tick struct {
	CurrencyPair  string    // BASE_QUOTE, e.g. "USDT_BTC"
	Timestamp     time.Time // Time the snapshot was observed
	Last          float64   // Last traded price
	HighestBid    float64
	LowestAsk     float64
	BaseVolume    float64 // 24h volume in the base currency
	QuoteVolume   float64 // 24h volume in the quote currency
	PercentChange float64 // 24h change
	High24h       float64
	IsFrozen      bool
}

// Currency returns the quote segment of the pair, which is the traded currency.
func (t Tick) Currency() (string, error) {
	_, quote, err := SplitPair(t.CurrencyPair)
	return quote, err
}
