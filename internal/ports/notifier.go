package ports

import (
	"context"
	"time"
)

// Notifier publishes change notifications. Delivery is best effort.
type Notifier interface {
	Publish(ctx context.Context, topic, message string) error
}

// Metrics records cycle outcomes.
type Metrics interface {
	ObserveCycle(baseCurrency string, duration time.Duration, err error)
	AddSignals(baseCurrency string, n int)
	IncOrders(side string)
	IncCurrencyErrors(stage string)
}
