package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"trendBot/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements ports.Metrics on a private registry.
type Prometheus struct {
	registry       *prometheus.Registry
	cycleDuration  *prometheus.HistogramVec
	cyclesTotal    *prometheus.CounterVec
	signalsTotal   *prometheus.CounterVec
	ordersTotal    *prometheus.CounterVec
	currencyErrors *prometheus.CounterVec
	ticksTotal     *prometheus.CounterVec
}

// NewPrometheus creates and registers the trend bot collectors.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		cycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trendbot_cycle_duration_seconds",
			Help:    "Duration of one decision cycle",
			Buckets: prometheus.DefBuckets,
		}, []string{"base"}),
		cyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_cycles_total",
			Help: "Decision cycles run, by outcome",
		}, []string{"base", "outcome"}),
		signalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_signals_total",
			Help: "Currency signals computed",
		}, []string{"base"}),
		ordersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_orders_total",
			Help: "Orders placed successfully",
		}, []string{"side"}),
		currencyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_currency_errors_total",
			Help: "Failures isolated to one currency, by stage",
		}, []string{"stage"}),
		ticksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trendbot_ticks_recorded_total",
			Help: "Ticker snapshots stored",
		}, []string{"base"}),
	}
}

func (p *Prometheus) ObserveCycle(baseCurrency string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	p.cycleDuration.WithLabelValues(baseCurrency).Observe(duration.Seconds())
	p.cyclesTotal.WithLabelValues(baseCurrency, outcome).Inc()
}

func (p *Prometheus) AddSignals(baseCurrency string, n int) {
	p.signalsTotal.WithLabelValues(baseCurrency).Add(float64(n))
}

func (p *Prometheus) IncOrders(side string) {
	p.ordersTotal.WithLabelValues(side).Inc()
}

func (p *Prometheus) IncCurrencyErrors(stage string) {
	p.currencyErrors.WithLabelValues(stage).Inc()
}

// AddTicks counts ticker snapshots stored by the recorder.
func (p *Prometheus) AddTicks(baseCurrency string, n int) {
	p.ticksTotal.WithLabelValues(baseCurrency).Add(float64(n))
}

// Handler exposes the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve starts the /metrics endpoint in the background. Shut it down with the returned server.
// Listen failures are logged; the returned channel receives the error and is closed when the server exits.
func (p *Prometheus) Serve(addr string, logger ports.Logger) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), err, "Metrics server error", map[string]interface{}{"addr": addr})
			errCh <- err
		}
	}()
	return srv, errCh
}

// Noop discards all measurements.
type Noop struct{}

func (Noop) ObserveCycle(string, time.Duration, error) {}
func (Noop) AddSignals(string, int)                    {}
func (Noop) IncOrders(string)                          {}
func (Noop) IncCurrencyErrors(string)                  {}
func (Noop) AddTicks(string, int)                      {}
