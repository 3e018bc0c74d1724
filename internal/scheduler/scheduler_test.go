package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendBot/internal/app"
	"trendBot/internal/domain"
	"trendBot/internal/ports"
	"trendBot/internal/signal"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockRunner struct {
	mu       sync.Mutex
	calls    []string
	failures int // first N calls fail
	err      error
	block    chan struct{}
	started  chan struct{}
}

func (m *mockRunner) AccountKey() string { return "strategy1" }

func (m *mockRunner) RunCycle(ctx context.Context, base string, windows signal.WindowConfig) (*app.CycleResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, base)
	n := len(m.calls)
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	if n <= m.failures {
		return nil, m.err
	}
	return &app.CycleResult{CycleID: base, BaseCurrency: base}, nil
}

func (m *mockRunner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockRecorder struct {
	calls int32
	err   error
}

func (m *mockRecorder) Record(ctx context.Context) (int, error) {
	atomic.AddInt32(&m.calls, 1)
	return 1, m.err
}

func newTestScheduler(t *testing.T, runner CycleRunner, recorder TickRecorder) *Scheduler {
	t.Helper()
	s, err := New(Config{
		BaseCurrencies: []string{"USDT", "BTC"},
		Windows:        signal.WindowConfig{PrimaryMinutes: 10, ShortMinutes: 5},
		Interval:       time.Minute,
		Logger:         &mockLogger{},
	}, runner, recorder)
	require.NoError(t, err)
	s.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
	}
	return s
}

func TestNew_Validation(t *testing.T) {
	windows := signal.WindowConfig{PrimaryMinutes: 10, ShortMinutes: 5}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no bases", Config{Windows: windows, Interval: time.Minute, Logger: &mockLogger{}}},
		{"no interval", Config{BaseCurrencies: []string{"USDT"}, Windows: windows, Logger: &mockLogger{}}},
		{"bad windows", Config{BaseCurrencies: []string{"USDT"}, Interval: time.Minute, Logger: &mockLogger{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, &mockRunner{}, nil)
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}

	_, err := New(Config{BaseCurrencies: []string{"USDT"}, Windows: windows, Interval: time.Minute}, &mockRunner{}, nil)
	assert.Error(t, err)
}

func TestRunOnce_RetriesTransientFailures(t *testing.T) {
	runner := &mockRunner{failures: 2, err: ports.ErrPersistence}
	s := newTestScheduler(t, runner, nil)

	res, err := s.RunOnce(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, "USDT", res.BaseCurrency)
	assert.Equal(t, 3, runner.callCount())
}

func TestRunOnce_GivesUpAfterRetries(t *testing.T) {
	runner := &mockRunner{failures: 100, err: ports.ErrPersistence}
	s := newTestScheduler(t, runner, nil)

	_, err := s.RunOnce(context.Background(), "USDT")
	assert.ErrorIs(t, err, ports.ErrPersistence)
	assert.Equal(t, 4, runner.callCount())
}

func TestRunOnce_ConfigurationErrorsAreNotRetried(t *testing.T) {
	runner := &mockRunner{failures: 100, err: ports.ErrConfigurationError}
	s := newTestScheduler(t, runner, nil)

	_, err := s.RunOnce(context.Background(), "USDT")
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	assert.Equal(t, 1, runner.callCount())
}

func TestRunOnce_OverlappingCallsShareOneCycle(t *testing.T) {
	runner := &mockRunner{block: make(chan struct{}), started: make(chan struct{}, 2)}
	s := newTestScheduler(t, runner, nil)

	var wg sync.WaitGroup
	results := make([]*app.CycleResult, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = s.RunOnce(context.Background(), "USDT")
	}()
	<-runner.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = s.RunOnce(context.Background(), "USDT")
	}()
	time.Sleep(50 * time.Millisecond)
	close(runner.block)
	wg.Wait()

	assert.Equal(t, 1, runner.callCount())
	require.NotNil(t, results[0])
	assert.Same(t, results[0], results[1])
}

func TestTick_RunsEveryBaseAfterRecording(t *testing.T) {
	runner := &mockRunner{}
	recorder := &mockRecorder{err: errors.New("partial snapshot")}
	s := newTestScheduler(t, runner, recorder)

	s.Tick(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(&recorder.calls))
	assert.Equal(t, []string{"USDT", "BTC"}, runner.calls)
}

func TestRun_StopsOnCancel(t *testing.T) {
	runner := &mockRunner{}
	s := newTestScheduler(t, runner, nil)
	s.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, runner.callCount(), 2)
}

func TestRunOnce_CommittedOrdersAreNotRetried(t *testing.T) {
	runner := &mockRunner{failures: 100, err: ports.ErrOrdersCommitted}
	s := newTestScheduler(t, runner, nil)

	_, err := s.RunOnce(context.Background(), "USDT")
	assert.ErrorIs(t, err, ports.ErrOrdersCommitted)
	assert.Equal(t, 1, runner.callCount())
}

// Collaborators of a real CycleService.

type risingTickSource struct{}

func (risingTickSource) FetchRecent(ctx context.Context, base string, maxAge time.Duration) ([]domain.Tick, error) {
	now := time.Now()
	ticks := make([]domain.Tick, 0, 9)
	for m := 9; m >= 1; m-- {
		ticks = append(ticks, domain.Tick{
			CurrencyPair: "USDT_BTC",
			Timestamp:    now.Add(-time.Duration(m) * time.Minute),
			Last:         110 - float64(m),
		})
	}
	return ticks, nil
}

type memorySignals struct{}

func (memorySignals) PutSignals(ctx context.Context, base string, signals []domain.CurrencySignal) error {
	return nil
}

func (memorySignals) FindSignals(ctx context.Context, base string) ([]domain.CurrencySignal, error) {
	return nil, nil
}

type flakyAccounts struct {
	mu       sync.Mutex
	failures int // first N writes fail, -1 fails every write
	gets     int
	puts     int
	states   map[string]domain.AccountState
}

func (a *flakyAccounts) GetAccountState(ctx context.Context, key string) (domain.AccountState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gets++
	if st, ok := a.states[key]; ok {
		return st, nil
	}
	return domain.NewAccountState(), nil
}

func (a *flakyAccounts) PutAccountState(ctx context.Context, key string, state domain.AccountState) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.puts++
	if a.failures < 0 || a.puts <= a.failures {
		return errors.New("database is locked")
	}
	if a.states == nil {
		a.states = make(map[string]domain.AccountState)
	}
	a.states[key] = state
	return nil
}

type countingExchange struct {
	mu     sync.Mutex
	orders []domain.OrderIntent
}

func (e *countingExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"USDT": 300}, nil
}

func (e *countingExchange) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = append(e.orders, intent)
	return &domain.OrderResult{OrderID: int64(len(e.orders)), Pair: intent.Pair, Side: intent.Side, Status: "FILLED"}, nil
}

func (e *countingExchange) Ping(ctx context.Context) error { return nil }

func (e *countingExchange) placed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orders)
}

type silentNotifier struct{}

func (silentNotifier) Publish(ctx context.Context, topic, message string) error { return nil }

type silentMetrics struct{}

func (silentMetrics) ObserveCycle(string, time.Duration, error) {}
func (silentMetrics) AddSignals(string, int)                    {}
func (silentMetrics) IncOrders(string)                          {}
func (silentMetrics) IncCurrencyErrors(string)                  {}

func newCycleScheduler(t *testing.T, accounts *flakyAccounts, exchange *countingExchange) *Scheduler {
	t.Helper()
	svc, err := app.NewCycleService(
		app.CycleConfig{AccountKey: "strategy1", TradingBase: "USDT", AggregationWorkers: 1},
		&mockLogger{}, risingTickSource{}, memorySignals{}, accounts, exchange, silentNotifier{}, silentMetrics{},
	)
	require.NoError(t, err)
	return newTestScheduler(t, svc, nil)
}

func TestRunOnce_StateWriteFailureDoesNotRepeatOrders(t *testing.T) {
	t.Run("write recovers within the cycle", func(t *testing.T) {
		accounts := &flakyAccounts{failures: 1}
		exchange := &countingExchange{}
		s := newCycleScheduler(t, accounts, exchange)

		res, err := s.RunOnce(context.Background(), "USDT")
		require.NoError(t, err)

		assert.Len(t, res.OrdersPlaced, 1)
		assert.Equal(t, 1, exchange.placed())
		assert.Equal(t, 1, accounts.gets)
		assert.Equal(t, 2, accounts.puts)
		assert.Equal(t, domain.ActionBuy, accounts.states[app.StateKey("strategy1", "USDT")].LastAction)
	})

	t.Run("write never recovers", func(t *testing.T) {
		accounts := &flakyAccounts{failures: -1}
		exchange := &countingExchange{}
		s := newCycleScheduler(t, accounts, exchange)

		_, err := s.RunOnce(context.Background(), "USDT")
		assert.ErrorIs(t, err, ports.ErrOrdersCommitted)
		assert.ErrorIs(t, err, ports.ErrPersistence)

		assert.Equal(t, 1, exchange.placed())
		assert.Equal(t, 1, accounts.gets)
	})
}
