package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"trendBot/internal/domain"
	"trendBot/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// Binance accepts at most 8 decimals on price and quantity.
	orderPrecision = 8
)

// Client implements ports.ExchangeClient and ports.TickerClient against the Binance spot API.
type Client struct {
	spotClient *binance.Client
	breaker    *gobreaker.CircuitBreaker
	logger     ports.Logger
	now        func() time.Time
	newOrderID func() string

	filtersMu sync.Mutex
	filters   map[string]symbolFilters // by symbol, loaded on first order
}

// symbolFilters are the LOT_SIZE and PRICE_FILTER rules of one symbol. Zero steps are not enforced.
type symbolFilters struct {
	stepSize decimal.Decimal
	minQty   decimal.Decimal
	tickSize decimal.Decimal
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet URL when set
	Logger     ports.Logger

	BreakerMaxFailures uint32        // Consecutive failures that open the breaker (default 5)
	BreakerTimeout     time.Duration // Time the breaker stays open (default 30s)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance spot client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger := cfg.Logger
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "binance-spot",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Client{
		spotClient: client,
		breaker:    breaker,
		logger:     cfg.Logger,
		now:        time.Now,
		newOrderID: func() string { return "tb-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24] },
		filters:    make(map[string]symbolFilters),
	}, nil
}

// call runs fn through the circuit breaker and translates its error.
func (c *Client) call(ctx context.Context, op string, fn func() (interface{}, error)) (interface{}, error) {
	res, err := c.breaker.Execute(fn)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn(ctx, op+" rejected, exchange circuit open", map[string]interface{}{"operation": op})
		return nil, fmt.Errorf("%s failed: %w: %w: %w", op, ports.ErrExchange, ports.ErrCircuitOpen, err)
	}
	return nil, c.handleError(ctx, err, op)
}

// handleError translates common Binance API errors into standardized ports errors.
// Every returned error wraps ports.ErrExchange.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003, -1015: // Too many requests / orders
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1121, -1013:
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected, usually insufficient balance
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderPlacementFailed
			}
		case -2014, -2015: // API-key format invalid / invalid key, IP, or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w: %w", operation, ports.ErrExchange, mappedErr, err)
	}

	var mappedErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		mappedErr = ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		mappedErr = ports.ErrContextCanceled
	case errors.Is(err, ports.ErrInvalidRequest), errors.Is(err, ports.ErrOrderPlacementFailed):
		mappedErr = nil
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		mappedErr = ports.ErrConnectionFailed
	default:
		mappedErr = ports.ErrUnknown
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	if mappedErr == nil {
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchange, err)
	}
	return fmt.Errorf("%s failed: %w: %w: %w", operation, ports.ErrExchange, mappedErr, err)
}

// Ping checks connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	_, err := c.call(ctx, op, func() (interface{}, error) {
		return nil, c.spotClient.NewPingService().Do(ctx)
	})
	if err != nil {
		return err
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetBalances returns the free balance of every asset with a non-zero free amount.
func (c *Client) GetBalances(ctx context.Context) (map[string]float64, error) {
	op := "GetBalances"
	res, err := c.call(ctx, op, func() (interface{}, error) {
		return c.spotClient.NewGetAccountService().Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	account := res.(*binance.Account)

	balances := make(map[string]float64, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			c.logger.Warn(ctx, "Skipping unparsable balance", map[string]interface{}{"asset": b.Asset, "free": b.Free})
			continue
		}
		if free.IsZero() {
			continue
		}
		balances[b.Asset] = free.InexactFloat64()
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"assets": len(balances)})
	return balances, nil
}

// PlaceOrder places a limit order for intent. FOK and IOC orders that the exchange
// expires without any fill are reported as ErrOrderPlacementFailed.
func (c *Client) PlaceOrder(ctx context.Context, intent domain.OrderIntent) (*domain.OrderResult, error) {
	op := "PlaceOrder"
	symbol, err := ToSymbol(intent.Pair)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w: %w", op, ports.ErrExchange, ports.ErrInvalidRequest, err)
	}

	filters, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return nil, err
	}
	quantity, price, err := filters.apply(intent.Amount, intent.Rate)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w: %w", op, ports.ErrExchange, ports.ErrInvalidRequest, err)
	}

	side := binance.SideTypeBuy
	if intent.Side == domain.Sell {
		side = binance.SideTypeSell
	}
	clientOrderID := c.newOrderID()
	fields := map[string]interface{}{
		"symbol":        symbol,
		"side":          side,
		"quantity":      quantity,
		"price":         price,
		"timeInForce":   timeInForce(intent.Policy),
		"clientOrderId": clientOrderID,
	}
	c.logger.Info(ctx, "Placing limit order", fields)

	res, err := c.call(ctx, op, func() (interface{}, error) {
		return c.spotClient.NewCreateOrderService().
			Symbol(symbol).
			Side(side).
			Type(binance.OrderTypeLimit).
			TimeInForce(timeInForce(intent.Policy)).
			Quantity(quantity).
			Price(price).
			NewClientOrderID(clientOrderID).
			Do(ctx)
	})
	if err != nil {
		return nil, err
	}

	result, err := translateOrderResponse(res.(*binance.CreateOrderResponse), intent.Pair)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if result.ExecutedQty == 0 && (result.Status == string(binance.OrderStatusTypeExpired) || result.Status == string(binance.OrderStatusTypeRejected)) {
		err := fmt.Errorf("order %d %s without fill: %w", result.OrderID, strings.ToLower(result.Status), ports.ErrOrderPlacementFailed)
		return nil, c.handleError(ctx, err, op)
	}
	fields["orderId"] = result.OrderID
	fields["status"] = result.Status
	fields["executedQty"] = result.ExecutedQty
	c.logger.Info(ctx, "Order placed", fields)
	return result, nil
}

// symbolFilters returns the trading rules of symbol, fetching them once from exchange info.
func (c *Client) symbolFilters(ctx context.Context, symbol string) (symbolFilters, error) {
	c.filtersMu.Lock()
	f, ok := c.filters[symbol]
	c.filtersMu.Unlock()
	if ok {
		return f, nil
	}

	op := "GetExchangeInfo"
	res, err := c.call(ctx, op, func() (interface{}, error) {
		return c.spotClient.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return symbolFilters{}, err
	}
	info := res.(*binance.ExchangeInfo)

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		if lot := s.LotSizeFilter(); lot != nil {
			f.stepSize = decimalOrZero(lot.StepSize)
			f.minQty = decimalOrZero(lot.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			f.tickSize = decimalOrZero(pf.TickSize)
		}
		c.filtersMu.Lock()
		c.filters[symbol] = f
		c.filtersMu.Unlock()
		c.logger.Debug(ctx, op+" successful", map[string]interface{}{
			"symbol": symbol, "stepSize": f.stepSize.String(), "minQty": f.minQty.String(), "tickSize": f.tickSize.String(),
		})
		return f, nil
	}
	return symbolFilters{}, fmt.Errorf("%s failed: %w: %w: symbol %s not listed", op, ports.ErrExchange, ports.ErrInvalidRequest, symbol)
}

// apply rounds quantity and price down to the symbol steps and checks the minimum quantity.
func (f symbolFilters) apply(amount, rate float64) (quantity, price string, err error) {
	q := roundDown(decimal.NewFromFloat(amount), f.stepSize)
	p := roundDown(decimal.NewFromFloat(rate), f.tickSize)
	if !q.IsPositive() || !p.IsPositive() {
		return "", "", fmt.Errorf("quantity %v at price %v rounds to zero", amount, rate)
	}
	if f.minQty.IsPositive() && q.LessThan(f.minQty) {
		return "", "", fmt.Errorf("quantity %s below minimum %s", q, f.minQty)
	}
	return q.String(), p.String(), nil
}

// roundDown truncates v to a multiple of step, or to the exchange precision when step is zero.
func roundDown(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v.Truncate(orderPrecision)
	}
	return v.Div(step).Floor().Mul(step)
}

func decimalOrZero(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GetTickers returns one tick per symbol quoted in baseCurrency from the 24h ticker statistics.
func (c *Client) GetTickers(ctx context.Context, baseCurrency string) ([]domain.Tick, error) {
	op := "GetTickers"
	res, err := c.call(ctx, op, func() (interface{}, error) {
		return c.spotClient.NewListPriceChangeStatsService().Do(ctx)
	})
	if err != nil {
		return nil, err
	}
	stats := res.([]*binance.PriceChangeStats)

	observed := c.now().UTC()
	ticks := make([]domain.Tick, 0)
	for _, s := range stats {
		pair, ok := FromSymbol(s.Symbol, baseCurrency)
		if !ok {
			continue
		}
		tick, err := translateTicker(s, pair, observed)
		if err != nil {
			c.logger.Warn(ctx, "Skipping unparsable ticker", map[string]interface{}{"symbol": s.Symbol, "error": err.Error()})
			continue
		}
		ticks = append(ticks, tick)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"baseCurrency": baseCurrency, "tickers": len(ticks)})
	return ticks, nil
}

// ToSymbol maps a BASE_QUOTE pair ("USDT_BTC") to a Binance symbol ("BTCUSDT").
func ToSymbol(pair string) (string, error) {
	base, quote, err := domain.SplitPair(pair)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(quote + base), nil
}

// FromSymbol maps a Binance symbol quoted in baseCurrency back to a BASE_QUOTE pair.
func FromSymbol(symbol, baseCurrency string) (string, bool) {
	if baseCurrency == "" || !strings.HasSuffix(symbol, baseCurrency) {
		return "", false
	}
	asset := strings.TrimSuffix(symbol, baseCurrency)
	if asset == "" {
		return "", false
	}
	return domain.JoinPair(baseCurrency, asset), true
}

func timeInForce(p domain.OrderPolicy) binance.TimeInForceType {
	switch {
	case p.FillOrKill:
		return binance.TimeInForceTypeFOK
	case p.ImmediateOrCancel:
		return binance.TimeInForceTypeIOC
	default:
		return binance.TimeInForceTypeGTC
	}
}

func parseDecimal(field, v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("could not parse %s '%s': %w", field, v, err)
	}
	return d.InexactFloat64(), nil
}

func translateOrderResponse(order *binance.CreateOrderResponse, pair string) (*domain.OrderResult, error) {
	price, err := parseDecimal("price", order.Price)
	if err != nil {
		return nil, err
	}
	origQty, err := parseDecimal("origQty", order.OrigQuantity)
	if err != nil {
		return nil, err
	}
	executedQty, err := parseDecimal("executedQty", order.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	side := domain.Buy
	if order.Side == binance.SideTypeSell {
		side = domain.Sell
	}
	return &domain.OrderResult{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Pair:          pair,
		Side:          side,
		Status:        string(order.Status),
		Price:         price,
		OrigQuantity:  origQty,
		ExecutedQty:   executedQty,
		Timestamp:     time.UnixMilli(order.TransactTime).UTC(),
	}, nil
}

func translateTicker(s *binance.PriceChangeStats, pair string, observed time.Time) (domain.Tick, error) {
	tick := domain.Tick{CurrencyPair: pair, Timestamp: observed}
	parsed := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"lastPrice", s.LastPrice, &tick.Last},
		{"bidPrice", s.BidPrice, &tick.HighestBid},
		{"askPrice", s.AskPrice, &tick.LowestAsk},
		{"quoteVolume", s.QuoteVolume, &tick.BaseVolume},
		{"volume", s.Volume, &tick.QuoteVolume},
		{"priceChangePercent", s.PriceChangePercent, &tick.PercentChange},
		{"highPrice", s.HighPrice, &tick.High24h},
	}
	for _, p := range parsed {
		v, err := parseDecimal(p.name, p.raw)
		if err != nil {
			return domain.Tick{}, err
		}
		*p.dst = v
	}
	// A pair with no trades in the last 24h has no usable last price.
	tick.IsFrozen = tick.Last == 0
	return tick, nil
}
