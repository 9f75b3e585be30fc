package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/v0-strategy-engine/signal-engine/internal/execution"
	"github.com/v0-strategy-engine/signal-engine/internal/fibonacci"
	"github.com/v0-strategy-engine/signal-engine/internal/scheduler"
	"github.com/v0-strategy-engine/signal-engine/internal/scorer"
	"github.com/v0-strategy-engine/signal-engine/internal/validator"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

type fakeExchange struct {
	placed []*types.Order
	delay  time.Duration
}

func (f *fakeExchange) Name() string { return "fake" }
func (f *fakeExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeExchange) GetHistoricalData(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	return nil, nil
}
func (f *fakeExchange) PlaceOrder(ctx context.Context, order *types.Order) (*types.Order, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	order.Status = types.OrderStatusFilled
	f.placed = append(f.placed, order)
	return order, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	return true, nil
}
func (f *fakeExchange) GetBalance(ctx context.Context, asset string) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, nil
}
func (f *fakeExchange) SubscribeTicker(ctx context.Context, symbols []string, cb func(string, decimal.Decimal)) error {
	return nil
}
func (f *fakeExchange) SubscribeTrades(ctx context.Context, symbols []string, cb func(string, decimal.Decimal, decimal.Decimal)) error {
	return nil
}
func (f *fakeExchange) SubscribeOrderBook(ctx context.Context, symbols []string, cb func(string, *types.OrderBook)) error {
	return nil
}

func bar(high, low, close float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: time.Now(),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Open:      decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(1),
	}
}

func triggeringWindow() []types.OHLCV {
	window := make([]types.OHLCV, 14)
	for i := range window {
		window[i] = bar(100, 99, 99.5) // close sits within 1% of the computed support_strong anchor
	}
	return window
}

func newTestEngine(exch *fakeExchange) *Engine {
	return New(
		zap.NewNop(),
		DefaultConfig(),
		fibonacci.New(fibonacci.DefaultConfig()),
		validator.New(validator.DefaultThresholds()),
		scheduler.New(scheduler.DefaultConfig()),
		scorer.New(zap.NewNop()),
		nil, // no AI adapter
		nil, // no risk manager
		exch,
	)
}

func goodMarketData() MarketData {
	return MarketData{
		RSI: 28.5, EMA20: 89, EMA50: 85, EMA200: 80,
		Volume: 2000, AvgVolume: 1000, ATR: 5,
		VolumeRatio: 1.5, HistoricalWinRate: 0.70,
		MarketTrend: "uptrend", MarketVolatility: "low",
	}
}

func TestTick_AcceptsAndOpensTrade(t *testing.T) {
	exch := &fakeExchange{}
	e := newTestEngine(exch)

	result := e.Tick(context.Background(), "BTC/USDT", triggeringWindow(), goodMarketData())

	require.True(t, result.Accepted, "reason: %s", result.Reason)
	require.NotNil(t, result.Trade)
	assert.Equal(t, types.DirectionLong, result.Trade.Direction)
	assert.Equal(t, TradeOpen, result.Trade.Status)
	assert.Len(t, exch.placed, 1)

	trade, ok := e.GetOpenTrade("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, result.Trade, trade)
}

func TestTick_RejectsWhenAlreadyOpen(t *testing.T) {
	exch := &fakeExchange{}
	e := newTestEngine(exch)

	first := e.Tick(context.Background(), "BTC/USDT", triggeringWindow(), goodMarketData())
	require.True(t, first.Accepted)

	second := e.Tick(context.Background(), "BTC/USDT", triggeringWindow(), goodMarketData())
	assert.False(t, second.Accepted)
	assert.Contains(t, second.Reason, "already open")
}

func TestTick_NoFibonacciCandidateSkips(t *testing.T) {
	exch := &fakeExchange{}
	e := newTestEngine(exch)

	flat := make([]types.OHLCV, 14)
	for i := range flat {
		flat[i] = bar(100, 50, 75) // close sits well clear of every anchor, no alternative registered
	}

	result := e.Tick(context.Background(), "ETH/USDT", flat, goodMarketData())
	assert.False(t, result.Accepted)
	assert.Contains(t, result.Reason, "fibonacci")
}

func TestUpdateTrades_StopLossClosesTrade(t *testing.T) {
	exch := &fakeExchange{}
	e := newTestEngine(exch)

	result := e.Tick(context.Background(), "BTC/USDT", triggeringWindow(), goodMarketData())
	require.True(t, result.Accepted)

	e.UpdateTrades(map[string]decimal.Decimal{
		"BTC/USDT": result.Trade.StopLoss.Sub(decimal.NewFromInt(1)),
	})

	_, stillOpen := e.GetOpenTrade("BTC/USDT")
	assert.False(t, stillOpen)

	summary := e.GetSummary()
	assert.Equal(t, 0, summary.OpenTrades)
	assert.Equal(t, 1, summary.ClosedTrades)
}

func TestUpdateTrades_TP1TransitionsToPartialFilled(t *testing.T) {
	exch := &fakeExchange{}
	e := newTestEngine(exch)

	result := e.Tick(context.Background(), "BTC/USDT", triggeringWindow(), goodMarketData())
	require.True(t, result.Accepted)

	e.UpdateTrades(map[string]decimal.Decimal{
		"BTC/USDT": result.Trade.TP1.Add(decimal.NewFromFloat(0.01)),
	})

	trade, ok := e.GetOpenTrade("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, TradePartialFilled1, trade.Status)
}

// TestTick_RejectsWhenLastMeasuredLatencyExceedsMax covers the pre-trade
// latency gate: a breach measured on one tick must block the next tick for
// the same symbol before the order ever reaches the exchange. The scheduler's
// minimum interval is set to 1ns so its cooldown does not reject the second
// tick before the latency gate is reached.
func TestTick_RejectsWhenLastMeasuredLatencyExceedsMax(t *testing.T) {
	exch := &fakeExchange{delay: 5 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.MaxLatencyMs = 1
	e := New(
		zap.NewNop(), cfg,
		fibonacci.New(fibonacci.DefaultConfig()),
		validator.New(validator.DefaultThresholds()),
		scheduler.New(scheduler.Config{MinInterval: time.Nanosecond, MaxConsecutiveSkips: 5}),
		scorer.New(zap.NewNop()),
		nil, nil, exch,
	)

	first := e.Tick(context.Background(), "BTC/USDT", triggeringWindow(), goodMarketData())
	require.True(t, first.Accepted, "reason: %s", first.Reason)

	e.UpdateTrades(map[string]decimal.Decimal{
		"BTC/USDT": first.Trade.StopLoss.Sub(decimal.NewFromInt(1)),
	})

	second := e.Tick(context.Background(), "BTC/USDT", triggeringWindow(), goodMarketData())
	assert.False(t, second.Accepted)
	assert.Contains(t, second.Reason, "latency")
}

// TestTick_SizesFromRiskManagerWhenNoSizer covers CalculatePositionSize's
// production call path: with no Kelly sizer attached, an injected risk
// manager's dollar_risk = balance * max_portfolio_risk formula, not the flat
// base-size*multiplier, determines the opened quantity.
func TestTick_SizesFromRiskManagerWhenNoSizer(t *testing.T) {
	exch := &fakeExchange{}
	riskCfg := execution.DefaultRiskConfig()
	riskCfg.MaxPortfolioRisk = decimal.NewFromFloat(0.02)
	riskCfg.MaxPositionSize = decimal.NewFromFloat(0.5)
	risk := execution.NewRiskManager(zap.NewNop(), riskCfg)

	e := New(
		zap.NewNop(), DefaultConfig(),
		fibonacci.New(fibonacci.DefaultConfig()),
		validator.New(validator.DefaultThresholds()),
		scheduler.New(scheduler.DefaultConfig()),
		scorer.New(zap.NewNop()),
		nil, risk, exch,
	)

	market := goodMarketData()
	market.Portfolio.TotalValue = 10000
	market.Portfolio.HasData = true

	result := e.Tick(context.Background(), "BTC/USDT", triggeringWindow(), market)
	require.True(t, result.Accepted, "reason: %s", result.Reason)

	expected := risk.CalculatePositionSize(decimal.NewFromFloat(10000), result.Trade.EntryPrice, result.Trade.StopLoss)
	assert.True(t, result.Trade.Quantity.Equal(expected))
}

// TestCloseTradeLocked_EmergencyStopsOnConsecutiveLosses covers the
// EmergencyStop trigger: enough consecutive losing trades must disable
// trading and force-close every remaining open position.
func TestCloseTradeLocked_EmergencyStopsOnConsecutiveLosses(t *testing.T) {
	exch := &fakeExchange{}
	riskCfg := execution.DefaultRiskConfig()
	riskCfg.MaxConsecutiveLosses = 2
	risk := execution.NewRiskManager(zap.NewNop(), riskCfg)

	e := New(
		zap.NewNop(), DefaultConfig(),
		fibonacci.New(fibonacci.DefaultConfig()),
		validator.New(validator.DefaultThresholds()),
		scheduler.New(scheduler.DefaultConfig()),
		scorer.New(zap.NewNop()),
		nil, risk, exch,
	)

	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}
	for _, symbol := range symbols {
		result := e.Tick(context.Background(), symbol, triggeringWindow(), goodMarketData())
		require.True(t, result.Accepted, "reason: %s", result.Reason)
	}

	e.UpdateTrades(map[string]decimal.Decimal{
		"BTC/USDT": e.openTrades["BTC/USDT"].StopLoss.Sub(decimal.NewFromInt(1)),
	})
	e.UpdateTrades(map[string]decimal.Decimal{
		"ETH/USDT": e.openTrades["ETH/USDT"].StopLoss.Sub(decimal.NewFromInt(1)),
	})

	assert.True(t, risk.IsDisabled())
	summary := e.GetSummary()
	assert.Equal(t, 0, summary.OpenTrades)
	assert.Equal(t, 3, summary.ClosedTrades)
}
