package mode

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/v0-strategy-engine/signal-engine/internal/engine"
	"github.com/v0-strategy-engine/signal-engine/internal/fibonacci"
	"github.com/v0-strategy-engine/signal-engine/internal/scheduler"
	"github.com/v0-strategy-engine/signal-engine/internal/scorer"
	"github.com/v0-strategy-engine/signal-engine/internal/validator"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

type fakeExchange struct {
	window []types.OHLCV
	price  decimal.Decimal
	placed int
}

func (f *fakeExchange) Name() string { return "fake" }
func (f *fakeExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, nil
}
func (f *fakeExchange) GetHistoricalData(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	return f.window, nil
}
func (f *fakeExchange) PlaceOrder(ctx context.Context, order *types.Order) (*types.Order, error) {
	f.placed++
	order.Status = types.OrderStatusFilled
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
		window[i] = bar(100, 99, 99.5)
	}
	return window
}

func goodMarketData(ctx context.Context, symbol string, window []types.OHLCV) engine.MarketData {
	return engine.MarketData{
		RSI: 28.5, EMA20: 89, EMA50: 85, EMA200: 80,
		Volume: 2000, AvgVolume: 1000, ATR: 5,
		VolumeRatio: 1.5, HistoricalWinRate: 0.70,
		MarketTrend: "uptrend", MarketVolatility: "low",
	}
}

func newTestManager(exch *fakeExchange) (*Manager, *engine.Engine) {
	eng := engine.New(
		zap.NewNop(),
		engine.DefaultConfig(),
		fibonacci.New(fibonacci.DefaultConfig()),
		validator.New(validator.DefaultThresholds()),
		scheduler.New(scheduler.DefaultConfig()),
		scorer.New(zap.NewNop()),
		nil,
		nil,
		exch,
	)
	cfg := DefaultConfig()
	cfg.Symbols = []string{"BTC/USDT"}
	cfg.TickInterval = 20 * time.Millisecond
	cfg.ConfirmationTimeout = 50 * time.Millisecond
	m := New(zap.NewNop(), cfg, eng, nil, exch, goodMarketData)
	return m, eng
}

func TestSetMode_DefaultsToManual(t *testing.T) {
	m, _ := newTestManager(&fakeExchange{window: triggeringWindow()})
	assert.Equal(t, ModeManual, m.CurrentMode())
}

func TestStart_AutoModeTicksAndOpensTrade(t *testing.T) {
	exch := &fakeExchange{window: triggeringWindow()}
	m, eng := newTestManager(exch)
	require.NoError(t, m.SetMode(context.Background(), ModeAuto))

	require.NoError(t, m.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, m.Stop())

	_, ok := eng.GetOpenTrade("BTC/USDT")
	assert.True(t, ok)
	assert.GreaterOrEqual(t, exch.placed, 1)
}

func TestStart_AlreadyRunningErrors(t *testing.T) {
	m, _ := newTestManager(&fakeExchange{window: triggeringWindow()})
	require.NoError(t, m.SetMode(context.Background(), ModeAuto))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	err := m.Start(context.Background())
	assert.Error(t, err)
}

func TestStart_BacktestModeRejected(t *testing.T) {
	m, _ := newTestManager(&fakeExchange{window: triggeringWindow()})
	require.NoError(t, m.SetMode(context.Background(), ModeBacktest))

	err := m.Start(context.Background())
	assert.Error(t, err)
}

func TestSemiAuto_TimesOutWithoutConfirmation(t *testing.T) {
	exch := &fakeExchange{window: triggeringWindow()}
	m, eng := newTestManager(exch)
	require.NoError(t, m.SetMode(context.Background(), ModeSemiAuto))
	require.NoError(t, m.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, m.Stop())

	_, ok := eng.GetOpenTrade("BTC/USDT")
	assert.False(t, ok, "no confirmation arrived, the tick should never have run")
}

func TestSemiAuto_ConfirmedSignalOpensTrade(t *testing.T) {
	exch := &fakeExchange{window: triggeringWindow()}
	m, eng := newTestManager(exch)
	require.NoError(t, m.SetMode(context.Background(), ModeSemiAuto))

	go func() {
		req := <-m.Confirmations()
		req.Respond(true)
	}()

	require.NoError(t, m.Start(context.Background()))
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, m.Stop())

	_, ok := eng.GetOpenTrade("BTC/USDT")
	assert.True(t, ok)
}

func TestRunBacktest_RequiresBacktestMode(t *testing.T) {
	m, _ := newTestManager(&fakeExchange{})
	_, err := m.RunBacktest(context.Background(), map[string][]types.OHLCV{"BTC/USDT": triggeringWindow()})
	assert.Error(t, err)
}

func TestRunBacktest_ReplaysBarsAndOpensTrade(t *testing.T) {
	m, eng := newTestManager(&fakeExchange{})
	require.NoError(t, m.SetMode(context.Background(), ModeBacktest))

	summary, err := m.RunBacktest(context.Background(), map[string][]types.OHLCV{
		"BTC/USDT": triggeringWindow(),
	})
	require.NoError(t, err)
	assert.Equal(t, 14, summary.TicksEvaluated)
	assert.GreaterOrEqual(t, summary.TradesOpened, 1)
	require.NotNil(t, summary.Metrics)

	_, ok := eng.GetOpenTrade("BTC/USDT")
	assert.True(t, ok)
}

func TestRunBacktest_ClosedTradeProducesPerformanceMetrics(t *testing.T) {
	exch := &fakeExchange{}
	m, eng := newTestManager(exch)
	require.NoError(t, m.SetMode(context.Background(), ModeBacktest))

	window := triggeringWindow()
	summary, err := m.RunBacktest(context.Background(), map[string][]types.OHLCV{"BTC/USDT": window})
	require.NoError(t, err)
	require.GreaterOrEqual(t, summary.TradesOpened, 1)

	trade, ok := eng.GetOpenTrade("BTC/USDT")
	require.True(t, ok)
	eng.UpdateTrades(map[string]decimal.Decimal{"BTC/USDT": trade.TP2})
	_, stillOpen := eng.GetOpenTrade("BTC/USDT")
	require.False(t, stillOpen)

	closed := eng.GetClosedTrades()
	require.Len(t, closed, 1)

	metrics := m.backtestMetrics([]types.EquityCurvePoint{
		{Timestamp: window[0].Timestamp, Equity: m.config.InitialCapital},
		{Timestamp: window[len(window)-1].Timestamp, Equity: m.backtestEquity()},
	})
	require.NotNil(t, metrics)
	assert.Equal(t, 1, metrics.TotalTrades)
	assert.Equal(t, 1, metrics.WinningTrades)
	assert.True(t, metrics.AvgWin.IsPositive())
}

func TestDailyLimitReached_BlocksFurtherTicks(t *testing.T) {
	m, _ := newTestManager(&fakeExchange{window: triggeringWindow()})
	m.config.MaxDailyTrades = 0
	assert.True(t, m.dailyLimitReached())
}
