package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/v0-strategy-engine/signal-engine/internal/api"
	"github.com/v0-strategy-engine/signal-engine/internal/engine"
	"github.com/v0-strategy-engine/signal-engine/internal/fibonacci"
	"github.com/v0-strategy-engine/signal-engine/internal/mode"
	"github.com/v0-strategy-engine/signal-engine/internal/scheduler"
	"github.com/v0-strategy-engine/signal-engine/internal/scorer"
	"github.com/v0-strategy-engine/signal-engine/internal/validator"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

type fakeExchange struct {
	window []types.OHLCV
}

func (f *fakeExchange) Name() string { return "fake" }
func (f *fakeExchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}
func (f *fakeExchange) GetHistoricalData(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.OHLCV, error) {
	return f.window, nil
}
func (f *fakeExchange) PlaceOrder(ctx context.Context, order *types.Order) (*types.Order, error) {
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

func goodMarketData(ctx context.Context, symbol string, window []types.OHLCV) engine.MarketData {
	return engine.MarketData{
		RSI: 28.5, EMA20: 89, EMA50: 85, EMA200: 80,
		Volume: 2000, AvgVolume: 1000, ATR: 5,
		VolumeRatio: 1.5, HistoricalWinRate: 0.70,
		MarketTrend: "uptrend", MarketVolatility: "low",
	}
}

func setupTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	eng := engine.New(
		zap.NewNop(),
		engine.DefaultConfig(),
		fibonacci.New(fibonacci.DefaultConfig()),
		validator.New(validator.DefaultThresholds()),
		scheduler.New(scheduler.DefaultConfig()),
		scorer.New(zap.NewNop()),
		nil,
		nil,
		&fakeExchange{},
	)
	cfg := mode.DefaultConfig()
	cfg.Symbols = []string{"BTC/USDT"}
	m := mode.New(zap.NewNop(), cfg, eng, nil, &fakeExchange{}, goodMarketData)

	server := api.NewServer(zap.NewNop(), &types.ServerConfig{
		Host: "127.0.0.1", Port: 0, WebSocketPath: "/ws",
		ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second,
	}, m)
	ts := httptest.NewServer(server.Router())
	return server, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "healthy", result["status"])
}

func TestStatusEndpoint_ReflectsDefaultManualMode(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "manual", result["mode"])
	assert.Equal(t, false, result["running"])
}

func TestSetModeEndpoint_TransitionsMode(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"mode": "auto"})
	resp, err := http.Post(ts.URL+"/api/v1/mode", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	statusResp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&result))
	assert.Equal(t, "auto", result["mode"])
}

func TestOpenTradesEndpoint_EmptyInitially(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/trades/open")
	require.NoError(t, err)
	defer resp.Body.Close()

	var result map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, float64(0), result["count"])
}

func TestConfirmationEndpoint_404sWithoutOutstandingRequest(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	body, _ := json.Marshal(map[string]bool{"confirmed": true})
	resp, err := http.Post(ts.URL+"/api/v1/confirmations/BTC%2FUSDT", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint_ExposesPrometheusFormat(t *testing.T) {
	_, ts := setupTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
