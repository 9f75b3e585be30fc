package backtester_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/v0-strategy-engine/signal-engine/internal/backtester"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

func TestMetricsCalculator(t *testing.T) {
	calc := backtester.NewMetricsCalculator()

	trades := []*types.Trade{
		{PnL: decimal.NewFromInt(100)},
		{PnL: decimal.NewFromInt(50)},
		{PnL: decimal.NewFromInt(-30)},
		{PnL: decimal.NewFromInt(80)},
		{PnL: decimal.NewFromInt(-20)},
	}

	equityCurve := []types.EquityCurvePoint{
		{Timestamp: time.Now().Add(-5 * time.Hour), Equity: decimal.NewFromInt(10000)},
		{Timestamp: time.Now().Add(-4 * time.Hour), Equity: decimal.NewFromInt(10100)},
		{Timestamp: time.Now().Add(-3 * time.Hour), Equity: decimal.NewFromInt(10150)},
		{Timestamp: time.Now().Add(-2 * time.Hour), Equity: decimal.NewFromInt(10120)},
		{Timestamp: time.Now().Add(-1 * time.Hour), Equity: decimal.NewFromInt(10200)},
		{Timestamp: time.Now(), Equity: decimal.NewFromInt(10180)},
	}

	metrics := calc.Calculate(trades, equityCurve, decimal.NewFromInt(10000))

	if metrics.TotalTrades != 5 {
		t.Errorf("Total trades incorrect: %d", metrics.TotalTrades)
	}
	if metrics.WinningTrades != 3 {
		t.Errorf("Winning trades incorrect: %d", metrics.WinningTrades)
	}
	if metrics.LosingTrades != 2 {
		t.Errorf("Losing trades incorrect: %d", metrics.LosingTrades)
	}

	expectedWinRate := decimal.NewFromFloat(0.6) // 3/5
	if !metrics.WinRate.Equal(expectedWinRate) {
		t.Errorf("Win rate incorrect: expected %s, got %s", expectedWinRate, metrics.WinRate)
	}

	expectedReturn := decimal.NewFromFloat(0.018) // (10180 - 10000) / 10000
	if metrics.TotalReturn.Sub(expectedReturn).Abs().GreaterThan(decimal.NewFromFloat(0.001)) {
		t.Errorf("Total return incorrect: expected ~%s, got %s", expectedReturn, metrics.TotalReturn)
	}
}

func TestMetricsCalculator_NoTradesReturnsZeroValue(t *testing.T) {
	calc := backtester.NewMetricsCalculator()
	metrics := calc.Calculate(nil, nil, decimal.NewFromInt(10000))
	if metrics.TotalTrades != 0 {
		t.Errorf("expected zero-value metrics, got %+v", metrics)
	}
}

func TestCalculateRiskMetrics(t *testing.T) {
	calc := backtester.NewMetricsCalculator()

	equityCurve := []types.EquityCurvePoint{
		{Timestamp: time.Now().Add(-5 * time.Hour), Equity: decimal.NewFromInt(10000)},
		{Timestamp: time.Now().Add(-4 * time.Hour), Equity: decimal.NewFromInt(9900)},
		{Timestamp: time.Now().Add(-3 * time.Hour), Equity: decimal.NewFromInt(10050)},
		{Timestamp: time.Now().Add(-2 * time.Hour), Equity: decimal.NewFromInt(9800)},
		{Timestamp: time.Now().Add(-1 * time.Hour), Equity: decimal.NewFromInt(10100)},
		{Timestamp: time.Now(), Equity: decimal.NewFromInt(10180)},
	}

	risk := calc.CalculateRiskMetrics(equityCurve)
	if risk.DailyVolatility.IsZero() {
		t.Error("expected nonzero daily volatility for a moving equity curve")
	}
	if risk.AnnualVolatility.LessThan(risk.DailyVolatility) {
		t.Error("annual volatility should scale up from daily volatility")
	}
}
