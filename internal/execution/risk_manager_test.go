package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestRiskManager() *RiskManager {
	return NewRiskManager(zap.NewNop(), DefaultRiskConfig())
}

func TestCalculatePositionSize_ClampsToMaxPositionSize(t *testing.T) {
	rm := newTestRiskManager()
	// Tight stop (small distance) would otherwise produce an oversized position.
	qty := rm.CalculatePositionSize(decimal.NewFromInt(10000), decimal.NewFromInt(100), decimal.NewFromFloat(99.99))
	maxQty := decimal.NewFromInt(10000).Mul(rm.config.MaxPositionSize).Div(decimal.NewFromInt(100))
	assert.True(t, qty.LessThanOrEqual(maxQty))
}

func TestCheckMaxOpenTrades(t *testing.T) {
	rm := newTestRiskManager()
	rm.SetOpenTradeCount(rm.config.MaxOpenTrades)
	assert.False(t, rm.CheckMaxOpenTrades())

	rm.SetOpenTradeCount(rm.config.MaxOpenTrades - 1)
	assert.True(t, rm.CheckMaxOpenTrades())
}

func TestCheckCorrelation(t *testing.T) {
	rm := newTestRiskManager()
	assert.True(t, rm.CheckCorrelation(decimal.NewFromFloat(0.5)))
	assert.False(t, rm.CheckCorrelation(decimal.NewFromFloat(0.7)))
	assert.False(t, rm.CheckCorrelation(decimal.NewFromFloat(0.9)))
}

func TestCheckVolatility(t *testing.T) {
	rm := newTestRiskManager()
	assert.True(t, rm.CheckVolatility(decimal.NewFromFloat(0.05)))
	assert.False(t, rm.CheckVolatility(decimal.NewFromFloat(0.10)))
}

func TestCheckDrawdown_TracksPeakAndBlocks(t *testing.T) {
	rm := newTestRiskManager()
	rm.SetInitialBalance(decimal.NewFromInt(10000))

	blocked, dd := rm.CheckDrawdown(decimal.NewFromInt(12000))
	assert.False(t, blocked)
	assert.True(t, dd.IsZero())

	blocked, dd = rm.CheckDrawdown(decimal.NewFromInt(10000)) // drawdown from new peak 12000 is ~16.7%, over the 15% default threshold
	assert.True(t, blocked)
	assert.InDelta(t, 1.0/6.0, dd.InexactFloat64(), 1e-6)

	blocked, _ = rm.CheckDrawdown(decimal.NewFromInt(10000).Mul(decimal.NewFromFloat(0.85)))
	assert.True(t, blocked)
}

func TestEmergencyStop_TightensLimitsAndDisables(t *testing.T) {
	rm := newTestRiskManager()
	rm.EmergencyStop("test trigger")

	assert.True(t, rm.IsDisabled())
	assert.True(t, rm.config.MaxPositionSize.Equal(decimal.NewFromFloat(0.01)))
	assert.True(t, rm.config.MaxPortfolioRisk.Equal(decimal.NewFromFloat(0.005)))
}
