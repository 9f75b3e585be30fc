package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
	"go.uber.org/zap"
)

func baseInput() Input {
	return Input{
		Symbol:            "BTC/USDT",
		Direction:         types.DirectionLong,
		EntryPrice:        42000,
		FibLevel:          0.618,
		RSI:               25,
		EMA20:             41900,
		EMA50:             41800,
		EMA200:            41000,
		VolumeRatio:       1.6,
		ATR:               120,
		HistoricalWinRate: 0.70,
		MarketTrend:       "uptrend",
		MarketVolatility:  "high",
	}
}

func TestScore_FullTierOnStrongSetup(t *testing.T) {
	s := New(zap.NewNop())
	score := s.Score(baseInput())

	assert.Equal(t, TierFull, score.ExecutionTier)
	assert.Equal(t, 1.0, score.SizeMultiplier)
	assert.Equal(t, ConfidenceHigh, score.ConfidenceLevel)
	assert.GreaterOrEqual(t, score.TotalScore, 75.0)
}

func TestScore_ReducedTierOnMediocreSetup(t *testing.T) {
	s := New(zap.NewNop())
	in := baseInput()
	in.RSI = 45             // tier-3 RSI only
	in.VolumeRatio = 1.05   // acceptable, not strong
	in.HistoricalWinRate = 0.58
	in.MarketVolatility = "normal"

	score := s.Score(in)
	assert.Equal(t, TierReduced, score.ExecutionTier)
	assert.InDelta(t, 0.65, score.SizeMultiplier, 1e-9)
}

func TestScore_SkipTierOnWeakSetup(t *testing.T) {
	s := New(zap.NewNop())
	in := baseInput()
	in.Direction = types.DirectionLong
	in.MarketTrend = "downtrend" // counter-trend
	in.RSI = 55                  // no RSI bonus for long
	in.EMA20, in.EMA50, in.EMA200 = 41000, 41900, 42000
	in.VolumeRatio = 0.8
	in.HistoricalWinRate = 0.40
	in.FibLevel = 0.1 // outside optimal band

	score := s.Score(in)
	assert.Equal(t, TierSkip, score.ExecutionTier)
	assert.Equal(t, 0.0, score.SizeMultiplier)
	assert.Equal(t, ConfidenceLow, score.ConfidenceLevel)
}

func TestScore_BreakdownSumsToTotal(t *testing.T) {
	s := New(zap.NewNop())
	score := s.Score(baseInput())

	sum := 0.0
	for _, v := range score.Breakdown {
		sum += v
	}
	assert.InDelta(t, score.TotalScore, sum, 1e-9)
}

func TestGetScoreDistribution(t *testing.T) {
	d := GetScoreDistribution([]float64{60, 70, 80, 90, 100})
	assert.InDelta(t, 80.0, d.Mean, 1e-9)
	assert.Equal(t, 60.0, d.Min)
	assert.Equal(t, 100.0, d.Max)
}

func TestGetScoreDistribution_Empty(t *testing.T) {
	assert.Equal(t, Distribution{}, GetScoreDistribution(nil))
}
