package fibonacci

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

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

func flatWindow(n int, high, low, close float64) []types.OHLCV {
	window := make([]types.OHLCV, n)
	for i := range window {
		window[i] = bar(high, low, close)
	}
	return window
}

func TestGetSignal_TriggersOnSupportMedium(t *testing.T) {
	engine := New(DefaultConfig())
	// close sits within 1% of support_strong, support_medium and
	// resistance_medium; support_medium is the nearest of the three.
	window := flatWindow(14, 100, 99, 99.5)

	candidate := engine.GetSignal("BTC/USDT", window)
	require.NotNil(t, candidate)
	assert.Equal(t, "support_medium", candidate.TriggeredLevel)
	assert.Equal(t, types.DirectionLong, candidate.Direction)
	assert.Equal(t, "dynamic_fibonacci", candidate.Strategy)
}

func TestGetSignal_NoTriggerFallsThroughToAlternative(t *testing.T) {
	engine := New(DefaultConfig())
	called := false
	engine.RegisterAlternative(AlternativeStrategy{
		Name: "always",
		Run: func(window []types.OHLCV) *Candidate {
			called = true
			return &Candidate{Direction: types.DirectionLong, TriggeredLevel: "alt"}
		},
	})

	window := flatWindow(14, 100, 50, 75) // mid-range close, no strong/medium anchor near
	candidate := engine.GetSignal("BTC/USDT", window)

	require.NotNil(t, candidate)
	assert.True(t, called)
	assert.Equal(t, "alternative:always", candidate.Strategy)
}

func TestGetSignal_NoTriggerNoAlternativeReturnsNil(t *testing.T) {
	engine := New(DefaultConfig())
	window := flatWindow(14, 100, 50, 75)
	assert.Nil(t, engine.GetSignal("BTC/USDT", window))
}

func TestCalculateATR_ShortWindowFallsBackToAverageRange(t *testing.T) {
	engine := New(DefaultConfig())
	window := []types.OHLCV{bar(10, 8, 9), bar(12, 10, 11)}
	atr := engine.CalculateATR(window)
	assert.InDelta(t, 2.0, atr, 1e-9)
}
