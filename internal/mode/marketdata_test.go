package mode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/v0-strategy-engine/signal-engine/internal/engine"
	"github.com/v0-strategy-engine/signal-engine/internal/regime"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

func TestWithRegimeClassification_FillsBlankLabels(t *testing.T) {
	classifiers := map[string]*regime.Classifier{
		"BTC/USDT": regime.New(nil, regime.DefaultConfig()),
	}
	inner := func(ctx context.Context, symbol string, window []types.OHLCV) engine.MarketData {
		return engine.MarketData{RSI: 30} // leaves Trend/Volatility blank
	}
	wrapped := WithRegimeClassification(classifiers, inner)

	window := triggeringWindow()
	market := wrapped(context.Background(), "BTC/USDT", window)

	assert.NotEmpty(t, market.MarketTrend)
	assert.NotEmpty(t, market.MarketVolatility)
	assert.Equal(t, 30.0, market.RSI)
}

func TestWithRegimeClassification_RespectsCallerSuppliedLabels(t *testing.T) {
	classifiers := map[string]*regime.Classifier{
		"BTC/USDT": regime.New(nil, regime.DefaultConfig()),
	}
	inner := func(ctx context.Context, symbol string, window []types.OHLCV) engine.MarketData {
		return engine.MarketData{MarketTrend: "downtrend", MarketVolatility: "high"}
	}
	wrapped := WithRegimeClassification(classifiers, inner)

	market := wrapped(context.Background(), "BTC/USDT", triggeringWindow())
	assert.Equal(t, "downtrend", market.MarketTrend)
	assert.Equal(t, "high", market.MarketVolatility)
}

func TestWithRegimeClassification_UnknownSymbolPassesThrough(t *testing.T) {
	inner := func(ctx context.Context, symbol string, window []types.OHLCV) engine.MarketData {
		return engine.MarketData{RSI: 50}
	}
	wrapped := WithRegimeClassification(map[string]*regime.Classifier{}, inner)

	market := wrapped(context.Background(), "BTC/USDT", triggeringWindow())
	assert.Equal(t, 50.0, market.RSI)
	assert.Empty(t, market.MarketTrend)
}
