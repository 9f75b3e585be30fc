package mode

import (
	"context"

	"github.com/v0-strategy-engine/signal-engine/internal/engine"
	"github.com/v0-strategy-engine/signal-engine/internal/regime"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// WithRegimeClassification wraps a MarketDataFunc so that MarketTrend and
// MarketVolatility are derived from an internal/regime Classifier's running
// view of the symbol's closes, instead of requiring every caller to label
// them by hand. The wrapped func's own Trend/Volatility values win when it
// sets them — this only fills in the classification when the inner func
// leaves them blank.
func WithRegimeClassification(classifiers map[string]*regime.Classifier, inner MarketDataFunc) MarketDataFunc {
	return func(ctx context.Context, symbol string, window []types.OHLCV) engine.MarketData {
		market := inner(ctx, symbol, window)

		classifier, ok := classifiers[symbol]
		if !ok || len(window) == 0 {
			return market
		}
		classifier.Observe(window[len(window)-1].Close)

		if market.MarketTrend == "" || market.MarketVolatility == "" {
			result := classifier.Classify()
			if market.MarketTrend == "" {
				market.MarketTrend = result.Trend
			}
			if market.MarketVolatility == "" {
				market.MarketVolatility = result.Volatility
			}
		}
		return market
	}
}
