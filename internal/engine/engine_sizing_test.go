package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/v0-strategy-engine/signal-engine/internal/sizing"
	"github.com/v0-strategy-engine/signal-engine/internal/validator"
)

func marketDataWithPortfolio() MarketData {
	md := goodMarketData()
	md.Portfolio = validator.PortfolioState{TotalValue: 100000, HasData: true}
	return md
}

func TestTick_WithoutClosedTradesFallsBackToFlatSizing(t *testing.T) {
	plain := newTestEngine(&fakeExchange{})
	plainResult := plain.Tick(context.Background(), "BTC/USDT", triggeringWindow(), marketDataWithPortfolio())
	require.True(t, plainResult.Accepted)

	sized := newTestEngine(&fakeExchange{})
	sized.SetSizer(sizing.NewPositionSizer(zap.NewNop(), nil))
	sizedResult := sized.Tick(context.Background(), "BTC/USDT", triggeringWindow(), marketDataWithPortfolio())
	require.True(t, sizedResult.Accepted)

	// No closed trades yet, so the Kelly sizer has nothing to recommend and
	// Tick falls back to the flat base-size*score-multiplier sizing.
	assert.True(t, plainResult.Trade.Quantity.Equal(sizedResult.Trade.Quantity))
}

func TestTick_WithClosedTradeHistoryUsesKellySizing(t *testing.T) {
	exch := &fakeExchange{}
	e := newTestEngine(exch)
	e.SetSizer(sizing.NewPositionSizer(zap.NewNop(), nil))

	// Seed one closed, winning trade so GetTradeStatistics reports a win
	// rate and avg win/loss for the Kelly formula to act on.
	first := e.Tick(context.Background(), "BTC/USDT", triggeringWindow(), marketDataWithPortfolio())
	require.True(t, first.Accepted)
	e.UpdateTrades(map[string]decimal.Decimal{"BTC/USDT": first.Trade.TP2})

	stats := e.sizer.GetTradeStatistics()
	require.Equal(t, 1, stats.TotalTrades)
	require.Equal(t, 1, stats.Wins)

	second := e.Tick(context.Background(), "ETH/USDT", triggeringWindow(), marketDataWithPortfolio())
	require.True(t, second.Accepted)
	assert.True(t, second.Trade.Quantity.IsPositive())
}
