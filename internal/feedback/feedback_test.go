package feedback

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/v0-strategy-engine/signal-engine/internal/engine"
)

func winningTrade(symbol string, pnl float64) *engine.Trade {
	return &engine.Trade{Symbol: symbol, CurrentPnL: decimal.NewFromFloat(pnl)}
}

func TestWinRate_DefaultsWhenUnseen(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	assert.Equal(t, 0.60, e.WinRate("BTC/USDT"))
}

func TestIngest_WinningTradeMovesRateUp(t *testing.T) {
	e := New(zap.NewNop(), Config{EMAAlpha: 0.5, DefaultWinRate: 0.5})
	e.Ingest([]*engine.Trade{winningTrade("BTC/USDT", 100)})

	// 0.5*(1-0.5) + 1*0.5 = 0.75
	assert.InDelta(t, 0.75, e.WinRate("BTC/USDT"), 1e-9)
}

func TestIngest_LosingTradeMovesRateDown(t *testing.T) {
	e := New(zap.NewNop(), Config{EMAAlpha: 0.5, DefaultWinRate: 0.5})
	e.Ingest([]*engine.Trade{winningTrade("BTC/USDT", -50)})

	// 0.5*(1-0.5) + 0*0.5 = 0.25
	assert.InDelta(t, 0.25, e.WinRate("BTC/USDT"), 1e-9)
}

func TestIngest_OnlyConsumesNewTrades(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	trades := []*engine.Trade{winningTrade("BTC/USDT", 10)}

	e.Ingest(trades)
	perfAfterFirst := e.Performance()["BTC/USDT"].TotalTrades

	e.Ingest(trades) // same slice, nothing new
	perfAfterSecond := e.Performance()["BTC/USDT"].TotalTrades

	assert.Equal(t, 1, perfAfterFirst)
	assert.Equal(t, perfAfterFirst, perfAfterSecond)
}

func TestIngest_GrowingSliceOnlyFoldsTheTail(t *testing.T) {
	e := New(zap.NewNop(), DefaultConfig())
	trades := []*engine.Trade{winningTrade("BTC/USDT", 10)}
	e.Ingest(trades)

	trades = append(trades, winningTrade("ETH/USDT", 20))
	e.Ingest(trades)

	perf := e.Performance()
	assert.Equal(t, 1, perf["BTC/USDT"].TotalTrades)
	assert.Equal(t, 1, perf["ETH/USDT"].TotalTrades)
}
