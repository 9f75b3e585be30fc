package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

func book(bid, ask float64) types.OrderBook {
	return types.OrderBook{
		Bids: []types.OrderBookLevel{{Price: decimal.NewFromFloat(bid)}},
		Asks: []types.OrderBookLevel{{Price: decimal.NewFromFloat(ask)}},
	}
}

func TestCanExecute_TrueWhenNeverExecuted(t *testing.T) {
	s := New(DefaultConfig())
	assert.True(t, s.CanExecute("BTC/USDT", time.Now()))
}

func TestCanExecute_FalseWithinInterval(t *testing.T) {
	s := New(Config{MinInterval: time.Minute, MaxConsecutiveSkips: 5})
	now := time.Now()
	s.RecordExecution("BTC/USDT", now)

	assert.False(t, s.CanExecute("BTC/USDT", now.Add(30*time.Second)))
	assert.True(t, s.CanExecute("BTC/USDT", now.Add(90*time.Second)))
}

func TestRecordExecution_ResetsSkips(t *testing.T) {
	s := New(DefaultConfig())
	s.RecordSkip("BTC/USDT")
	s.RecordSkip("BTC/USDT")
	s.RecordExecution("BTC/USDT", time.Now())

	assert.Equal(t, 0, s.GetState("BTC/USDT").ConsecutiveSkips)
}

func TestShouldSkip_EngagesAtMaxConsecutiveSkips(t *testing.T) {
	s := New(Config{MinInterval: time.Minute, MaxConsecutiveSkips: 3})
	for i := 0; i < 3; i++ {
		s.RecordSkip("ETH/USDT")
	}
	assert.True(t, s.ShouldSkip("ETH/USDT"))

	s.ResetSkips("ETH/USDT")
	assert.False(t, s.ShouldSkip("ETH/USDT"))
}

func TestCheckOrderBookDepth(t *testing.T) {
	s := New(DefaultConfig())
	assert.True(t, s.CheckOrderBookDepth(book(99.9, 100.0), 0.002))
	assert.False(t, s.CheckOrderBookDepth(book(95, 100.0), 0.002))
	assert.False(t, s.CheckOrderBookDepth(types.OrderBook{}, 0.002))
}

func TestMeasureLatency_RecordsElapsedAndPropagatesError(t *testing.T) {
	s := New(DefaultConfig())
	boom := errors.New("boom")

	elapsed, err := s.MeasureLatency("BTC/USDT", func() error {
		time.Sleep(time.Millisecond)
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.GreaterOrEqual(t, elapsed, time.Millisecond)
	assert.GreaterOrEqual(t, s.GetLatency("BTC/USDT"), 1.0)
}

func TestEvaluateTiming_SkipCutOutTakesPriorityOverCooldown(t *testing.T) {
	s := New(Config{MinInterval: time.Minute, MaxConsecutiveSkips: 1})
	s.RecordSkip("BTC/USDT")

	result := s.EvaluateTiming("BTC/USDT", time.Now())
	assert.False(t, result.ShouldExecute)
	assert.Equal(t, TimingPoor, result.TimingQuality)
}

func TestEvaluateTiming_OptimalWhenClear(t *testing.T) {
	s := New(DefaultConfig())
	result := s.EvaluateTiming("BTC/USDT", time.Now())
	assert.True(t, result.ShouldExecute)
	assert.Equal(t, TimingOptimal, result.TimingQuality)
}

func TestGetNextExecutionTime(t *testing.T) {
	s := New(Config{MinInterval: 5 * time.Minute, MaxConsecutiveSkips: 5})
	now := time.Now()
	s.RecordExecution("BTC/USDT", now)

	next := s.GetNextExecutionTime("BTC/USDT")
	assert.WithinDuration(t, now.Add(5*time.Minute), next, time.Second)
}
