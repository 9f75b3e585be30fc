// Package feedback tracks realized trade outcomes per symbol and feeds the
// Signal Scorer's historical_win_rate component from them, replacing a
// hand-set default with the system's own track record. Adapted from
// internal/learning/feedback.go's FeedbackEngine/PatternPerformance,
// trimmed to the one figure the scorer consumes and re-keyed by symbol
// instead of strategy name, since the execution engine's Trade carries no
// strategy field to key on.
package feedback

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/v0-strategy-engine/signal-engine/internal/engine"
)

// SymbolPerformance tracks a symbol's realized trading record, updated by an
// exponential moving average the same way the reference's
// PatternPerformance.WinRate is maintained.
type SymbolPerformance struct {
	Symbol      string          `json:"symbol"`
	TotalTrades int             `json:"totalTrades"`
	WinRate     float64         `json:"winRate"` // 0-1 EMA
	AvgPnL      decimal.Decimal `json:"avgPnl"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// Config tunes the engine.
type Config struct {
	EMAAlpha          float64 // weight given to each new trade, default 0.1
	DefaultWinRate    float64 // seeded for symbols with no history yet, default 0.60
	DataDir           string  // empty disables persistence
}

func DefaultConfig() Config {
	return Config{EMAAlpha: 0.1, DefaultWinRate: 0.60}
}

// Engine consumes closed trades and maintains a per-symbol win rate.
type Engine struct {
	logger *zap.Logger
	config Config

	mu       sync.RWMutex
	records  map[string]*SymbolPerformance
	consumed int // count of engine.GetClosedTrades() entries already folded in
}

func New(logger *zap.Logger, config Config) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.EMAAlpha <= 0 {
		config.EMAAlpha = 0.1
	}
	if config.DefaultWinRate <= 0 {
		config.DefaultWinRate = 0.60
	}
	e := &Engine{
		logger:  logger.Named("feedback"),
		config:  config,
		records: make(map[string]*SymbolPerformance),
	}
	e.load()
	return e
}

// Ingest folds every closed trade the execution engine hasn't reported yet
// into the running per-symbol record. Call this periodically (e.g. every
// mode-manager tick) rather than per trade, mirroring the reference's
// batch-save-every-10-records cadence.
func (e *Engine) Ingest(closed []*engine.Trade) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.consumed >= len(closed) {
		return
	}
	fresh := closed[e.consumed:]
	e.consumed = len(closed)

	for _, trade := range fresh {
		e.recordLocked(trade)
	}
	if len(fresh) > 0 {
		e.save()
	}
}

func (e *Engine) recordLocked(trade *engine.Trade) {
	perf, ok := e.records[trade.Symbol]
	if !ok {
		perf = &SymbolPerformance{Symbol: trade.Symbol, WinRate: e.config.DefaultWinRate}
		e.records[trade.Symbol] = perf
	}

	perf.TotalTrades++
	outcome := 0.0
	if trade.CurrentPnL.GreaterThan(decimal.Zero) {
		outcome = 1.0
	}
	perf.WinRate = perf.WinRate*(1-e.config.EMAAlpha) + outcome*e.config.EMAAlpha

	n := decimal.NewFromInt(int64(perf.TotalTrades))
	oldWeight := decimal.NewFromInt(int64(perf.TotalTrades - 1))
	perf.AvgPnL = perf.AvgPnL.Mul(oldWeight).Add(trade.CurrentPnL).Div(n)
	perf.LastUpdated = time.Now()

	e.logger.Debug("trade outcome recorded",
		zap.String("symbol", trade.Symbol), zap.Float64("winRate", perf.WinRate))
}

// WinRate returns the symbol's current win rate, or Config.DefaultWinRate if
// nothing has been recorded yet — feeds
// engine.MarketData.HistoricalWinRate (spec §4.6).
func (e *Engine) WinRate(symbol string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if perf, ok := e.records[symbol]; ok {
		return perf.WinRate
	}
	return e.config.DefaultWinRate
}

// Performance returns a copy of every tracked symbol's record.
func (e *Engine) Performance() map[string]SymbolPerformance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]SymbolPerformance, len(e.records))
	for k, v := range e.records {
		out[k] = *v
	}
	return out
}

func (e *Engine) save() {
	if e.config.DataDir == "" {
		return
	}
	path := filepath.Join(e.config.DataDir, "feedback.json")
	bytes, err := json.MarshalIndent(e.records, "", "  ")
	if err != nil {
		e.logger.Error("failed to marshal feedback", zap.Error(err))
		return
	}
	if err := os.MkdirAll(e.config.DataDir, 0755); err != nil {
		e.logger.Error("failed to create data dir", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, bytes, 0644); err != nil {
		e.logger.Error("failed to save feedback", zap.Error(err))
	}
}

func (e *Engine) load() {
	if e.config.DataDir == "" {
		return
	}
	path := filepath.Join(e.config.DataDir, "feedback.json")
	bytes, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var records map[string]*SymbolPerformance
	if err := json.Unmarshal(bytes, &records); err != nil {
		e.logger.Error("failed to unmarshal feedback", zap.Error(err))
		return
	}
	e.records = records
}
