// Package engine implements the Integrated Execution Engine: the ten-step
// signal-to-trade pipeline (Fibonacci → Validator → Scheduler → Scorer → AI
// Adapter → sizing → order placement) and the per-symbol open-trade state
// machine. Grounded on
// original_source/signal_generation/execution_engine_integrated.py.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/v0-strategy-engine/signal-engine/internal/aiadapter"
	"github.com/v0-strategy-engine/signal-engine/internal/exchange"
	"github.com/v0-strategy-engine/signal-engine/internal/execution"
	"github.com/v0-strategy-engine/signal-engine/internal/fibonacci"
	"github.com/v0-strategy-engine/signal-engine/internal/scheduler"
	"github.com/v0-strategy-engine/signal-engine/internal/scorer"
	"github.com/v0-strategy-engine/signal-engine/internal/sizing"
	"github.com/v0-strategy-engine/signal-engine/internal/validator"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// TradeStatus is a state in the open-trade state machine (spec §4.8).
type TradeStatus string

const (
	TradeOpen           TradeStatus = "open"
	TradePartialFilled1 TradeStatus = "partial_filled_1"
	TradeClosed         TradeStatus = "closed"
)

// Trade is an executed, managed position.
type Trade struct {
	Symbol    string
	Direction types.Direction
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
	EntryTime  time.Time

	StopLoss decimal.Decimal
	TP1      decimal.Decimal
	TP2      decimal.Decimal

	Status        TradeStatus
	CurrentPrice  decimal.Decimal
	CurrentPnL    decimal.Decimal
	CurrentPnLPct float64

	ExitTime   *time.Time
	ExitPrice  *decimal.Decimal
	ExitReason string
}

// UpdatePnL recomputes CurrentPnL/CurrentPnLPct for the given mark price.
func (t *Trade) UpdatePnL(currentPrice decimal.Decimal) {
	t.CurrentPrice = currentPrice
	if t.Direction == types.DirectionLong {
		t.CurrentPnL = currentPrice.Sub(t.EntryPrice).Mul(t.Quantity)
	} else {
		t.CurrentPnL = t.EntryPrice.Sub(currentPrice).Mul(t.Quantity)
	}
	if !t.EntryPrice.IsZero() {
		diff := currentPrice.Sub(t.EntryPrice)
		if t.Direction == types.DirectionShort {
			diff = diff.Neg()
		}
		t.CurrentPnLPct = diff.Div(t.EntryPrice).InexactFloat64() * 100
	}
}

func (t *Trade) isAtTP1() bool {
	if t.Direction == types.DirectionLong {
		return t.CurrentPrice.GreaterThanOrEqual(t.TP1)
	}
	return t.CurrentPrice.LessThanOrEqual(t.TP1)
}

func (t *Trade) isAtTP2() bool {
	if t.Direction == types.DirectionLong {
		return t.CurrentPrice.GreaterThanOrEqual(t.TP2)
	}
	return t.CurrentPrice.LessThanOrEqual(t.TP2)
}

func (t *Trade) isHitSL() bool {
	if t.Direction == types.DirectionLong {
		return t.CurrentPrice.LessThanOrEqual(t.StopLoss)
	}
	return t.CurrentPrice.GreaterThanOrEqual(t.StopLoss)
}

// HistoryEvent records a trade lifecycle transition for reporting.
type HistoryEvent struct {
	Action    string // "open" | "partial_tp1" | "close"
	Symbol    string
	Timestamp time.Time
}

// MarketData is the externally supplied context for one tick: the union of
// everything the validator, scorer and AI adapter need.
type MarketData struct {
	RSI     float64
	EMA20   float64
	EMA50   float64
	EMA200  float64
	Volume  float64
	AvgVolume float64
	ATR     float64

	VolumeRatio       float64
	HistoricalWinRate float64
	MarketTrend       string
	MarketVolatility  string

	Portfolio validator.PortfolioState
}

// Config tunes pre-trade and sizing behavior (spec §4.8).
type Config struct {
	BasePositionSize decimal.Decimal
	MaxSpread        float64 // fraction of price, default 0.0005
	MaxLatencyMs     int64   // default 500
}

func DefaultConfig() Config {
	return Config{
		BasePositionSize: decimal.NewFromInt(1000),
		MaxSpread:        0.0005,
		MaxLatencyMs:     500,
	}
}

// TickResult is the outcome of one pipeline evaluation for a symbol.
type TickResult struct {
	Accepted bool
	Reason   string
	Trade    *Trade
}

// Engine wires the five signal-generation modules plus order placement.
type Engine struct {
	logger *zap.Logger
	config Config

	fib       *fibonacci.Engine
	validator *validator.Validator
	scheduler *scheduler.Scheduler
	scorer    *scorer.Scorer
	ai        *aiadapter.Adapter // nil disables AI enhancement
	risk      *execution.RiskManager // nil disables portfolio-level gating
	exch      exchange.Adapter
	sizer     *sizing.PositionSizer // nil keeps the flat base-size*multiplier sizing

	mu           sync.RWMutex
	openTrades   map[string]*Trade
	closedTrades []*Trade
	history      []HistoryEvent
}

func New(
	logger *zap.Logger,
	config Config,
	fib *fibonacci.Engine,
	val *validator.Validator,
	sched *scheduler.Scheduler,
	scr *scorer.Scorer,
	ai *aiadapter.Adapter,
	risk *execution.RiskManager,
	exch exchange.Adapter,
) *Engine {
	return &Engine{
		logger:     logger.Named("engine"),
		config:     config,
		fib:        fib,
		validator:  val,
		scheduler:  sched,
		scorer:     scr,
		ai:         ai,
		risk:       risk,
		exch:       exch,
		openTrades: make(map[string]*Trade),
	}
}

// SetSizer swaps in a Kelly-aware position sizer. When set, it replaces the
// flat base-size*score-multiplier sizing in Tick's step 9 for every trade
// whose resulting position size is positive; it falls back to the flat
// sizing otherwise (e.g. before enough closed trades exist for Kelly to
// recommend a meaningful size).
func (e *Engine) SetSizer(sizer *sizing.PositionSizer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sizer = sizer
}

// PreFlightCheck verifies all required sub-modules are wired (spec §4.8 step 1).
func (e *Engine) PreFlightCheck() (bool, []string) {
	var errs []string
	if e.fib == nil {
		errs = append(errs, "fibonacci engine not initialized")
	}
	if e.validator == nil {
		errs = append(errs, "signal validator not initialized")
	}
	if e.scheduler == nil {
		errs = append(errs, "smart scheduler not initialized")
	}
	if e.scorer == nil {
		errs = append(errs, "signal scorer not initialized")
	}
	if e.exch == nil {
		errs = append(errs, "exchange adapter not initialized")
	}
	if len(errs) > 0 {
		e.logger.Error("pre-flight check failed", zap.Strings("errors", errs))
		return false, errs
	}
	return true, nil
}

// Tick runs the full ten-step pipeline for one symbol (spec §4.8). A nil
// Trade with Accepted=false means no trade was opened this tick; Reason
// explains why.
func (e *Engine) Tick(ctx context.Context, symbol string, window []types.OHLCV, market MarketData) TickResult {
	now := time.Now()

	// Step 1: pre-flight.
	if ok, errs := e.PreFlightCheck(); !ok {
		return TickResult{Reason: fmt.Sprintf("pre-flight failed: %v", errs)}
	}

	e.mu.RLock()
	_, alreadyOpen := e.openTrades[symbol]
	e.mu.RUnlock()
	if alreadyOpen {
		return TickResult{Reason: "trade already open for symbol"}
	}

	// Step 2: scheduler gate.
	if e.scheduler.ShouldSkip(symbol) {
		return TickResult{Reason: "scheduler: consecutive skip cut-out engaged"}
	}
	if !e.scheduler.CanExecute(symbol, now) {
		return TickResult{Reason: "scheduler: minimum interval not elapsed"}
	}

	// Step 3: Fibonacci candidate.
	candidate := e.fib.GetSignal(symbol, window)
	if candidate == nil {
		e.scheduler.RecordSkip(symbol)
		return TickResult{Reason: "no fibonacci candidate"}
	}

	// Step 4: validation.
	validation := e.validator.Validate(candidate, validator.MarketData{
		RSI: market.RSI, EMA20: market.EMA20, EMA50: market.EMA50,
		Volume: market.Volume, AvgVolume: market.AvgVolume, ATR: market.ATR,
	}, market.Portfolio)
	if !validation.IsValid {
		e.scheduler.RecordSkip(symbol)
		return TickResult{Reason: fmt.Sprintf("validation failed: %v", validation.Violations)}
	}

	// Step 5: timing re-check.
	timing := e.scheduler.EvaluateTiming(symbol, now)
	if !timing.ShouldExecute {
		return TickResult{Reason: "timing not optimal: " + timing.Reason}
	}

	// Step 6: scoring.
	score := e.scorer.Score(scorer.Input{
		Symbol: symbol, Direction: candidate.Direction, EntryPrice: candidate.CurrentPrice,
		FibLevel: fibLevelValue(candidate), RSI: market.RSI, EMA20: market.EMA20,
		EMA50: market.EMA50, EMA200: market.EMA200, VolumeRatio: market.VolumeRatio,
		ATR: market.ATR, HistoricalWinRate: market.HistoricalWinRate,
		MarketTrend: market.MarketTrend, MarketVolatility: market.MarketVolatility,
	})
	if score.ExecutionTier == scorer.TierSkip {
		return TickResult{Reason: fmt.Sprintf("score too low: %.1f", score.TotalScore)}
	}

	// Step 7: stop loss / take profits.
	entry := decimal.NewFromFloat(candidate.CurrentPrice)
	atr := decimal.NewFromFloat(market.ATR)
	slDistance := atr.Mul(decimal.NewFromFloat(2.0))
	var stopLoss, tp1, tp2 decimal.Decimal
	if candidate.Direction == types.DirectionLong {
		stopLoss = entry.Sub(slDistance)
		tp1 = entry.Add(atr.Mul(decimal.NewFromFloat(1.5)))
		tp2 = entry.Add(atr.Mul(decimal.NewFromFloat(3.0)))
	} else {
		stopLoss = entry.Add(slDistance)
		tp1 = entry.Sub(atr.Mul(decimal.NewFromFloat(1.5)))
		tp2 = entry.Sub(atr.Mul(decimal.NewFromFloat(3.0)))
	}

	// Step 8: AI enhancement (optional).
	if e.ai != nil {
		enhancement := e.ai.EnhanceSignal(ctx, aiadapter.TechnicalContext{
			Symbol: symbol, Direction: candidate.Direction, Price: candidate.CurrentPrice,
			VolumeRatio: market.VolumeRatio, Volatility: market.ATR, Trend: market.MarketTrend,
			RSI: market.RSI, EMA20: market.EMA20, EMA50: market.EMA50, EMA200: market.EMA200,
			FibLevel: fibLevelValue(candidate),
		}, types.Timeframe1h)
		if enhancement != nil {
			if enhancement.Verdict == aiadapter.VerdictBlock {
				return TickResult{Reason: "blocked by AI adapter"}
			}
			if enhancement.Verdict == aiadapter.VerdictBoost {
				score.TotalScore = clampScore(score.TotalScore + enhancement.BoostAmount)
			}
		}
	}

	// Step 9: final acceptance — position size and pre-trade validation.
	positionSize := e.config.BasePositionSize.Mul(decimal.NewFromFloat(score.SizeMultiplier))
	if e.risk != nil && market.Portfolio.TotalValue > 0 {
		// CalculatePositionSize returns quantity (dollar_risk / stop distance);
		// positionSize here is notional, converted back to quantity at order
		// construction below, so re-express it in notional terms.
		if sizedQty := e.risk.CalculatePositionSize(decimal.NewFromFloat(market.Portfolio.TotalValue), entry, stopLoss); sizedQty.IsPositive() {
			positionSize = sizedQty.Mul(entry)
		}
	}
	if e.sizer != nil && market.Portfolio.TotalValue > 0 {
		if sized := e.kellySizedPosition(market, candidate, score, stopLoss, tp1); sized.IsPositive() {
			positionSize = sized
		}
	}
	if positionSize.LessThanOrEqual(decimal.Zero) {
		return TickResult{Reason: "position size resolved to zero"}
	}

	if reason := e.preTradeValidate(symbol, candidate.CurrentPrice); reason != "" {
		return TickResult{Reason: reason}
	}

	if e.risk != nil {
		if reason := e.riskGatesCheck(market, candidate); reason != "" {
			return TickResult{Reason: reason}
		}
	}

	// Step 10: place order.
	side := types.OrderSideBuy
	if candidate.Direction == types.DirectionShort {
		side = types.OrderSideSell
	}
	order := &types.Order{
		Symbol:   symbol,
		Side:     side,
		Type:     types.OrderTypeMarket,
		Quantity: positionSize.Div(entry),
		Status:   types.OrderStatusPending,
	}

	latency, placeErr := e.scheduler.MeasureLatency(symbol, func() error {
		var err error
		_, err = e.exch.PlaceOrder(ctx, order)
		return err
	})
	if placeErr != nil {
		return TickResult{Reason: fmt.Sprintf("order placement failed: %v", placeErr)}
	}
	e.logger.Debug("measured order latency", zap.String("symbol", symbol), zap.Duration("latency", latency))

	trade := &Trade{
		Symbol: symbol, Direction: candidate.Direction, EntryPrice: entry,
		Quantity: order.Quantity, EntryTime: now, StopLoss: stopLoss, TP1: tp1, TP2: tp2,
		Status: TradeOpen, CurrentPrice: entry,
	}

	e.mu.Lock()
	e.openTrades[symbol] = trade
	openCount := len(e.openTrades)
	e.history = append(e.history, HistoryEvent{Action: "open", Symbol: symbol, Timestamp: now})
	e.mu.Unlock()

	if e.risk != nil {
		e.risk.SetOpenTradeCount(openCount)
	}

	e.scheduler.RecordExecution(symbol, now)
	e.logger.Info("trade executed",
		zap.String("symbol", symbol), zap.String("direction", string(candidate.Direction)),
		zap.String("tier", string(score.ExecutionTier)))

	return TickResult{Accepted: true, Trade: trade}
}

// kellySizedPosition asks the optional sizer for a fractional-Kelly position
// size, feeding it the realized win/loss statistics from trades this engine
// has already closed. Returns a zero decimal if the sizer has nothing to
// recommend yet (e.g. no closed trades) — the caller falls back to the flat
// base-size*score-multiplier sizing in that case.
func (e *Engine) kellySizedPosition(market MarketData, candidate *fibonacci.Candidate, score *scorer.Score, stopLoss, takeProfit decimal.Decimal) decimal.Decimal {
	stats := e.sizer.GetTradeStatistics()
	if stats.TotalTrades == 0 {
		return decimal.Zero
	}

	result := e.sizer.CalculateSize(&sizing.SizingRequest{
		Symbol:           candidate.Symbol,
		PortfolioValue:   decimal.NewFromFloat(market.Portfolio.TotalValue),
		CurrentPrice:     decimal.NewFromFloat(candidate.CurrentPrice),
		StopLoss:         stopLoss,
		TakeProfit:       takeProfit,
		WinRate:          market.HistoricalWinRate,
		AvgWin:           stats.AvgWin,
		AvgLoss:          stats.AvgLoss,
		RegimeMultiplier: regimeSizeMultiplier(market.MarketVolatility),
		Correlation:      market.Portfolio.Correlation,
		Confidence:       clampUnit(score.TotalScore / 100.0),
	})
	return result.PositionSize
}

// regimeSizeMultiplier maps the volatility bucket an internal/regime
// Classifier (or any equivalent caller-supplied label) assigns into the
// sizer's regime adjustment, matching regime.Classifier's own thresholds.
func regimeSizeMultiplier(volatilityBucket string) float64 {
	switch volatilityBucket {
	case "high":
		return 0.5
	case "low":
		return 1.3
	default:
		return 1.0
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// preTradeValidate rejects a trade before it reaches the exchange when
// either the simulated spread or the last measured round-trip latency for
// symbol breaches its configured ceiling (spec step 9: both gates are
// symmetric pre-trade checks, not post-hoc observations).
func (e *Engine) preTradeValidate(symbol string, currentPrice float64) string {
	simulatedSpread := currentPrice * 0.0003
	if simulatedSpread > e.config.MaxSpread*currentPrice {
		return fmt.Sprintf("spread %.6f exceeds max %.6f", simulatedSpread, e.config.MaxSpread*currentPrice)
	}
	if latencyMs := e.scheduler.GetLatency(symbol); latencyMs > float64(e.config.MaxLatencyMs) {
		return fmt.Sprintf("latency %.0fms exceeds max %dms", latencyMs, e.config.MaxLatencyMs)
	}
	return ""
}

// riskGatesCheck runs the portfolio-level gates beyond the single-candidate
// checks already covered by the validator (spec §4.9). Correlation and
// drawdown read off MarketData.Portfolio, which the caller is expected to
// populate from its own position/balance tracking; volatility is
// approximated from the candidate's own ATR relative to price, since the
// pipeline has no separate historical-volatility feed.
func (e *Engine) riskGatesCheck(market MarketData, candidate *fibonacci.Candidate) string {
	if !e.risk.CheckMaxOpenTrades() {
		return "risk manager: max open trades reached"
	}

	if market.Portfolio.HasData {
		if !e.risk.CheckCorrelation(decimal.NewFromFloat(market.Portfolio.Correlation)) {
			return "risk manager: correlation with existing position too high"
		}
		if blocked, _ := e.risk.CheckDrawdown(decimal.NewFromFloat(market.Portfolio.TotalValue)); blocked {
			return "risk manager: drawdown limit reached"
		}
	}

	if candidate.CurrentPrice > 0 {
		historicalVolatility := decimal.NewFromFloat(candidate.ATR / candidate.CurrentPrice)
		if !e.risk.CheckVolatility(historicalVolatility) {
			return "risk manager: volatility too high"
		}
	}

	if e.risk.CheckDailyLoss() {
		return "risk manager: daily loss limit reached"
	}

	return ""
}

// anchorFraction maps a triggered named anchor back to its retracement
// fraction for the scorer/AI adapter, which reason about golden-ratio levels
// rather than the Fibonacci engine's support/resistance anchor names.
var anchorFraction = map[string]float64{
	"support_strong": 0.618, "resistance_strong": 0.618,
	"support_medium": 0.382, "resistance_medium": 0.382,
	"support_weak": 0.236, "resistance_weak": 0.236,
}

func fibLevelValue(c *fibonacci.Candidate) float64 {
	if f, ok := anchorFraction[c.TriggeredLevel]; ok {
		return f
	}
	return 0
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// UpdateTrades marks open trades to market and drives the state machine
// (spec §4.8 "Open-trade state machine").
func (e *Engine) UpdateTrades(priceMap map[string]decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for symbol, price := range priceMap {
		trade, ok := e.openTrades[symbol]
		if !ok {
			continue
		}
		trade.UpdatePnL(price)

		if trade.isHitSL() {
			e.closeTradeLocked(symbol, price, "sl")
			continue
		}
		if trade.isAtTP2() {
			e.closeTradeLocked(symbol, price, "tp2")
			continue
		}
		if trade.Status == TradeOpen && trade.isAtTP1() {
			trade.Status = TradePartialFilled1
			e.history = append(e.history, HistoryEvent{Action: "partial_tp1", Symbol: symbol, Timestamp: time.Now()})
		}
	}
}

func (e *Engine) closeTradeLocked(symbol string, exitPrice decimal.Decimal, reason string) {
	trade, ok := e.openTrades[symbol]
	if !ok {
		return
	}
	delete(e.openTrades, symbol)
	now := time.Now()
	trade.Status = TradeClosed
	trade.ExitPrice = &exitPrice
	trade.ExitReason = reason
	trade.ExitTime = &now
	e.closedTrades = append(e.closedTrades, trade)
	e.history = append(e.history, HistoryEvent{Action: "close", Symbol: symbol, Timestamp: now})

	if e.sizer != nil {
		e.sizer.AddTradeResult(&sizing.TradeResult{
			Symbol:    symbol,
			Entry:     trade.EntryPrice,
			Exit:      exitPrice,
			ReturnPct: trade.CurrentPnLPct,
			IsWin:     trade.CurrentPnL.IsPositive(),
		})
	}

	if e.risk == nil {
		return
	}
	e.risk.SetOpenTradeCount(len(e.openTrades))

	side := types.OrderSideBuy
	if trade.Direction == types.DirectionShort {
		side = types.OrderSideSell
	}
	e.risk.RecordTrade(&execution.TradeRecord{
		Symbol: symbol,
		Side:   side,
		Value:  trade.Quantity.Mul(exitPrice),
		PnL:    trade.CurrentPnL,
	})

	if cfg := e.risk.GetConfig(); cfg.MaxConsecutiveLosses > 0 {
		if stats := e.risk.GetStats(); stats.ConsecutiveLosses >= cfg.MaxConsecutiveLosses {
			e.emergencyStopLocked(fmt.Sprintf("%d consecutive losses", stats.ConsecutiveLosses))
		}
	}
}

// emergencyStopLocked engages the risk manager's emergency stop and
// force-closes every remaining open trade at its last marked price. Callers
// must hold e.mu.
func (e *Engine) emergencyStopLocked(reason string) {
	e.risk.EmergencyStop(reason)
	now := time.Now()
	for sym, trade := range e.openTrades {
		delete(e.openTrades, sym)
		exitPrice := trade.CurrentPrice
		trade.Status = TradeClosed
		trade.ExitPrice = &exitPrice
		trade.ExitReason = "emergency_stop"
		trade.ExitTime = &now
		e.closedTrades = append(e.closedTrades, trade)
		e.history = append(e.history, HistoryEvent{Action: "close", Symbol: sym, Timestamp: now})
	}
	e.logger.Error("emergency stop closed all open trades", zap.String("reason", reason))
}

// Summary is the engine's reporting snapshot.
type Summary struct {
	OpenTrades   int
	ClosedTrades int
	TotalOpenPnL decimal.Decimal
}

func (e *Engine) GetSummary() Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := decimal.Zero
	for _, t := range e.openTrades {
		total = total.Add(t.CurrentPnL)
	}
	return Summary{
		OpenTrades:   len(e.openTrades),
		ClosedTrades: len(e.closedTrades),
		TotalOpenPnL: total,
	}
}

func (e *Engine) GetOpenTrade(symbol string) (*Trade, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.openTrades[symbol]
	return t, ok
}

// GetOpenTrades returns a copy of every currently open trade.
func (e *Engine) GetOpenTrades() []*Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Trade, 0, len(e.openTrades))
	for _, t := range e.openTrades {
		out = append(out, t)
	}
	return out
}

// GetClosedTrades returns a copy of every trade closed so far, oldest first.
func (e *Engine) GetClosedTrades() []*Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Trade, len(e.closedTrades))
	copy(out, e.closedTrades)
	return out
}

func (e *Engine) GetHistory() []HistoryEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]HistoryEvent, len(e.history))
	copy(out, e.history)
	return out
}
