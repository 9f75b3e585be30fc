// Package mode implements the Trading Mode Manager: the top-level state
// machine selecting between AUTO, SEMI_AUTO, MANUAL, PAPER and BACKTEST, and
// the periodic loop that drives the Integrated Execution Engine in each.
// Grounded on original_source/trading/mode_manager.py.
package mode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/v0-strategy-engine/signal-engine/internal/backtester"
	"github.com/v0-strategy-engine/signal-engine/internal/engine"
	"github.com/v0-strategy-engine/signal-engine/internal/exchange"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// Mode is one of the five top-level trading states (spec §4.10).
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeSemiAuto Mode = "semi_auto"
	ModeManual   Mode = "manual"
	ModePaper    Mode = "paper"
	ModeBacktest Mode = "backtest"
)

// MarketDataFunc supplies the externally computed indicators a tick needs
// (RSI, EMA, trend classification, …); the mode manager treats indicator
// computation as the caller's concern, same split as the original's
// get_market_data/signal_manager boundary.
type MarketDataFunc func(ctx context.Context, symbol string, window []types.OHLCV) engine.MarketData

// Config tunes the manager's loops.
type Config struct {
	Symbols             []string
	TickInterval        time.Duration   // default 1 minute
	HistoryLimit        int             // bars fetched per tick, default 100
	MaxDailyTrades      int             // default 50
	ConfirmationTimeout time.Duration   // default 300s
	InitialCapital      decimal.Decimal // starting equity for RunBacktest's equity curve, default 10000
}

func DefaultConfig() Config {
	return Config{
		TickInterval:        time.Minute,
		HistoryLimit:        100,
		MaxDailyTrades:      50,
		ConfirmationTimeout: 300 * time.Second,
		InitialCapital:      decimal.NewFromInt(10000),
	}
}

// ConfirmationRequest is published on SEMI_AUTO mode's confirmation channel;
// the external observer (bot, UI) calls Respond once.
type ConfirmationRequest struct {
	Symbol  string
	Respond func(confirmed bool)
}

// Manager owns the current mode and the goroutine driving it.
type Manager struct {
	logger     *zap.Logger
	config     Config
	eng        *engine.Engine // drives AUTO, SEMI_AUTO, BACKTEST, MANUAL
	paperEng   *engine.Engine // drives PAPER, wired with a paper-fill exchange.Adapter
	exch       exchange.Adapter
	marketData MarketDataFunc

	mu      sync.Mutex
	mode    Mode
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	dailyTradeCount int
	lastReset       time.Time

	confirmCh chan ConfirmationRequest
}

// New constructs a manager in MANUAL mode (matching the reference's default).
// paperEng may be nil if PAPER mode is not needed; it should be built with
// the same sub-modules as eng but an exchange.Adapter wrapped by
// NewPaperAdapter.
func New(logger *zap.Logger, config Config, eng, paperEng *engine.Engine, exch exchange.Adapter, marketData MarketDataFunc) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:     logger.Named("mode"),
		config:     config,
		eng:        eng,
		paperEng:   paperEng,
		exch:       exch,
		marketData: marketData,
		mode:       ModeManual,
		lastReset:  time.Now().UTC(),
		confirmCh:  make(chan ConfirmationRequest, 16),
	}
}

// Confirmations exposes the SEMI_AUTO confirmation queue for an external
// observer to drain and respond to.
func (m *Manager) Confirmations() <-chan ConfirmationRequest {
	return m.confirmCh
}

// Symbols returns the configured trading symbols.
func (m *Manager) Symbols() []string {
	return m.config.Symbols
}

// Engine exposes the engine driving AUTO/SEMI_AUTO/MANUAL/BACKTEST, for
// reporting surfaces that need open/closed trade state.
func (m *Manager) Engine() *engine.Engine {
	return m.eng
}

// CurrentMode returns the active mode.
func (m *Manager) CurrentMode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode transitions to a new mode, draining the previous mode's loop
// before the new one starts (spec §4.10 "Mode transitions require the
// previous mode's loop to stop before the new mode starts").
func (m *Manager) SetMode(ctx context.Context, newMode Mode) error {
	m.mu.Lock()
	wasRunning := m.running
	m.mu.Unlock()

	if wasRunning {
		if err := m.Stop(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.mode = newMode
	m.mu.Unlock()
	m.logger.Info("trading mode set", zap.String("mode", string(newMode)))

	if wasRunning {
		return m.Start(ctx)
	}
	return nil
}

// Start begins the autonomous loop for the current mode. MANUAL has no
// loop (signals surface to an external observer only); BACKTEST is driven
// by RunBacktest, not Start.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("mode manager already running")
	}
	mode := m.mode
	if mode == ModeBacktest {
		m.mu.Unlock()
		return fmt.Errorf("backtest mode is driven by RunBacktest, not Start")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("trading started", zap.String("mode", string(mode)))

	switch mode {
	case ModeAuto:
		m.wg.Add(1)
		go m.autoLoop(ctx, m.eng, m.exch)
	case ModeSemiAuto:
		m.wg.Add(1)
		go m.semiAutoLoop(ctx)
	case ModePaper:
		paperEng := m.paperEng
		if paperEng == nil {
			paperEng = m.eng
			m.logger.Warn("no dedicated paper engine wired, PAPER mode will place real orders")
		}
		m.wg.Add(1)
		go m.autoLoop(ctx, paperEng, m.exch)
	case ModeManual:
		// No autonomous loop; manual trades are driven externally.
	}
	return nil
}

// Stop halts the current loop and waits for in-flight work to drain.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("trading stopped")
	return nil
}

func (m *Manager) autoLoop(ctx context.Context, eng *engine.Engine, exch exchange.Adapter) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.resetDailyCounterIfNeeded()
			if m.dailyLimitReached() {
				m.logger.Info("daily trade limit reached")
				continue
			}
			for _, symbol := range m.config.Symbols {
				select {
				case <-m.stopCh:
					return
				default:
				}
				m.tickSymbol(ctx, eng, exch, symbol)
			}
		}
	}
}

// semiAutoLoop publishes a confirmation request per symbol before running
// the tick. The reference's equivalent gap (signal generation separate from
// confirmation, separate again from execution) doesn't carry over cleanly
// since engine.Tick validates and executes atomically; gating confirmation
// ahead of the tick is the faithful adaptation of "await confirm-or-timeout,
// then execute" given that boundary.
func (m *Manager) semiAutoLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.resetDailyCounterIfNeeded()
			if m.dailyLimitReached() {
				m.logger.Info("daily trade limit reached")
				continue
			}
			for _, symbol := range m.config.Symbols {
				select {
				case <-m.stopCh:
					return
				default:
				}
				if !m.waitForConfirmation(ctx, symbol) {
					continue
				}
				m.tickSymbol(ctx, m.eng, m.exch, symbol)
			}
		}
	}
}

func (m *Manager) tickSymbol(ctx context.Context, eng *engine.Engine, exch exchange.Adapter, symbol string) {
	window, err := exch.GetHistoricalData(ctx, symbol, types.Timeframe1h, m.config.HistoryLimit)
	if err != nil {
		m.logger.Warn("failed to fetch historical data", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if len(window) == 0 {
		return
	}

	market := m.marketData(ctx, symbol, window)
	result := eng.Tick(ctx, symbol, window, market)
	if result.Accepted {
		m.mu.Lock()
		m.dailyTradeCount++
		m.mu.Unlock()
	} else {
		m.logger.Debug("tick did not execute", zap.String("symbol", symbol), zap.String("reason", result.Reason))
	}
}

func (m *Manager) waitForConfirmation(ctx context.Context, symbol string) bool {
	respCh := make(chan bool, 1)
	req := ConfirmationRequest{
		Symbol: symbol,
		Respond: func(confirmed bool) {
			select {
			case respCh <- confirmed:
			default:
			}
		},
	}

	select {
	case m.confirmCh <- req:
	default:
		m.logger.Warn("confirmation queue full, auto-rejecting", zap.String("symbol", symbol))
		return false
	}

	select {
	case confirmed := <-respCh:
		return confirmed
	case <-time.After(m.config.ConfirmationTimeout):
		m.logger.Info("confirmation timed out", zap.String("symbol", symbol))
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) resetDailyCounterIfNeeded() {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.YearDay() != m.lastReset.YearDay() || now.Year() != m.lastReset.Year() {
		m.dailyTradeCount = 0
		m.lastReset = now
	}
}

func (m *Manager) dailyLimitReached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyTradeCount >= m.config.MaxDailyTrades
}

// Status is the manager's reporting snapshot.
type Status struct {
	Mode            Mode
	Running         bool
	DailyTradeCount int
}

func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Mode: m.mode, Running: m.running, DailyTradeCount: m.dailyTradeCount}
}

// BacktestSummary reports how many ticks were accepted while replaying
// historical bars, plus the resulting performance metrics.
type BacktestSummary struct {
	TicksEvaluated int
	TradesOpened   int
	Metrics        *types.PerformanceMetrics
}

// RunBacktest drives the engine with historical bars fed in sequence, one
// bar at a time, with no event bus and no report formatting. The equity curve
// it builds along the way is scored with internal/backtester's
// MetricsCalculator, the same calculator the reference report uses.
func (m *Manager) RunBacktest(ctx context.Context, bars map[string][]types.OHLCV) (BacktestSummary, error) {
	if m.CurrentMode() != ModeBacktest {
		return BacktestSummary{}, fmt.Errorf("RunBacktest requires BACKTEST mode, current mode is %s", m.CurrentMode())
	}

	var summary BacktestSummary
	var equityCurve []types.EquityCurvePoint
	for symbol, series := range bars {
		for i := range series {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			default:
			}

			window := series[:i+1]
			market := m.marketData(ctx, symbol, window)
			result := m.eng.Tick(ctx, symbol, window, market)
			summary.TicksEvaluated++
			if result.Accepted {
				summary.TradesOpened++
			}
			m.eng.UpdateTrades(map[string]decimal.Decimal{symbol: series[i].Close})

			equityCurve = append(equityCurve, types.EquityCurvePoint{
				Timestamp: series[i].Timestamp,
				Equity:    m.backtestEquity(),
			})
		}
	}
	summary.Metrics = m.backtestMetrics(equityCurve)
	return summary, nil
}

// backtestEquity marks the portfolio to InitialCapital plus every closed
// trade's realized P&L plus any still-open trade's unrealized P&L.
func (m *Manager) backtestEquity() decimal.Decimal {
	s := m.eng.GetSummary()
	realized := decimal.Zero
	for _, t := range m.eng.GetClosedTrades() {
		realized = realized.Add(t.CurrentPnL)
	}
	return m.config.InitialCapital.Add(realized).Add(s.TotalOpenPnL)
}

// backtestMetrics scores the replay's closed trades and equity curve with
// internal/backtester.MetricsCalculator.
func (m *Manager) backtestMetrics(curve []types.EquityCurvePoint) *types.PerformanceMetrics {
	closed := m.eng.GetClosedTrades()
	trades := make([]*types.Trade, 0, len(closed))
	for _, t := range closed {
		exitTime := time.Now().UTC()
		if t.ExitTime != nil {
			exitTime = *t.ExitTime
		}
		trades = append(trades, &types.Trade{
			Symbol:     t.Symbol,
			PnL:        t.CurrentPnL,
			ExecutedAt: exitTime,
		})
	}
	calc := backtester.NewMetricsCalculator()
	return calc.Calculate(trades, curve, m.config.InitialCapital)
}
