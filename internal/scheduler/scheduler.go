// Package scheduler implements per-symbol rate limiting, a consecutive-skip
// cut-out, order-book depth sanity checking and latency measurement.
// Grounded on original_source/signal_generation/smart_scheduler.py.
package scheduler

import (
	"sync"
	"time"

	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// Config tunes the scheduler (spec §4.5 defaults).
type Config struct {
	MinInterval        time.Duration // default 300s
	MaxConsecutiveSkips int          // default 5
}

func DefaultConfig() Config {
	return Config{MinInterval: 5 * time.Minute, MaxConsecutiveSkips: 5}
}

type symbolState struct {
	mu               sync.Mutex
	lastExecution    time.Time
	consecutiveSkips int
	latencyMs        float64
}

// Scheduler tracks per-symbol execution timing, skip counters and latency.
// All state is safe under concurrent symbol ticks (spec §4.5 last line) via
// one lock per symbol, avoiding a single global mutex bottleneck.
type Scheduler struct {
	config Config

	mu     sync.RWMutex
	states map[string]*symbolState
}

func New(config Config) *Scheduler {
	if config.MinInterval <= 0 {
		config.MinInterval = 5 * time.Minute
	}
	if config.MaxConsecutiveSkips <= 0 {
		config.MaxConsecutiveSkips = 5
	}
	return &Scheduler{config: config, states: make(map[string]*symbolState)}
}

func (s *Scheduler) state(symbol string) *symbolState {
	s.mu.RLock()
	st, ok := s.states[symbol]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[symbol]; ok {
		return st
	}
	st = &symbolState{}
	s.states[symbol] = st
	return st
}

// CanExecute returns true iff now - last_execution_ts >= min_interval_s.
func (s *Scheduler) CanExecute(symbol string, now time.Time) bool {
	st := s.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastExecution.IsZero() {
		return true
	}
	return now.Sub(st.lastExecution) >= s.config.MinInterval
}

// RecordExecution updates last_execution_ts and resets consecutive_skips.
func (s *Scheduler) RecordExecution(symbol string, now time.Time) {
	st := s.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastExecution = now
	st.consecutiveSkips = 0
}

// RecordSkip increments consecutive_skips.
func (s *Scheduler) RecordSkip(symbol string) {
	st := s.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.consecutiveSkips++
}

// ShouldSkip returns true iff consecutive_skips >= max_consecutive_skips.
// The calling engine must stop attempting signals on the symbol until an
// external ResetSkips call.
func (s *Scheduler) ShouldSkip(symbol string) bool {
	st := s.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.consecutiveSkips >= s.config.MaxConsecutiveSkips
}

// ResetSkips clears the consecutive-skip counter for a symbol (the external
// reset spec §4.5/§7 requires after a cut-out).
func (s *Scheduler) ResetSkips(symbol string) {
	st := s.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.consecutiveSkips = 0
}

// CheckOrderBookDepth returns true iff (best_ask - best_bid)/best_ask <
// required_depth_pct.
func (s *Scheduler) CheckOrderBookDepth(book types.OrderBook, requiredDepthPct float64) bool {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return false
	}
	bestBid := book.Bids[0].Price.InexactFloat64()
	bestAsk := book.Asks[0].Price.InexactFloat64()
	if bestAsk == 0 {
		return false
	}
	spread := bestAsk - bestBid
	if spread < 0 {
		spread = -spread
	}
	return spread/bestAsk < requiredDepthPct
}

// MeasureLatency wraps a single upstream call, stores elapsed milliseconds
// keyed by symbol, and returns the measured latency.
func (s *Scheduler) MeasureLatency(symbol string, call func() error) (time.Duration, error) {
	start := time.Now()
	err := call()
	elapsed := time.Since(start)

	st := s.state(symbol)
	st.mu.Lock()
	st.latencyMs = float64(elapsed.Milliseconds())
	st.mu.Unlock()

	return elapsed, err
}

// GetLatency returns the last measured latency in milliseconds for a symbol.
func (s *Scheduler) GetLatency(symbol string) float64 {
	st := s.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.latencyMs
}

// GetNextExecutionTime returns last_execution_ts + min_interval_s.
func (s *Scheduler) GetNextExecutionTime(symbol string) time.Time {
	st := s.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastExecution.Add(s.config.MinInterval)
}

// State is a snapshot of a symbol's scheduler state, for observability.
type State struct {
	LastExecution    time.Time
	ConsecutiveSkips int
	LatencyMs        float64
	NextExecution    time.Time
}

func (s *Scheduler) GetState(symbol string) State {
	st := s.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	return State{
		LastExecution:    st.lastExecution,
		ConsecutiveSkips: st.consecutiveSkips,
		LatencyMs:        st.latencyMs,
		NextExecution:    st.lastExecution.Add(s.config.MinInterval),
	}
}

// TimingQuality labels how favorable the current timing is, supplemental
// detail surfaced by EvaluateTiming (SPEC_FULL.md §4.5).
type TimingQuality string

const (
	TimingOptimal TimingQuality = "optimal"
	TimingPoor    TimingQuality = "poor"
)

// ScheduleResult is EvaluateTiming's verdict, consumed by the Integrated
// Execution Engine at tick step 5 (spec §4.8).
type ScheduleResult struct {
	ShouldExecute bool
	Reason        string
	TimingQuality TimingQuality
}

// EvaluateTiming combines the cut-out and cooldown checks into a single
// verdict, adapted from smart_scheduler.py's usage inside
// execution_engine_integrated.py.
func (s *Scheduler) EvaluateTiming(symbol string, now time.Time) ScheduleResult {
	if s.ShouldSkip(symbol) {
		return ScheduleResult{ShouldExecute: false, Reason: "consecutive skip cut-out engaged", TimingQuality: TimingPoor}
	}
	if !s.CanExecute(symbol, now) {
		return ScheduleResult{ShouldExecute: false, Reason: "cooldown interval not elapsed", TimingQuality: TimingPoor}
	}
	return ScheduleResult{ShouldExecute: true, TimingQuality: TimingOptimal}
}
