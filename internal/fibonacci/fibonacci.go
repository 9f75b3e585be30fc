// Package fibonacci computes volatility-adjusted Fibonacci retracement
// levels over a recent OHLCV window and emits a candidate signal when price
// touches a designated level, falling through to registered alternative
// strategies otherwise. Grounded on
// original_source/signal_generation/fibonacci_engine.py.
package fibonacci

import (
	"math"
	"sort"

	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// Levels are the standard Fibonacci retracement fractions.
var Levels = []float64{0.0, 0.236, 0.382, 0.5, 0.618, 0.786, 1.0}

// Candidate is a pre-validation hint emitted by the engine or a fallback
// strategy (spec §3 "Candidate signal").
type Candidate struct {
	Strategy       string
	Symbol         string
	Direction      types.Direction
	CurrentPrice   float64
	ATR            float64
	TriggeredLevel string
	FibLevels      map[string]float64
	Confidence     float64
}

// AlternativeStrategy is a fallback signal source tried, in registration
// order, when the Fibonacci trigger does not fire.
type AlternativeStrategy struct {
	Name string
	Run  func(window []types.OHLCV) *Candidate
}

// Config tunes the engine.
type Config struct {
	ATRPeriod        int
	VolatilityFactor float64
	TriggerTolerance float64 // default 0.01 (1%)
}

func DefaultConfig() Config {
	return Config{ATRPeriod: 14, VolatilityFactor: 1.0, TriggerTolerance: 0.01}
}

// Engine computes dynamic Fibonacci levels and emits candidate signals.
type Engine struct {
	config       Config
	alternatives []AlternativeStrategy
}

func New(config Config) *Engine {
	if config.ATRPeriod <= 0 {
		config.ATRPeriod = 14
	}
	if config.TriggerTolerance <= 0 {
		config.TriggerTolerance = 0.01
	}
	return &Engine{config: config}
}

// RegisterAlternative appends a fallback strategy, tried in registration
// order after the core Fibonacci trigger misses.
func (e *Engine) RegisterAlternative(strategy AlternativeStrategy) {
	e.alternatives = append(e.alternatives, strategy)
}

// CalculateATR computes the average true range over the engine's ATR period
// using true-range averaging (spec §4.3 step 1).
func (e *Engine) CalculateATR(window []types.OHLCV) float64 {
	if len(window) == 0 {
		return 0
	}
	if len(window) < e.config.ATRPeriod {
		sum := 0.0
		for _, b := range window {
			sum += b.High.InexactFloat64() - b.Low.InexactFloat64()
		}
		return sum / float64(len(window))
	}

	tr := make([]float64, len(window))
	tr[0] = window[0].High.InexactFloat64() - window[0].Low.InexactFloat64()
	for i := 1; i < len(window); i++ {
		h := window[i].High.InexactFloat64()
		l := window[i].Low.InexactFloat64()
		prevClose := window[i-1].Close.InexactFloat64()
		hl := h - l
		hc := math.Abs(h - prevClose)
		lc := math.Abs(l - prevClose)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	tail := tr[len(tr)-e.config.ATRPeriod:]
	sum := 0.0
	for _, v := range tail {
		sum += v
	}
	return sum / float64(len(tail))
}

// CalculateDynamicLevels computes the named anchors and fine-grained
// fibonacci_XXX levels for the given window extremes (spec §4.3 steps 2-3).
func (e *Engine) CalculateDynamicLevels(high, low, close, atr float64) map[string]float64 {
	baseRange := high - low
	volRange := baseRange * (1 + (atr/close)*e.config.VolatilityFactor)

	levels := map[string]float64{
		"support_strong":    high - volRange*0.618,
		"support_medium":    high - volRange*0.382,
		"support_weak":      high - volRange*0.236,
		"resistance_weak":   high + volRange*0.236,
		"resistance_medium": high + volRange*0.382,
		"resistance_strong": high + volRange*0.618,
	}
	for _, fib := range Levels {
		levels[fibKey(fib)] = high - volRange*fib
	}
	return levels
}

func fibKey(fib float64) string {
	return "fibonacci_" + threeDigits(int(math.Round(fib*1000)))
}

func threeDigits(n int) string {
	s := ""
	for _, d := range []int{n / 100, (n / 10) % 10, n % 10} {
		s += string(rune('0' + d))
	}
	return s
}

// anchorsByTriggerPriority is the order the Python original checks triggers
// in: support before resistance, strong before medium.
var anchorsByTriggerPriority = []string{"support_strong", "resistance_strong", "support_medium", "resistance_medium"}

// GetSignal is the primary entry point: attempts the Fibonacci trigger, then
// falls through registered alternatives in order (spec §4.3 steps 4-6).
func (e *Engine) GetSignal(symbol string, window []types.OHLCV) *Candidate {
	if len(window) == 0 {
		return e.tryAlternatives(window)
	}

	high, low, close := extremes(window)
	atr := e.CalculateATR(window)
	levels := e.CalculateDynamicLevels(high, low, close, atr)
	price := close

	triggered := e.triggeredAnchors(price, levels)
	if len(triggered) == 0 {
		return e.tryAlternatives(window)
	}

	anchor := nearestAnchor(price, levels, triggered)
	direction := types.DirectionLong
	if isResistance(anchor) {
		direction = types.DirectionShort
	}

	return &Candidate{
		Strategy:       "dynamic_fibonacci",
		Symbol:         symbol,
		Direction:      direction,
		CurrentPrice:   price,
		ATR:            atr,
		TriggeredLevel: anchor,
		FibLevels:      levels,
		Confidence:     0.85,
	}
}

// triggeredAnchors returns, in priority order, which of the four strong/medium
// anchors are within the trigger tolerance of price.
func (e *Engine) triggeredAnchors(price float64, levels map[string]float64) []string {
	var hit []string
	for _, name := range anchorsByTriggerPriority {
		lv := levels[name]
		if math.Abs((price-lv)/price) < e.config.TriggerTolerance {
			hit = append(hit, name)
		}
	}
	return hit
}

// nearestAnchor resolves the documented Open Question (SPEC_FULL.md §4.3):
// when both a support and resistance anchor trigger simultaneously, pick
// whichever sits nearest to price; ties keep the support/resistance-strong
// priority order already encoded in anchorsByTriggerPriority.
func nearestAnchor(price float64, levels map[string]float64, candidates []string) string {
	best := candidates[0]
	bestDist := math.Abs(price - levels[best])
	for _, name := range candidates[1:] {
		d := math.Abs(price - levels[name])
		if d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}

func isResistance(anchor string) bool {
	return len(anchor) >= 10 && anchor[:10] == "resistance"
}

func (e *Engine) tryAlternatives(window []types.OHLCV) *Candidate {
	for _, alt := range e.alternatives {
		if c := alt.Run(window); c != nil {
			c.Strategy = "alternative:" + alt.Name
			return c
		}
	}
	return nil
}

func extremes(window []types.OHLCV) (high, low, close float64) {
	high = window[0].High.InexactFloat64()
	low = window[0].Low.InexactFloat64()
	for _, b := range window {
		h := b.High.InexactFloat64()
		l := b.Low.InexactFloat64()
		if h > high {
			high = h
		}
		if l < low {
			low = l
		}
	}
	close = window[len(window)-1].Close.InexactFloat64()
	return
}

// MeanReversionStrategy is the example fallback from
// original_source/signal_generation/fibonacci_engine.py, adapted to the Go
// AlternativeStrategy shape.
func MeanReversionStrategy(direction types.Direction) AlternativeStrategy {
	return AlternativeStrategy{
		Name: "mean_reversion",
		Run: func(window []types.OHLCV) *Candidate {
			if len(window) < 20 {
				return nil
			}
			closes := lastN(window, 20)
			mean, std := meanStdDev(closes)
			price := closes[len(closes)-1]

			if direction == types.DirectionLong && price < mean-1.5*std {
				return &Candidate{Direction: types.DirectionLong, CurrentPrice: price, TriggeredLevel: "mean_reversion", Confidence: 0.65}
			}
			if direction == types.DirectionShort && price > mean+1.5*std {
				return &Candidate{Direction: types.DirectionShort, CurrentPrice: price, TriggeredLevel: "mean_reversion", Confidence: 0.65}
			}
			return nil
		},
	}
}

func lastN(window []types.OHLCV, n int) []float64 {
	start := len(window) - n
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = window[start+i].Close.InexactFloat64()
	}
	return out
}

func meanStdDev(vals []float64) (mean, std float64) {
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	for _, v := range vals {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(vals)))
	return
}

// sortedLevelKeys is exposed for callers (e.g. tests, debugging output) that
// want deterministic iteration over a levels map.
func sortedLevelKeys(levels map[string]float64) []string {
	keys := make([]string, 0, len(levels))
	for k := range levels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
