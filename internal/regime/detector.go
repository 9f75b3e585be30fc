// Package regime classifies recent price action into a trend direction and a
// volatility bucket, feeding the Signal Scorer's market_trend/market_volatility
// inputs (spec §4.6) instead of requiring the caller to pre-label them.
// Adapted from the reference repo's HMM-based RegimeDetector, trimmed to the
// trend-sign + realized-vol-bucket classification SPEC_FULL.md calls for —
// the HMM forward-algorithm state estimation never had a training pipeline
// wired to it, so it is dropped rather than carried as dead weight.
package regime

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	TrendUp      = "uptrend"
	TrendDown    = "downtrend"
	TrendRanging = "ranging"

	VolHigh   = "high"
	VolNormal = "normal"
	VolLow    = "low"
)

// Config tunes the classifier's lookback and bucket thresholds.
type Config struct {
	Window           int     // number of returns retained for classification, default 20
	TrendThreshold   float64 // normalized trend magnitude needed to call up/down, default 0.3
	HighVolThreshold float64 // annualized vol above which the bucket is "high", default 0.6
	LowVolThreshold  float64 // annualized vol below which the bucket is "low", default 0.15
}

func DefaultConfig() Config {
	return Config{
		Window:           20,
		TrendThreshold:   0.3,
		HighVolThreshold: 0.6,
		LowVolThreshold:  0.15,
	}
}

// Classifier maintains a rolling return series and classifies it on demand.
type Classifier struct {
	logger *zap.Logger
	config Config

	mu        sync.Mutex
	lastPrice decimal.Decimal
	hasLast   bool
	returns   []float64
}

func New(logger *zap.Logger, config Config) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Window <= 0 {
		config.Window = 20
	}
	if config.TrendThreshold <= 0 {
		config.TrendThreshold = 0.3
	}
	if config.HighVolThreshold <= 0 {
		config.HighVolThreshold = 0.6
	}
	if config.LowVolThreshold <= 0 {
		config.LowVolThreshold = 0.15
	}
	return &Classifier{logger: logger.Named("regime"), config: config}
}

// Observe folds a new close price into the return series.
func (c *Classifier) Observe(price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasLast && c.lastPrice.IsPositive() {
		ret, _ := price.Sub(c.lastPrice).Div(c.lastPrice).Float64()
		c.returns = append(c.returns, ret)
		if len(c.returns) > c.config.Window*2 {
			c.returns = c.returns[len(c.returns)-c.config.Window:]
		}
	}
	c.lastPrice = price
	c.hasLast = true
}

// Result is the current classification plus a position-size multiplier a
// sizer can apply for the detected regime.
type Result struct {
	Trend          string
	Volatility     string
	Confidence     float64
	SizeMultiplier float64
}

// Classify returns the trend/volatility labels for the observed window.
// With fewer than two returns it reports a neutral, low-confidence regime.
func (c *Classifier) Classify() Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.returns) < 2 {
		return Result{Trend: TrendRanging, Volatility: VolNormal, SizeMultiplier: 1.0}
	}

	window := c.returns
	if len(window) > c.config.Window {
		window = window[len(window)-c.config.Window:]
	}

	trend := normalizedTrend(window)
	vol := annualizedVolatility(window)

	trendLabel := TrendRanging
	switch {
	case trend > c.config.TrendThreshold:
		trendLabel = TrendUp
	case trend < -c.config.TrendThreshold:
		trendLabel = TrendDown
	}

	volLabel := VolNormal
	sizeMultiplier := 1.0
	switch {
	case vol > c.config.HighVolThreshold:
		volLabel = VolHigh
		sizeMultiplier = 0.5
	case vol < c.config.LowVolThreshold:
		volLabel = VolLow
		sizeMultiplier = 1.3
	}

	return Result{
		Trend:          trendLabel,
		Volatility:     volLabel,
		Confidence:     math.Min(1.0, math.Abs(trend)),
		SizeMultiplier: sizeMultiplier,
	}
}

// normalizedTrend is the sum of returns normalized by their own volatility,
// clamped to [-1, 1].
func normalizedTrend(returns []float64) float64 {
	sum := 0.0
	for _, r := range returns {
		sum += r
	}
	vol := stddev(returns)
	if vol == 0 {
		return 0
	}
	trend := sum / (vol * math.Sqrt(float64(len(returns))))
	if trend > 1 {
		return 1
	}
	if trend < -1 {
		return -1
	}
	return trend
}

// annualizedVolatility scales the sample stdev of bar returns to an annual
// figure assuming ~252 bars per year (daily-bar convention).
func annualizedVolatility(returns []float64) float64 {
	return stddev(returns) * math.Sqrt(252)
}

func stddev(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}
