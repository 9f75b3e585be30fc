// Package scorer computes a weighted 0-100 score for a candidate signal and
// maps it to an execution tier. Grounded on
// original_source/signal_generation/signal_scorer.py.
package scorer

import (
	"fmt"
	"math"

	"github.com/v0-strategy-engine/signal-engine/pkg/types"
	"go.uber.org/zap"
)

// ExecutionTier buckets a total score into a position-size multiplier.
type ExecutionTier string

const (
	TierFull    ExecutionTier = "full"
	TierReduced ExecutionTier = "reduced"
	TierSkip    ExecutionTier = "skip"
)

func tierFor(score float64) (ExecutionTier, float64) {
	switch {
	case score >= 75:
		return TierFull, 1.0
	case score >= 60:
		return TierReduced, 0.65
	default:
		return TierSkip, 0.0
	}
}

// ConfidenceLevel labels a score band for display purposes.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// componentWeights sum to 1.0 (spec §4.6).
const (
	weightTechnicalAlignment = 0.30
	weightVolumeConfirmation = 0.20
	weightVolatilityContext  = 0.20
	weightHistoricalWinRate  = 0.15
	weightMarketCondition    = 0.15
)

// Component is one weighted contribution to the total score.
type Component struct {
	Name   string
	Points float64 // 0-100 raw
	Weight float64
	Reason string
}

func (c Component) weighted() float64 { return c.Points * c.Weight }

// Score is the complete scoring result (spec §3 "Signal score").
type Score struct {
	TotalScore      float64
	ExecutionTier   ExecutionTier
	SizeMultiplier  float64
	Components      []Component
	Breakdown       map[string]float64
	ConfidenceLevel ConfidenceLevel
	Recommendation  string
}

// Input carries everything the scorer needs for one candidate (spec §4.6).
type Input struct {
	Symbol             string
	Direction          types.Direction
	EntryPrice         float64
	FibLevel           float64 // retracement fraction touched, e.g. 0.618
	RSI                float64
	EMA20, EMA50, EMA200 float64
	VolumeRatio        float64 // current / average
	ATR                float64
	HistoricalWinRate  float64 // 0-1, default 0.60 if unknown
	MarketTrend        string  // "uptrend", "downtrend", "ranging"
	MarketVolatility   string  // "low", "normal", "high"
}

// Scorer computes scores using fixed component weights and thresholds.
type Scorer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{logger: logger.Named("scorer")}
}

// Score evaluates an input and returns the full breakdown (spec §4.6).
func (s *Scorer) Score(in Input) *Score {
	components := []Component{
		{
			Name:   "Technical Alignment",
			Points: s.scoreTechnicalAlignment(in),
			Weight: weightTechnicalAlignment,
			Reason: fmt.Sprintf("fib level %.3f, RSI %.1f", in.FibLevel, in.RSI),
		},
		{
			Name:   "Volume Confirmation",
			Points: scoreVolumeConfirmation(in.VolumeRatio),
			Weight: weightVolumeConfirmation,
			Reason: fmt.Sprintf("volume ratio %.2fx avg", in.VolumeRatio),
		},
		{
			Name:   "Volatility Context",
			Points: scoreVolatilityContext(in.ATR, in.MarketVolatility),
			Weight: weightVolatilityContext,
			Reason: fmt.Sprintf("ATR %.4f, market %s", in.ATR, in.MarketVolatility),
		},
		{
			Name:   "Historical Win Rate",
			Points: scoreHistoricalWinRate(in.HistoricalWinRate),
			Weight: weightHistoricalWinRate,
			Reason: fmt.Sprintf("win rate %.1f%%", in.HistoricalWinRate*100),
		},
		{
			Name:   "Market Condition",
			Points: scoreMarketCondition(in.MarketTrend, in.Direction, in.RSI),
			Weight: weightMarketCondition,
			Reason: fmt.Sprintf("trend %s, direction %s", in.MarketTrend, in.Direction),
		},
	}

	total := 0.0
	breakdown := make(map[string]float64, len(components))
	for _, c := range components {
		w := c.weighted()
		total += w
		breakdown[c.Name] = w
	}
	total = clamp(total, 0, 100)

	tier, mult := tierFor(total)
	score := &Score{
		TotalScore:     total,
		ExecutionTier:  tier,
		SizeMultiplier: mult,
		Components:     components,
		Breakdown:      breakdown,
	}
	applyConfidenceAndRecommendation(score)

	s.logger.Debug("scored signal",
		zap.String("symbol", in.Symbol),
		zap.Float64("total_score", total),
		zap.String("tier", string(tier)),
	)
	return score
}

func applyConfidenceAndRecommendation(s *Score) {
	switch {
	case s.TotalScore >= 75:
		s.ConfidenceLevel = ConfidenceHigh
		s.Recommendation = "execute immediately at full size"
	case s.TotalScore >= 60:
		s.ConfidenceLevel = ConfidenceMedium
		s.Recommendation = fmt.Sprintf("execute with reduced size (%.0f%%)", s.SizeMultiplier*100)
	default:
		s.ConfidenceLevel = ConfidenceLow
		s.Recommendation = "skip this signal"
	}
}

func (s *Scorer) scoreTechnicalAlignment(in Input) float64 {
	score := 0.0

	if in.FibLevel >= 0.236 && in.FibLevel <= 0.786 {
		fibQuality := 30.0
		if in.FibLevel == 0.618 || in.FibLevel == 0.382 {
			fibQuality = 35.0
		}
		score += fibQuality
	}

	switch in.Direction {
	case types.DirectionLong:
		switch {
		case in.RSI >= 20 && in.RSI < 30:
			score += 40.0
		case in.RSI >= 30 && in.RSI < 40:
			score += 30.0
		case in.RSI >= 40 && in.RSI < 50:
			score += 15.0
		}
	case types.DirectionShort:
		switch {
		case in.RSI > 70 && in.RSI <= 80:
			score += 40.0
		case in.RSI > 60 && in.RSI <= 70:
			score += 30.0
		case in.RSI > 50 && in.RSI <= 60:
			score += 15.0
		}
	}

	switch in.Direction {
	case types.DirectionLong:
		switch {
		case in.EMA20 > in.EMA50 && in.EMA50 > in.EMA200:
			score += 30.0
		case in.EMA20 > in.EMA50:
			score += 15.0
		}
	case types.DirectionShort:
		switch {
		case in.EMA20 < in.EMA50 && in.EMA50 < in.EMA200:
			score += 30.0
		case in.EMA20 < in.EMA50:
			score += 15.0
		}
	}

	return math.Min(score, 100.0)
}

func scoreVolumeConfirmation(volumeRatio float64) float64 {
	switch {
	case volumeRatio >= 1.5:
		return 100.0
	case volumeRatio >= 1.2:
		return 80.0
	case volumeRatio >= 1.0:
		return 60.0
	default:
		return 30.0
	}
}

func scoreVolatilityContext(atr float64, marketVolatility string) float64 {
	score := 50.0
	switch marketVolatility {
	case "low":
		score += 15.0
	case "high":
		score += 20.0
	}
	if atr > 0.001 && atr < 10.0 {
		score += 15.0
	}
	return math.Min(score, 100.0)
}

func scoreHistoricalWinRate(winRate float64) float64 {
	switch {
	case winRate >= 0.70:
		return 100.0
	case winRate >= 0.65:
		return 85.0
	case winRate >= 0.60:
		return 70.0
	case winRate >= 0.55:
		return 50.0
	default:
		return 30.0
	}
}

func scoreMarketCondition(marketTrend string, direction types.Direction, rsi float64) float64 {
	score := 50.0

	switch {
	case marketTrend == "uptrend" && direction == types.DirectionLong:
		score += 25.0
	case marketTrend == "downtrend" && direction == types.DirectionShort:
		score += 25.0
	case marketTrend == "ranging":
		score += 15.0
	default:
		score -= 15.0
	}

	if rsi < 20 || rsi > 80 {
		score += 10.0
	}

	return clamp(score, 0, 100.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Distribution summarizes a batch of total scores, used by scheduled
// reporting jobs, not the per-signal tick path.
type Distribution struct {
	Mean, Median, StdDev, Min, Max, Q1, Q3 float64
}

// GetScoreDistribution computes summary statistics over a batch of scores.
func GetScoreDistribution(scores []float64) Distribution {
	if len(scores) == 0 {
		return Distribution{}
	}
	sorted := append([]float64(nil), scores...)
	sortFloats(sorted)

	n := len(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, v := range sorted {
		variance += (v - mean) * (v - mean)
	}
	stddev := math.Sqrt(variance / float64(n))

	return Distribution{
		Mean:   mean,
		Median: percentile(sorted, 50),
		StdDev: stddev,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Q1:     percentile(sorted, 25),
		Q3:     percentile(sorted, 75),
	}
}

func sortFloats(v []float64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j-1] > v[j]; j-- {
			v[j-1], v[j] = v[j], v[j-1]
		}
	}
}

// percentile uses linear interpolation between closest ranks, matching
// numpy's default percentile method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
