// Package aiadapter bridges the ensemble orchestrator with the execution
// engine: it builds ensemble requests from a technical signal and market
// context and interprets the consensus as a boost, a block, or neutral.
// Grounded on original_source/ai_models/ai_integration_adapter.py.
package aiadapter

import (
	"context"
	"sync"

	"github.com/v0-strategy-engine/signal-engine/internal/ensemble"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
	"go.uber.org/zap"
)

// Verdict is the adapter's interpretation of an ensemble result.
type Verdict string

const (
	VerdictBoost   Verdict = "boost"
	VerdictBlock   Verdict = "block"
	VerdictNeutral Verdict = "neutral"
)

// Enhancement is the AI-derived data attached to a technical signal (spec §3
// "AI signal enhancement").
type Enhancement struct {
	Verdict          Verdict
	BoostAmount      float64 // points added to technical confidence, already clamped >= 0
	AISignal         types.VoteSignal
	AIConfidence     float64
	AISentimentScore *float64
	AIRiskLevel      types.RiskLevel
	HasRiskLevel     bool
	EnsembleConsensus bool
	ProviderCount    int
	ExecutionTimeMs  int64
}

// TechnicalContext is everything the adapter needs to build an ensemble
// request for a candidate signal (spec §4.7).
type TechnicalContext struct {
	Symbol      string
	Direction   types.Direction
	Price       float64
	VolumeRatio float64
	Volatility  float64
	Trend       string

	RSI             float64
	EMA20, EMA50, EMA200 float64
	FibLevel        float64
}

// Config tunes boost/block thresholds (spec §6 config table).
type Config struct {
	Enabled               bool
	MinProviders          int
	MinConfidence         float64 // default 0.6, also the boost-gate floor input
	SignalBoostThreshold  float64 // default 0.7
	SignalBlockThreshold  float64 // default 0.8
	ConfidenceBoostMultiplier float64 // default 20
	HighRiskBlock         bool
}

func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		MinProviders:              2,
		MinConfidence:             0.6,
		SignalBoostThreshold:      0.7,
		SignalBlockThreshold:      0.8,
		ConfidenceBoostMultiplier: 20,
		HighRiskBlock:             true,
	}
}

// Stats mirrors the Python adapter's instrumentation counters.
type Stats struct {
	SignalsEnhanced   int64
	SignalsBoosted    int64
	SignalsBlocked    int64
	RiskAssessments   int64
	SentimentAnalyses int64
	Errors            int64
}

// Adapter wraps an ensemble.Orchestrator with trading-pipeline semantics.
type Adapter struct {
	config       Config
	orchestrator *ensemble.Orchestrator
	logger       *zap.Logger

	mu    sync.Mutex
	stats Stats
}

func New(config Config, orchestrator *ensemble.Orchestrator, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{config: config, orchestrator: orchestrator, logger: logger.Named("aiadapter")}
}

// EnhanceSignal requests an ensemble trading-signal consensus and interprets
// it against tc. Returns nil when AI is disabled or the orchestrator errors
// — the execution engine treats a nil enhancement as AI-NEUTRAL (spec §4.8
// step 8; spec §7 "insufficient quorum").
func (a *Adapter) EnhanceSignal(ctx context.Context, tc TechnicalContext, timeframe types.Timeframe) *Enhancement {
	if !a.config.Enabled || a.orchestrator == nil {
		return nil
	}

	marketData := map[string]any{
		"price":            tc.Price,
		"volume_ratio":     tc.VolumeRatio,
		"volatility":       tc.Volatility,
		"trend_direction":  tc.Trend,
	}
	indicators := map[string]any{
		"rsi":          tc.RSI,
		"ema_20":       tc.EMA20,
		"ema_50":       tc.EMA50,
		"ema_200":      tc.EMA200,
		"fib_level":    tc.FibLevel,
		"volume_ratio": tc.VolumeRatio,
	}

	result, err := a.orchestrator.GenerateTradingSignal(ctx, tc.Symbol, marketData, indicators, timeframe)
	if err != nil {
		a.recordError()
		a.logger.Error("ensemble call failed", zap.String("symbol", tc.Symbol), zap.Error(err))
		return nil
	}

	enhancement := a.interpret(result, tc.Direction)

	a.mu.Lock()
	a.stats.SignalsEnhanced++
	if enhancement.Verdict == VerdictBoost {
		a.stats.SignalsBoosted++
	}
	if enhancement.Verdict == VerdictBlock {
		a.stats.SignalsBlocked++
	}
	a.mu.Unlock()

	a.logger.Debug("ai signal enhancement",
		zap.String("symbol", tc.Symbol),
		zap.String("verdict", string(enhancement.Verdict)),
		zap.Float64("ai_confidence", enhancement.AIConfidence),
		zap.Int("provider_count", enhancement.ProviderCount),
	)
	return &enhancement
}

// interpret implements the boost/block/neutral decision (spec §4.7).
func (a *Adapter) interpret(result *ensemble.Result, direction types.Direction) Enhancement {
	providerCount := len(result.Responses)
	consensus := result.Confidence >= a.config.MinConfidence

	e := Enhancement{
		Verdict:           VerdictNeutral,
		AISignal:          result.ConsensusSignal,
		AIConfidence:      result.Confidence,
		AISentimentScore:  result.SentimentScore,
		AIRiskLevel:       result.RiskLevel,
		HasRiskLevel:      result.HasRiskLevel,
		EnsembleConsensus: consensus,
		ProviderCount:     providerCount,
		ExecutionTimeMs:   result.ExecutionTimeMs,
	}

	if matchesDirection(result.ConsensusSignal, direction) &&
		result.Confidence >= a.config.SignalBoostThreshold &&
		providerCount >= a.config.MinProviders {
		e.Verdict = VerdictBoost
		e.BoostAmount = boostAmount(result.Confidence, a.config.MinConfidence, a.config.ConfidenceBoostMultiplier)
		return e
	}

	if result.ConsensusSignal == types.VoteHold &&
		result.Confidence >= a.config.SignalBlockThreshold &&
		result.HasRiskLevel && result.RiskLevel == types.RiskLevelHigh {
		e.Verdict = VerdictBlock
		return e
	}

	return e
}

func matchesDirection(signal types.VoteSignal, direction types.Direction) bool {
	if direction == types.DirectionLong {
		return signal == types.VoteBuy
	}
	return signal == types.VoteSell
}

// boostAmount resolves the documented open question (SPEC_FULL.md §4.7):
// clamp to non-negative, since ai_confidence can satisfy the 0.7 boost gate
// while still sitting below a min_confidence configured above 0.7.
func boostAmount(aiConfidence, minConfidence, multiplier float64) float64 {
	amount := (aiConfidence - minConfidence) * multiplier
	if amount < 0 {
		return 0
	}
	if amount > 100 {
		return 100
	}
	return amount
}

// AnalyzeSentiment returns (score, risk_level), defaulting to neutral/MEDIUM
// when AI is disabled or the call errors.
func (a *Adapter) AnalyzeSentiment(ctx context.Context, text string, marketContext map[string]any) (float64, types.RiskLevel) {
	if !a.config.Enabled || a.orchestrator == nil {
		return 0.0, types.RiskLevelMedium
	}

	result, err := a.orchestrator.AnalyzeSentiment(ctx, text, marketContext)
	if err != nil {
		a.recordError()
		return 0.0, types.RiskLevelMedium
	}

	a.mu.Lock()
	a.stats.SentimentAnalyses++
	a.mu.Unlock()

	score := 0.0
	if result.SentimentScore != nil {
		score = *result.SentimentScore
	}
	risk := types.RiskLevelMedium
	if result.HasRiskLevel {
		risk = result.RiskLevel
	}
	return score, risk
}

// AssessRisk returns (risk_level, confidence), defaulting to MEDIUM/0.5 on
// disable or error.
func (a *Adapter) AssessRisk(ctx context.Context, symbol string, positionData, marketConditions map[string]any) (types.RiskLevel, float64) {
	if !a.config.Enabled || a.orchestrator == nil {
		return types.RiskLevelMedium, 0.5
	}

	result, err := a.orchestrator.AssessRisk(ctx, symbol, positionData, marketConditions)
	if err != nil {
		a.recordError()
		return types.RiskLevelMedium, 0.5
	}

	a.mu.Lock()
	a.stats.RiskAssessments++
	a.mu.Unlock()

	risk := types.RiskLevelMedium
	if result.HasRiskLevel {
		risk = result.RiskLevel
	}
	return risk, result.Confidence
}

func (a *Adapter) recordError() {
	a.mu.Lock()
	a.stats.Errors++
	a.mu.Unlock()
}

func (a *Adapter) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Adapter) ResetStats() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = Stats{}
}
