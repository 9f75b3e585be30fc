// Package ensemble fans a single analysis request out across all enabled AI
// providers and reduces their votes into one EnsembleResult via weighted
// voting with a quorum floor. Grounded on
// original_source/ai_models/ensemble_orchestrator.py and the weighted-mass
// voting loop in internal/signals/aggregator.go.
package ensemble

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/v0-strategy-engine/signal-engine/internal/provider"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
	"go.uber.org/zap"
)

// Result is the normalized outcome of one ensemble call (spec §3 "Ensemble
// result").
type Result struct {
	ConsensusSignal   types.VoteSignal
	Confidence        float64
	Responses         map[string]*provider.AIResponse
	VotingDetails     map[types.VoteSignal]float64
	SentimentScore    *float64
	RiskLevel         types.RiskLevel
	HasRiskLevel      bool
	ExecutionTimeMs   int64
	InsufficientQuorum bool
}

// Mode selects fan-out strategy. Parallel is the default; sequential exists
// for debugging and is otherwise algorithmically identical (spec §4.2).
type Mode int

const (
	Parallel Mode = iota
	Sequential
)

// Config configures orchestrator-wide policy.
type Config struct {
	MinProviders    int
	ProviderWeights map[string]float64
	Mode            Mode
}

func DefaultConfig() Config {
	return Config{MinProviders: 2, Mode: Parallel}
}

// Orchestrator owns the set of configured providers and fans requests out to
// them. It never calls back into anything that owns it (spec §9 "Cyclic
// references" design note).
type Orchestrator struct {
	logger    *zap.Logger
	config    Config
	providers map[string]provider.Provider
	mu        sync.RWMutex
}

func New(logger *zap.Logger, config Config, providers map[string]provider.Provider) *Orchestrator {
	return &Orchestrator{
		logger:    logger.Named("ensemble"),
		config:    config,
		providers: providers,
	}
}

// AnalyzeSentiment fans a sentiment-analysis prompt out to every provider.
func (o *Orchestrator) AnalyzeSentiment(ctx context.Context, text string, context_ map[string]any) (*Result, error) {
	return o.run(ctx, text, provider.AnalysisSentiment, provider.Options{RequestJSON: true, Extra: context_})
}

// GenerateTradingSignal fans a trading-signal prompt out to every provider.
func (o *Orchestrator) GenerateTradingSignal(ctx context.Context, symbol string, marketData, indicators map[string]any, timeframe types.Timeframe) (*Result, error) {
	extra := map[string]any{"symbol": symbol, "timeframe": string(timeframe)}
	for k, v := range marketData {
		extra["market_"+k] = v
	}
	for k, v := range indicators {
		extra["indicator_"+k] = v
	}
	prompt := buildTradingSignalPrompt(symbol, marketData, indicators, timeframe)
	return o.run(ctx, prompt, provider.AnalysisTradingSignal, provider.Options{RequestJSON: true, Extra: extra})
}

// AssessRisk fans a risk-assessment prompt out to every provider.
func (o *Orchestrator) AssessRisk(ctx context.Context, symbol string, position, marketConditions map[string]any) (*Result, error) {
	extra := map[string]any{"symbol": symbol}
	for k, v := range position {
		extra["position_"+k] = v
	}
	prompt := buildRiskAssessmentPrompt(symbol, position, marketConditions)
	return o.run(ctx, prompt, provider.AnalysisRiskAssessment, provider.Options{RequestJSON: true, Extra: extra})
}

func (o *Orchestrator) run(ctx context.Context, prompt string, kind provider.AnalysisKind, opts provider.Options) (*Result, error) {
	start := time.Now()

	responses := o.collect(ctx, prompt, kind, opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(responses) < o.minProviders() {
		return &Result{
			ConsensusSignal:    types.VoteHold,
			Confidence:         0,
			Responses:          responses,
			InsufficientQuorum: true,
			ExecutionTimeMs:    time.Since(start).Milliseconds(),
		}, nil
	}

	result := o.weightedVote(responses)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, ctx.Err()
}

func (o *Orchestrator) collect(ctx context.Context, prompt string, kind provider.AnalysisKind, opts provider.Options) map[string]*provider.AIResponse {
	o.mu.RLock()
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	o.mu.RUnlock()
	sort.Strings(names) // registration-order stand-in: deterministic iteration for sequential mode

	responses := make(map[string]*provider.AIResponse)

	if o.config.Mode == Sequential {
		for _, name := range names {
			if ctx.Err() != nil {
				break
			}
			resp := o.providers[name].Analyze(ctx, prompt, kind, opts)
			if resp.Success() {
				responses[name] = resp
			}
		}
		return responses
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := o.providers[name].Analyze(ctx, prompt, kind, opts)
			if resp.Success() {
				mu.Lock()
				responses[name] = resp
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return responses
}

func (o *Orchestrator) minProviders() int {
	if o.config.MinProviders <= 0 {
		return 2
	}
	return o.config.MinProviders
}

func (o *Orchestrator) weightFor(name string) float64 {
	if w, ok := o.config.ProviderWeights[name]; ok {
		return w
	}
	return 1.0
}

// weightedVote implements spec §4.2 steps 3-5: weighted mass per signal
// label, argmax with lexicographic tie-break, consensus confidence as
// winner_mass/total_mass, mean sentiment, severity-ordered risk plurality.
func (o *Orchestrator) weightedVote(responses map[string]*provider.AIResponse) *Result {
	mass := map[types.VoteSignal]float64{}
	var total float64

	sentimentSum := 0.0
	sentimentCount := 0
	riskVotes := map[types.RiskLevel]int{}

	for name, resp := range responses {
		signal := types.VoteSignal(resp.Signal)
		if v, ok := resp.Metadata["signal"].(string); ok && signal == "" {
			signal = types.VoteSignal(v)
		}
		if signal == "" {
			signal = types.VoteHold
		}
		w := resp.Confidence * o.weightFor(name)
		mass[signal] += w
		total += w

		if resp.SentimentScore != nil {
			sentimentSum += *resp.SentimentScore
			sentimentCount++
		}
		if resp.RiskLevel != "" {
			riskVotes[types.RiskLevel(resp.RiskLevel)]++
		}
	}

	consensus, winnerMass := argmaxSignal(mass)

	confidence := 0.0
	if total > 0 {
		confidence = winnerMass / total
	}

	result := &Result{
		ConsensusSignal: consensus,
		Confidence:      confidence,
		Responses:       responses,
		VotingDetails:   mass,
	}

	if sentimentCount > 0 {
		avg := sentimentSum / float64(sentimentCount)
		result.SentimentScore = &avg
	}
	if len(riskVotes) > 0 {
		result.RiskLevel = pluralityRisk(riskVotes)
		result.HasRiskLevel = true
	}
	return result
}

// argmaxSignal picks the signal with the highest mass, breaking ties by
// lexicographic order of the signal string for run-to-run stability.
func argmaxSignal(mass map[types.VoteSignal]float64) (types.VoteSignal, float64) {
	if len(mass) == 0 {
		return types.VoteHold, 0
	}
	signals := make([]string, 0, len(mass))
	for s := range mass {
		signals = append(signals, string(s))
	}
	sort.Strings(signals)

	best := types.VoteSignal(signals[0])
	bestMass := mass[best]
	for _, s := range signals[1:] {
		sig := types.VoteSignal(s)
		if mass[sig] > bestMass {
			best = sig
			bestMass = mass[sig]
		}
	}
	return best, bestMass
}

// pluralityRisk picks the risk level with the most votes; ties broken by
// severity order, choosing the higher severity (conservative bias).
func pluralityRisk(votes map[types.RiskLevel]int) types.RiskLevel {
	best := types.RiskLevelLow
	bestCount := -1
	first := true
	for level, count := range votes {
		if first {
			best, bestCount, first = level, count, false
			continue
		}
		if count > bestCount || (count == bestCount && level.MoreSevere(best)) {
			best, bestCount = level, count
		}
	}
	return best
}
