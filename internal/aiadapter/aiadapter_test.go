package aiadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0-strategy-engine/signal-engine/internal/ensemble"
	"github.com/v0-strategy-engine/signal-engine/internal/provider"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
	"go.uber.org/zap"
)

type fakeProvider struct {
	name string
	resp *provider.AIResponse
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Analyze(ctx context.Context, prompt string, kind provider.AnalysisKind, opts provider.Options) *provider.AIResponse {
	r := *f.resp
	r.Provider = f.name
	return &r
}
func (f *fakeProvider) GetStats() provider.Stats { return provider.Stats{} }
func (f *fakeProvider) ResetStats()               {}

func twoProviderOrchestrator(signal types.VoteSignal, confidence float64, risk types.RiskLevel) *ensemble.Orchestrator {
	providers := map[string]provider.Provider{
		"a": &fakeProvider{name: "a", resp: &provider.AIResponse{Content: "x", Signal: string(signal), Confidence: confidence, RiskLevel: string(risk)}},
		"b": &fakeProvider{name: "b", resp: &provider.AIResponse{Content: "x", Signal: string(signal), Confidence: confidence, RiskLevel: string(risk)}},
	}
	return ensemble.New(zap.NewNop(), ensemble.DefaultConfig(), providers)
}

func baseTC() TechnicalContext {
	return TechnicalContext{Symbol: "BTC/USDT", Direction: types.DirectionLong, Price: 42000, RSI: 28.5}
}

func TestEnhanceSignal_Boost(t *testing.T) {
	orch := twoProviderOrchestrator(types.VoteBuy, 0.85, types.RiskLevelLow)
	a := New(DefaultConfig(), orch, zap.NewNop())

	e := a.EnhanceSignal(context.Background(), baseTC(), types.Timeframe1h)
	require.NotNil(t, e)
	assert.Equal(t, VerdictBoost, e.Verdict)
	// Both providers vote BUY, so the ensemble confidence (winner mass over
	// total mass) is 1.0, not the per-provider 0.85.
	assert.InDelta(t, (1.0-0.6)*20, e.BoostAmount, 1e-9)
	assert.Equal(t, 1, int(a.GetStats().SignalsBoosted))
}

func TestEnhanceSignal_Block(t *testing.T) {
	orch := twoProviderOrchestrator(types.VoteHold, 0.9, types.RiskLevelHigh)
	a := New(DefaultConfig(), orch, zap.NewNop())

	e := a.EnhanceSignal(context.Background(), baseTC(), types.Timeframe1h)
	require.NotNil(t, e)
	assert.Equal(t, VerdictBlock, e.Verdict)
	assert.Equal(t, 1, int(a.GetStats().SignalsBlocked))
}

func TestEnhanceSignal_NeutralOnLowConfidence(t *testing.T) {
	// A split vote: BUY wins with mass 0.6 of 1.0, so the ensemble
	// confidence is 0.6, below the 0.7 boost gate.
	providers := map[string]provider.Provider{
		"a": &fakeProvider{name: "a", resp: &provider.AIResponse{Content: "x", Signal: string(types.VoteBuy), Confidence: 0.6, RiskLevel: string(types.RiskLevelLow)}},
		"b": &fakeProvider{name: "b", resp: &provider.AIResponse{Content: "x", Signal: string(types.VoteSell), Confidence: 0.4, RiskLevel: string(types.RiskLevelLow)}},
	}
	orch := ensemble.New(zap.NewNop(), ensemble.DefaultConfig(), providers)
	a := New(DefaultConfig(), orch, zap.NewNop())

	e := a.EnhanceSignal(context.Background(), baseTC(), types.Timeframe1h)
	require.NotNil(t, e)
	assert.Equal(t, VerdictNeutral, e.Verdict)
	assert.Equal(t, 0.0, e.BoostAmount)
}

func TestEnhanceSignal_DisabledReturnsNil(t *testing.T) {
	orch := twoProviderOrchestrator(types.VoteBuy, 0.9, types.RiskLevelLow)
	cfg := DefaultConfig()
	cfg.Enabled = false
	a := New(cfg, orch, zap.NewNop())

	assert.Nil(t, a.EnhanceSignal(context.Background(), baseTC(), types.Timeframe1h))
}

func TestBoostAmount_ClampsNegative(t *testing.T) {
	// ai_confidence satisfies the 0.7 boost gate but sits below a
	// min_confidence configured above it.
	assert.Equal(t, 0.0, boostAmount(0.72, 0.8, 20))
}

func TestBoostAmount_ClampsAbove100(t *testing.T) {
	assert.Equal(t, 100.0, boostAmount(1.0, -5.0, 20))
}
