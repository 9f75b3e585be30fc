package ensemble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/v0-strategy-engine/signal-engine/internal/provider"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
	"go.uber.org/zap"
)

// fakeProvider returns a canned response regardless of prompt.
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

func sentiment(v float64) *float64 { return &v }

func TestWeightedVote_ConsensusAndConfidence(t *testing.T) {
	providers := map[string]provider.Provider{
		"a": &fakeProvider{name: "a", resp: &provider.AIResponse{Content: "x", Signal: "BUY", Confidence: 0.9, RiskLevel: "low"}},
		"b": &fakeProvider{name: "b", resp: &provider.AIResponse{Content: "x", Signal: "BUY", Confidence: 0.6, RiskLevel: "medium"}},
		"c": &fakeProvider{name: "c", resp: &provider.AIResponse{Content: "x", Signal: "SELL", Confidence: 0.8, RiskLevel: "high"}},
	}
	orch := New(zap.NewNop(), DefaultConfig(), providers)

	result, err := orch.GenerateTradingSignal(context.Background(), "BTC/USDT", nil, nil, types.Timeframe1h)
	require.NoError(t, err)

	assert.Equal(t, types.VoteBuy, result.ConsensusSignal)
	assert.InDelta(t, 1.5/2.3, result.Confidence, 1e-9)
	assert.True(t, result.Confidence >= 0 && result.Confidence <= 1)
	assert.Equal(t, types.RiskLevelHigh, result.RiskLevel) // highest count tie? BUY has 2 risk votes distinct; here counts: low=1, medium=1, high=1 -> tie broken by severity
}

func TestInsufficientQuorum(t *testing.T) {
	providers := map[string]provider.Provider{
		"a": &fakeProvider{name: "a", resp: &provider.AIResponse{Content: "x", Signal: "BUY", Confidence: 0.9}},
	}
	orch := New(zap.NewNop(), DefaultConfig(), providers)

	result, err := orch.GenerateTradingSignal(context.Background(), "BTC/USDT", nil, nil, types.Timeframe1h)
	require.NoError(t, err)

	assert.True(t, result.InsufficientQuorum)
	assert.Equal(t, types.VoteHold, result.ConsensusSignal)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestTieBreak_Lexicographic(t *testing.T) {
	providers := map[string]provider.Provider{
		"a": &fakeProvider{name: "a", resp: &provider.AIResponse{Content: "x", Signal: "SELL", Confidence: 0.5}},
		"b": &fakeProvider{name: "b", resp: &provider.AIResponse{Content: "x", Signal: "BUY", Confidence: 0.5}},
	}
	orch := New(zap.NewNop(), DefaultConfig(), providers)

	result, err := orch.GenerateTradingSignal(context.Background(), "BTC/USDT", nil, nil, types.Timeframe1h)
	require.NoError(t, err)

	assert.Equal(t, types.VoteBuy, result.ConsensusSignal, "BUY sorts before SELL lexicographically")
}
