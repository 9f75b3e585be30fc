package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger { return zap.NewNop() }

func newTestProvider(t *testing.T, call upstreamFunc) *baseProvider {
	t.Helper()
	cfg := Config{
		Name:         "test",
		APIKey:       "key",
		Model:        "m",
		CacheTTL:     time.Minute,
		RateLimitRPM: 6000,
		Timeout:      time.Second,
		MaxRetries:   2,
		Enabled:      true,
	}
	return newBaseProvider("test", cfg, testLogger(), call)
}

func TestAnalyze_CacheRoundTrip(t *testing.T) {
	calls := 0
	p := newTestProvider(t, func(ctx context.Context, prompt string, kind AnalysisKind, opts Options) (*upstreamResult, error) {
		calls++
		return &upstreamResult{Content: `{"signal":"BUY","confidence":0.9}`}, nil
	})

	resp1 := p.Analyze(context.Background(), "same prompt", AnalysisTradingSignal, Options{RequestJSON: true})
	require.False(t, resp1.CacheHit)
	assert.Equal(t, "BUY", resp1.Signal)

	resp2 := p.Analyze(context.Background(), "same prompt", AnalysisTradingSignal, Options{RequestJSON: true})
	assert.True(t, resp2.CacheHit)
	assert.Equal(t, 1, calls, "second call must be served from cache, not hit upstream")
}

func TestAnalyze_RetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	p := newTestProvider(t, func(ctx context.Context, prompt string, kind AnalysisKind, opts Options) (*upstreamResult, error) {
		attempts++
		if attempts < 2 {
			return nil, RetriableError(assertErr("transient"))
		}
		return &upstreamResult{Content: "hello"}, nil
	})
	p.config.RetryBaseDelay = time.Millisecond

	resp := p.Analyze(context.Background(), "prompt", AnalysisSentiment, Options{})
	assert.Equal(t, "", resp.Error)
	assert.Equal(t, 2, attempts)
}

func TestAnalyze_NonRetriableFailsImmediately(t *testing.T) {
	attempts := 0
	p := newTestProvider(t, func(ctx context.Context, prompt string, kind AnalysisKind, opts Options) (*upstreamResult, error) {
		attempts++
		return nil, assertErr("auth failure")
	})

	resp := p.Analyze(context.Background(), "prompt", AnalysisSentiment, Options{})
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, 1, attempts)
	assert.False(t, resp.Success())
}

func TestExtractJSON_StripsMarkdownFence(t *testing.T) {
	text := "Sure, here you go:\n```json\n{\"signal\": \"SELL\", \"confidence\": 0.6}\n```\nThanks."
	parsed, ok := extractJSON(text)
	require.True(t, ok)
	assert.Equal(t, "SELL", parsed["signal"])
}

func TestFingerprint_CanonicalizesWhitespaceAndOptionOrder(t *testing.T) {
	a := fingerprint("m", AnalysisSentiment, "hello   world", Options{Extra: map[string]any{"b": 1, "a": 2}})
	b := fingerprint("m", AnalysisSentiment, "hello world", Options{Extra: map[string]any{"a": 2, "b": 1}})
	assert.Equal(t, a, b)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
