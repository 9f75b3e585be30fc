// Package provider implements the uniform AI provider capability: a single
// Analyze method over heterogeneous upstream LLM providers, each embedding a
// rate limiter, response cache, retry/backoff and cost accounting.
package provider

import (
	"context"
	"time"
)

// AnalysisKind tags the shape of prompt a caller is requesting.
type AnalysisKind string

const (
	AnalysisSentiment     AnalysisKind = "sentiment"
	AnalysisTradingSignal AnalysisKind = "trading_signal"
	AnalysisRiskAssessment AnalysisKind = "risk_assessment"
)

// Options carries extra, provider-agnostic parameters for a single Analyze
// call. It is included in the cache fingerprint, so callers must keep it
// deterministic (no timestamps, no pointers).
type Options struct {
	RequestJSON bool           `json:"requestJson"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// AIResponse is the normalized result of a single provider call.
type AIResponse struct {
	Provider       string     `json:"provider"`
	Content        string     `json:"content"`
	Confidence     float64    `json:"confidence"`
	Signal         string     `json:"signal,omitempty"` // BUY, SELL, HOLD
	SentimentScore *float64   `json:"sentimentScore,omitempty"`
	RiskLevel      string     `json:"riskLevel,omitempty"`
	TokensUsed     int        `json:"tokensUsed"`
	Cost           float64    `json:"cost"`
	LatencyMs      int64      `json:"latencyMs"`
	CacheHit       bool       `json:"cacheHit"`
	Error          string     `json:"error,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Success reports whether the response represents a usable vote.
func (r *AIResponse) Success() bool {
	return r != nil && r.Error == "" && r.Content != "" && r.Confidence > 0
}

// Stats are the aggregate counters a provider accumulates across calls.
type Stats struct {
	Requests   int64   `json:"requests"`
	Errors     int64   `json:"errors"`
	CacheHits  int64   `json:"cacheHits"`
	TotalCost  float64 `json:"totalCost"`
	TotalLatencyMs int64 `json:"totalLatencyMs"`
}

// Config is the long-lived, per-provider configuration (spec §3 "Provider
// config" entity).
type Config struct {
	Name           string
	APIKey         string
	Model          string
	CacheTTL       time.Duration
	RateLimitRPM   int
	AccuracyWeight float64
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	Enabled        bool

	InputCostPer1K  float64
	OutputCostPer1K float64
}

// Valid reports whether the provider is usable: flagged on and carrying a key.
func (c Config) Valid() bool {
	return c.Enabled && c.APIKey != ""
}

// Provider is the single polymorphic capability every upstream AI backend
// implements. Implementations differ only in how Analyze talks upstream.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, promptText string, kind AnalysisKind, opts Options) *AIResponse
	GetStats() Stats
	ResetStats()
}
