package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// chatCompletionsProvider implements upstreamFunc against any OpenAI-shaped
// chat-completions endpoint (OpenAI, Grok, Mistral all expose this shape).
// Concrete constructors below only vary the endpoint, model and header.
type chatCompletionsProvider struct {
	endpoint   string
	authHeader string
	authValue  string
	model      string
	httpClient *http.Client
}

func (c *chatCompletionsProvider) call(ctx context.Context, promptText string, kind AnalysisKind, opts Options) (*upstreamResult, error) {
	system := systemPromptFor(kind)
	if opts.RequestJSON {
		system += " Respond with a single JSON object only."
	}

	reqBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": promptText},
		},
		"temperature": 0.2,
		"max_tokens":  500,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set(c.authHeader, c.authValue)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, RetriableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, RetriableError(fmt.Errorf("upstream status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	return &upstreamResult{
		Content:   result.Choices[0].Message.Content,
		TokensIn:  result.Usage.PromptTokens,
		TokensOut: result.Usage.CompletionTokens,
	}, nil
}

func systemPromptFor(kind AnalysisKind) string {
	switch kind {
	case AnalysisSentiment:
		return "You are a market sentiment analyst. Assess sentiment for the given text."
	case AnalysisTradingSignal:
		return "You are a professional trading analyst. Provide a concise signal (BUY, SELL or HOLD) with a confidence and risk level."
	case AnalysisRiskAssessment:
		return "You are a risk management analyst. Assess the risk of the given position."
	default:
		return "You are a market analyst."
	}
}

// NewOpenAIProvider builds a Provider backed by OpenAI's chat-completions API.
func NewOpenAIProvider(cfg Config, logger *zap.Logger) Provider {
	c := &chatCompletionsProvider{
		endpoint:   "https://api.openai.com/v1/chat/completions",
		authHeader: "Authorization",
		authValue:  "Bearer " + cfg.APIKey,
		model:      orDefault(cfg.Model, "gpt-4o-mini"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	return newBaseProvider("openai", cfg, logger, c.call)
}

// NewGrokProvider builds a Provider backed by xAI's Grok chat-completions API.
func NewGrokProvider(cfg Config, logger *zap.Logger) Provider {
	c := &chatCompletionsProvider{
		endpoint:   "https://api.x.ai/v1/chat/completions",
		authHeader: "Authorization",
		authValue:  "Bearer " + cfg.APIKey,
		model:      orDefault(cfg.Model, "grok-2-latest"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	return newBaseProvider("grok", cfg, logger, c.call)
}

// NewMistralProvider builds a Provider backed by Mistral's chat-completions API.
func NewMistralProvider(cfg Config, logger *zap.Logger) Provider {
	c := &chatCompletionsProvider{
		endpoint:   "https://api.mistral.ai/v1/chat/completions",
		authHeader: "Authorization",
		authValue:  "Bearer " + cfg.APIKey,
		model:      orDefault(cfg.Model, "mistral-large-latest"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	return newBaseProvider("mistral", cfg, logger, c.call)
}

// NewPerplexityProvider builds a Provider backed by Perplexity's online
// chat-completions API. Grounded on internal/signals/aggregator.go's
// PerplexitySignalSource.callPerplexity.
func NewPerplexityProvider(cfg Config, logger *zap.Logger) Provider {
	c := &chatCompletionsProvider{
		endpoint:   "https://api.perplexity.ai/chat/completions",
		authHeader: "Authorization",
		authValue:  "Bearer " + cfg.APIKey,
		model:      orDefault(cfg.Model, "llama-3.1-sonar-large-128k-online"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	return newBaseProvider("perplexity", cfg, logger, c.call)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
