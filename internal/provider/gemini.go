package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// geminiProvider talks to Google's Gemini generateContent API, which has a
// differently-shaped request/response body from the chat-completions family.
type geminiProvider struct {
	model      string
	apiKey     string
	httpClient *http.Client
}

func (g *geminiProvider) call(ctx context.Context, promptText string, kind AnalysisKind, opts Options) (*upstreamResult, error) {
	prompt := systemPromptFor(kind) + "\n\n" + promptText
	if opts.RequestJSON {
		prompt += "\n\nRespond with a single JSON object only."
	}

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"temperature":     0.2,
			"maxOutputTokens": 500,
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
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
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response candidates")
	}

	return &upstreamResult{
		Content:   result.Candidates[0].Content.Parts[0].Text,
		TokensIn:  result.UsageMetadata.PromptTokenCount,
		TokensOut: result.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// NewGeminiProvider builds a Provider backed by Google's Gemini API.
func NewGeminiProvider(cfg Config, logger *zap.Logger) Provider {
	g := &geminiProvider{
		model:      orDefault(cfg.Model, "gemini-1.5-flash"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	return newBaseProvider("gemini", cfg, logger, g.call)
}
