package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// cacheEntry is a response cache entry (spec §3 "Response cache entry").
type cacheEntry struct {
	response  AIResponse
	insertAt  time.Time
	ttl       time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.insertAt) > e.ttl
}

// upstreamResult is what a concrete provider's call function hands back to
// baseProvider after talking to its upstream API.
type upstreamResult struct {
	Content   string
	TokensIn  int
	TokensOut int
}

// upstreamFunc performs the actual HTTP round-trip to a provider's API.
// Concrete providers supply this; baseProvider handles caching, rate
// limiting, the circuit breaker and retry/backoff around it.
type upstreamFunc func(ctx context.Context, promptText string, kind AnalysisKind, opts Options) (*upstreamResult, error)

// retriableError marks an error as eligible for exponential-backoff retry.
type retriableError struct{ err error }

func (r retriableError) Error() string { return r.err.Error() }
func (r retriableError) Unwrap() error { return r.err }

// RetriableError wraps err so the retry loop inside Analyze treats it as
// transient (timeout, 429, connection reset) rather than permanent.
func RetriableError(err error) error { return retriableError{err} }

func isRetriable(err error) bool {
	var re retriableError
	if errors.As(err, &re) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// baseProvider embeds the shared machinery every concrete provider uses:
// rate limiter, LRU response cache, circuit breaker, retry/backoff and cost
// accounting. Grounded on original_source/ai_models/ai_provider_base.py.
type baseProvider struct {
	name    string
	config  Config
	logger  *zap.Logger
	call    upstreamFunc
	httpClient *http.Client

	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cache   *lru.Cache[string, cacheEntry]

	mu    sync.Mutex
	stats Stats
}

func newBaseProvider(name string, cfg Config, logger *zap.Logger, call upstreamFunc) *baseProvider {
	rpm := cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = 60
	}
	limiter := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 10)

	cache, _ := lru.New[string, cacheEntry](1000)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &baseProvider{
		name:       name,
		config:     cfg,
		logger:     logger.Named("provider-" + name),
		call:       call,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		breaker:    breaker,
		cache:      cache,
	}
}

func (p *baseProvider) Name() string { return p.name }

// Analyze implements the canonical flow from spec §4.1: cache check -> rate
// limit acquire -> breaker/retry-wrapped upstream call -> parse -> cache
// store -> return. It never returns a non-nil error for upstream failures;
// those are folded into AIResponse.Error.
func (p *baseProvider) Analyze(ctx context.Context, promptText string, kind AnalysisKind, opts Options) *AIResponse {
	fp := fingerprint(p.config.Model, kind, promptText, opts)

	if entry, ok := p.cache.Get(fp); ok && !entry.expired(time.Now()) {
		resp := entry.response
		resp.CacheHit = true
		p.recordCacheHit()
		return &resp
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return p.errorResponse(err)
	}

	start := time.Now()
	result, err := p.callWithRetry(ctx, promptText, kind, opts)
	if err != nil {
		p.recordError()
		return p.errorResponse(err)
	}

	resp := p.buildResponse(result, kind, opts)
	resp.LatencyMs = time.Since(start).Milliseconds()
	resp.Provider = p.name

	p.cache.Add(fp, cacheEntry{response: *resp, insertAt: time.Now(), ttl: p.cacheTTL()})
	p.recordSuccess(resp)
	return resp
}

func (p *baseProvider) cacheTTL() time.Duration {
	if p.config.CacheTTL <= 0 {
		return 5 * time.Minute
	}
	return p.config.CacheTTL
}

func (p *baseProvider) callWithRetry(ctx context.Context, promptText string, kind AnalysisKind, opts Options) (*upstreamResult, error) {
	maxRetries := p.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := p.config.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout())
		raw, err := p.breaker.Execute(func() (interface{}, error) {
			return p.call(callCtx, promptText, kind, opts)
		})
		cancel()

		if err == nil {
			return raw.(*upstreamResult), nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetriable(err) {
			return nil, err
		}
		if attempt == maxRetries {
			break
		}
		delay := time.Duration(float64(baseDelay) * pow2(attempt))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("provider %s: retries exhausted: %w", p.name, lastErr)
}

func pow2(attempt int) float64 {
	v := 1.0
	for i := 0; i < attempt; i++ {
		v *= 2
	}
	return v
}

func (p *baseProvider) timeout() time.Duration {
	if p.config.Timeout <= 0 {
		return 30 * time.Second
	}
	return p.config.Timeout
}

func (p *baseProvider) buildResponse(result *upstreamResult, kind AnalysisKind, opts Options) *AIResponse {
	resp := &AIResponse{
		Content:    result.Content,
		Confidence: 0.5,
		Metadata:   map[string]any{},
	}

	if opts.RequestJSON {
		if parsed, ok := extractJSON(result.Content); ok {
			applyParsedFields(resp, parsed)
		} else {
			resp.Confidence = 0.3
		}
	}

	resp.TokensUsed = result.TokensIn + result.TokensOut
	resp.Cost = (float64(result.TokensIn)/1000.0)*p.config.InputCostPer1K +
		(float64(result.TokensOut)/1000.0)*p.config.OutputCostPer1K
	return resp
}

func (p *baseProvider) errorResponse(err error) *AIResponse {
	p.logger.Warn("provider call failed", zap.Error(err))
	return &AIResponse{
		Provider: p.name,
		Error:    err.Error(),
	}
}

func (p *baseProvider) recordSuccess(resp *AIResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Requests++
	p.stats.TotalCost += resp.Cost
	p.stats.TotalLatencyMs += resp.LatencyMs
}

func (p *baseProvider) recordError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Requests++
	p.stats.Errors++
}

func (p *baseProvider) recordCacheHit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.CacheHits++
}

func (p *baseProvider) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *baseProvider) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Stats{}
}

// fingerprint canonicalizes (whitespace-normalized prompt, sorted option
// keys) before hashing, per §9's caching key canonicalization note -
// otherwise cache hit rates are near zero.
func fingerprint(model string, kind AnalysisKind, promptText string, opts Options) string {
	canonical := strings.Join(strings.Fields(promptText), " ")

	keys := make([]string, 0, len(opts.Extra))
	for k := range opts.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%v|", model, kind, canonical, opts.RequestJSON)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, opts.Extra[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

var jsonFenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// extractJSON strips Markdown fences and extracts the first balanced JSON
// object from text, per spec §4.1 step 5.
func extractJSON(text string) (map[string]any, bool) {
	candidate := text
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	}

	start := strings.Index(candidate, "{")
	if start < 0 {
		return nil, false
	}
	depth := 0
	end := -1
	for i := start; i < len(candidate); i++ {
		switch candidate[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end != -1 {
			break
		}
	}
	if end == -1 {
		return nil, false
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(candidate[start:end+1]), &parsed); err != nil {
		return nil, false
	}
	return parsed, true
}

func applyParsedFields(resp *AIResponse, parsed map[string]any) {
	if v, ok := parsed["signal"].(string); ok {
		resp.Signal = strings.ToUpper(v)
	}
	if v, ok := parsed["confidence"].(float64); ok {
		resp.Confidence = v
	} else {
		resp.Confidence = 0.5
	}
	if v, ok := parsed["sentiment_score"].(float64); ok {
		resp.SentimentScore = &v
	}
	if v, ok := parsed["risk_level"].(string); ok {
		resp.RiskLevel = strings.ToLower(v)
	}
	for k, v := range parsed {
		resp.Metadata[k] = v
	}
}
