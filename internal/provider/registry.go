package provider

import (
	"fmt"

	"go.uber.org/zap"
)

// Factory builds a Provider from its config. Registered per provider name so
// the ensemble orchestrator's wiring stays data-driven (config-keyed)
// instead of a hardcoded switch at each call site.
type Factory func(cfg Config, logger *zap.Logger) Provider

var factories = map[string]Factory{
	"openai":     NewOpenAIProvider,
	"gemini":     NewGeminiProvider,
	"grok":       NewGrokProvider,
	"mistral":    NewMistralProvider,
	"perplexity": NewPerplexityProvider,
}

// Build constructs the named provider, or an error if the name is unknown.
func Build(name string, cfg Config, logger *zap.Logger) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return factory(cfg, logger), nil
}

// BuildAll constructs every valid (enabled, keyed) provider from a config
// map keyed by provider name.
func BuildAll(configs map[string]Config, logger *zap.Logger) (map[string]Provider, error) {
	providers := make(map[string]Provider, len(configs))
	for name, cfg := range configs {
		if !cfg.Valid() {
			continue
		}
		cfg.Name = name
		p, err := Build(name, cfg, logger)
		if err != nil {
			return nil, err
		}
		providers[name] = p
	}
	return providers, nil
}
