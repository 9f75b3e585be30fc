package ensemble

import (
	"fmt"
	"sort"

	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// buildTradingSignalPrompt renders a deterministic, human-readable prompt
// from market data and indicators. Key order is sorted so the rendered text
// (and therefore the provider cache fingerprint) is stable across calls with
// identical inputs.
func buildTradingSignalPrompt(symbol string, marketData, indicators map[string]any, timeframe types.Timeframe) string {
	prompt := fmt.Sprintf("Analyze %s on the %s timeframe and respond with JSON {signal, confidence, risk_level}.\n", symbol, timeframe)
	prompt += "Market data:\n" + renderSorted(marketData)
	prompt += "Technical indicators:\n" + renderSorted(indicators)
	return prompt
}

func buildRiskAssessmentPrompt(symbol string, position, marketConditions map[string]any) string {
	prompt := fmt.Sprintf("Assess the risk of the current %s position and respond with JSON {risk_level, confidence}.\n", symbol)
	prompt += "Position:\n" + renderSorted(position)
	prompt += "Market conditions:\n" + renderSorted(marketConditions)
	return prompt
}

func renderSorted(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("  %s: %v\n", k, m[k])
	}
	return out
}
