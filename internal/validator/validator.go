// Package validator evaluates a candidate signal against seven independent
// conditions and produces a confidence score. Grounded on
// original_source/signal_generation/signal_validator.py.
package validator

import (
	"strings"

	"github.com/v0-strategy-engine/signal-engine/internal/fibonacci"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

// Condition names the seven independent checks (spec §3 "Validation result").
type Condition string

const (
	ConditionPriceLevel          Condition = "price_level"
	ConditionRSI                 Condition = "rsi_confirmation"
	ConditionEMAAlignment        Condition = "ema_alignment"
	ConditionVolume              Condition = "volume_confirmation"
	ConditionMarketStructure     Condition = "market_structure"
	ConditionPositionSizing      Condition = "position_sizing"
	ConditionPortfolioCorrelation Condition = "portfolio_correlation"
)

var allConditions = []Condition{
	ConditionPriceLevel,
	ConditionRSI,
	ConditionEMAAlignment,
	ConditionVolume,
	ConditionMarketStructure,
	ConditionPositionSizing,
	ConditionPortfolioCorrelation,
}

// Thresholds are the configurable validator tolerances (spec §4.4 defaults).
type Thresholds struct {
	RSIOversold               float64 // default 40
	RSIOverbought             float64 // default 60
	VolumeConfirmationMultiplier float64 // default 1.5
	MaxPositionSizePct        float64 // default 5
	MaxPortfolioCorrelation   float64 // default 0.7
	PriceTolerancePct         float64 // default 1.0 (percent)
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOversold:                  40,
		RSIOverbought:                60,
		VolumeConfirmationMultiplier: 1.5,
		MaxPositionSizePct:           5,
		MaxPortfolioCorrelation:      0.7,
		PriceTolerancePct:            1.0,
	}
}

// MarketData carries the externally supplied indicators a candidate is
// validated against.
type MarketData struct {
	RSI        float64
	EMA20      float64
	EMA50      float64
	Volume     float64
	AvgVolume  float64
	ATR        float64
}

// PortfolioState is optional; its absence makes the correlation gate accept.
type PortfolioState struct {
	TotalValue   float64
	PositionSize float64
	Correlation  float64
	HasData      bool
}

// Result is the per-candidate validation outcome (spec §3 "Validation result").
type Result struct {
	IsValid    bool
	Confidence float64 // 0-100
	Passed     map[Condition]bool
	Violations []Condition
	Warnings   []string
}

// Validator evaluates candidates against configured thresholds.
type Validator struct {
	thresholds Thresholds
}

func New(thresholds Thresholds) *Validator {
	return &Validator{thresholds: thresholds}
}

// Validate evaluates the seven conditions in order and returns the result
// (spec §4.4). confidence = 100*(passed/7); is_valid iff confidence >= 60.
func (v *Validator) Validate(candidate *fibonacci.Candidate, market MarketData, portfolio PortfolioState) *Result {
	passed := make(map[Condition]bool, len(allConditions))
	var warnings []string

	passed[ConditionPriceLevel] = v.checkPriceLevel(candidate, &warnings)
	passed[ConditionRSI] = v.checkRSI(candidate.Direction, market.RSI)
	passed[ConditionEMAAlignment] = checkEMAAlignment(candidate.Direction, candidate.CurrentPrice, market.EMA20, market.EMA50)
	passed[ConditionVolume] = v.checkVolume(market.Volume, market.AvgVolume)
	passed[ConditionMarketStructure] = v.checkMarketStructure(candidate, market)
	passed[ConditionPositionSizing] = v.checkPositionSizing(portfolio)
	passed[ConditionPortfolioCorrelation] = v.checkPortfolioCorrelation(portfolio)

	numPassed := 0
	var violations []Condition
	for _, c := range allConditions {
		if passed[c] {
			numPassed++
		} else {
			violations = append(violations, c)
		}
	}

	confidence := 100.0 * float64(numPassed) / float64(len(allConditions))
	return &Result{
		IsValid:    confidence >= 60,
		Confidence: confidence,
		Passed:     passed,
		Violations: violations,
		Warnings:   warnings,
	}
}

// checkPriceLevel: strategy-specific. Fibonacci strategies require the
// candidate price within price_tolerance of the triggered level; mean
// reversion accepts; unknown strategies accept with a warning.
func (v *Validator) checkPriceLevel(c *fibonacci.Candidate, warnings *[]string) bool {
	strategy := strings.ToLower(c.Strategy)
	switch {
	case strings.Contains(strategy, "fibonacci"):
		level, ok := c.FibLevels[c.TriggeredLevel]
		if !ok || c.CurrentPrice == 0 {
			return true
		}
		tolerance := v.thresholds.PriceTolerancePct / 100.0
		return absf((c.CurrentPrice-level)/c.CurrentPrice) <= tolerance
	case strings.Contains(strategy, "mean_reversion"):
		return true
	default:
		*warnings = append(*warnings, "unknown strategy \""+c.Strategy+"\": accepting price level by default")
		return true
	}
}

func (v *Validator) checkRSI(direction types.Direction, rsi float64) bool {
	if direction == types.DirectionLong {
		return rsi >= 20 && rsi <= v.thresholds.RSIOversold
	}
	return rsi >= v.thresholds.RSIOverbought && rsi <= 80
}

func checkEMAAlignment(direction types.Direction, price, ema20, ema50 float64) bool {
	if direction == types.DirectionLong {
		return price > ema20 && ema20 > ema50
	}
	return price < ema20 && ema20 < ema50
}

func (v *Validator) checkVolume(volume, avgVolume float64) bool {
	return volume >= avgVolume*v.thresholds.VolumeConfirmationMultiplier
}

// checkMarketStructure: volatility_ratio = 100*atr/price. Fibonacci
// strategies require >=1.0, mean reversion requires <2.0, others accept. If
// ATR or price <=0, accept (insufficient data).
func (v *Validator) checkMarketStructure(c *fibonacci.Candidate, market MarketData) bool {
	if market.ATR <= 0 || c.CurrentPrice <= 0 {
		return true
	}
	volatilityRatio := 100 * market.ATR / c.CurrentPrice
	strategy := strings.ToLower(c.Strategy)
	switch {
	case strings.Contains(strategy, "fibonacci"):
		return volatilityRatio >= 1.0
	case strings.Contains(strategy, "mean_reversion"):
		return volatilityRatio < 2.0
	default:
		return true
	}
}

func (v *Validator) checkPositionSizing(p PortfolioState) bool {
	if !p.HasData || p.TotalValue <= 0 {
		return true
	}
	return 100*p.PositionSize/p.TotalValue <= v.thresholds.MaxPositionSizePct
}

func (v *Validator) checkPortfolioCorrelation(p PortfolioState) bool {
	if !p.HasData {
		return true
	}
	return p.Correlation <= v.thresholds.MaxPortfolioCorrelation
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
