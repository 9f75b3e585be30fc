// Package config loads the trading system's configuration from defaults, an
// optional YAML file, and environment variables, and translates the flat
// numeric/string fields viper is comfortable unmarshalling into the typed
// decimal-bearing config structs each component expects.
//
// Grounded on the reference's cmd/server/main.go, which builds every
// component's config struct by hand with getEnvOrDefault for secrets; the
// viper layering (defaults -> file -> env) follows the config.go pattern
// used elsewhere in the pack for bot-style services.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/v0-strategy-engine/signal-engine/internal/aiadapter"
	"github.com/v0-strategy-engine/signal-engine/internal/engine"
	"github.com/v0-strategy-engine/signal-engine/internal/execution"
	"github.com/v0-strategy-engine/signal-engine/internal/execution/adapters"
	"github.com/v0-strategy-engine/signal-engine/internal/fibonacci"
	"github.com/v0-strategy-engine/signal-engine/internal/mode"
	"github.com/v0-strategy-engine/signal-engine/internal/scheduler"
	"github.com/v0-strategy-engine/signal-engine/internal/validator"
)

// ProviderConfig mirrors spec §6's `providers[name].*` key family for one AI
// provider; API keys never come from here, only from `<PROVIDER>_API_KEY`.
type ProviderConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Model          string  `mapstructure:"model"`
	CacheTTLSec    int     `mapstructure:"cache_ttl_seconds"`
	RateLimitRPM   int     `mapstructure:"rate_limit_rpm"`
	AccuracyWeight float64 `mapstructure:"accuracy_weight"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// AIConfig mirrors spec §6's AI-integration flat key table.
type AIConfig struct {
	Enabled                   bool                      `mapstructure:"enabled"`
	MinProviders              int                       `mapstructure:"min_providers"`
	MinConfidence             float64                   `mapstructure:"min_confidence"`
	EnableParallel            bool                      `mapstructure:"enable_parallel"`
	Providers                 map[string]ProviderConfig `mapstructure:"providers"`
	SignalBoostThreshold      float64                   `mapstructure:"signal_boost_threshold"`
	SignalBlockThreshold      float64                   `mapstructure:"signal_block_threshold"`
	ConfidenceBoostMultiplier float64                   `mapstructure:"confidence_boost_multiplier"`
	RiskAssessmentEnabled     bool                      `mapstructure:"risk_assessment_enabled"`
	HighRiskBlock             bool                      `mapstructure:"high_risk_block"`
	SentimentAnalysisEnabled  bool                      `mapstructure:"sentiment_analysis_enabled"`
}

// FibonacciConfig mirrors internal/fibonacci.Config.
type FibonacciConfig struct {
	ATRPeriod        int     `mapstructure:"atr_period"`
	VolatilityFactor float64 `mapstructure:"volatility_factor"`
	TriggerTolerance float64 `mapstructure:"trigger_tolerance"`
}

// ValidatorConfig mirrors internal/validator.Thresholds.
type ValidatorConfig struct {
	RSIOversold                  float64 `mapstructure:"rsi_oversold"`
	RSIOverbought                float64 `mapstructure:"rsi_overbought"`
	VolumeConfirmationMultiplier float64 `mapstructure:"volume_confirmation_multiplier"`
	MaxPositionSizePct           float64 `mapstructure:"max_position_size_pct"`
	MaxPortfolioCorrelation      float64 `mapstructure:"max_portfolio_correlation"`
	PriceTolerancePct            float64 `mapstructure:"price_tolerance_pct"`
}

// SchedulerConfig mirrors internal/scheduler.Config.
type SchedulerConfig struct {
	MinIntervalSeconds  int `mapstructure:"min_interval_seconds"`
	MaxConsecutiveSkips int `mapstructure:"max_consecutive_skips"`
}

// RiskConfig mirrors the spec-driven fields of internal/execution.RiskConfig;
// all money/ratio fields are floats here and converted to decimal.Decimal at
// translation time (spec.md's config table is untyped JSON-ish, the reference
// repo's own risk_manager.go literal construction in main.go uses float64
// inputs the same way).
type RiskConfig struct {
	MaxPositionSize       float64             `mapstructure:"max_position_size"`
	MaxPositionValue      float64             `mapstructure:"max_position_value"`
	MaxTotalExposure      float64             `mapstructure:"max_total_exposure"`
	MaxSymbolExposure     float64             `mapstructure:"max_symbol_exposure"`
	MaxCorrelatedExposure float64             `mapstructure:"max_correlated_exposure"`
	MaxDailyLoss          float64             `mapstructure:"max_daily_loss"`
	MaxWeeklyLoss         float64             `mapstructure:"max_weekly_loss"`
	MaxDrawdown           float64             `mapstructure:"max_drawdown"`
	MaxConsecutiveLosses  int                 `mapstructure:"max_consecutive_losses"`
	MaxDailyTrades        int                 `mapstructure:"max_daily_trades"`
	MaxDailyVolume        float64             `mapstructure:"max_daily_volume"`
	MinOrderSize          float64             `mapstructure:"min_order_size"`
	MaxOrderSize          float64             `mapstructure:"max_order_size"`
	DefaultStopLoss       float64             `mapstructure:"default_stop_loss"`
	TradingHoursStart     string              `mapstructure:"trading_hours_start"`
	TradingHoursEnd       string              `mapstructure:"trading_hours_end"`
	KillSwitchThreshold   float64             `mapstructure:"kill_switch_threshold"`
	CooldownPeriodSeconds int                 `mapstructure:"cooldown_period_seconds"`
	CorrelationGroups     map[string][]string `mapstructure:"correlation_groups"`
	MaxOpenTrades         int                 `mapstructure:"max_open_trades"`
	CorrelationThreshold  float64             `mapstructure:"correlation_threshold"`
	VolatilityThreshold   float64             `mapstructure:"volatility_threshold"`
	MaxPortfolioRisk      float64             `mapstructure:"max_portfolio_risk"`
}

// EngineConfig mirrors internal/engine.Config.
type EngineConfig struct {
	BasePositionSize float64 `mapstructure:"base_position_size"`
	MaxSpread        float64 `mapstructure:"max_spread"`
	MaxLatencyMs     int64   `mapstructure:"max_latency_ms"`
}

// ModeConfig mirrors internal/mode.Config.
type ModeConfig struct {
	Symbols                []string `mapstructure:"symbols"`
	TickIntervalSeconds    int      `mapstructure:"tick_interval_seconds"`
	HistoryLimit           int      `mapstructure:"history_limit"`
	MaxDailyTrades         int      `mapstructure:"max_daily_trades"`
	ConfirmationTimeoutSec int      `mapstructure:"confirmation_timeout_seconds"`
	InitialMode            string   `mapstructure:"initial_mode"` // auto, semi_auto, manual, paper, backtest
	InitialCapital         float64  `mapstructure:"initial_capital"`
}

// ExchangeConfig carries the exchange adapter's non-secret dials; API
// credentials are read separately from `<EXCHANGE>_API_KEY`/`_API_SECRET`.
type ExchangeConfig struct {
	Name         string `mapstructure:"name"`
	Testnet      bool   `mapstructure:"testnet"`
	WSDepthLevel int    `mapstructure:"ws_depth_level"`
}

// LoggingConfig follows the teacher's -log-level flag, generalized into a
// config field so it can also come from file/env.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the top-level configuration, populated by Load.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	AI        AIConfig        `mapstructure:"ai"`
	Fibonacci FibonacciConfig `mapstructure:"fibonacci"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Mode      ModeConfig      `mapstructure:"mode"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")

	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.min_providers", 2)
	v.SetDefault("ai.min_confidence", 0.6)
	v.SetDefault("ai.enable_parallel", true)
	v.SetDefault("ai.signal_boost_threshold", 0.7)
	v.SetDefault("ai.signal_block_threshold", 0.8)
	v.SetDefault("ai.confidence_boost_multiplier", 20)
	v.SetDefault("ai.risk_assessment_enabled", true)
	v.SetDefault("ai.high_risk_block", true)
	v.SetDefault("ai.sentiment_analysis_enabled", true)

	v.SetDefault("fibonacci.atr_period", 14)
	v.SetDefault("fibonacci.volatility_factor", 1.0)
	v.SetDefault("fibonacci.trigger_tolerance", 0.01)

	v.SetDefault("validator.rsi_oversold", 40)
	v.SetDefault("validator.rsi_overbought", 60)
	v.SetDefault("validator.volume_confirmation_multiplier", 1.5)
	v.SetDefault("validator.max_position_size_pct", 5)
	v.SetDefault("validator.max_portfolio_correlation", 0.7)
	v.SetDefault("validator.price_tolerance_pct", 1.0)

	v.SetDefault("scheduler.min_interval_seconds", 300)
	v.SetDefault("scheduler.max_consecutive_skips", 5)

	v.SetDefault("risk.max_open_trades", 10)
	v.SetDefault("risk.correlation_threshold", 0.7)
	v.SetDefault("risk.max_portfolio_risk", 0.02)
	v.SetDefault("risk.max_drawdown", 0.15)
	v.SetDefault("risk.max_daily_loss", 0.05)
	v.SetDefault("risk.max_position_size", 0.05)
	v.SetDefault("risk.max_daily_trades", 50)
	v.SetDefault("risk.cooldown_period_seconds", 3600)

	v.SetDefault("engine.base_position_size", 1000)
	v.SetDefault("engine.max_spread", 0.0005)
	v.SetDefault("engine.max_latency_ms", 500)

	v.SetDefault("mode.tick_interval_seconds", 60)
	v.SetDefault("mode.history_limit", 100)
	v.SetDefault("mode.max_daily_trades", 50)
	v.SetDefault("mode.confirmation_timeout_seconds", 300)
	v.SetDefault("mode.initial_mode", "manual")
	v.SetDefault("mode.initial_capital", 10000)

	v.SetDefault("exchange.name", "binance")
	v.SetDefault("exchange.ws_depth_level", 20)
}

// Load reads layered configuration: built-in defaults, an optional YAML/JSON
// file at path (skipped if empty or missing), then environment variables
// prefixed SIGNAL_ with "." replaced by "_" (e.g. SIGNAL_RISK_MAX_DRAWDOWN).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ProviderAPIKey reads a provider's API key from <PROVIDER>_API_KEY, upper-
// cased, matching the reference's getEnvOrDefault convention. Keys are never
// read from file or the SIGNAL_ env prefix so they never land in a config
// dump.
func ProviderAPIKey(providerName string) string {
	return envOrDefault(strings.ToUpper(providerName)+"_API_KEY", "")
}

// ExchangeCredentials reads the exchange adapter's API key/secret from
// <EXCHANGE>_API_KEY / <EXCHANGE>_API_SECRET.
func (c *Config) ExchangeCredentials() (apiKey, apiSecret string) {
	prefix := strings.ToUpper(c.Exchange.Name)
	return envOrDefault(prefix+"_API_KEY", ""), envOrDefault(prefix+"_API_SECRET", "")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ToBinanceConfig builds the exchange adapter's config, injecting credentials
// read from the environment.
func (c *Config) ToBinanceConfig() adapters.BinanceConfig {
	apiKey, apiSecret := c.ExchangeCredentials()
	return adapters.BinanceConfig{
		APIKey:       apiKey,
		APISecret:    apiSecret,
		Testnet:      c.Exchange.Testnet,
		WSDepthLevel: c.Exchange.WSDepthLevel,
	}
}

// ToFibonacciConfig builds internal/fibonacci.Config.
func (c *Config) ToFibonacciConfig() fibonacci.Config {
	return fibonacci.Config{
		ATRPeriod:        c.Fibonacci.ATRPeriod,
		VolatilityFactor: c.Fibonacci.VolatilityFactor,
		TriggerTolerance: c.Fibonacci.TriggerTolerance,
	}
}

// ToValidatorThresholds builds internal/validator.Thresholds.
func (c *Config) ToValidatorThresholds() validator.Thresholds {
	return validator.Thresholds{
		RSIOversold:                  c.Validator.RSIOversold,
		RSIOverbought:                c.Validator.RSIOverbought,
		VolumeConfirmationMultiplier: c.Validator.VolumeConfirmationMultiplier,
		MaxPositionSizePct:           c.Validator.MaxPositionSizePct,
		MaxPortfolioCorrelation:      c.Validator.MaxPortfolioCorrelation,
		PriceTolerancePct:            c.Validator.PriceTolerancePct,
	}
}

// ToSchedulerConfig builds internal/scheduler.Config.
func (c *Config) ToSchedulerConfig() scheduler.Config {
	return scheduler.Config{
		MinInterval:         time.Duration(c.Scheduler.MinIntervalSeconds) * time.Second,
		MaxConsecutiveSkips: c.Scheduler.MaxConsecutiveSkips,
	}
}

// ToAIAdapterConfig builds internal/aiadapter.Config.
func (c *Config) ToAIAdapterConfig() aiadapter.Config {
	return aiadapter.Config{
		Enabled:                   c.AI.Enabled,
		MinProviders:              c.AI.MinProviders,
		MinConfidence:             c.AI.MinConfidence,
		SignalBoostThreshold:      c.AI.SignalBoostThreshold,
		SignalBlockThreshold:      c.AI.SignalBlockThreshold,
		ConfidenceBoostMultiplier: c.AI.ConfidenceBoostMultiplier,
		HighRiskBlock:             c.AI.HighRiskBlock,
	}
}

// ToRiskConfig builds internal/execution.RiskConfig, converting every float
// field to decimal.Decimal at the boundary.
func (c *Config) ToRiskConfig() execution.RiskConfig {
	r := c.Risk
	return execution.RiskConfig{
		MaxPositionSize:       decimal.NewFromFloat(r.MaxPositionSize),
		MaxPositionValue:      decimal.NewFromFloat(r.MaxPositionValue),
		MaxTotalExposure:      decimal.NewFromFloat(r.MaxTotalExposure),
		MaxSymbolExposure:     decimal.NewFromFloat(r.MaxSymbolExposure),
		MaxCorrelatedExposure: decimal.NewFromFloat(r.MaxCorrelatedExposure),
		MaxDailyLoss:          decimal.NewFromFloat(r.MaxDailyLoss),
		MaxWeeklyLoss:         decimal.NewFromFloat(r.MaxWeeklyLoss),
		MaxDrawdown:           decimal.NewFromFloat(r.MaxDrawdown),
		MaxConsecutiveLosses:  r.MaxConsecutiveLosses,
		MaxDailyTrades:        r.MaxDailyTrades,
		MaxDailyVolume:        decimal.NewFromFloat(r.MaxDailyVolume),
		MinOrderSize:          decimal.NewFromFloat(r.MinOrderSize),
		MaxOrderSize:          decimal.NewFromFloat(r.MaxOrderSize),
		DefaultStopLoss:       decimal.NewFromFloat(r.DefaultStopLoss),
		TradingHoursStart:     r.TradingHoursStart,
		TradingHoursEnd:       r.TradingHoursEnd,
		KillSwitchThreshold:   decimal.NewFromFloat(r.KillSwitchThreshold),
		CooldownPeriod:        time.Duration(r.CooldownPeriodSeconds) * time.Second,
		CorrelationGroups:     r.CorrelationGroups,
		MaxOpenTrades:         r.MaxOpenTrades,
		CorrelationThreshold:  decimal.NewFromFloat(r.CorrelationThreshold),
		VolatilityThreshold:   decimal.NewFromFloat(r.VolatilityThreshold),
		MaxPortfolioRisk:      decimal.NewFromFloat(r.MaxPortfolioRisk),
	}
}

// ToEngineConfig builds internal/engine.Config.
func (c *Config) ToEngineConfig() engine.Config {
	return engine.Config{
		BasePositionSize: decimal.NewFromFloat(c.Engine.BasePositionSize),
		MaxSpread:        c.Engine.MaxSpread,
		MaxLatencyMs:     c.Engine.MaxLatencyMs,
	}
}

// ToModeConfig builds internal/mode.Config.
func (c *Config) ToModeConfig() mode.Config {
	return mode.Config{
		Symbols:             c.Mode.Symbols,
		TickInterval:        time.Duration(c.Mode.TickIntervalSeconds) * time.Second,
		HistoryLimit:        c.Mode.HistoryLimit,
		MaxDailyTrades:      c.Mode.MaxDailyTrades,
		ConfirmationTimeout: time.Duration(c.Mode.ConfirmationTimeoutSec) * time.Second,
		InitialCapital:      decimal.NewFromFloat(c.Mode.InitialCapital),
	}
}

// InitialMode resolves ModeConfig.InitialMode to a mode.Mode, defaulting to
// MANUAL on an unrecognized value (same fail-safe the reference's mode
// manager defaults to).
func (c *Config) InitialMode() mode.Mode {
	switch strings.ToLower(c.Mode.InitialMode) {
	case "auto":
		return mode.ModeAuto
	case "semi_auto":
		return mode.ModeSemiAuto
	case "paper":
		return mode.ModePaper
	case "backtest":
		return mode.ModeBacktest
	default:
		return mode.ModeManual
	}
}
