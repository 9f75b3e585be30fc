package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0-strategy-engine/signal-engine/internal/mode"
)

func TestLoad_DefaultsApplyWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 14, cfg.Fibonacci.ATRPeriod)
	assert.Equal(t, 0.01, cfg.Fibonacci.TriggerTolerance)
	assert.Equal(t, 40.0, cfg.Validator.RSIOversold)
	assert.Equal(t, 300, cfg.Scheduler.MinIntervalSeconds)
	assert.Equal(t, 10, cfg.Risk.MaxOpenTrades)
	assert.Equal(t, "manual", cfg.Mode.InitialMode)
	assert.Equal(t, "binance", cfg.Exchange.Name)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	os.Setenv("SIGNAL_RISK_MAX_OPEN_TRADES", "3")
	defer os.Unsetenv("SIGNAL_RISK_MAX_OPEN_TRADES")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Risk.MaxOpenTrades)
}

func TestExchangeCredentials_ReadFromEnv(t *testing.T) {
	os.Setenv("BINANCE_API_KEY", "test-key")
	os.Setenv("BINANCE_API_SECRET", "test-secret")
	defer os.Unsetenv("BINANCE_API_KEY")
	defer os.Unsetenv("BINANCE_API_SECRET")

	cfg, err := Load("")
	require.NoError(t, err)
	key, secret := cfg.ExchangeCredentials()
	assert.Equal(t, "test-key", key)
	assert.Equal(t, "test-secret", secret)
}

func TestToRiskConfig_ConvertsFloatsToDecimal(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Risk.MaxDrawdown = 0.25

	rc := cfg.ToRiskConfig()
	assert.True(t, rc.MaxDrawdown.Equal(decimal.NewFromFloat(0.25)))
}

func TestInitialMode_UnknownValueDefaultsToManual(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Mode.InitialMode = "not-a-real-mode"
	assert.Equal(t, mode.ModeManual, cfg.InitialMode())
}

func TestInitialMode_RecognizesEachMode(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cases := map[string]mode.Mode{
		"auto":      mode.ModeAuto,
		"semi_auto": mode.ModeSemiAuto,
		"paper":     mode.ModePaper,
		"backtest":  mode.ModeBacktest,
		"manual":    mode.ModeManual,
	}
	for in, want := range cases {
		cfg.Mode.InitialMode = in
		assert.Equal(t, want, cfg.InitialMode(), in)
	}
}
