// Package main is the entry point for the signal engine: it loads
// configuration, wires every adapted component into an engine.Engine and a
// mode.Manager, and serves the operational HTTP/WS surface.
package main

import (
	"context"
	"flag"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/v0-strategy-engine/signal-engine/internal/aiadapter"
	"github.com/v0-strategy-engine/signal-engine/internal/api"
	"github.com/v0-strategy-engine/signal-engine/internal/config"
	"github.com/v0-strategy-engine/signal-engine/internal/ensemble"
	"github.com/v0-strategy-engine/signal-engine/internal/engine"
	"github.com/v0-strategy-engine/signal-engine/internal/exchange"
	"github.com/v0-strategy-engine/signal-engine/internal/execution"
	"github.com/v0-strategy-engine/signal-engine/internal/execution/adapters"
	"github.com/v0-strategy-engine/signal-engine/internal/feedback"
	"github.com/v0-strategy-engine/signal-engine/internal/fibonacci"
	"github.com/v0-strategy-engine/signal-engine/internal/mode"
	"github.com/v0-strategy-engine/signal-engine/internal/provider"
	"github.com/v0-strategy-engine/signal-engine/internal/regime"
	"github.com/v0-strategy-engine/signal-engine/internal/scheduler"
	"github.com/v0-strategy-engine/signal-engine/internal/scorer"
	"github.com/v0-strategy-engine/signal-engine/internal/sizing"
	"github.com/v0-strategy-engine/signal-engine/internal/validator"
	"github.com/v0-strategy-engine/signal-engine/pkg/types"
)

func main() {
	host := flag.String("host", "0.0.0.0", "API server host")
	port := flag.Int("port", 8080, "API server port")
	configPath := flag.String("config", "", "Path to a YAML/JSON config file (optional)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	useSizer := flag.Bool("kelly-sizing", true, "Use Kelly-aware position sizing instead of the fixed base size")
	useRegime := flag.Bool("regime-classification", true, "Fill MarketTrend/MarketVolatility from realized price action")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting signal engine",
		zap.String("host", *host),
		zap.Int("port", *port),
		zap.String("configPath", *configPath),
		zap.String("initialMode", string(cfg.InitialMode())),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orchestrator := buildEnsemble(logger, cfg)
	var ai *aiadapter.Adapter
	if cfg.AI.Enabled {
		ai = aiadapter.New(cfg.ToAIAdapterConfig(), orchestrator, logger)
	}

	fib := fibonacci.New(cfg.ToFibonacciConfig())
	val := validator.New(cfg.ToValidatorThresholds())
	sched := scheduler.New(cfg.ToSchedulerConfig())
	scr := scorer.New(logger)
	risk := execution.NewRiskManager(logger, cfg.ToRiskConfig())

	exch := exchange.NewBinanceAdapter(adapters.NewBinanceAdapter(logger, cfg.ToBinanceConfig()))

	if free, locked, err := exch.GetBalance(ctx, "USDT"); err != nil {
		logger.Warn("failed to fetch starting balance for risk manager, drawdown/daily-loss gates stay inert", zap.Error(err))
	} else {
		risk.SetInitialBalance(free.Add(locked))
	}

	eng := engine.New(logger, cfg.ToEngineConfig(), fib, val, sched, scr, ai, risk, exch)
	if *useSizer {
		eng.SetSizer(sizing.NewPositionSizer(logger, sizing.DefaultSizingConfig()))
	}

	feedbackEngine := feedback.New(logger, feedback.DefaultConfig())

	var classifiers map[string]*regime.Classifier
	if *useRegime {
		classifiers = make(map[string]*regime.Classifier, len(cfg.Mode.Symbols))
		for _, symbol := range cfg.Mode.Symbols {
			classifiers[symbol] = regime.New(logger, regime.DefaultConfig())
		}
	}

	marketData := buildMarketData(feedbackEngine)
	if *useRegime {
		marketData = mode.WithRegimeClassification(classifiers, marketData)
	}

	// PAPER mode runs its own engine over the same sub-modules, with orders
	// filled synthetically by the paper adapter instead of sent to the exchange.
	paperEng := engine.New(logger, cfg.ToEngineConfig(), fib, val, sched, scr, ai, risk, mode.NewPaperAdapter(exch))
	manager := mode.New(logger, cfg.ToModeConfig(), eng, paperEng, exch, marketData)

	server := api.NewServer(logger, &types.ServerConfig{
		Host:          *host,
		Port:          *port,
		WebSocketPath: "/ws",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
	}, manager)

	feedbackStop := make(chan struct{})
	go runFeedbackLoop(ctx, logger, eng, feedbackEngine, feedbackStop)

	if initial := cfg.InitialMode(); initial != mode.ModeManual {
		if err := manager.SetMode(ctx, initial); err != nil {
			logger.Error("failed to set initial mode, staying manual", zap.Error(err))
		} else if err := manager.Start(ctx); err != nil {
			logger.Error("failed to start mode manager", zap.Error(err))
		}
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", zap.String("host", *host), zap.Int("port", *port))
		serverErrCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			logger.Error("api server exited unexpectedly", zap.Error(err))
		}
	}

	close(feedbackStop)
	cancel()

	if err := manager.Stop(); err != nil {
		logger.Error("error stopping mode manager", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping api server", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

// buildEnsemble constructs one provider per enabled entry in cfg.AI.Providers,
// keyed by provider name, and wires them into a single ensemble.Orchestrator.
func buildEnsemble(logger *zap.Logger, cfg *config.Config) *ensemble.Orchestrator {
	providers := make(map[string]provider.Provider, len(cfg.AI.Providers))
	weights := make(map[string]float64, len(cfg.AI.Providers))

	for name, pc := range cfg.AI.Providers {
		if !pc.Enabled {
			continue
		}
		providerConfig := provider.Config{
			Name:           name,
			APIKey:         config.ProviderAPIKey(name),
			Model:          pc.Model,
			CacheTTL:       time.Duration(pc.CacheTTLSec) * time.Second,
			RateLimitRPM:   pc.RateLimitRPM,
			AccuracyWeight: pc.AccuracyWeight,
			Timeout:        time.Duration(pc.TimeoutSeconds) * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
			Enabled:        pc.Enabled,
		}
		if !providerConfig.Valid() {
			logger.Warn("skipping provider without an API key", zap.String("provider", name))
			continue
		}

		var p provider.Provider
		switch name {
		case "gemini":
			p = provider.NewGeminiProvider(providerConfig, logger)
		case "openai":
			p = provider.NewOpenAIProvider(providerConfig, logger)
		case "grok":
			p = provider.NewGrokProvider(providerConfig, logger)
		case "mistral":
			p = provider.NewMistralProvider(providerConfig, logger)
		case "perplexity":
			p = provider.NewPerplexityProvider(providerConfig, logger)
		default:
			logger.Warn("unknown AI provider, skipping", zap.String("provider", name))
			continue
		}
		providers[name] = p
		weights[name] = pc.AccuracyWeight
	}

	ensembleConfig := ensemble.DefaultConfig()
	ensembleConfig.MinProviders = cfg.AI.MinProviders
	ensembleConfig.ProviderWeights = weights
	if !cfg.AI.EnableParallel {
		ensembleConfig.Mode = ensemble.Sequential
	}

	return ensemble.New(logger, ensembleConfig, providers)
}

// runFeedbackLoop periodically ingests newly closed trades into the feedback
// engine so HistoricalWinRate tracks live performance instead of staying at
// its zero-value floor.
func runFeedbackLoop(ctx context.Context, logger *zap.Logger, eng *engine.Engine, fb *feedback.Engine, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			closed := eng.GetClosedTrades()
			if len(closed) == 0 {
				continue
			}
			fb.Ingest(closed)
			logger.Debug("ingested closed trades into feedback engine", zap.Int("count", len(closed)))
		}
	}
}

// buildMarketData returns the MarketDataFunc the mode manager drives every
// tick: it computes the technical indicators a tick needs from the OHLCV
// window the manager already fetched, and fills HistoricalWinRate from the
// feedback engine's rolling per-symbol record.
func buildMarketData(fb *feedback.Engine) mode.MarketDataFunc {
	return func(ctx context.Context, symbol string, window []types.OHLCV) engine.MarketData {
		ind := computeIndicators(window)
		ind.HistoricalWinRate = fb.WinRate(symbol)
		return ind
	}
}

// computeIndicators derives the RSI/EMA/ATR/volume figures a tick needs
// directly from an OHLCV window. Indicator computation is the caller's
// concern (see mode.MarketDataFunc); this is the minimal, standard-formula
// implementation that concern is discharged with.
func computeIndicators(window []types.OHLCV) engine.MarketData {
	var data engine.MarketData
	if len(window) == 0 {
		return data
	}

	closes := make([]float64, len(window))
	volumes := make([]float64, len(window))
	for i, bar := range window {
		closes[i] = bar.Close.InexactFloat64()
		volumes[i] = bar.Volume.InexactFloat64()
	}

	data.RSI = rsi(closes, 14)
	data.EMA20 = ema(closes, 20)
	data.EMA50 = ema(closes, 50)
	data.EMA200 = ema(closes, 200)
	data.ATR = atr(window, 14)

	data.Volume = volumes[len(volumes)-1]
	data.AvgVolume = mean(volumes)
	if data.AvgVolume > 0 {
		data.VolumeRatio = data.Volume / data.AvgVolume
	}

	return data
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// ema computes the exponential moving average over the trailing `period`
// closes, falling back to the simple mean when fewer bars than the period
// are available.
func ema(closes []float64, period int) float64 {
	if len(closes) == 0 {
		return 0
	}
	if len(closes) < period {
		return mean(closes)
	}

	start := len(closes) - period
	multiplier := 2.0 / float64(period+1)
	value := mean(closes[:start+1])
	for i := start + 1; i < len(closes); i++ {
		value = (closes[i]-value)*multiplier + value
	}
	return value
}

// rsi computes the Wilder relative strength index over the trailing `period`
// closes.
func rsi(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}

	start := len(closes) - period - 1
	var gainSum, lossSum float64
	for i := start + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}

	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// atr computes the average true range over the trailing `period` bars.
func atr(window []types.OHLCV, period int) float64 {
	if len(window) < 2 {
		return 0
	}
	trueRanges := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		high := window[i].High.InexactFloat64()
		low := window[i].Low.InexactFloat64()
		prevClose := window[i-1].Close.InexactFloat64()

		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges = append(trueRanges, tr)
	}

	if len(trueRanges) > period {
		trueRanges = trueRanges[len(trueRanges)-period:]
	}
	return mean(trueRanges)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
