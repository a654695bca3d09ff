package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"okxquant/internal/config"
	"okxquant/internal/engine"
	"okxquant/internal/exchange"
	"okxquant/internal/exchange/okx"
	"okxquant/internal/market"
	"okxquant/internal/metrics"
	"okxquant/internal/regime"
	"okxquant/internal/risk"
	"okxquant/internal/state"
	"okxquant/internal/strategy"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	runID := generateRunID()
	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, runID)
	if err != nil {
		slog.Error("decision logger error", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			slog.Warn("failed to close decision logger", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		slog.Info("shutdown signal received")
		cancel()
	}()

	cache := market.NewCache()
	riskMgr := risk.NewManager(cfg.RiskLimits())
	classifier := regime.NewClassifier(cfg.RegimeParams())
	shortM := strategy.NewOverheatShort(cfg.ShortParams(), cfg.ShortRules())
	longM := strategy.NewTrendLong(cfg.LongParams(), cfg.LongRules())
	store := state.NewStore(cfg.CheckpointPath)

	rest := okx.NewClient(okx.Credentials{
		APIKey:     cfg.OKX.APIKey,
		APISecret:  cfg.OKX.APISecret,
		Passphrase: cfg.OKX.Passphrase,
		Demo:       cfg.Mode == config.ModePaper,
	})

	var sink exchange.OrderSink = rest
	var account exchange.AccountSource = rest
	var paper *exchange.Paper
	if cfg.Mode == config.ModePaper && cfg.OKX.APIKey == "" {
		paper = exchange.NewPaper(10000)
		sink = paper
		account = paper
		slog.Info("running against the in-memory paper venue")
	}

	eng := engine.New(cfg, cache, classifier, shortM, longM, riskMgr, sink, decisions, store)
	if paper != nil {
		eng.SetMarkSetter(paper)
	}

	if cp, ok, err := store.Load(); err != nil {
		slog.Warn("checkpoint load failed, starting fresh", "err", err)
	} else if ok {
		eng.Restore(cp)
	}

	if cfg.Mode == config.ModeLive {
		if err := rest.SetLeverage(ctx, cfg.Symbol, cfg.Leverage); err != nil {
			slog.Error("set leverage failed", "err", err)
			os.Exit(1)
		}
	}
	warmCandles(ctx, rest, cache, cfg.Symbol)

	go func() {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			slog.Warn("metrics server stopped", "err", err)
		}
	}()

	feed := okx.NewFeed(cfg.Symbol, cfg.Mode == config.ModePaper, cache)
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("market feed stopped", "err", err)
			cancel()
		}
	}()

	go eng.ReconcileLoop(ctx, account, rest)

	slog.Info("bot started", "run_id", runID, "mode", cfg.Mode, "symbol", cfg.Symbol,
		"tick", cfg.TickInterval.D())
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine stopped", "err", err)
	}

	sum := riskMgr.DailySummary()
	slog.Info("daily summary", "date", sum.Date, "trades", sum.TradesCount,
		"pnl", sum.DailyPnL, "pnl_pct", sum.DailyPnLPct, "drawdown_pct", sum.DrawdownPct)
	slog.Info("bot shutdown complete")
}

// warmCandles preloads the indicator windows over REST so the bot does not
// idle through an hour of websocket bars before the slow MA validates.
func warmCandles(ctx context.Context, rest *okx.Client, cache *market.Cache, symbol string) {
	for _, tf := range []string{market.Timeframe5m, market.Timeframe15m} {
		candles, err := rest.Candles(ctx, symbol, tf, 100)
		if err != nil {
			slog.Warn("candle warmup failed", "timeframe", tf, "err", err)
			continue
		}
		for _, c := range candles {
			if err := cache.AppendCandle(tf, c); err != nil {
				slog.Warn("warmup candle dropped", "timeframe", tf, "err", err)
			}
		}
		slog.Info("candle window warmed", "timeframe", tf, "bars", len(candles))
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return timestamp
	}
	return timestamp + "-" + hex.EncodeToString(randomBytes)
}
