package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jwtly10/metalsbot/internal/account"
	"github.com/jwtly10/metalsbot/internal/advisory"
	"github.com/jwtly10/metalsbot/internal/api"
	"github.com/jwtly10/metalsbot/internal/backtest"
	"github.com/jwtly10/metalsbot/internal/bot"
	"github.com/jwtly10/metalsbot/internal/config"
	"github.com/jwtly10/metalsbot/internal/journal"
	"github.com/jwtly10/metalsbot/internal/logging"
	"github.com/jwtly10/metalsbot/internal/metrics"
	"github.com/jwtly10/metalsbot/internal/oanda"
	"github.com/jwtly10/metalsbot/internal/telegram"
	"github.com/jwtly10/metalsbot/internal/tradingview"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	mode       = flag.String("mode", "live", "Run mode: live or backtest")
	symbol     = flag.String("symbol", "GLD", "Symbol to replay in backtest mode")
	days       = flag.Int("days", 0, "Backtest over the last N days of oanda history instead of the configured bar count")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	src, err := buildSources(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize market data: %v", err)
	}

	switch *mode {
	case "live":
		err = runLive(ctx, cfg, src)
	case "backtest":
		err = runBacktest(ctx, cfg, src, strings.ToUpper(*symbol))
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	src.Close()
	if err != nil {
		slog.Error("metalsbot exited with error", "error", err)
		os.Exit(1)
	}
}

func runBacktest(ctx context.Context, cfg *config.Config, src *sources, sym string) error {
	runner := &backtest.Runner{
		History:  src.history,
		Strategy: cfg.StrategyConfig(),
		Limits:   cfg.RiskLimits(),
	}
	if *days > 0 {
		if src.oanda == nil {
			return fmt.Errorf("-days needs oanda credentials")
		}
		to := time.Now()
		runner.History = oanda.Range{Service: src.oanda, From: to.AddDate(0, 0, -*days), To: to}
	}

	vix := cfg.Regime.VixFixed
	if v, err := src.vix.FetchVix(ctx); err == nil {
		vix = v
	}

	results, err := runner.Backtest(ctx, sym, cfg.Account.Equity, vix)
	if err != nil {
		return err
	}

	stats := results.Calculate()
	stats.Print()

	fmt.Println()
	results.PrintTradesBetween(len(results.Trades)-5, len(results.Trades))

	tradingview.DumpPineScript(os.Stdout, results.Trades)
	return nil
}

func runLive(ctx context.Context, cfg *config.Config, src *sources) error {
	if src.quotes == nil {
		return errNoLiveQuotes
	}

	if dir := filepath.Dir(cfg.Journal.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	store, err := journal.New(cfg.Journal.DBPath, cfg.Journal.MaxTrades)
	if err != nil {
		return fmt.Errorf("failed to initialize journal: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(reg)

	hub := api.NewHub()

	deps := bot.Deps{
		Quotes:    src.quotes,
		History:   src.history,
		Vix:       src.vix,
		Account:   account.New(cfg.Account.Equity),
		Journal:   store,
		States:    store,
		Publisher: hub,
		Metrics:   rec,
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries,
			cfg.Telegram.RetryDelayBase,
		)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram client: %w", err)
		}
		deps.Notifier = telegramClient
	}

	var annotations *advisory.Annotations
	if cfg.AI.Enabled {
		annotations = advisory.NewAnnotations(0)
		deps.Advisor = advisory.NewOffline()
		deps.Annotations = annotations
	}

	b := bot.New(deps, cfg.BotConfig())

	primeCtx, primeCancel := context.WithTimeout(ctx, time.Minute)
	if err := b.Prime(primeCtx); err != nil {
		slog.Warn("Backfill incomplete, symbols fill from live ticks", "error", err)
	}
	primeCancel()

	if telegramClient != nil {
		go telegramClient.ListenForCommands(ctx, b)
	}

	var server *api.Server
	if cfg.Server.Enabled {
		apiDeps := api.Deps{
			Engine:  b,
			Journal: store,
			Backtester: &backtest.Runner{
				History:  src.history,
				Strategy: cfg.StrategyConfig(),
				Limits:   cfg.RiskLimits(),
			},
			Hub: hub,
		}
		if annotations != nil {
			apiDeps.Annotations = annotations
		}
		handler := api.NewHandler(apiDeps)
		server = api.NewServer(handler,
			api.WithAddr(cfg.Server.Addr),
			api.WithMetrics(reg, rec),
		)
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start api server: %w", err)
		}
	}

	slog.Info("metalsbot started",
		"watchlist", cfg.Watchlist,
		"source", cfg.Data.Source,
		"tick_interval", cfg.Engine.TickInterval,
		"ai", cfg.AI.Enabled,
	)

	runErr := b.Run(ctx)

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Stop(shutdownCtx); err != nil {
			slog.Error("Failed to stop api server", "error", err)
		}
		shutdownCancel()
	}
	if annotations != nil {
		annotations.Wait()
	}

	slog.Info("metalsbot stopped")
	return runErr
}
