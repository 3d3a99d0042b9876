package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/openmarkets/simtrader/internal/config"
	"github.com/openmarkets/simtrader/internal/engine"
	"github.com/openmarkets/simtrader/internal/marketdata"
	"github.com/openmarkets/simtrader/internal/models"
	"github.com/openmarkets/simtrader/internal/monitor"
	"github.com/openmarkets/simtrader/internal/perflog"
	"github.com/openmarkets/simtrader/internal/portfolio"
	"github.com/openmarkets/simtrader/internal/runner"
	"github.com/openmarkets/simtrader/internal/strategy"
)

func main() {
	var (
		configPath string
		once       bool
		status     bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&once, "once", false, "Run a single trading cycle and exit")
	flag.BoolVar(&status, "status", false, "Print the current portfolio summary and exit")
	flag.Parse()

	// Optional .env for api keys referenced by ${VAR} in the config.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging.Level)

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}

	if status {
		os.Exit(app.printStatus())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Infof("Received %s, shutting down", sig)
		cancel()
	}()

	if once {
		os.Exit(app.runOnce(ctx))
	}

	app.runContinuous(ctx)
}

// app holds the wired components for one process lifetime.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	engine  *engine.Engine
	runner  *runner.Runner
	perf    perflog.Logger
	monitor *monitor.Server
}

func buildApp(cfg *config.Config, logger *logrus.Logger) (*app, error) {
	startingCash := decimal.NewFromFloat(cfg.Engine.StartingCash)
	fee := decimal.NewFromFloat(cfg.Engine.TransactionCost)

	store, err := portfolio.NewJSONStore(cfg.Storage.PortfolioPath, startingCash, fee)
	if err != nil {
		return nil, fmt.Errorf("opening portfolio store: %w", err)
	}

	source, err := newSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	strat := strategy.NewThresholdStrategy(strategy.ThresholdConfig{
		Watchlist:     cfg.Engine.Watchlist,
		PositionSize:  decimal.NewFromFloat(cfg.Strategy.PositionSize),
		MaxPositions:  cfg.Strategy.MaxPositions,
		BuyTriggerPct: decimal.NewFromFloat(cfg.Strategy.BuyTriggerPct),
		TakeProfitPct: decimal.NewFromFloat(cfg.Strategy.TakeProfitPct),
		StopLossPct:   decimal.NewFromFloat(cfg.Strategy.StopLossPct),
		MaxQuoteAge:   cfg.GetMaxQuoteAge(),
	})

	perf := perflog.NewFileLogger(cfg.Storage.PerformancePath, logger)

	eng := engine.New(engine.Config{
		StartingCash: startingCash,
		FetchTimeout: cfg.GetMarketDataTimeout(),
	}, source, store, strat, perf, logger)

	run := runner.New(eng, runner.Config{
		Interval:   cfg.GetInterval(),
		Cooldown:   cfg.GetCooldown(),
		MaxRetries: cfg.GetMaxRetries(),
	}, logger)

	a := &app{
		cfg:    cfg,
		logger: logger,
		engine: eng,
		runner: run,
		perf:   perf,
	}
	if cfg.Monitor.Enabled {
		a.monitor = monitor.NewServer(monitor.Config{
			Port:      cfg.Monitor.Port,
			AuthToken: cfg.Monitor.AuthToken,
		}, eng, perf, logger)
	}
	return a, nil
}

func newSource(cfg *config.Config, logger *logrus.Logger) (marketdata.Source, error) {
	switch cfg.MarketData.Provider {
	case "sim":
		logger.Info("Using simulated market data")
		return marketdata.NewSimSource(), nil
	case "http":
		src := marketdata.NewHTTPSource(marketdata.HTTPConfig{
			Endpoint:    cfg.MarketData.Endpoint,
			APIKey:      cfg.MarketData.APIKey,
			Timeout:     cfg.GetMarketDataTimeout(),
			BatchSize:   cfg.MarketData.BatchSize,
			Parallelism: cfg.MarketData.Parallelism,
		})
		return marketdata.NewBreakerSource(src, logger), nil
	default:
		return nil, fmt.Errorf("unknown market data provider %q", cfg.MarketData.Provider)
	}
}

// runOnce executes a single cycle, suitable for external schedulers.
// Exit codes: 0 success, 1 failed, 2 completed with rejected trades or a
// persistence error.
func (a *app) runOnce(ctx context.Context) int {
	summary := a.runner.RunOnce(ctx)
	switch summary.Status {
	case models.CycleFailed:
		return 1
	case models.CyclePartial:
		return 2
	default:
		return 0
	}
}

func (a *app) runContinuous(ctx context.Context) {
	a.logger.Infof("Starting trading simulator: %d watchlist symbol(s), interval %s",
		len(a.cfg.Engine.Watchlist), a.cfg.Engine.Interval)

	if a.monitor != nil {
		go func() {
			if err := a.monitor.Start(); err != nil && ctx.Err() == nil {
				a.logger.WithError(err).Error("Monitor server stopped")
			}
		}()
	}

	_ = a.runner.Run(ctx)

	if a.monitor != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.monitor.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("Monitor shutdown error")
		}
	}

	a.logger.Info("Simulator stopped")
}

// printStatus writes the current portfolio summary as JSON to stdout.
func (a *app) printStatus() int {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	summary := a.engine.Summary(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		a.logger.WithError(err).Error("Failed to encode summary")
		return 1
	}
	return 0
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
