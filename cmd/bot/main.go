package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dmarchetti/trident/internal/broker"
	"github.com/dmarchetti/trident/internal/config"
	"github.com/dmarchetti/trident/internal/dashboard"
	"github.com/dmarchetti/trident/internal/ledger"
	"github.com/dmarchetti/trident/internal/marketdata"
	"github.com/dmarchetti/trident/internal/marshaler"
	"github.com/dmarchetti/trident/internal/models"
	"github.com/dmarchetti/trident/internal/monitor"
	"github.com/dmarchetti/trident/internal/risk"
	"github.com/dmarchetti/trident/internal/sentiment"
	"github.com/dmarchetti/trident/internal/strategy"
)

// Bot holds the wired component graph shared by the trading cycle, the
// position monitor, and the reconciler.
type Bot struct {
	config    *config.Config
	logger    *logrus.Logger
	marshaler *marshaler.Marshaler
	client    marshaler.Client
	book      *ledger.Ledger
	cache     *marketdata.Cache
	risk      *risk.Manager
	sentiment *sentiment.Analyzer
	selector  *strategy.Selector
	events    models.Publisher
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Environment.LogLevel)
	logger.WithField("mode", cfg.Environment.Mode).Info("starting trident")
	if !cfg.IsPaper() {
		logger.Warn("LIVE TRADING MODE - real money at risk, waiting 10s to confirm")
		time.Sleep(10 * time.Second)
	}

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("bot error: %v", err)
	}
	logger.Info("bot stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	m := marshaler.New(gateway, logger, marshaler.Config{
		QueueSize:      cfg.Marshaler.QueueSize,
		BatchSize:      cfg.Marshaler.BatchSize,
		DefaultTimeout: config.Duration(cfg.Marshaler.DefaultTimeout, 10*time.Second),
		MaxTradePct:    cfg.Marshaler.MaxTradePct,
	})
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("starting marshaler: %w", err)
	}

	bot := &Bot{
		config:    cfg,
		logger:    logger,
		marshaler: m,
		client:    m,
		book:      ledger.New(logger),
		risk:      risk.NewManager(buildLimits(cfg), logger),
		events:    models.NopPublisher{},
	}
	bot.cache = marketdata.NewCache(bot.client, logger,
		marketdata.WithFetchTimeout(config.Duration(cfg.Marshaler.DefaultTimeout, 8*time.Second)))

	var hub *dashboard.Hub
	if cfg.Dashboard.Enabled {
		hub = dashboard.NewHub(logger)
		bot.events = hub
	}

	stratCfg := buildStrategyConfig(cfg)
	bot.selector = strategy.NewSelector(stratCfg, logger)
	bot.sentiment = sentiment.NewAnalyzer(sentiment.Config{
		IndexSymbol:   cfg.Universe.IndexSymbol,
		VolThreshold:  cfg.Sentiment.VolThreshold,
		TrendPct:      cfg.Sentiment.TrendPct,
		HistoryMaxAge: stratCfg.HistoryMaxAge,
		RefreshEvery:  config.Duration(cfg.Sentiment.RefreshEvery, 5*time.Minute),
	}, bot.cache, logger)

	posMonitor := monitor.New(monitor.Config{
		Interval:      config.Duration(cfg.Monitor.Interval, 10*time.Second),
		QuoteMaxAge:   config.Duration(cfg.Monitor.QuoteMaxAge, 5*time.Second),
		OrderTimeout:  config.Duration(cfg.Monitor.OrderTimeout, 15*time.Second),
		ExpiryDTE:     cfg.Monitor.ExpiryDTE,
		HaltedBackoff: true,
	}, bot.book, bot.client, bot.cache, bot.risk, bot.events, logger)

	reconciler := NewReconciler(bot.client, bot.book, bot.risk,
		config.Duration(cfg.Schedule.ReconcileInterval, 5*time.Minute),
		config.Duration(cfg.Monitor.OrderTimeout, 15*time.Second), logger)

	cycle := NewTradingCycle(CycleConfig{
		Interval:     config.Duration(cfg.Schedule.CycleInterval, time.Minute),
		OrderTimeout: config.Duration(cfg.Monitor.OrderTimeout, 15*time.Second),
		Candidates:   cfg.Universe.Candidates,
		TradingStart: cfg.Schedule.TradingStart,
		TradingEnd:   cfg.Schedule.TradingEnd,
		Location:     cfg.Location(),
	}, bot, reconciler)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return posMonitor.Run(ctx) })
	g.Go(func() error { return reconciler.RunLoop(ctx) })
	g.Go(func() error { return cycle.RunLoop(ctx) })

	if cfg.Dashboard.Enabled {
		server := dashboard.NewServer(dashboard.Config{
			Listen:    cfg.Dashboard.Listen,
			AuthToken: cfg.Dashboard.AuthToken,
		}, bot.book, bot.risk, hub, logger)
		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	<-m.Done()
	return err
}

// buildGateway selects the brokerage session implementation.
func buildGateway(cfg *config.Config) (broker.Gateway, error) {
	switch cfg.Broker.Provider {
	case "paper":
		equity := cfg.Broker.StartingEquity
		if equity <= 0 {
			equity = 100_000
		}
		return broker.NewPaperGateway(equity), nil
	case "ibkr":
		return nil, fmt.Errorf("broker provider %q is not wired in this build", cfg.Broker.Provider)
	default:
		return nil, fmt.Errorf("unknown broker provider %q", cfg.Broker.Provider)
	}
}

func buildLimits(cfg *config.Config) risk.Limits {
	return risk.Limits{
		MaxTradePct:         cfg.Risk.MaxTradePct,
		MaxConcurrentTrades: cfg.Risk.MaxConcurrentTrades,
		StopLossPct: map[models.StrategyTag]float64{
			models.StrategyBull:     cfg.Risk.StopLossBullPct,
			models.StrategyBear:     cfg.Risk.StopLossBearPct,
			models.StrategyVolatile: cfg.Risk.StopLossVolatilePct,
		},
		TakeProfitPct:     cfg.Risk.TakeProfitPct,
		TrailingThreshold: cfg.Risk.TrailingThreshold,
		TrailingStopPct:   cfg.Risk.TrailingStopPct,
		DailyLossLimit:    cfg.Risk.DailyLossLimit,
		CloseRetryLimit:   cfg.Risk.CloseRetryLimit,
	}
}

func buildStrategyConfig(cfg *config.Config) strategy.Config {
	return strategy.Config{
		TargetDTE:      cfg.Strategy.TargetDTE,
		SpreadWidthPct: cfg.Strategy.SpreadWidthPct,
		MinRSI:         cfg.Strategy.MinRSI,
		MaxRSI:         cfg.Strategy.MaxRSI,
		RequireAboveMA: cfg.Strategy.RequireAboveMA,
		MinVolPct:      cfg.Strategy.MinVolPct,
		MaxCandidates:  cfg.Strategy.MaxCandidates,
		QuoteMaxAge:    config.Duration(cfg.Strategy.QuoteMaxAge, 30*time.Second),
		HistoryMaxAge:  config.Duration(cfg.Strategy.HistoryMaxAge, 15*time.Minute),
	}
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
