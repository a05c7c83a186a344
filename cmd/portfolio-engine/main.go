package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/portfoliostack/portfolio-engine/internal/api"
	"github.com/portfoliostack/portfolio-engine/internal/cache"
	"github.com/portfoliostack/portfolio-engine/internal/config"
	"github.com/portfoliostack/portfolio-engine/internal/engine"
	"github.com/portfoliostack/portfolio-engine/internal/metrics"
	"github.com/portfoliostack/portfolio-engine/internal/patterns"
	"github.com/portfoliostack/portfolio-engine/internal/repo"
	"github.com/portfoliostack/portfolio-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting portfolio-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	store, err := repo.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	rules, err := engine.LoadRulePack(cfg.Rules.Path)
	if err != nil {
		logger.Error("failed to load rule pack", slog.String("path", cfg.Rules.Path), slog.Any("error", err))
		os.Exit(1)
	}

	var oracle engine.ClassificationOracle
	if cfg.Oracle.Enabled && cfg.Oracle.APIKey != "" {
		oracle = repo.NewAnthropicOracle(cfg.Oracle.APIKey, cfg.Oracle.Model, logger)
	} else {
		logger.Warn("classification oracle disabled; undecided items will be marked UNKNOWN")
	}

	classifier := engine.NewTriageClassifier(rules, oracle, cfg.Triage.ConfidenceThreshold, logger)

	scoringCfg := engine.ScoringConfig{
		WSJFWeight:      cfg.Scoring.WSJFWeight,
		ICEWeight:       cfg.Scoring.ICEWeight,
		RetentionWeight: cfg.Scoring.RetentionWeight,
	}
	if err := scoringCfg.Validate(); err != nil {
		logger.Error("invalid scoring config", slog.Any("error", err))
		os.Exit(1)
	}
	scorer := engine.NewScoringEngine(scoringCfg, logger)

	optimizer := engine.NewOptimizer(engine.OptimizerConfig{
		CostGranularity: cfg.Optimizer.CostGranularity,
		MaxBudgetUnits:  cfg.Optimizer.MaxBudgetUnits,
	}, logger)

	learner := patterns.NewLearner(store, cacheProvider, patterns.Config{
		MinSupport:     cfg.Learner.MinSupport,
		SharedFraction: cfg.Learner.SharedFraction,
		MinScoreDelta:  cfg.Learner.MinScoreDelta,
		MinConfidence:  cfg.Learner.MinConfidence,
		FeedbackWindow: cfg.Learner.FeedbackWindow,
		DecayAfter:     cfg.Learner.DecayAfter,
		CacheTTL:       cfg.Learner.CacheTTL,
	}, logger)

	pipeline := engine.NewPipeline(classifier, scorer, optimizer, learner, store, logger)

	handler := api.NewHandler(pipeline, learner, store, logger)
	server, err := api.NewServer(cfg.Server, handler.Routes())
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := cron.New()
	if cfg.Learner.DecaySchedule != "" {
		_, err := scheduler.AddFunc(cfg.Learner.DecaySchedule, func() {
			sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := learner.Decay(sweepCtx); err != nil {
				logger.Warn("pattern decay sweep failed", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("invalid decay schedule", slog.String("schedule", cfg.Learner.DecaySchedule), slog.Any("error", err))
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("HTTP server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("portfolio-engine stopped")
}
