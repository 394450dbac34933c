// Package main provides the entry point for the decision and learning
// service: contextual-bandit arm selection, LLM-advised trade plans,
// policy validation/sizing, and the idempotent reward loop, fronted by
// an HTTP/WebSocket API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/trading-backend/internal/api"
	"github.com/atlas-desktop/trading-backend/internal/bandit"
	"github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/atlas-desktop/trading-backend/internal/eventcache"
	"github.com/atlas-desktop/trading-backend/internal/facts"
	"github.com/atlas-desktop/trading-backend/internal/llmadvisor"
	"github.com/atlas-desktop/trading-backend/internal/orchestrator"
	"github.com/atlas-desktop/trading-backend/internal/policy"
	"github.com/atlas-desktop/trading-backend/internal/storage"
	"github.com/atlas-desktop/trading-backend/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting decision service",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Int("bandit_context_dim", cfg.Bandit.ContextDim),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	rewards := storage.NewRewardRepository(db)

	// No provider-specific earnings-calendar/corporate-action client is
	// wired (provider-specific clients are a Non-goal, same as
	// MarketData/News); every cache miss falls through the empty
	// provider chain straight to the deterministic hash-derived
	// estimate. A real deployment adds eventcache.Provider
	// implementations here, in fallback priority order.
	events := eventcache.New(logger, storage.NewEventCacheRepository(db))

	banditRegistry := bandit.NewRegistry(logger, cfg.Bandit)
	if cfg.Bandit.SnapshotEvery > 0 {
		stop := make(chan struct{})
		go banditRegistry.SnapshotLoop(stop)
		defer close(stop)
	}

	synthesizer := facts.New(logger, cfg.News, cfg.Policy)
	validator := policy.New(logger, cfg.Policy)
	metrics := telemetry.New()

	artifactStore := telemetry.NewArtifactStore(logger, cfg.LLM.ArtifactDir)
	defer artifactStore.Close()

	// A concrete model SDK is a Non-goal (llmadvisor.Client is the only
	// contract this service depends on); with no client wired, the
	// advisor falls back deterministically on every propose() call. A
	// real deployment supplies its own Client implementation here.
	advisor := llmadvisor.New(logger, nil, cfg.LLM, cfg.Policy, artifactStore)

	// marketData/news are out of scope per this service's Non-goals
	// (provider-specific market-data/news clients) — propose() accepts a
	// caller-supplied context vector directly, and analyze()/quick()
	// simply report Internal/NotFound until a provider is wired in.
	orch := orchestrator.New(
		logger,
		banditRegistry,
		synthesizer,
		advisor,
		validator,
		rewards,
		events,
		metrics,
		nil,
		nil,
		cfg.Bandit.ContextDim,
		cfg.LLM.ProposeBudget,
	)

	server := api.NewServer(logger, &cfg.Server, orch, metrics)

	reconcileStop := make(chan struct{})
	go runReconciliationLoop(ctx, logger, orch, reconcileStop)
	defer close(reconcileStop)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	logger.Info("decision service started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	if err := banditRegistry.SnapshotAll(); err != nil {
		logger.Error("error snapshotting bandit state on shutdown", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", zap.Error(err))
	}

	logger.Info("decision service stopped")
}

// runReconciliationLoop periodically replays reward_log rows that never
// got a matching bandit_log row, per spec.md §4.6's crash-recovery path.
func runReconciliationLoop(ctx context.Context, logger *zap.Logger, orch *orchestrator.Orchestrator, stop <-chan struct{}) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			applied, err := orch.ReconcileUnappliedRewards(ctx, 100)
			if err != nil {
				logger.Error("reward reconciliation failed", zap.Error(err))
				continue
			}
			if applied > 0 {
				logger.Info("reconciled unapplied rewards", zap.Int("applied", applied))
			}
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
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
