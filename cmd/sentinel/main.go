// Sentinel - Real-time fraud risk scoring for payment transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/sentinel/internal/api"
	"github.com/opensource-finance/sentinel/internal/bus"
	"github.com/opensource-finance/sentinel/internal/cache"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/lock"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/opensource-finance/sentinel/internal/pipeline"
	"github.com/opensource-finance/sentinel/internal/repository"
	"github.com/opensource-finance/sentinel/internal/rules"
	sig "github.com/opensource-finance/sentinel/internal/signal"
	"github.com/opensource-finance/sentinel/internal/telemetry"
	"github.com/opensource-finance/sentinel/internal/velocity"
	"github.com/opensource-finance/sentinel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := domain.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"lock", cfg.Lock.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		s := <-sigCh
		slog.Info("received shutdown signal", "signal", s)
		cancel()
	}()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	go metrics.StartDBStatsCollector(ctx, repo.DB(), 15*time.Second)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	locker, err := lock.New(cfg.Lock)
	if err != nil {
		slog.Error("failed to initialize profile lock", "error", err)
		os.Exit(1)
	}
	slog.Info("profile lock initialized", "type", cfg.Lock.Type, "timeout", cfg.Lock.Timeout)

	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	loadRulesFromDatabase(ctx, repo, engine)
	slog.Info("rule engine initialized", "custom_rules", engine.RulesCount())

	policy := rules.PolicyFromConfig(cfg.Scoring)
	velocitySvc := velocity.NewService(cacheImpl, repo, cfg.Scoring.VelocityWindow)

	opts := pipeline.Options{
		Cache:     cacheImpl,
		Bus:       busImpl,
		Engine:    engine,
		Velocity:  velocitySvc,
		Policy:    &policy,
		ResultTTL: cfg.Scoring.ResultTTL,
	}
	// A nil *HTTPProvider must not end up inside the interface.
	if provider := sig.NewHTTPProvider(cfg.Signal); provider != nil {
		opts.Signal = provider
		slog.Info("external signal provider enabled", "url", cfg.Signal.URL)
	}
	scorer := pipeline.New(repo, locker, opts)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, scorer, cfg.Worker)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Pipeline: scorer,
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Engine:   engine,
		Version:  Version,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("sentinel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop consuming before the stores close underneath the worker.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("sentinel shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadRulesFromDatabase loads custom rules into the engine. The fixed rule
// set is always active; a store error leaves only those.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) {
	dbRules, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return
	}
	if len(dbRules) == 0 {
		slog.Info("no custom rules in database - configure via POST /rules API")
		return
	}

	if err := engine.LoadRules(dbRules); err != nil {
		slog.Warn("failed to load custom rules", "error", err)
		return
	}
	slog.Info("custom rules loaded from database", "count", len(dbRules))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==========================================")
	fmt.Println("                 SENTINEL")
	fmt.Println("       Fraud Risk Scoring Engine")
	fmt.Println("  ==========================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Worker:   %t\n", cfg.Worker.Enabled)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST  /transactions              - Score a transaction")
	fmt.Println("    POST  /transactions/async        - Queue a transaction for scoring")
	fmt.Println("    GET   /transactions/{id}         - Get scored transaction")
	fmt.Println("    GET   /users/{id}/profile        - Get user risk profile")
	fmt.Println("    GET   /users/{id}/summary        - Get balance and profile")
	fmt.Println("    GET   /users/{id}/transactions   - Recent history")
	fmt.Println("    GET   /alerts                    - Alert queue")
	fmt.Println("    PATCH /alerts/{id}               - Resolve an alert")
	fmt.Println("    GET   /rules                     - List custom rules")
	fmt.Println("    POST  /rules                     - Create a custom rule")
	fmt.Println("    POST  /rules/reload              - Hot-reload rules from database")
	fmt.Println("    GET   /health                    - Health check")
	fmt.Println("    GET   /metrics                   - Prometheus metrics")
	fmt.Println()
}
