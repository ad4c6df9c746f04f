// Kestrel - Credit scoring that deploys in 60 seconds.
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

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/clearance"
	"github.com/opensource-finance/kestrel/internal/configstore"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scorecard"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Optional scorecard bundle replaces the builtin scorecard
	var bundle *scorecard.Bundle
	if path := os.Getenv("KESTREL_SCORECARD"); path != "" {
		bundle, err = scorecard.Load(path)
		if err != nil {
			slog.Error("failed to load scorecard bundle", "path", path, "error", err)
			os.Exit(1)
		}
		slog.Info("scorecard bundle loaded",
			"path", path,
			"version", bundle.Version,
			"variables", len(bundle.Variables),
		)
	}

	// Initialize the variable registry: builtin scorecard or bundle, with
	// database definitions layered on top
	reg := registry.NewWithDefaults()
	if bundle != nil {
		reg = registry.New()
		reg.Load(bundle.Definitions())
	}
	if dbDefs, err := repo.ListVariableDefinitions(ctx); err != nil {
		slog.Warn("failed to list variable definitions from database", "error", err)
	} else if len(dbDefs) > 0 {
		reg.Load(dbDefs)
		slog.Info("loaded variable definitions from database", "count", len(dbDefs))
	}
	slog.Info("variable registry initialized", "variables", reg.Count())

	// Initialize Clearance Engine
	engine, err := clearance.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize clearance engine", "error", err)
		os.Exit(1)
	}
	clearanceRules := clearance.DefaultRules()
	if bundle != nil && len(bundle.Rules) > 0 {
		clearanceRules = bundle.ClearanceRules()
	}
	for _, rule := range clearanceRules {
		if err := engine.ValidateRule(rule); err != nil {
			slog.Error("invalid default clearance rule", "id", rule.ID, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("clearance engine initialized", "default_rules", len(clearanceRules))

	// Initialize Configuration Store. The bundle's sections become the
	// deployment-wide defaults for companies with no stored configuration.
	store := configstore.New(repo, cacheImpl, cfg.Cache.LocalTTL, logger)
	store.SetDefaultRules(clearanceRules)
	if bundle != nil {
		store.SetDefaultWeights(bundle.WeightConfig())
		store.SetDefaultFallbacks(bundle.FallbackTable())
		store.SetDefaultThresholds(bundle.ScoreThresholds())
	}

	// Initialize Scoring Pipeline
	pipe := pipeline.New(reg, engine, logger)
	slog.Info("scoring pipeline initialized", "engine_version", pipeline.EngineVersion)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, store, pipe)

		var companyIDs []string
		if envCompanies := os.Getenv("KESTREL_COMPANIES"); envCompanies != "" {
			for _, id := range strings.Split(envCompanies, ",") {
				if id = strings.TrimSpace(id); id != "" {
					companyIDs = append(companyIDs, id)
				}
			}
		}

		workerCfg := worker.Config{
			CompanyIDs:  companyIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "company_count", len(companyIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, store, pipe, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
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

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║        Credit Scoring Engine              ║")
	fmt.Println("  ║     Every applicant, explained.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score                   - Score an applicant record")
	fmt.Println("    POST /score/batch             - Score a batch of records")
	fmt.Println("    GET  /records/{id}            - Get scored record by ID")
	fmt.Println("    GET  /variables               - List scoring variables")
	fmt.Println("    POST /variables               - Create a variable")
	fmt.Println("    POST /variables/reload        - Hot-reload variables")
	fmt.Println("    GET  /weights                 - Get weight configuration")
	fmt.Println("    PUT  /weights                 - Replace weight configuration")
	fmt.Println("    GET  /fallbacks               - Get fallback score table")
	fmt.Println("    PUT  /fallbacks               - Replace fallback score table")
	fmt.Println("    PUT  /mappings/{partnerID}    - Replace partner field mapping")
	fmt.Println("    GET  /clearance-rules         - List clearance rules")
	fmt.Println("    POST /clearance-rules         - Create a clearance rule")
	fmt.Println("    POST /clearance-rules/reload  - Hot-reload clearance rules")
	fmt.Println("    GET  /stats                   - Per-company counters")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
