// moments is the long-running daemon: it serves the HTTP API, keeps the
// provider health monitor polling, and runs catalog analysis on demand.
//
// External dependencies:
//   - SQLite (embedded, via go-sqlite3 + sqlite-vec)
//   - Anthropic API and/or AWS Bedrock (LLM extraction, Titan embeddings)
//   - Discord (optional, health alerts and run summaries)
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vthunder/moments/internal/analyze"
	"github.com/vthunder/moments/internal/catalog"
	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/correlate"
	"github.com/vthunder/moments/internal/extract"
	"github.com/vthunder/moments/internal/health"
	"github.com/vthunder/moments/internal/notify"
	"github.com/vthunder/moments/internal/provider"
	"github.com/vthunder/moments/internal/server"
	"github.com/vthunder/moments/internal/store"
)

func main() {
	configPath := flag.String("config", "moments.yaml", "config file path")
	flag.Parse()

	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err == nil {
		log.Println("[config] Loaded .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	cache := analyze.NewCache(cfg.DataDir)
	if err := cache.Load(); err != nil {
		log.Printf("Warning: failed to load analysis cache: %v", err)
	}

	ctx := context.Background()
	primary, fallback, err := provider.New(ctx, cfg.Provider)
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}

	var client provider.Client = primary
	var failover *provider.Failover
	if fallback != nil {
		failover = provider.NewFailover(primary, fallback, cfg.Health.FailureThreshold)
		client = failover
	}

	embedder, err := provider.NewEmbedder(ctx, cfg.Provider)
	if err != nil {
		log.Printf("Warning: embedder unavailable, semantic search disabled: %v", err)
		embedder = nil
	}

	loader := catalog.NewLoader(cfg.Catalog.CompaniesDir, cfg.Catalog.TechnologiesDir)
	extractor := extract.NewExtractor(client, cfg.Analysis.MaxContentChars)
	correlator := correlate.New(cfg.Analysis.WindowDays, cfg.Analysis.CorrelationThreshold,
		cfg.Analysis.SameSourceBonus, cfg.Analysis.ImpactBoost)

	engine := analyze.NewEngine(cfg, loader, cache, st, extractor, correlator)
	engine.SetProviderName(primary.Name())
	if embedder != nil {
		engine.SetEmbedder(embedder)
	}

	monitor := health.NewMonitor(cfg.Health)
	monitor.Watch(primary.Name(), primary, true)
	if fallback != nil {
		monitor.Watch(fallback.Name(), fallback, false)
	}
	if failover != nil {
		monitor.BindFailover(failover)
	}

	notifier, err := notify.New(cfg.Notify)
	if err != nil {
		log.Fatalf("Failed to create Discord notifier: %v", err)
	}
	if notifier != nil {
		if err := notifier.Start(); err != nil {
			log.Printf("Warning: Discord unavailable, alerts disabled: %v", err)
			notifier = nil
		} else {
			monitor.OnAlert(notifier.HandleAlert)
		}
	}

	monitor.Start()

	srv := server.New(cfg, st, engine, loader)
	srv.SetMonitor(monitor)
	if embedder != nil {
		srv.SetEmbedder(embedder)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		monitor.Stop()
		if notifier != nil {
			notifier.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("moments listening on :%s (data: %s)", cfg.Server.Port, cfg.DataDir)
	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
