// analyze runs one analysis pass over the catalog from the command line and
// prints what changed. Useful for cron jobs and for checking what a daemon
// run would do (-dry-run).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/vthunder/moments/internal/analyze"
	"github.com/vthunder/moments/internal/catalog"
	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/correlate"
	"github.com/vthunder/moments/internal/extract"
	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/provider"
	"github.com/vthunder/moments/internal/report"
	"github.com/vthunder/moments/internal/store"
)

func main() {
	configPath := flag.String("config", "moments.yaml", "config file path")
	dataDir := flag.String("data", "", "data directory override")
	full := flag.Bool("full", false, "re-analyze everything, ignoring the fingerprint cache")
	dryRun := flag.Bool("dry-run", false, "detect changes without calling the provider")
	writeReport := flag.Bool("report", false, "write a markdown digest after the run")
	notion := flag.Bool("notion", false, "publish the digest to Notion (implies -report)")
	verbose := flag.Bool("v", false, "verbose output")
	flag.Parse()

	if *verbose {
		logging.SetDebug(true)
	}
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
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

	// A dry run only fingerprints files, so a missing provider is fine
	var client provider.Client
	providerName := ""
	primary, fallback, perr := provider.New(ctx, cfg.Provider)
	if perr != nil {
		if !*dryRun {
			log.Fatalf("Failed to create provider: %v", perr)
		}
		log.Printf("No provider available (%v), dry run continues", perr)
	} else {
		client = primary
		providerName = primary.Name()
		if fallback != nil {
			client = provider.NewFailover(primary, fallback, cfg.Health.FailureThreshold)
		}
	}

	loader := catalog.NewLoader(cfg.Catalog.CompaniesDir, cfg.Catalog.TechnologiesDir)
	extractor := extract.NewExtractor(client, cfg.Analysis.MaxContentChars)
	correlator := correlate.New(cfg.Analysis.WindowDays, cfg.Analysis.CorrelationThreshold,
		cfg.Analysis.SameSourceBonus, cfg.Analysis.ImpactBoost)

	engine := analyze.NewEngine(cfg, loader, cache, st, extractor, correlator)
	if providerName != "" {
		engine.SetProviderName(providerName)
	}
	if perr == nil {
		if embedder, err := provider.NewEmbedder(ctx, cfg.Provider); err == nil && embedder != nil {
			engine.SetEmbedder(embedder)
		} else if err != nil {
			log.Printf("Warning: embedder unavailable: %v", err)
		}
	}
	engine.SetProgress(func(stage string, completed, total int) {
		log.Printf("  %s: %d/%d", stage, completed, total)
	})

	mode := "incremental"
	if *full {
		mode = "full"
	}
	log.Printf("Starting %s analysis (companies: %s, technologies: %s)",
		mode, cfg.Catalog.CompaniesDir, cfg.Catalog.TechnologiesDir)

	start := time.Now()
	result, err := engine.Analyze(ctx, analyze.Options{Full: *full, DryRun: *dryRun})
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	log.Printf("Catalog: %d items (%d to analyze, %d unchanged, %d removed)",
		result.ItemsTotal, result.ItemsTotal-result.ItemsSkipped, result.ItemsSkipped, result.ItemsRemoved)

	if *dryRun {
		log.Println("Dry run - no extraction performed")
		return
	}

	log.Printf("✅ Analysis complete in %v", time.Since(start).Round(time.Second))
	log.Printf("   Items analyzed: %d", result.ItemsAnalyzed)
	log.Printf("   Moments: %d new, %d kept", result.MomentsNew, result.MomentsKept)
	log.Printf("   Correlations: %d (%d impact boosts)", result.Correlations, result.ImpactBoosts)
	if len(result.Errors) > 0 {
		log.Printf("   ⚠️  %d batch error(s):", len(result.Errors))
		for _, e := range result.Errors {
			log.Printf("     - %s", logging.Truncate(e, 200))
		}
	}

	if *writeReport || *notion {
		reporter := report.New(cfg.Report, st)
		path, err := reporter.Generate(result)
		if err != nil {
			log.Fatalf("Failed to write digest: %v", err)
		}
		log.Printf("Digest written to %s", path)

		if *notion {
			if err := reporter.PublishNotion(path); err != nil {
				log.Fatalf("Failed to publish to Notion: %v", err)
			}
			log.Println("Digest published to Notion")
		}
	}

	// Hard failure for cron: nothing analyzed and every batch errored
	if result.ItemsAnalyzed == 0 && len(result.Errors) > 0 {
		os.Exit(1)
	}
}
