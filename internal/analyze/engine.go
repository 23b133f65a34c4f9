package analyze

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vthunder/moments/internal/catalog"
	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/correlate"
	"github.com/vthunder/moments/internal/extract"
	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/provider"
	"github.com/vthunder/moments/internal/store"
	"github.com/vthunder/moments/internal/types"
)

// ErrAnalysisRunning is returned when a run is requested while another is
// still in flight
var ErrAnalysisRunning = errors.New("analysis already running")

// ProgressFunc receives stage updates during a run
type ProgressFunc func(stage string, completed, total int)

// Options select the analysis mode
type Options struct {
	Full   bool // ignore the cache and re-analyze everything
	DryRun bool // detect changes only; no LLM calls, no writes
}

// Engine drives the incremental pipeline: change detection against the
// fingerprint cache, batched moment extraction, merge-back into the store,
// and the correlation pass. Only one run executes at a time.
type Engine struct {
	cfg        *config.Config
	loader     *catalog.Loader
	cache      *Cache
	store      *store.Store
	extractor  *extract.Extractor
	correlator *correlate.Correlator

	embedder provider.Embedder // nil disables semantic indexing
	provName string

	mu       sync.Mutex
	running  bool
	lastRun  *types.AnalysisResult
	progress ProgressFunc
}

// NewEngine assembles the analysis pipeline
func NewEngine(cfg *config.Config, loader *catalog.Loader, cache *Cache, st *store.Store, extractor *extract.Extractor, correlator *correlate.Correlator) *Engine {
	return &Engine{
		cfg:        cfg,
		loader:     loader,
		cache:      cache,
		store:      st,
		extractor:  extractor,
		correlator: correlator,
	}
}

// SetEmbedder enables embedding generation for analyzed moments
func (e *Engine) SetEmbedder(emb provider.Embedder) {
	e.embedder = emb
}

// SetProviderName records which provider results should report
func (e *Engine) SetProviderName(name string) {
	e.provName = name
}

// SetProgress installs a stage-progress callback
func (e *Engine) SetProgress(fn ProgressFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress = fn
}

// Running reports whether an analysis is in flight
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// LastResult returns a copy of the most recent run's result, or nil
func (e *Engine) LastResult() *types.AnalysisResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastRun == nil {
		return nil
	}
	cp := *e.lastRun
	return &cp
}

// InvalidateCache forgets all fingerprints so the next incremental run
// re-extracts everything. Called when the store is cleared out from under
// the engine.
func (e *Engine) InvalidateCache() error {
	e.cache.Clear()
	return e.cache.Save()
}

// DetectChanges classifies catalog items against the fingerprint cache
func (e *Engine) DetectChanges(items []types.ContentItem) types.ChangeSet {
	var cs types.ChangeSet
	live := make(map[string]bool, len(items))

	for _, item := range items {
		live[item.ID] = true
		hash := Fingerprint(item, e.cfg.Analysis.HashBodyPrefix)
		entry, ok := e.cache.Get(item.ID)
		switch {
		case !ok:
			cs.New = append(cs.New, item)
		case entry.Hash != hash:
			cs.Modified = append(cs.Modified, item)
		default:
			cs.Unchanged = append(cs.Unchanged, item)
		}
	}

	for id := range e.cache.Snapshot() {
		if !live[id] {
			cs.Removed = append(cs.Removed, id)
		}
	}
	sort.Strings(cs.Removed)

	return cs
}

type analyzedBatch struct {
	items   []types.ContentItem
	moments []types.PivotalMoment
}

// Analyze runs one pass of the pipeline. Incremental runs extract only new
// and modified items; full runs drop the cache and re-extract everything.
// Dry runs stop after change detection. A failed batch is logged and left
// stale so the next run retries it.
func (e *Engine) Analyze(ctx context.Context, opts Options) (*types.AnalysisResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAnalysisRunning
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	started := time.Now()
	mode := "incremental"
	if opts.Full {
		mode = "full"
	}
	result := &types.AnalysisResult{
		Mode:      mode,
		StartedAt: started,
		Provider:  e.provName,
	}

	logging.Info("analyze", "Starting %s analysis", mode)

	cat, err := e.loader.Load()
	if err != nil {
		return nil, fmt.Errorf("catalog load failed: %w", err)
	}
	items := cat.ContentItems()
	live := make(map[string]bool, len(items))
	for _, item := range items {
		live[item.ID] = true
	}

	if opts.Full {
		e.cache.Clear()
	}

	changes := e.DetectChanges(items)
	result.ItemsTotal = changes.Total()
	result.ItemsSkipped = len(changes.Unchanged)
	result.ItemsRemoved = len(changes.Removed)

	logging.Info("analyze", "Changes: %d new, %d modified, %d unchanged, %d removed",
		len(changes.New), len(changes.Modified), len(changes.Unchanged), len(changes.Removed))

	if opts.DryRun {
		result.Duration = time.Since(started)
		e.setLastRun(result)
		return result, nil
	}

	// Drop moments whose source item no longer exists
	for _, id := range changes.Removed {
		if n, err := e.store.DeleteMomentsBySource(id); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("remove %s: %v", id, err))
		} else if n > 0 {
			logging.Debug("analyze", "Removed %d moments for deleted item %s", n, id)
		}
		e.cache.Delete(id)
	}

	// Extract in parallel batches
	dirty := changes.Dirty()
	batches := batchItems(dirty, e.cfg.Analysis.BatchSize)

	var (
		resMu    sync.Mutex
		analyzed []analyzedBatch
		done     int32
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Analysis.Parallelism)

	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			moments, err := e.extractor.ExtractBatch(gctx, batch)
			completed := int(atomic.AddInt32(&done, 1))
			e.report("extract", completed, len(batches))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Skip the batch; its items keep stale cache entries so the
				// next run retries them
				resMu.Lock()
				result.Errors = append(result.Errors, fmt.Sprintf("batch of %d items: %v", len(batch), err))
				resMu.Unlock()
				logging.Info("analyze", "Batch failed (%d items): %v", len(batch), err)
				return nil
			}
			resMu.Lock()
			analyzed = append(analyzed, analyzedBatch{items: batch, moments: moments})
			resMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		result.Duration = time.Since(started)
		e.setLastRun(result)
		return result, err
	}

	// Merge back: each analyzed item's moments replace whatever it had before
	now := time.Now()
	for _, ab := range analyzed {
		bySource := make(map[string][]types.PivotalMoment)
		for _, m := range ab.moments {
			bySource[m.SourceID] = append(bySource[m.SourceID], m)
		}
		for _, item := range ab.items {
			if _, err := e.store.DeleteMomentsBySource(item.ID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("replace %s: %v", item.ID, err))
				continue
			}
			ms := bySource[item.ID]
			if err := e.store.UpsertMoments(ms); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("store %s: %v", item.ID, err))
				continue
			}
			e.cache.Put(item.ID, CacheEntry{
				Hash:        Fingerprint(item, e.cfg.Analysis.HashBodyPrefix),
				AnalyzedAt:  now,
				MomentCount: len(ms),
			})
			result.ItemsAnalyzed++
			result.MomentsNew += len(ms)
		}
	}

	// Full runs also sweep moments orphaned by a stale or deleted cache
	if opts.Full {
		if srcs, err := e.store.SourceIDs(); err == nil {
			for _, src := range srcs {
				if live[src] {
					continue
				}
				if n, err := e.store.DeleteMomentsBySource(src); err == nil && n > 0 {
					logging.Info("analyze", "Swept %d orphaned moments from %s", n, src)
					result.ItemsRemoved++
				}
			}
		}
	}

	if err := e.cache.Save(); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("cache save: %v", err))
	}

	// Correlation pass runs over the full moment set, not just this run's
	all, err := e.store.AllMoments()
	if err != nil {
		result.Duration = time.Since(started)
		e.setLastRun(result)
		return result, fmt.Errorf("correlation read failed: %w", err)
	}
	result.MomentsKept = len(all) - result.MomentsNew

	corrRes := e.correlator.Correlate(all)
	if err := e.store.ReplaceCorrelations(corrRes.Correlations); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("correlations: %v", err))
	} else {
		for id, impact := range corrRes.Boosted {
			if err := e.store.UpdateImpact(id, impact); err != nil {
				logging.Debug("analyze", "Boost failed for %s: %v", id, err)
			}
		}
	}
	result.Correlations = len(corrRes.Correlations)
	result.ImpactBoosts = corrRes.Boosts
	e.report("correlate", 1, 1)

	if e.embedder != nil {
		e.embedMoments(ctx, analyzed)
	}

	result.Duration = time.Since(started)
	logging.Info("analyze", "Analysis complete in %v: %d analyzed, %d skipped, %d new moments, %d correlations, %d boosts",
		result.Duration.Round(time.Millisecond), result.ItemsAnalyzed, result.ItemsSkipped,
		result.MomentsNew, result.Correlations, result.ImpactBoosts)

	e.setLastRun(result)
	return result, nil
}

// embedMoments indexes freshly extracted moments for semantic search.
// Best-effort: failures are logged and skipped.
func (e *Engine) embedMoments(ctx context.Context, analyzed []analyzedBatch) {
	var indexed int
	for _, ab := range analyzed {
		for _, m := range ab.moments {
			if ctx.Err() != nil {
				return
			}
			text := m.Title
			if m.Description != "" {
				text += ". " + m.Description
			}
			emb, err := e.embedder.Embed(ctx, text)
			if err != nil {
				logging.Debug("analyze", "Embedding failed for %s: %v", m.ID, err)
				continue
			}
			if err := e.store.SetEmbedding(m.ID, emb); err != nil {
				logging.Debug("analyze", "Embedding store failed for %s: %v", m.ID, err)
				continue
			}
			indexed++
		}
	}
	if indexed > 0 {
		logging.Info("analyze", "Indexed %d moment embeddings", indexed)
	}
}

func (e *Engine) report(stage string, completed, total int) {
	e.mu.Lock()
	fn := e.progress
	e.mu.Unlock()
	if fn != nil {
		fn(stage, completed, total)
	}
}

func (e *Engine) setLastRun(r *types.AnalysisResult) {
	e.mu.Lock()
	e.lastRun = r
	e.mu.Unlock()
}

// batchItems splits items into slices of at most size
func batchItems(items []types.ContentItem, size int) [][]types.ContentItem {
	if size <= 0 {
		size = 5
	}
	var batches [][]types.ContentItem
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
