// Package server exposes the moments database, the analysis engine and the
// health monitor over an HTTP JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vthunder/moments/internal/analyze"
	"github.com/vthunder/moments/internal/catalog"
	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/health"
	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/provider"
	"github.com/vthunder/moments/internal/store"
	"github.com/vthunder/moments/internal/types"
)

// Server is the HTTP API front end
type Server struct {
	cfg      *config.Config
	store    *store.Store
	engine   *analyze.Engine
	loader   *catalog.Loader
	monitor  *health.Monitor
	embedder provider.Embedder
	httpSrv  *http.Server
}

// New creates a server over the given components
func New(cfg *config.Config, st *store.Store, engine *analyze.Engine, loader *catalog.Loader) *Server {
	return &Server{
		cfg:    cfg,
		store:  st,
		engine: engine,
		loader: loader,
	}
}

// SetMonitor attaches the provider health monitor to /health
func (s *Server) SetMonitor(m *health.Monitor) {
	s.monitor = m
}

// SetEmbedder enables semantic search on /api/search
func (s *Server) SetEmbedder(e provider.Embedder) {
	s.embedder = e
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/moments", s.handleListMoments)
	mux.HandleFunc("GET /api/moments/{id}", s.handleGetMoment)
	mux.HandleFunc("GET /api/correlations", s.handleCorrelations)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/search", s.handleSearch)

	mux.HandleFunc("GET /api/catalog/companies", s.handleCompanies)
	mux.HandleFunc("GET /api/catalog/technologies", s.handleTechnologies)

	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/analyze/status", s.handleAnalyzeStatus)

	mux.HandleFunc("GET /api/storage/export", s.handleExport)
	mux.HandleFunc("POST /api/storage/import", s.handleImport)
	mux.HandleFunc("POST /api/storage/clear", s.handleClear)
	mux.HandleFunc("POST /api/storage/backup", s.handleBackup)
	mux.HandleFunc("GET /api/storage/status", s.handleStorageStatus)

	return mux
}

// Start blocks serving the API until Shutdown or a listener error
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    ":" + s.cfg.Server.Port,
		Handler: s.Handler(),
	}
	logging.Info("server", "Listening on :%s", s.cfg.Server.Port)
	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ─── Health ──────────────────────────────────────────────────────────────────

type healthResponse struct {
	Status          string           `json:"status"`
	AnalysisRunning bool             `json:"analysis_running"`
	System          *health.Snapshot `json:"system,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.engine != nil {
		resp.AnalysisRunning = s.engine.Running()
	}
	if s.monitor != nil {
		snap := s.monitor.Snap()
		resp.System = &snap
		if overall := s.monitor.Overall(); overall != types.ProviderHealthy {
			resp.Status = string(overall)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Moments ─────────────────────────────────────────────────────────────────

type momentsResponse struct {
	Moments []types.PivotalMoment `json:"moments"`
	Count   int                   `json:"count"`
}

func (s *Server) handleListMoments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := store.Filter{
		SourceType:   types.SourceType(q.Get("source_type")),
		SourcePrefix: q.Get("source"),
		Factor:       q.Get("factor"),
		SortBy:       q.Get("sort"),
		Limit:        intParam(q.Get("limit"), 50),
		Offset:       intParam(q.Get("offset"), 0),
	}
	if v := q.Get("min_impact"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			f.MinImpact = n
		}
	}
	if t, ok := parseTimeParam(q.Get("since")); ok {
		f.Since = &t
	}
	if t, ok := parseTimeParam(q.Get("until")); ok {
		f.Until = &t
	}

	moments, err := s.store.ListMoments(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list moments: "+err.Error())
		return
	}
	if moments == nil {
		moments = []types.PivotalMoment{}
	}
	writeJSON(w, http.StatusOK, momentsResponse{Moments: moments, Count: len(moments)})
}

func (s *Server) handleGetMoment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.store.GetMoment(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get moment: "+err.Error())
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "moment not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	corrs, err := s.store.ListCorrelations(q.Get("moment"), intParam(q.Get("limit"), 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list correlations: "+err.Error())
		return
	}
	if corrs == nil {
		corrs = []types.Correlation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"correlations": corrs, "count": len(corrs)})
}

// ─── Stats ───────────────────────────────────────────────────────────────────

type statsResponse struct {
	*store.Stats
	ImpactHistogram map[string]int `json:"impact_histogram"`
	TimelineBuckets map[string]int `json:"timeline_buckets"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read stats: "+err.Error())
		return
	}

	resp := statsResponse{
		Stats:           stats,
		ImpactHistogram: map[string]int{},
		TimelineBuckets: map[string]int{},
	}

	// Histogram bands follow the extraction prompt's impact grading
	all, err := s.store.AllMoments()
	if err == nil {
		for _, m := range all {
			switch {
			case m.Impact < 30:
				resp.ImpactHistogram["minor"]++
			case m.Impact < 60:
				resp.ImpactHistogram["notable"]++
			case m.Impact < 80:
				resp.ImpactHistogram["significant"]++
			default:
				resp.ImpactHistogram["pivotal"]++
			}
			resp.TimelineBuckets[m.When().UTC().Format("2006-01")]++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ─── Search ──────────────────────────────────────────────────────────────────

type searchResult struct {
	Moment     types.PivotalMoment `json:"moment"`
	Similarity float64             `json:"similarity,omitempty"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Mode    string         `json:"mode"` // semantic or text
	Results []searchResult `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := intParam(q.Get("k"), 10)

	resp := searchResponse{Query: query, Mode: "text", Results: []searchResult{}}

	// Semantic when an embedder is wired and the caller didn't force text
	if s.embedder != nil && q.Get("mode") != "text" {
		if emb, err := s.embedder.Embed(r.Context(), query); err == nil {
			scored, err := s.store.SearchSimilar(emb, k)
			if err == nil && len(scored) > 0 {
				resp.Mode = "semantic"
				for _, sm := range scored {
					resp.Results = append(resp.Results, searchResult{Moment: sm.Moment, Similarity: sm.Similarity})
				}
				writeJSON(w, http.StatusOK, resp)
				return
			}
		} else {
			logging.Debug("server", "query embedding failed, using text search: %v", err)
		}
	}

	moments, err := s.store.SearchText(query, k)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed: "+err.Error())
		return
	}
	for _, m := range moments {
		resp.Results = append(resp.Results, searchResult{Moment: m})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Catalog ─────────────────────────────────────────────────────────────────

// catalogEntry is the listing view of a company or technology, bodies omitted
type catalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Category    string `json:"category,omitempty"`
	Items       int    `json:"items"`
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	cat, err := s.loader.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "catalog load failed: "+err.Error())
		return
	}
	entries := make([]catalogEntry, 0, len(cat.Companies))
	for _, c := range cat.Companies {
		entries = append(entries, catalogEntry{
			ID: c.ID, Name: c.Name, Description: c.Description,
			URL: c.URL, Category: c.Category, Items: len(c.Content),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": entries, "count": len(entries)})
}

func (s *Server) handleTechnologies(w http.ResponseWriter, r *http.Request) {
	cat, err := s.loader.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "catalog load failed: "+err.Error())
		return
	}
	entries := make([]catalogEntry, 0, len(cat.Technologies))
	for _, t := range cat.Technologies {
		entries = append(entries, catalogEntry{
			ID: t.ID, Name: t.Name, Description: t.Description,
			URL: t.URL, Category: t.Category, Items: len(t.Content),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"technologies": entries, "count": len(entries)})
}

// ─── Analyze ─────────────────────────────────────────────────────────────────

type analyzeRequest struct {
	Mode   string `json:"mode,omitempty"` // incremental (default) or full
	DryRun bool   `json:"dry_run,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = "incremental"
	}
	if req.Mode != "incremental" && req.Mode != "full" {
		writeError(w, http.StatusBadRequest, "mode must be incremental or full")
		return
	}

	if s.engine.Running() {
		writeError(w, http.StatusConflict, "analysis already running")
		return
	}

	opts := analyze.Options{Full: req.Mode == "full", DryRun: req.DryRun}
	go func() {
		// The run outlives this request
		if _, err := s.engine.Analyze(context.Background(), opts); err != nil {
			if !errors.Is(err, analyze.ErrAnalysisRunning) {
				logging.Warn("server", "background analysis failed: %v", err)
			}
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "mode": req.Mode})
}

func (s *Server) handleAnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.engine.Running(),
		"last":    s.engine.LastResult(),
	})
}

// ─── Storage ─────────────────────────────────────────────────────────────────

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=moments-export-%s.json", time.Now().Format("20060102")))
	if err := s.store.ExportJSON(w); err != nil {
		logging.Warn("server", "export failed: %v", err)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	moments, corrs, err := s.store.ImportJSON(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "import failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"moments": moments, "correlations": corrs})
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !req.Confirm {
		writeError(w, http.StatusBadRequest, "clear requires {\"confirm\": true}")
		return
	}

	if err := s.store.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "clear failed: "+err.Error())
		return
	}
	// Fingerprints must go with the moments or incremental runs would skip
	// the still-cached items forever
	if s.engine != nil {
		if err := s.engine.InvalidateCache(); err != nil {
			logging.Warn("server", "cache invalidation failed: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type backupRequest struct {
	Path string `json:"path,omitempty"`
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	dest := req.Path
	if dest == "" {
		dest = filepath.Join(s.cfg.DataDir, "backups",
			fmt.Sprintf("moments-%s.db", time.Now().Format("20060102-150405")))
	}

	if err := s.store.Backup(dest); err != nil {
		writeError(w, http.StatusInternalServerError, "backup failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "path": dest})
}

type storageStatus struct {
	Path          string     `json:"path"`
	SizeBytes     int64      `json:"size_bytes"`
	Moments       int        `json:"moments"`
	Correlations  int        `json:"correlations"`
	WithEmbedding int        `json:"with_embedding"`
	LastAnalysis  *time.Time `json:"last_analysis,omitempty"`
}

func (s *Server) handleStorageStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read stats: "+err.Error())
		return
	}

	resp := storageStatus{
		Path:          s.store.Path(),
		Moments:       stats.Moments,
		Correlations:  stats.Correlations,
		WithEmbedding: stats.WithEmbedding,
	}
	if info, err := os.Stat(s.store.Path()); err == nil {
		resp.SizeBytes = info.Size()
	}
	if s.engine != nil {
		if last := s.engine.LastResult(); last != nil {
			t := last.StartedAt
			resp.LastAnalysis = &t
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseTimeParam(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
