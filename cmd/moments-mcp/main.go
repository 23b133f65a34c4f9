// moments-mcp exposes the moments database over MCP stdio so agents can
// query extracted moments, correlations, and stats, and kick off analysis
// runs, without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/moments/internal/analyze"
	"github.com/vthunder/moments/internal/catalog"
	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/correlate"
	"github.com/vthunder/moments/internal/extract"
	"github.com/vthunder/moments/internal/provider"
	"github.com/vthunder/moments/internal/store"
	"github.com/vthunder/moments/internal/types"
)

type service struct {
	cfg      *config.Config
	store    *store.Store
	engine   *analyze.Engine // nil when no provider is configured
	embedder provider.Embedder
}

func main() {
	// Load .env file - try executable's parent dir (repo root), then exe dir, then cwd
	envPaths := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		envPaths = append([]string{
			filepath.Join(filepath.Dir(exeDir), ".env"),
			filepath.Join(exeDir, ".env"),
		}, envPaths...)
	}
	for _, p := range envPaths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			break
		}
	}

	configPath := os.Getenv("MOMENTS_CONFIG")
	if configPath == "" {
		configPath = "moments.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	svc := &service{cfg: cfg, store: st}
	svc.initEngine()

	s := server.NewMCPServer(
		"moments-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	// Register tools
	s.AddTool(searchTool(), svc.handleSearch)
	s.AddTool(getTool(), svc.handleGet)
	s.AddTool(listTool(), svc.handleList)
	s.AddTool(statsTool(), svc.handleStats)
	s.AddTool(correlationsTool(), svc.handleCorrelations)
	s.AddTool(analyzeTool(), svc.handleAnalyze)

	// Run server
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// initEngine wires the analysis engine when provider credentials exist.
// Query tools work without one; moments_analyze reports the error.
func (s *service) initEngine() {
	ctx := context.Background()
	primary, fallback, err := provider.New(ctx, s.cfg.Provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No provider configured, moments_analyze disabled: %v\n", err)
		return
	}

	var client provider.Client = primary
	if fallback != nil {
		client = provider.NewFailover(primary, fallback, s.cfg.Health.FailureThreshold)
	}

	cache := analyze.NewCache(s.cfg.DataDir)
	if err := cache.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load analysis cache: %v\n", err)
	}

	loader := catalog.NewLoader(s.cfg.Catalog.CompaniesDir, s.cfg.Catalog.TechnologiesDir)
	extractor := extract.NewExtractor(client, s.cfg.Analysis.MaxContentChars)
	correlator := correlate.New(s.cfg.Analysis.WindowDays, s.cfg.Analysis.CorrelationThreshold,
		s.cfg.Analysis.SameSourceBonus, s.cfg.Analysis.ImpactBoost)

	s.engine = analyze.NewEngine(s.cfg, loader, cache, s.store, extractor, correlator)
	s.engine.SetProviderName(primary.Name())

	if emb, err := provider.NewEmbedder(ctx, s.cfg.Provider); err == nil && emb != nil {
		s.embedder = emb
		s.engine.SetEmbedder(emb)
	}
}

func searchTool() mcp.Tool {
	return mcp.NewTool("moments_search",
		mcp.WithDescription("Search extracted pivotal moments by meaning (vector search when embeddings are configured) or full text. Returns matching moments as JSON."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query, e.g. 'chip export restrictions'"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum results to return (default 10)"),
		),
		mcp.WithBoolean("semantic",
			mcp.Description("Use vector search when available. Default: true. Set false to force full-text search."),
		),
	)
}

func (s *service) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	k := 10
	if v, ok := args["k"].(float64); ok && v > 0 {
		k = int(v)
	}
	semantic := true
	if v, ok := args["semantic"].(bool); ok {
		semantic = v
	}

	if semantic && s.embedder != nil {
		if emb, err := s.embedder.Embed(ctx, query); err == nil {
			scored, err := s.store.SearchSimilar(emb, k)
			if err == nil && len(scored) > 0 {
				return jsonResult(map[string]any{"mode": "semantic", "results": scored})
			}
		}
	}

	moments, err := s.store.SearchText(query, k)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"mode": "text", "results": moments})
}

func getTool() mcp.Tool {
	return mcp.NewTool("moments_get",
		mcp.WithDescription("Fetch a single pivotal moment by ID, including factors, entities, timeline, and source."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Moment ID"),
		),
	)
}

func (s *service) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	id, _ := args["id"].(string)
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	m, err := s.store.GetMoment(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get moment: %v", err)), nil
	}
	if m == nil {
		return mcp.NewToolResultError(fmt.Sprintf("moment not found: %s", id)), nil
	}
	return jsonResult(m)
}

func listTool() mcp.Tool {
	return mcp.NewTool("moments_list",
		mcp.WithDescription("List pivotal moments, filtered and sorted. Default sort is impact descending."),
		mcp.WithString("factor",
			mcp.Description("Filter by factor tag, e.g. 'regulation' or 'company'"),
		),
		mcp.WithString("source",
			mcp.Description("Filter by source ID prefix, e.g. 'company/acme'"),
		),
		mcp.WithString("source_type",
			mcp.Description("Filter by catalog: 'company' or 'technology'"),
		),
		mcp.WithNumber("min_impact",
			mcp.Description("Minimum impact score (0-100)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default 20)"),
		),
	)
}

func (s *service) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)

	f := store.Filter{Limit: 20}
	if v, ok := args["factor"].(string); ok {
		f.Factor = v
	}
	if v, ok := args["source"].(string); ok {
		f.SourcePrefix = v
	}
	if v, ok := args["source_type"].(string); ok {
		f.SourceType = types.SourceType(v)
	}
	if v, ok := args["min_impact"].(float64); ok {
		f.MinImpact = v
	}
	if v, ok := args["limit"].(float64); ok && v > 0 {
		f.Limit = int(v)
	}

	moments, err := s.store.ListMoments(f)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list moments: %v", err)), nil
	}
	return jsonResult(map[string]any{"moments": moments, "count": len(moments)})
}

func statsTool() mcp.Tool {
	return mcp.NewTool("moments_stats",
		mcp.WithDescription("Get database statistics: moment and correlation counts, impact aggregates, breakdown by source and factor."),
	)
}

func (s *service) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.GetStats()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read stats: %v", err)), nil
	}
	return jsonResult(stats)
}

func correlationsTool() mcp.Tool {
	return mcp.NewTool("moments_correlations",
		mcp.WithDescription("List correlations between moments, strongest first. Pass moment_id to see what a specific moment correlates with."),
		mcp.WithString("moment_id",
			mcp.Description("Restrict to correlations involving this moment"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default 20)"),
		),
	)
}

func (s *service) handleCorrelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := req.Params.Arguments.(map[string]any)
	momentID, _ := args["moment_id"].(string)
	limit := 20
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	corrs, err := s.store.ListCorrelations(momentID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list correlations: %v", err)), nil
	}
	return jsonResult(map[string]any{"correlations": corrs, "count": len(corrs)})
}

func analyzeTool() mcp.Tool {
	return mcp.NewTool("moments_analyze",
		mcp.WithDescription("Run a catalog analysis pass and wait for the result. Incremental mode only re-extracts changed content; full mode re-extracts everything."),
		mcp.WithString("mode",
			mcp.Description("'incremental' (default) or 'full'"),
		),
	)
}

func (s *service) handleAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.engine == nil {
		return mcp.NewToolResultError("no provider configured: set ANTHROPIC_API_KEY or AWS credentials"), nil
	}

	args, _ := req.Params.Arguments.(map[string]any)
	mode, _ := args["mode"].(string)
	if mode == "" {
		mode = "incremental"
	}
	if mode != "incremental" && mode != "full" {
		return mcp.NewToolResultError("mode must be incremental or full"), nil
	}

	result, err := s.engine.Analyze(ctx, analyze.Options{Full: mode == "full"})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}
	return jsonResult(result)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
