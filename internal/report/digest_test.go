package report

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/store"
	"github.com/vthunder/moments/internal/types"
)

func digestMoment(id, title string, impact float64) types.PivotalMoment {
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	return types.PivotalMoment{
		ID:           id,
		Title:        title,
		Description:  "Something notable happened here.",
		Impact:       impact,
		MicroFactors: []types.Factor{types.FactorCompany},
		MacroFactors: []types.Factor{types.FactorTechnology},
		Entities:     types.Entities{Companies: []string{"Acme"}},
		Keywords:     []string{"launch"},
		Timeline:     types.Timeline{Start: &start},
		SourceID:     "company/acme/news.md",
		SourceType:   types.SourceCompany,
		ExtractedAt:  time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
	}
}

func TestRenderDigest_AllSections(t *testing.T) {
	last := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	md := RenderDigest(DigestData{
		GeneratedAt: time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC),
		Result: &types.AnalysisResult{
			Mode:          "incremental",
			Duration:      95 * time.Second,
			ItemsTotal:    10,
			ItemsAnalyzed: 4,
			ItemsSkipped:  6,
			MomentsNew:    3,
			MomentsKept:   9,
			Correlations:  2,
			ImpactBoosts:  4,
			Provider:      "anthropic",
		},
		Moments: []types.PivotalMoment{
			digestMoment("m-1", "Acme acquires Globex", 87),
			digestMoment("m-2", "Globex announces layoffs", 64),
		},
		Correlations: []types.Correlation{{
			ID:             "c-1",
			MomentA:        "m-1",
			MomentB:        "m-2",
			Score:          0.82,
			Window:         "2026-03-01..2026-03-14",
			SharedEntities: []string{"acme"},
			SharedKeywords: []string{"acquisition"},
		}},
		Titles: map[string]string{
			"m-1": "Acme acquires Globex",
			"m-2": "Globex announces layoffs",
		},
		Stats: &store.Stats{
			Moments:       12,
			Correlations:  2,
			WithEmbedding: 5,
			AvgImpact:     54.5,
			MaxImpact:     87,
			BySource:      map[string]int{"company/acme/news.md": 12},
			ByFactor:      map[string]int{"company": 8, "technology": 4},
			LastExtracted: &last,
		},
	})

	for _, want := range []string{
		"# Moments Digest - March 12, 2026",
		"## Last Run",
		"incremental",
		"4 analyzed, 6 skipped",
		"## Top Moments",
		"### 1. Acme acquires Globex",
		"**Impact 87**",
		"company, technology",
		"2026-03-10",
		"## Correlations",
		"**0.82**",
		"\"Acme acquires Globex\"",
		"2026-03-01..2026-03-14",
		"shared: acme, acquisition",
		"## Catalog Pulse",
		"12 moments from 1 sources",
		"avg 54.5, max 87.0",
		"company 8, technology 4",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Expected %q in digest:\n%s", want, md)
		}
	}
}

func TestRenderDigest_Minimal(t *testing.T) {
	md := RenderDigest(DigestData{GeneratedAt: time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)})

	if !strings.Contains(md, "# Moments Digest") {
		t.Errorf("Expected header in minimal digest:\n%s", md)
	}
	for _, section := range []string{"## Last Run", "## Top Moments", "## Correlations", "## Catalog Pulse"} {
		if strings.Contains(md, section) {
			t.Errorf("Expected no %q section in empty digest", section)
		}
	}
}

func TestRenderDigest_CorrelationFallsBackToID(t *testing.T) {
	md := RenderDigest(DigestData{
		GeneratedAt: time.Now(),
		Correlations: []types.Correlation{{
			ID: "c-1", MomentA: "m-unknown", MomentB: "m-2", Score: 0.5, Window: "w",
		}},
		Titles: map[string]string{"m-2": "Known moment"},
	})

	if !strings.Contains(md, "m-unknown") {
		t.Errorf("Expected raw ID for unknown moment in:\n%s", md)
	}
	if !strings.Contains(md, "\"Known moment\"") {
		t.Errorf("Expected quoted title for known moment in:\n%s", md)
	}
}

func TestFactorLine_SortedByCount(t *testing.T) {
	line := factorLine(map[string]int{"company": 3, "technology": 7, "regulation": 3})
	if line != "technology 7, company 3, regulation 3" {
		t.Errorf("Expected count-sorted factor line, got %q", line)
	}
}

func TestRenderDigest_EstimatedDateMarked(t *testing.T) {
	m := digestMoment("m-1", "Fuzzy event", 50)
	m.Timeline.IsEstimated = true
	md := RenderDigest(DigestData{GeneratedAt: time.Now(), Moments: []types.PivotalMoment{m}})
	if !strings.Contains(md, "(estimated)") {
		t.Errorf("Expected estimated marker in:\n%s", md)
	}
}

// --- Reporter ---

func setupTestReporter(t *testing.T, notionPage string) (*Reporter, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.ReportConfig{OutDir: dir, NotionPageID: notionPage}
	return New(cfg, st), st, dir
}

func TestReporter_GenerateWritesDigest(t *testing.T) {
	r, st, _ := setupTestReporter(t, "")

	m1 := digestMoment("m-1", "Acme acquires Globex", 87)
	if err := st.UpsertMoment(&m1); err != nil {
		t.Fatalf("UpsertMoment failed: %v", err)
	}
	m2 := digestMoment("m-2", "Globex announces layoffs", 64)
	if err := st.UpsertMoment(&m2); err != nil {
		t.Fatalf("UpsertMoment failed: %v", err)
	}
	if err := st.ReplaceCorrelations([]types.Correlation{{
		ID: "c-1", MomentA: "m-1", MomentB: "m-2", Score: 0.7, Window: "2026-03-01..2026-03-14",
	}}); err != nil {
		t.Fatalf("ReplaceCorrelations failed: %v", err)
	}

	path, err := r.Generate(nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read digest: %v", err)
	}
	text := string(content)

	if !strings.Contains(text, "Acme acquires Globex") {
		t.Errorf("Expected moment title in digest:\n%s", text)
	}
	if !strings.Contains(text, "## Correlations") {
		t.Errorf("Expected correlations section in digest:\n%s", text)
	}
	if strings.Contains(text, "notion_id") {
		t.Error("Expected no frontmatter without a Notion page")
	}
}

func TestReporter_GenerateAddsNotionFrontmatter(t *testing.T) {
	r, st, _ := setupTestReporter(t, "page123abc")

	m1 := digestMoment("m-1", "Acme acquires Globex", 87)
	if err := st.UpsertMoment(&m1); err != nil {
		t.Fatalf("UpsertMoment failed: %v", err)
	}

	path, err := r.Generate(nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read digest: %v", err)
	}
	if !strings.HasPrefix(string(content), "---\nnotion_id: page123abc\n") {
		t.Errorf("Expected notion_id frontmatter, got:\n%s", string(content)[:100])
	}
}

func TestReporter_PublishNotionRequiresPage(t *testing.T) {
	r, _, _ := setupTestReporter(t, "")
	if err := r.PublishNotion("/tmp/digest.md"); err == nil {
		t.Error("Expected error publishing without a configured page")
	}
}
