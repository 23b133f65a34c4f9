package extract

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vthunder/moments/internal/types"
)

// mockGenerator returns a canned response and records prompts
type mockGenerator struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (m *mockGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return "", m.err
	}
	return m.response, nil
}

func testItems(n int) []types.ContentItem {
	items := make([]types.ContentItem, n)
	for i := range items {
		items[i] = types.ContentItem{
			ID:         fmt.Sprintf("company/acme/doc-%d.md", i+1),
			Path:       fmt.Sprintf("/catalog/companies/acme/doc-%d.md", i+1),
			Title:      fmt.Sprintf("Doc %d", i+1),
			Body:       "Acme launched a new robotics platform.",
			Source:     types.SourceCompany,
			ParentID:   "acme",
			ParentName: "Acme",
			UpdatedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return items
}

func TestExtractBatch_MapsSourceIndex(t *testing.T) {
	gen := &mockGenerator{response: `[
		{"source_index": 2, "title": "Robotics launch", "description": "Acme entered robotics.",
		 "impact": 72, "micro_factors": ["company"], "macro_factors": ["technology"],
		 "entities": {"companies": ["Acme"]}, "keywords": ["robotics"],
		 "start_date": "2026-02-20", "date_estimated": false}
	]`}

	ex := NewExtractor(gen, 0)
	moments, err := ex.ExtractBatch(context.Background(), testItems(3))
	if err != nil {
		t.Fatalf("ExtractBatch failed: %v", err)
	}
	if len(moments) != 1 {
		t.Fatalf("Expected 1 moment, got %d", len(moments))
	}

	m := moments[0]
	if m.SourceID != "company/acme/doc-2.md" {
		t.Errorf("Expected source doc-2, got %s", m.SourceID)
	}
	if m.Impact != 72 {
		t.Errorf("Expected impact 72, got %g", m.Impact)
	}
	if len(m.MicroFactors) != 1 || m.MicroFactors[0] != types.FactorCompany {
		t.Errorf("Expected micro factor company, got %v", m.MicroFactors)
	}
	if m.Timeline.Start == nil || m.Timeline.Start.Format("2006-01-02") != "2026-02-20" {
		t.Errorf("Expected start date 2026-02-20, got %v", m.Timeline.Start)
	}
	if gen.calls != 1 {
		t.Errorf("Expected 1 LLM call, got %d", gen.calls)
	}
}

func TestExtractBatch_DropsBadIndexAndEmptyTitle(t *testing.T) {
	gen := &mockGenerator{response: `[
		{"source_index": 9, "title": "Out of range", "impact": 50},
		{"source_index": 1, "title": "", "impact": 50},
		{"source_index": 1, "title": "Kept", "impact": 50}
	]`}

	ex := NewExtractor(gen, 0)
	moments, err := ex.ExtractBatch(context.Background(), testItems(2))
	if err != nil {
		t.Fatalf("ExtractBatch failed: %v", err)
	}
	if len(moments) != 1 {
		t.Fatalf("Expected 1 surviving moment, got %d", len(moments))
	}
	if moments[0].Title != "Kept" {
		t.Errorf("Expected 'Kept', got %s", moments[0].Title)
	}
}

func TestExtractBatch_SingleItemToleratesMissingIndex(t *testing.T) {
	gen := &mockGenerator{response: `[{"title": "No index", "impact": 40}]`}

	ex := NewExtractor(gen, 0)
	moments, err := ex.ExtractBatch(context.Background(), testItems(1))
	if err != nil {
		t.Fatalf("ExtractBatch failed: %v", err)
	}
	if len(moments) != 1 {
		t.Fatalf("Expected 1 moment, got %d", len(moments))
	}
	if moments[0].SourceID != "company/acme/doc-1.md" {
		t.Errorf("Expected attribution to the only item, got %s", moments[0].SourceID)
	}
}

func TestExtractBatch_MalformedJSONIsNotAnError(t *testing.T) {
	gen := &mockGenerator{response: "Sorry, I cannot produce JSON today."}

	ex := NewExtractor(gen, 0)
	moments, err := ex.ExtractBatch(context.Background(), testItems(2))
	if err != nil {
		t.Fatalf("Expected graceful empty result, got error: %v", err)
	}
	if len(moments) != 0 {
		t.Errorf("Expected 0 moments, got %d", len(moments))
	}
}

func TestExtractBatch_GeneratorErrorPropagates(t *testing.T) {
	gen := &mockGenerator{err: fmt.Errorf("connection refused")}

	ex := NewExtractor(gen, 0)
	if _, err := ex.ExtractBatch(context.Background(), testItems(1)); err == nil {
		t.Error("Expected transport error to propagate")
	}
}

func TestExtractBatch_TruncatesLongBodies(t *testing.T) {
	items := testItems(1)
	items[0].Body = strings.Repeat("x", 5000)

	gen := &mockGenerator{response: "[]"}
	ex := NewExtractor(gen, 1000)
	if _, err := ex.ExtractBatch(context.Background(), items); err != nil {
		t.Fatalf("ExtractBatch failed: %v", err)
	}

	if !strings.Contains(gen.prompts[0], "[truncated]") {
		t.Error("Expected truncation marker in prompt")
	}
	if strings.Contains(gen.prompts[0], strings.Repeat("x", 1001)) {
		t.Error("Prompt contains more body than the truncation limit")
	}
}

func TestParseMomentJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     int
	}{
		{"plain array", `[{"title":"A"},{"title":"B"}]`, 2},
		{"fenced json", "```json\n[{\"title\":\"A\"}]\n```", 1},
		{"fenced bare", "```\n[{\"title\":\"A\"}]\n```", 1},
		{"array inside prose", `Here you go: [{"title":"A"}] hope that helps`, 1},
		{"single object", `{"title":"A","impact":10}`, 1},
		{"wrapped object", `{"moments":[{"title":"A"},{"title":"B"}]}`, 2},
		{"empty array", `[]`, 0},
		{"garbage", `no json here`, 0},
		{"truncated array", `[{"title":"A"},{"titl`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseMomentJSON(tt.response)
			if len(got) != tt.want {
				t.Errorf("Expected %d moments, got %d", tt.want, len(got))
			}
		})
	}
}

func TestFilterFactors(t *testing.T) {
	in := []string{"company", "COMPANY", "competitors", "partners", " customers ", "economic"}
	out := filterFactors(in, types.ValidMicroFactor)

	want := []types.Factor{types.FactorCompany, types.FactorPartners, types.FactorCustomers}
	if len(out) != len(want) {
		t.Fatalf("Expected %d factors, got %d: %v", len(want), len(out), out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("factor[%d] = %s, want %s", i, out[i], want[i])
		}
	}
}

func TestClampImpact(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-10, 0}, {0, 0}, {55.5, 55.5}, {100, 100}, {250, 100},
	}
	for _, tt := range tests {
		if got := clampImpact(tt.in); got != tt.want {
			t.Errorf("clampImpact(%g) = %g, want %g", tt.in, got, tt.want)
		}
	}
}

func TestEstimatedWhenNoDate(t *testing.T) {
	r := rawMoment{Title: "Dated nowhere"}
	m, ok := r.toMoment(testItems(1)[0], time.Now())
	if !ok {
		t.Fatal("Expected valid moment")
	}
	if !m.Timeline.IsEstimated {
		t.Error("Expected undated moment to be flagged estimated")
	}
}

func TestEnrichKeywords(t *testing.T) {
	got := EnrichKeywords(
		"Acme Corporation launched a robotics platform in Berlin.",
		[]string{"Robotics", "robotics", " LAUNCH "},
	)

	if len(got) == 0 {
		t.Fatal("Expected keywords")
	}
	// Model keywords survive, lowercased and deduped
	if got[0] != "robotics" {
		t.Errorf("Expected first keyword 'robotics', got %q", got[0])
	}
	seen := map[string]bool{}
	for _, k := range got {
		if k != strings.ToLower(k) {
			t.Errorf("Keyword %q not lowercased", k)
		}
		if seen[k] {
			t.Errorf("Duplicate keyword %q", k)
		}
		seen[k] = true
	}
	if len(got) > maxKeywords {
		t.Errorf("Expected at most %d keywords, got %d", maxKeywords, len(got))
	}
}
