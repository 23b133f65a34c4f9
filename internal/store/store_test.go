package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vthunder/moments/internal/types"
)

// setupTestStore creates a temporary test database
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "moments-store-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	s, err := Open(tmpDir)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to open store: %v", err)
	}

	cleanup := func() {
		s.Close()
		os.RemoveAll(tmpDir)
	}

	return s, cleanup
}

func testMoment(id string, impact float64) *types.PivotalMoment {
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	return &types.PivotalMoment{
		ID:           id,
		Title:        "Acme acquires RoboCorp",
		Description:  "Acme announced the acquisition of RoboCorp for $2B",
		Impact:       impact,
		MicroFactors: []types.Factor{types.FactorCompany, types.FactorCompetition},
		MacroFactors: []types.Factor{types.FactorTechnology},
		Entities: types.Entities{
			Companies: []string{"Acme", "RoboCorp"},
			People:    []string{"Jane Smith"},
		},
		Keywords:    []string{"acquisition", "robotics"},
		Timeline:    types.Timeline{Start: &start},
		SourceID:    "company/acme/news.md",
		SourcePath:  "/data/companies/acme/news.md",
		SourceType:  types.SourceCompany,
		ExtractedAt: time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_UpsertAndGetMoment(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	m := testMoment("m-1", 72)
	if err := s.UpsertMoment(m); err != nil {
		t.Fatalf("UpsertMoment failed: %v", err)
	}

	got, err := s.GetMoment("m-1")
	if err != nil {
		t.Fatalf("GetMoment failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected moment, got nil")
	}
	if got.Title != m.Title {
		t.Errorf("Expected title %q, got %q", m.Title, got.Title)
	}
	if got.Impact != 72 {
		t.Errorf("Expected impact 72, got %f", got.Impact)
	}
	if len(got.MicroFactors) != 2 || got.MicroFactors[0] != types.FactorCompany {
		t.Errorf("Micro factors not preserved: %v", got.MicroFactors)
	}
	if len(got.MacroFactors) != 1 || got.MacroFactors[0] != types.FactorTechnology {
		t.Errorf("Macro factors not preserved: %v", got.MacroFactors)
	}
	if len(got.Entities.Companies) != 2 {
		t.Errorf("Expected 2 companies, got %v", got.Entities.Companies)
	}
	if len(got.Keywords) != 2 {
		t.Errorf("Expected 2 keywords, got %v", got.Keywords)
	}
	if got.Timeline.Start == nil {
		t.Fatal("Expected timeline start, got nil")
	}
	if !got.Timeline.Start.Equal(*m.Timeline.Start) {
		t.Errorf("Expected timeline start %v, got %v", m.Timeline.Start, got.Timeline.Start)
	}
	if got.SourceType != types.SourceCompany {
		t.Errorf("Expected source type company, got %s", got.SourceType)
	}
}

func TestStore_GetMomentNotFound(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	got, err := s.GetMoment("nope")
	if err != nil {
		t.Fatalf("GetMoment failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing moment, got %+v", got)
	}
}

func TestStore_UpsertMomentUpdatesInPlace(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	m := testMoment("m-1", 50)
	if err := s.UpsertMoment(m); err != nil {
		t.Fatalf("UpsertMoment failed: %v", err)
	}

	m.Title = "Acme completes RoboCorp acquisition"
	m.Impact = 80
	if err := s.UpsertMoment(m); err != nil {
		t.Fatalf("Second UpsertMoment failed: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Moments != 1 {
		t.Errorf("Expected 1 moment after upsert, got %d", stats.Moments)
	}

	got, _ := s.GetMoment("m-1")
	if got.Impact != 80 {
		t.Errorf("Expected updated impact 80, got %f", got.Impact)
	}
	if got.Title != "Acme completes RoboCorp acquisition" {
		t.Errorf("Expected updated title, got %q", got.Title)
	}
}

func TestStore_UpsertMomentsBatch(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	batch := []types.PivotalMoment{
		*testMoment("m-1", 40),
		*testMoment("m-2", 60),
		*testMoment("m-3", 90),
	}
	if err := s.UpsertMoments(batch); err != nil {
		t.Fatalf("UpsertMoments failed: %v", err)
	}

	all, err := s.AllMoments()
	if err != nil {
		t.Fatalf("AllMoments failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 moments, got %d", len(all))
	}
}

func TestStore_ListMomentsFilters(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	m1 := testMoment("m-1", 30)
	m2 := testMoment("m-2", 70)
	m2.SourceID = "technology/quantum/overview.md"
	m2.SourceType = types.SourceTechnology
	m2.MicroFactors = nil
	m2.MacroFactors = []types.Factor{types.FactorRegulation}
	m3 := testMoment("m-3", 90)

	for _, m := range []*types.PivotalMoment{m1, m2, m3} {
		if err := s.UpsertMoment(m); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}

	// By source type
	got, err := s.ListMoments(Filter{SourceType: types.SourceTechnology})
	if err != nil {
		t.Fatalf("ListMoments failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-2" {
		t.Errorf("Expected [m-2] for technology filter, got %v", momentIDs(got))
	}

	// By factor
	got, err = s.ListMoments(Filter{Factor: "regulation"})
	if err != nil {
		t.Fatalf("ListMoments failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-2" {
		t.Errorf("Expected [m-2] for regulation filter, got %v", momentIDs(got))
	}

	// By min impact, sorted by impact descending
	got, err = s.ListMoments(Filter{MinImpact: 50})
	if err != nil {
		t.Fatalf("ListMoments failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 moments above impact 50, got %d", len(got))
	}
	if got[0].ID != "m-3" || got[1].ID != "m-2" {
		t.Errorf("Expected impact-descending [m-3 m-2], got %v", momentIDs(got))
	}

	// Source prefix
	got, err = s.ListMoments(Filter{SourcePrefix: "company/acme"})
	if err != nil {
		t.Fatalf("ListMoments failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 moments under company/acme, got %d", len(got))
	}

	// Limit
	got, err = s.ListMoments(Filter{Limit: 1})
	if err != nil {
		t.Fatalf("ListMoments failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-3" {
		t.Errorf("Expected top moment m-3 with limit 1, got %v", momentIDs(got))
	}
}

func TestStore_ListMomentsDateRange(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	early := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)

	m1 := testMoment("m-early", 50)
	m1.Timeline.Start = &early
	m2 := testMoment("m-late", 50)
	m2.Timeline.Start = &late

	for _, m := range []*types.PivotalMoment{m1, m2} {
		if err := s.UpsertMoment(m); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.ListMoments(Filter{Since: &cutoff})
	if err != nil {
		t.Fatalf("ListMoments failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-late" {
		t.Errorf("Expected [m-late] after cutoff, got %v", momentIDs(got))
	}

	got, err = s.ListMoments(Filter{Until: &cutoff})
	if err != nil {
		t.Fatalf("ListMoments failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-early" {
		t.Errorf("Expected [m-early] before cutoff, got %v", momentIDs(got))
	}
}

func TestStore_DeleteMomentsBySource(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	m1 := testMoment("m-1", 50)
	m2 := testMoment("m-2", 60)
	m3 := testMoment("m-3", 70)
	m3.SourceID = "company/other/profile.md"

	for _, m := range []*types.PivotalMoment{m1, m2, m3} {
		if err := s.UpsertMoment(m); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}

	n, err := s.DeleteMomentsBySource("company/acme/news.md")
	if err != nil {
		t.Fatalf("DeleteMomentsBySource failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deleted, got %d", n)
	}

	all, _ := s.AllMoments()
	if len(all) != 1 || all[0].ID != "m-3" {
		t.Errorf("Expected only m-3 to remain, got %v", momentIDs(all))
	}
}

func TestStore_UpdateImpact(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	if err := s.UpsertMoment(testMoment("m-1", 50)); err != nil {
		t.Fatalf("UpsertMoment failed: %v", err)
	}

	if err := s.UpdateImpact("m-1", 85.5); err != nil {
		t.Fatalf("UpdateImpact failed: %v", err)
	}
	got, _ := s.GetMoment("m-1")
	if got.Impact != 85.5 {
		t.Errorf("Expected impact 85.5, got %f", got.Impact)
	}

	// Clamped above 100
	if err := s.UpdateImpact("m-1", 140); err != nil {
		t.Fatalf("UpdateImpact failed: %v", err)
	}
	got, _ = s.GetMoment("m-1")
	if got.Impact != 100 {
		t.Errorf("Expected impact clamped to 100, got %f", got.Impact)
	}

	// Missing moment errors
	if err := s.UpdateImpact("nope", 50); err == nil {
		t.Error("Expected error for missing moment")
	}
}

func TestStore_ReplaceCorrelations(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	for _, id := range []string{"m-1", "m-2", "m-3"} {
		if err := s.UpsertMoment(testMoment(id, 50)); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}

	first := []types.Correlation{
		{ID: "c-1", MomentA: "m-1", MomentB: "m-2", Score: 0.8, Window: "2026-03-05..2026-03-19", SharedEntities: []string{"Acme"}},
	}
	if err := s.ReplaceCorrelations(first); err != nil {
		t.Fatalf("ReplaceCorrelations failed: %v", err)
	}

	second := []types.Correlation{
		{ID: "c-2", MomentA: "m-1", MomentB: "m-3", Score: 0.6, Window: "2026-03-05..2026-03-19"},
		{ID: "c-3", MomentA: "m-2", MomentB: "m-3", Score: 0.4, Window: "2026-03-05..2026-03-19"},
	}
	if err := s.ReplaceCorrelations(second); err != nil {
		t.Fatalf("ReplaceCorrelations failed: %v", err)
	}

	all, err := s.ListCorrelations("", 0)
	if err != nil {
		t.Fatalf("ListCorrelations failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 correlations after replace, got %d", len(all))
	}
	// Ordered by score descending
	if all[0].ID != "c-2" || all[1].ID != "c-3" {
		t.Errorf("Expected score-descending [c-2 c-3], got [%s %s]", all[0].ID, all[1].ID)
	}
}

func TestStore_ListCorrelationsForMoment(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	for _, id := range []string{"m-1", "m-2", "m-3"} {
		if err := s.UpsertMoment(testMoment(id, 50)); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}
	correlations := []types.Correlation{
		{ID: "c-1", MomentA: "m-1", MomentB: "m-2", Score: 0.8, Window: "w"},
		{ID: "c-2", MomentA: "m-2", MomentB: "m-3", Score: 0.6, Window: "w"},
	}
	if err := s.ReplaceCorrelations(correlations); err != nil {
		t.Fatalf("ReplaceCorrelations failed: %v", err)
	}

	got, err := s.ListCorrelations("m-3", 0)
	if err != nil {
		t.Fatalf("ListCorrelations failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c-2" {
		t.Errorf("Expected [c-2] for m-3, got %d correlations", len(got))
	}

	got, err = s.ListCorrelations("m-2", 0)
	if err != nil {
		t.Fatalf("ListCorrelations failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 correlations for m-2, got %d", len(got))
	}
}

func TestStore_CorrelationsCascadeOnMomentDelete(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	for _, id := range []string{"m-1", "m-2"} {
		if err := s.UpsertMoment(testMoment(id, 50)); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}
	if err := s.ReplaceCorrelations([]types.Correlation{
		{ID: "c-1", MomentA: "m-1", MomentB: "m-2", Score: 0.8, Window: "w"},
	}); err != nil {
		t.Fatalf("ReplaceCorrelations failed: %v", err)
	}

	if err := s.DeleteMoment("m-1"); err != nil {
		t.Fatalf("DeleteMoment failed: %v", err)
	}

	got, _ := s.ListCorrelations("", 0)
	if len(got) != 0 {
		t.Errorf("Expected correlations to cascade on moment delete, got %d", len(got))
	}
}

func TestStore_GetStats(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	m1 := testMoment("m-1", 40)
	m2 := testMoment("m-2", 80)
	m2.SourceType = types.SourceTechnology
	m2.SourceID = "technology/quantum/overview.md"

	for _, m := range []*types.PivotalMoment{m1, m2} {
		if err := s.UpsertMoment(m); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}
	if err := s.ReplaceCorrelations([]types.Correlation{
		{ID: "c-1", MomentA: "m-1", MomentB: "m-2", Score: 0.5, Window: "w"},
	}); err != nil {
		t.Fatalf("ReplaceCorrelations failed: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Moments != 2 {
		t.Errorf("Expected 2 moments, got %d", stats.Moments)
	}
	if stats.Correlations != 1 {
		t.Errorf("Expected 1 correlation, got %d", stats.Correlations)
	}
	if stats.AvgImpact != 60 {
		t.Errorf("Expected avg impact 60, got %f", stats.AvgImpact)
	}
	if stats.MaxImpact != 80 {
		t.Errorf("Expected max impact 80, got %f", stats.MaxImpact)
	}
	if stats.BySource["company"] != 1 || stats.BySource["technology"] != 1 {
		t.Errorf("Unexpected source counts: %v", stats.BySource)
	}
	// Both moments carry the company factor
	if stats.ByFactor["company"] != 2 {
		t.Errorf("Expected factor count company=2, got %v", stats.ByFactor)
	}
	if stats.LastExtracted == nil {
		t.Error("Expected last extracted time")
	}
}

func TestStore_SearchText(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	m1 := testMoment("m-1", 50)
	m1.Title = "Quantum computing breakthrough announced"
	m1.Description = "Researchers demonstrated error-corrected qubits"
	m1.Keywords = []string{"quantum", "qubits"}

	m2 := testMoment("m-2", 50)
	m2.Title = "Acme opens new warehouse"
	m2.Description = "Logistics expansion in Europe"
	m2.Keywords = []string{"logistics"}

	for _, m := range []*types.PivotalMoment{m1, m2} {
		if err := s.UpsertMoment(m); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}

	got, err := s.SearchText("quantum computing", 10)
	if err != nil {
		t.Fatalf("SearchText failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-1" {
		t.Errorf("Expected [m-1] for quantum query, got %v", momentIDs(got))
	}

	got, err = s.SearchText("warehouse logistics", 10)
	if err != nil {
		t.Fatalf("SearchText failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-2" {
		t.Errorf("Expected [m-2] for logistics query, got %v", momentIDs(got))
	}

	got, err = s.SearchText("", 10)
	if err != nil {
		t.Fatalf("SearchText failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no results for empty query, got %d", len(got))
	}
}

func TestStore_SetEmbeddingAndSearchSimilar(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	for _, id := range []string{"m-1", "m-2", "m-3"} {
		if err := s.UpsertMoment(testMoment(id, 50)); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}

	embeddings := map[string][]float32{
		"m-1": {1.0, 0.0, 0.0, 0.0},
		"m-2": {0.9, 0.1, 0.0, 0.0},
		"m-3": {0.0, 0.0, 1.0, 0.0},
	}
	for id, emb := range embeddings {
		if err := s.SetEmbedding(id, emb); err != nil {
			t.Fatalf("SetEmbedding failed for %s: %v", id, err)
		}
	}

	got, err := s.SearchSimilar([]float32{1.0, 0.0, 0.0, 0.0}, 2)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(got))
	}
	if got[0].Moment.ID != "m-1" {
		t.Errorf("Expected closest moment m-1, got %s", got[0].Moment.ID)
	}
	if got[1].Moment.ID != "m-2" {
		t.Errorf("Expected second moment m-2, got %s", got[1].Moment.ID)
	}
	if got[0].Similarity < got[1].Similarity {
		t.Errorf("Expected descending similarity, got %f then %f", got[0].Similarity, got[1].Similarity)
	}
}

func TestStore_SetEmbeddingMissingMoment(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	if err := s.SetEmbedding("nope", []float32{1, 0}); err == nil {
		t.Error("Expected error for missing moment")
	}
}

func TestStore_ExportImportRoundtrip(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	for _, id := range []string{"m-1", "m-2"} {
		if err := s.UpsertMoment(testMoment(id, 50)); err != nil {
			t.Fatalf("UpsertMoment failed: %v", err)
		}
	}
	if err := s.ReplaceCorrelations([]types.Correlation{
		{ID: "c-1", MomentA: "m-1", MomentB: "m-2", Score: 0.7, Window: "w", SharedKeywords: []string{"acquisition"}},
	}); err != nil {
		t.Fatalf("ReplaceCorrelations failed: %v", err)
	}

	var buf bytes.Buffer
	if err := s.ExportJSON(&buf); err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	stats, _ := s.GetStats()
	if stats.Moments != 0 {
		t.Fatalf("Expected empty store after clear, got %d moments", stats.Moments)
	}

	nm, nc, err := s.ImportJSON(&buf)
	if err != nil {
		t.Fatalf("ImportJSON failed: %v", err)
	}
	if nm != 2 || nc != 1 {
		t.Errorf("Expected 2 moments and 1 correlation imported, got %d and %d", nm, nc)
	}

	got, _ := s.GetMoment("m-1")
	if got == nil {
		t.Fatal("Expected m-1 after import")
	}
	correlations, _ := s.ListCorrelations("", 0)
	if len(correlations) != 1 || len(correlations[0].SharedKeywords) != 1 {
		t.Errorf("Correlation not restored correctly: %+v", correlations)
	}
}

func TestStore_Backup(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	if err := s.UpsertMoment(testMoment("m-1", 50)); err != nil {
		t.Fatalf("UpsertMoment failed: %v", err)
	}

	backupDir := filepath.Join(filepath.Dir(s.Path()), "backup")
	dest := filepath.Join(backupDir, "moments.db")
	if err := s.Backup(dest); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("Backup file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("Expected non-empty backup file")
	}

	// Backup must be an openable database with the data in it
	restored, err := Open(backupDir)
	if err != nil {
		t.Fatalf("Failed to open backup: %v", err)
	}
	defer restored.Close()

	got, err := restored.GetMoment("m-1")
	if err != nil {
		t.Fatalf("GetMoment on backup failed: %v", err)
	}
	if got == nil {
		t.Error("Expected m-1 in backup")
	}
}

func TestStore_ClearRemovesEverything(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	if err := s.UpsertMoment(testMoment("m-1", 50)); err != nil {
		t.Fatalf("UpsertMoment failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	all, err := s.AllMoments()
	if err != nil {
		t.Fatalf("AllMoments failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected no moments after clear, got %d", len(all))
	}
}

func momentIDs(moments []types.PivotalMoment) []string {
	ids := make([]string, len(moments))
	for i, m := range moments {
		ids[i] = m.ID
	}
	return ids
}
