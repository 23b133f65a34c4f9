package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vthunder/efficient-notion-mcp/notion"

	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/store"
	"github.com/vthunder/moments/internal/types"
)

const (
	topMoments      = 15
	topCorrelations = 20
)

// Reporter builds digests from the store and writes them under OutDir
type Reporter struct {
	cfg   config.ReportConfig
	store *store.Store
}

// New creates a reporter
func New(cfg config.ReportConfig, st *store.Store) *Reporter {
	return &Reporter{cfg: cfg, store: st}
}

// Generate renders a digest of the current database and writes it to OutDir
// as digest-YYYY-MM-DD.md. When a Notion page is configured the file carries
// notion_id frontmatter so PublishNotion can find its target. Returns the
// written path.
func (r *Reporter) Generate(result *types.AnalysisResult) (string, error) {
	data, err := r.collect(result)
	if err != nil {
		return "", err
	}

	md := RenderDigest(data)
	content := md
	if r.cfg.NotionPageID != "" {
		content = fmt.Sprintf("---\nnotion_id: %s\ntitle: Moments Digest %s\ngenerated_at: %s\n---\n\n%s",
			r.cfg.NotionPageID,
			data.GeneratedAt.Format("2006-01-02"),
			data.GeneratedAt.Format(time.RFC3339),
			md)
	}

	if err := os.MkdirAll(r.cfg.OutDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	path := filepath.Join(r.cfg.OutDir, fmt.Sprintf("digest-%s.md", data.GeneratedAt.Format("2006-01-02")))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write digest: %w", err)
	}

	logging.Info("report", "Wrote digest to %s (%d moments, %d correlations)",
		path, len(data.Moments), len(data.Correlations))
	return path, nil
}

// PublishNotion pushes a generated digest file to the configured Notion page
func (r *Reporter) PublishNotion(path string) error {
	if r.cfg.NotionPageID == "" {
		return fmt.Errorf("no notion page configured")
	}

	client, err := notion.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create notion client: %w", err)
	}
	if err := client.PushPageWithScope(path, "", false); err != nil {
		return fmt.Errorf("failed to push digest: %w", err)
	}

	logging.Info("report", "Published digest to Notion page %s", r.cfg.NotionPageID)
	return nil
}

func (r *Reporter) collect(result *types.AnalysisResult) (DigestData, error) {
	data := DigestData{
		GeneratedAt: time.Now(),
		Result:      result,
		Titles:      make(map[string]string),
	}

	moments, err := r.store.ListMoments(store.Filter{SortBy: "impact", Limit: topMoments})
	if err != nil {
		return data, fmt.Errorf("failed to list moments: %w", err)
	}
	data.Moments = moments
	for _, m := range moments {
		data.Titles[m.ID] = m.Title
	}

	corrs, err := r.store.ListCorrelations("", topCorrelations)
	if err != nil {
		return data, fmt.Errorf("failed to list correlations: %w", err)
	}
	data.Correlations = corrs

	// Correlations can reference moments outside the top list
	for _, c := range corrs {
		for _, id := range []string{c.MomentA, c.MomentB} {
			if _, ok := data.Titles[id]; ok {
				continue
			}
			if m, err := r.store.GetMoment(id); err == nil && m != nil {
				data.Titles[id] = m.Title
			}
		}
	}

	stats, err := r.store.GetStats()
	if err != nil {
		return data, fmt.Errorf("failed to read stats: %w", err)
	}
	data.Stats = stats

	return data, nil
}
