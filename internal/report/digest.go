// Package report renders markdown digests of the moment database and
// publishes them to disk and optionally to a Notion page.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vthunder/moments/internal/store"
	"github.com/vthunder/moments/internal/types"
)

// DigestData bundles everything one digest covers
type DigestData struct {
	GeneratedAt  time.Time
	Result       *types.AnalysisResult // most recent run, nil when none
	Moments      []types.PivotalMoment // highest impact first
	Correlations []types.Correlation   // highest score first
	Titles       map[string]string     // moment ID -> title for correlation lines
	Stats        *store.Stats
}

// RenderDigest produces the markdown body of a digest
func RenderDigest(d DigestData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Moments Digest - %s\n\n", d.GeneratedAt.Format("January 2, 2006"))

	if r := d.Result; r != nil {
		b.WriteString("## Last Run\n\n")
		fmt.Fprintf(&b, "- Mode: %s, %s", r.Mode, r.Duration.Round(time.Second))
		if r.Provider != "" {
			fmt.Fprintf(&b, " via %s", r.Provider)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "- Items: %d analyzed, %d skipped, %d removed of %d total\n",
			r.ItemsAnalyzed, r.ItemsSkipped, r.ItemsRemoved, r.ItemsTotal)
		fmt.Fprintf(&b, "- Moments: %d new, %d kept\n", r.MomentsNew, r.MomentsKept)
		fmt.Fprintf(&b, "- Correlations: %d, %d impact boosts\n", r.Correlations, r.ImpactBoosts)
		if len(r.Errors) > 0 {
			fmt.Fprintf(&b, "- Errors: %d\n", len(r.Errors))
		}
		b.WriteString("\n")
	}

	if len(d.Moments) > 0 {
		b.WriteString("## Top Moments\n\n")
		for i, m := range d.Moments {
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, m.Title)
			fmt.Fprintf(&b, "**Impact %.0f**", m.Impact)
			if fs := m.Factors(); len(fs) > 0 {
				fmt.Fprintf(&b, " | %s", joinFactors(fs))
			}
			fmt.Fprintf(&b, " | %s", m.When().Format("2006-01-02"))
			if m.Timeline.IsEstimated {
				b.WriteString(" (estimated)")
			}
			fmt.Fprintf(&b, " | `%s`\n\n", m.SourceID)
			if m.Description != "" {
				b.WriteString(m.Description + "\n\n")
			}
		}
	}

	if len(d.Correlations) > 0 {
		b.WriteString("## Correlations\n\n")
		for _, c := range d.Correlations {
			fmt.Fprintf(&b, "- **%.2f** %s + %s (window %s",
				c.Score, titleOr(d.Titles, c.MomentA), titleOr(d.Titles, c.MomentB), c.Window)
			if shared := sharedSummary(c); shared != "" {
				fmt.Fprintf(&b, "; shared: %s", shared)
			}
			b.WriteString(")\n")
		}
		b.WriteString("\n")
	}

	if s := d.Stats; s != nil {
		b.WriteString("## Catalog Pulse\n\n")
		fmt.Fprintf(&b, "- %d moments from %d sources, %d with embeddings\n",
			s.Moments, len(s.BySource), s.WithEmbedding)
		fmt.Fprintf(&b, "- Impact: avg %.1f, max %.1f\n", s.AvgImpact, s.MaxImpact)
		if line := factorLine(s.ByFactor); line != "" {
			fmt.Fprintf(&b, "- By factor: %s\n", line)
		}
		if s.LastExtracted != nil {
			fmt.Fprintf(&b, "- Last extraction: %s\n", s.LastExtracted.Format("2006-01-02 15:04 UTC"))
		}
	}

	return b.String()
}

func joinFactors(fs []types.Factor) string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return strings.Join(out, ", ")
}

func titleOr(titles map[string]string, id string) string {
	if t, ok := titles[id]; ok && t != "" {
		return fmt.Sprintf("%q", t)
	}
	return id
}

// sharedSummary lists the pair's strongest overlap, entities before keywords
func sharedSummary(c types.Correlation) string {
	var parts []string
	parts = append(parts, c.SharedEntities...)
	parts = append(parts, c.SharedKeywords...)
	if len(parts) > 5 {
		parts = parts[:5]
	}
	return strings.Join(parts, ", ")
}

// factorLine renders factor counts, most common first
func factorLine(byFactor map[string]int) string {
	type fc struct {
		name  string
		count int
	}
	var fcs []fc
	for name, count := range byFactor {
		fcs = append(fcs, fc{name, count})
	}
	sort.Slice(fcs, func(i, j int) bool {
		if fcs[i].count != fcs[j].count {
			return fcs[i].count > fcs[j].count
		}
		return fcs[i].name < fcs[j].name
	})

	out := make([]string, len(fcs))
	for i, f := range fcs {
		out[i] = fmt.Sprintf("%s %d", f.name, f.count)
	}
	return strings.Join(out, ", ")
}
