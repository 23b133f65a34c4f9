// Package extract turns catalog content into pivotal moments through an LLM,
// then enforces the factor taxonomy and enriches correlation keywords locally.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/types"
)

// Generator is the interface for LLM completion
type Generator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Extractor performs LLM-based pivotal-moment extraction
type Extractor struct {
	generator Generator
	maxChars  int // per-item body truncation for prompts
}

// NewExtractor creates a moment extractor
func NewExtractor(generator Generator, maxChars int) *Extractor {
	if maxChars <= 0 {
		maxChars = 12000
	}
	return &Extractor{generator: generator, maxChars: maxChars}
}

const momentSystemPrompt = `You are a business intelligence analyst. You read unstructured company and technology content and extract PIVOTAL MOMENTS: discrete business-relevant events that could shift a company's trajectory.

Classify every moment against this fixed factor taxonomy. Use these exact labels and no others.

MICRO FACTORS (forces inside or immediately around a company):
- company: leadership changes, product launches, strategy shifts, layoffs
- competition: competitor moves, market share battles, pricing wars
- partners: partnerships, alliances, channel or ecosystem changes
- customers: major wins or losses, demand shifts, churn events

MACRO FACTORS (external environment):
- economic: markets, funding climate, rates, inflation
- geo_political: sanctions, trade policy, conflict, elections
- regulation: laws, compliance actions, antitrust
- technology: technology shifts, breakthroughs, standards
- environment: climate events, sustainability pressure
- supply_chain: logistics, shortages, sourcing changes

Impact is 0-100: 0-29 minor, 30-59 notable, 60-79 significant, 80-100 pivotal for the company's trajectory.

Be conservative: only extract events actually described in the content. Do not invent dates; when you infer a date from context, set "date_estimated": true.`

// momentExtractionPrompt formats: %s = source block, %d = source count
const momentExtractionPrompt = `Extract pivotal moments from the following %d content source(s).

%s

Return ONLY a JSON array (no prose, no markdown fences). Each moment:
{
  "source_index": 1,
  "title": "short event headline",
  "description": "2-3 sentence summary of what happened and why it matters",
  "impact": 70,
  "micro_factors": ["company"],
  "macro_factors": ["technology"],
  "entities": {"companies": ["..."], "technologies": ["..."], "people": ["..."], "locations": ["..."]},
  "keywords": ["lowercase", "search", "terms"],
  "start_date": "2026-03-01",
  "end_date": "",
  "date_estimated": false
}

source_index is the 1-based number of the source the moment came from. A source with no pivotal moments contributes nothing. If no source has any, return: []

JSON:`

// ExtractBatch runs one LLM request over a batch of content items and maps
// the returned moments back to their source items. Unattributable or invalid
// moments are dropped, not errors; a transport failure is an error.
func (e *Extractor) ExtractBatch(ctx context.Context, items []types.ContentItem) ([]types.PivotalMoment, error) {
	if e.generator == nil {
		return nil, fmt.Errorf("no generator configured")
	}
	if len(items) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(momentExtractionPrompt, len(items), e.buildSourceBlock(items))
	response, err := e.generator.Complete(ctx, momentSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	raw := parseMomentJSON(response)
	if len(raw) == 0 {
		logging.Debug("extract", "no moments parsed from response: %s", logging.Truncate(response, 200))
	}

	now := time.Now()
	var moments []types.PivotalMoment
	for _, r := range raw {
		idx := r.SourceIndex
		if idx == 0 && len(items) == 1 {
			idx = 1 // single-source batches tolerate a missing index
		}
		if idx < 1 || idx > len(items) {
			logging.Debug("extract", "dropping moment %q: bad source_index %d", r.Title, r.SourceIndex)
			continue
		}
		item := items[idx-1]

		m, ok := r.toMoment(item, now)
		if !ok {
			continue
		}
		m.Keywords = EnrichKeywords(m.Title+" "+m.Description, m.Keywords)
		moments = append(moments, m)
	}

	logging.Info("extract", "batch of %d items yielded %d moments", len(items), len(moments))
	return moments, nil
}

// buildSourceBlock renders the numbered source sections of the prompt
func (e *Extractor) buildSourceBlock(items []types.ContentItem) string {
	var b strings.Builder
	for i, item := range items {
		body := item.Body
		if len(body) > e.maxChars {
			body = body[:e.maxChars] + "\n[truncated]"
		}
		fmt.Fprintf(&b, "--- SOURCE %d ---\n", i+1)
		fmt.Fprintf(&b, "Catalog entry: %s (%s)\n", item.ParentName, item.Source)
		fmt.Fprintf(&b, "Document: %s\n", item.Title)
		if !item.UpdatedAt.IsZero() {
			fmt.Fprintf(&b, "Updated: %s\n", item.UpdatedAt.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "\n%s\n\n", body)
	}
	return b.String()
}

// rawMoment is the loose shape we accept from the model
type rawMoment struct {
	SourceIndex   int            `json:"source_index"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Impact        float64        `json:"impact"`
	MicroFactors  []string       `json:"micro_factors"`
	MacroFactors  []string       `json:"macro_factors"`
	Entities      types.Entities `json:"entities"`
	Keywords      []string       `json:"keywords"`
	StartDate     string         `json:"start_date"`
	EndDate       string         `json:"end_date"`
	DateEstimated bool           `json:"date_estimated"`
}

// toMoment validates and converts a raw moment. Returns ok=false when the
// record is unusable (empty title).
func (r rawMoment) toMoment(item types.ContentItem, now time.Time) (types.PivotalMoment, bool) {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return types.PivotalMoment{}, false
	}

	m := types.PivotalMoment{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(r.Description),
		Impact:      clampImpact(r.Impact),
		Entities:    r.Entities,
		SourceID:    item.ID,
		SourcePath:  item.Path,
		SourceType:  item.Source,
		ExtractedAt: now,
		UpdatedAt:   now,
	}

	m.MicroFactors = filterFactors(r.MicroFactors, types.ValidMicroFactor)
	m.MacroFactors = filterFactors(r.MacroFactors, types.ValidMacroFactor)

	if t, ok := parseMomentDate(r.StartDate); ok {
		m.Timeline.Start = &t
	}
	if t, ok := parseMomentDate(r.EndDate); ok {
		m.Timeline.End = &t
	}
	m.Timeline.IsEstimated = r.DateEstimated
	if m.Timeline.Start == nil && !r.DateEstimated {
		// No usable date at all counts as estimated
		m.Timeline.IsEstimated = true
	}

	m.Keywords = dedupeLower(r.Keywords)
	return m, true
}

// parseMomentJSON parses the model's moment array, tolerating fences and
// surrounding prose. Array first, then a single-object fallback. Anything
// unparseable yields nil.
func parseMomentJSON(response string) []rawMoment {
	response = cleanResponse(response)

	arrayStart := strings.Index(response, "[")
	arrayEnd := strings.LastIndex(response, "]")
	if arrayStart >= 0 && arrayEnd > arrayStart {
		var moments []rawMoment
		if err := json.Unmarshal([]byte(response[arrayStart:arrayEnd+1]), &moments); err == nil {
			return moments
		}
	}

	objectStart := strings.Index(response, "{")
	objectEnd := strings.LastIndex(response, "}")
	if objectStart >= 0 && objectEnd > objectStart {
		var m rawMoment
		if err := json.Unmarshal([]byte(response[objectStart:objectEnd+1]), &m); err == nil {
			return []rawMoment{m}
		}
		// Some models wrap the array in {"moments": [...]}
		var wrapped struct {
			Moments []rawMoment `json:"moments"`
		}
		if err := json.Unmarshal([]byte(response[objectStart:objectEnd+1]), &wrapped); err == nil && len(wrapped.Moments) > 0 {
			return wrapped.Moments
		}
	}

	return nil
}

// cleanResponse strips markdown fences and whitespace from LLM responses
func cleanResponse(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```json") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	} else if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}
	return response
}

// filterFactors keeps tags the taxonomy accepts, deduped, order preserved
func filterFactors(tags []string, valid func(string) (types.Factor, bool)) []types.Factor {
	var out []types.Factor
	seen := map[types.Factor]bool{}
	for _, tag := range tags {
		f, ok := valid(tag)
		if !ok {
			logging.Debug("extract", "dropping unknown factor tag %q", tag)
			continue
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func clampImpact(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func parseMomentDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func dedupeLower(ss []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range ss {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
