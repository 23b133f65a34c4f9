package extract

import (
	"strings"

	"github.com/tsawler/prose/v3"
)

const maxKeywords = 24

// stopwords the keyword pass always drops. Correlation matches on keyword
// overlap, so generic business filler here would inflate every pair's score.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "with": true,
	"by": true, "from": true, "as": true, "is": true, "was": true, "are": true,
	"be": true, "has": true, "have": true, "had": true, "will": true,
	"its": true, "their": true, "this": true, "that": true, "these": true,
	"company": true, "business": true, "market": true, "year": true,
	"quarter": true, "percent": true, "million": true, "billion": true,
	"new": true, "major": true, "announcement": true, "report": true,
}

// EnrichKeywords merges model-provided keywords with noun and named-entity
// terms mined from the text. Prose failures fall back to the model's list.
func EnrichKeywords(text string, modelKeywords []string) []string {
	out := dedupeLower(modelKeywords)
	seen := map[string]bool{}
	for _, k := range out {
		seen[k] = true
	}

	for _, k := range mineKeywords(text) {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) >= maxKeywords {
			break
		}
	}

	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out
}

// mineKeywords extracts candidate terms: named entities first, then nouns
func mineKeywords(text string) []string {
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	var out []string
	seen := map[string]bool{}

	add := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if len(term) < 3 || stopwords[term] || seen[term] {
			return
		}
		seen[term] = true
		out = append(out, term)
	}

	for _, ent := range doc.Entities() {
		add(ent.Text)
	}

	for _, tok := range doc.Tokens() {
		switch tok.Tag {
		case "NN", "NNS", "NNP", "NNPS":
			add(tok.Text)
		}
	}

	return out
}
