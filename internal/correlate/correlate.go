// Package correlate finds related pivotal moments inside fixed temporal
// windows and raises the impact of moments that correlate.
package correlate

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/types"
)

// Similarity weights. Entities carry the most signal: two moments naming the
// same companies are far more likely related than two sharing a factor tag.
const (
	entityWeight  = 0.4
	factorWeight  = 0.3
	keywordWeight = 0.2
)

// Correlator scores moment pairs within temporal windows
type Correlator struct {
	windowDays      int
	threshold       float64
	sameSourceBonus float64
	impactBoost     float64
}

// Result of one correlation pass
type Result struct {
	Correlations []types.Correlation
	// Boosted maps moment ID -> new impact for moments raised by correlation
	Boosted map[string]float64
	Boosts  int
}

// New creates a correlator
func New(windowDays int, threshold, sameSourceBonus, impactBoost float64) *Correlator {
	if windowDays <= 0 {
		windowDays = 14
	}
	return &Correlator{
		windowDays:      windowDays,
		threshold:       threshold,
		sameSourceBonus: sameSourceBonus,
		impactBoost:     impactBoost,
	}
}

// Correlate buckets moments into windows and scores every pair per window.
// Pairs at or above the threshold become Correlation records and boost both
// moments' impact by impactBoost*score (accumulating, capped at 100).
// Deterministic: moments are sorted by ID before pairing.
func (c *Correlator) Correlate(moments []types.PivotalMoment) Result {
	res := Result{Boosted: make(map[string]float64)}

	windows := make(map[int64][]types.PivotalMoment)
	for _, m := range moments {
		windows[c.windowIndex(m.When())] = append(windows[c.windowIndex(m.When())], m)
	}

	impacts := make(map[string]float64, len(moments))
	for _, m := range moments {
		impacts[m.ID] = m.Impact
	}

	now := time.Now()
	for idx, group := range windows {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		label := c.windowLabel(idx)

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				score, shared := c.score(a, b)
				if score < c.threshold {
					continue
				}

				res.Correlations = append(res.Correlations, types.Correlation{
					ID:             uuid.NewString(),
					MomentA:        a.ID,
					MomentB:        b.ID,
					Score:          score,
					Window:         label,
					SharedEntities: shared.entities,
					SharedFactors:  shared.factors,
					SharedKeywords: shared.keywords,
					SameSource:     a.SourceID == b.SourceID,
					CreatedAt:      now,
				})

				// Boost both sides
				for _, id := range []string{a.ID, b.ID} {
					boosted := impacts[id] + c.impactBoost*score
					if boosted > 100 {
						boosted = 100
					}
					if boosted != impacts[id] {
						impacts[id] = boosted
						res.Boosted[id] = boosted
						res.Boosts++
					}
				}
			}
		}
	}

	// Stable output ordering across runs
	sort.Slice(res.Correlations, func(i, j int) bool {
		a, b := res.Correlations[i], res.Correlations[j]
		if a.MomentA != b.MomentA {
			return a.MomentA < b.MomentA
		}
		return a.MomentB < b.MomentB
	})

	logging.Info("correlate", "%d moments in %d windows -> %d correlations, %d impact boosts",
		len(moments), len(windows), len(res.Correlations), res.Boosts)
	return res
}

// shared holds per-pair overlapping elements
type sharedSets struct {
	entities []string
	factors  []string
	keywords []string
}

// score combines Jaccard similarities of the pair's entity, factor and
// keyword sets with the same-source bonus. Capped at 1.
func (c *Correlator) score(a, b types.PivotalMoment) (float64, sharedSets) {
	entA, entB := lowerSet(a.Entities.All()), lowerSet(b.Entities.All())
	facA, facB := lowerSet(factorStrings(a)), lowerSet(factorStrings(b))
	keyA, keyB := lowerSet(a.Keywords), lowerSet(b.Keywords)

	score := entityWeight*jaccard(entA, entB) +
		factorWeight*jaccard(facA, facB) +
		keywordWeight*jaccard(keyA, keyB)

	if a.SourceID == b.SourceID {
		score += c.sameSourceBonus
	}
	if score > 1 {
		score = 1
	}

	return score, sharedSets{
		entities: intersect(entA, entB),
		factors:  intersect(facA, facB),
		keywords: intersect(keyA, keyB),
	}
}

// windowIndex maps a time to its fixed epoch-aligned bucket
func (c *Correlator) windowIndex(t time.Time) int64 {
	daySecs := int64(c.windowDays) * 86400
	idx := t.UTC().Unix() / daySecs
	if t.UTC().Unix() < 0 && t.UTC().Unix()%daySecs != 0 {
		idx-- // floor division for pre-epoch dates
	}
	return idx
}

// windowLabel renders a bucket as its inclusive date span
func (c *Correlator) windowLabel(idx int64) string {
	daySecs := int64(c.windowDays) * 86400
	start := time.Unix(idx*daySecs, 0).UTC()
	end := start.AddDate(0, 0, c.windowDays-1)
	return start.Format("2006-01-02") + ".." + end.Format("2006-01-02")
}

// jaccard computes |A∩B| / |A∪B|. Two empty sets score 0, not 1: moments
// with no data in a dimension share nothing we can observe.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func lowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			set[s] = true
		}
	}
	return set
}

func intersect(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func factorStrings(m types.PivotalMoment) []string {
	fs := m.Factors()
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}
