package store

import (
	"encoding/json"
	"sort"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/vthunder/moments/internal/types"
)

// ScoredMoment pairs a moment with its search relevance
type ScoredMoment struct {
	Moment     types.PivotalMoment `json:"moment"`
	Similarity float64             `json:"similarity"`
}

// SearchText performs keyword search over moment titles, descriptions and
// keywords using FTS5 BM25 ranking. Falls back to a Go-side scan when the
// FTS5 index is unavailable. Returns up to topK moments ordered by relevance.
func (s *Store) SearchText(query string, topK int) ([]types.PivotalMoment, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 20
	}

	if s.ftsAvailable {
		ftsQuery := strings.Join(terms, " OR ")
		rows, err := s.db.Query(`
			SELECT id
			FROM moments_fts
			WHERE moments_fts MATCH ?
			ORDER BY rank
			LIMIT ?
		`, ftsQuery, topK)
		if err == nil {
			defer rows.Close()
			var ids []string
			for rows.Next() {
				var id string
				if rows.Scan(&id) == nil {
					ids = append(ids, id)
				}
			}
			if rows.Err() == nil {
				return s.momentsByIDs(ids)
			}
		}
	}

	// Fallback: full scan with Go-side term counting
	all, err := s.AllMoments()
	if err != nil {
		return nil, err
	}

	type scored struct {
		idx   int
		score int
	}
	var candidates []scored
	for i := range all {
		haystack := strings.ToLower(all[i].Title + " " + all[i].Description + " " + strings.Join(all[i].Keywords, " "))
		matchCount := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				matchCount++
			}
		}
		if matchCount > 0 {
			candidates = append(candidates, scored{idx: i, score: matchCount})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	result := make([]types.PivotalMoment, 0, topK)
	for i := 0; i < len(candidates) && i < topK; i++ {
		result = append(result, all[candidates[i].idx])
	}
	return result, nil
}

// SearchSimilar finds the moments closest to a query embedding. Uses the
// sqlite-vec ANN index when available, falling back to a Go-side cosine
// scan over stored embeddings.
func (s *Store) SearchSimilar(queryEmb []float32, topK int) ([]ScoredMoment, error) {
	if len(queryEmb) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 10
	}

	if s.vecAvailable && s.vecDim == len(queryEmb) {
		if out, err := s.searchVec(queryEmb, topK); err == nil {
			return out, nil
		}
	}

	// Fallback: cosine over every stored embedding
	rows, err := s.db.Query(`SELECT id, embedding FROM moments WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type scored struct {
		id  string
		sim float64
	}
	var candidates []scored
	for rows.Next() {
		var id string
		var embBytes []byte
		if err := rows.Scan(&id, &embBytes); err != nil {
			continue
		}
		var emb []float32
		if err := json.Unmarshal(embBytes, &emb); err != nil {
			continue
		}
		candidates = append(candidates, scored{id: id, sim: cosineSimilarity(queryEmb, emb)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].sim > candidates[j].sim
	})

	result := make([]ScoredMoment, 0, topK)
	for i := 0; i < len(candidates) && i < topK; i++ {
		m, err := s.GetMoment(candidates[i].id)
		if err != nil || m == nil {
			continue
		}
		result = append(result, ScoredMoment{Moment: *m, Similarity: candidates[i].sim})
	}
	return result, nil
}

// searchVec performs ANN search through the vec0 index
func (s *Store) searchVec(queryEmb []float32, topK int) ([]ScoredMoment, error) {
	serialized, err := sqlite_vec.SerializeFloat32(queryEmb)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT v.moment_id, vec_distance_cosine(v.embedding, ?) AS distance
		FROM moment_vec v
		ORDER BY distance ASC
		LIMIT ?
	`, serialized, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScoredMoment
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			continue
		}
		m, err := s.GetMoment(id)
		if err != nil || m == nil {
			continue
		}
		result = append(result, ScoredMoment{Moment: *m, Similarity: 1 - distance})
	}
	return result, rows.Err()
}

func (s *Store) momentsByIDs(ids []string) ([]types.PivotalMoment, error) {
	result := make([]types.PivotalMoment, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMoment(id)
		if err != nil {
			return nil, err
		}
		if m != nil {
			result = append(result, *m)
		}
	}
	return result, nil
}

// tokenizeQuery splits free text into lowercase search terms, dropping
// short tokens and FTS5 operator punctuation
func tokenizeQuery(query string) []string {
	query = strings.ToLower(query)
	for _, p := range []string{".", ",", "!", "?", ":", ";", "'", "\"", "(", ")", "*", "-"} {
		query = strings.ReplaceAll(query, p, " ")
	}

	seen := make(map[string]bool)
	var terms []string
	for _, tok := range strings.Fields(query) {
		if len(tok) < 3 || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
		if len(terms) >= 8 {
			break
		}
	}
	return terms
}
