package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vthunder/moments/internal/types"
)

const correlationColumns = `id, moment_a, moment_b, score, window_label, shared_entities,
	shared_factors, shared_keywords, same_source, created_at`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// ReplaceCorrelations swaps the full correlation set in one transaction.
// Correlations are recomputed from scratch on every analysis run, so the
// previous set is discarded rather than merged.
func (s *Store) ReplaceCorrelations(correlations []types.Correlation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM correlations`); err != nil {
		return fmt.Errorf("failed to clear correlations: %w", err)
	}

	for i := range correlations {
		if err := s.insertCorrelation(tx, &correlations[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) insertCorrelation(db execer, c *types.Correlation) error {
	if c.ID == "" {
		return fmt.Errorf("correlation ID is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO correlations (id, moment_a, moment_b, score, window_label,
			shared_entities, shared_factors, shared_keywords, same_source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			score = excluded.score,
			shared_entities = excluded.shared_entities,
			shared_factors = excluded.shared_factors,
			shared_keywords = excluded.shared_keywords
	`,
		c.ID, c.MomentA, c.MomentB, c.Score, c.Window,
		marshalJSON(c.SharedEntities), marshalJSON(c.SharedFactors), marshalJSON(c.SharedKeywords),
		c.SameSource, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert correlation %s: %w", c.ID, err)
	}
	return nil
}

// ListCorrelations retrieves correlations ordered by score. An empty
// momentID returns all; otherwise only pairs involving that moment.
// limit <= 0 means no limit.
func (s *Store) ListCorrelations(momentID string, limit int) ([]types.Correlation, error) {
	query := `SELECT ` + correlationColumns + ` FROM correlations`
	var args []any
	if momentID != "" {
		query += ` WHERE moment_a = ? OR moment_b = ?`
		args = append(args, momentID, momentID)
	}
	query += ` ORDER BY score DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Correlation
	for rows.Next() {
		var c types.Correlation
		var entities, factors, keywords sql.NullString
		err := rows.Scan(
			&c.ID, &c.MomentA, &c.MomentB, &c.Score, &c.Window,
			&entities, &factors, &keywords, &c.SameSource, &c.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		c.SharedEntities = unmarshalStrings(entities)
		c.SharedFactors = unmarshalStrings(factors)
		c.SharedKeywords = unmarshalStrings(keywords)
		out = append(out, c)
	}
	return out, rows.Err()
}

func unmarshalStrings(col sql.NullString) []string {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(col.String), &out); err != nil {
		return nil
	}
	return out
}
