package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/types"
)

const momentColumns = `id, title, description, impact, micro_factors, macro_factors,
	entities, keywords, timeline_start, timeline_end, timeline_estimated,
	source_id, source_path, source_type, extracted_at, updated_at`

// UpsertMoment inserts a moment or updates it in place by ID
func (s *Store) UpsertMoment(m *types.PivotalMoment) error {
	if m.ID == "" {
		return fmt.Errorf("moment ID is required")
	}
	if m.SourceID == "" {
		return fmt.Errorf("moment source ID is required")
	}

	if m.ExtractedAt.IsZero() {
		m.ExtractedAt = time.Now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO moments (id, title, description, impact, micro_factors, macro_factors,
			entities, keywords, timeline_start, timeline_end, timeline_estimated,
			source_id, source_path, source_type, extracted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			impact = excluded.impact,
			micro_factors = excluded.micro_factors,
			macro_factors = excluded.macro_factors,
			entities = excluded.entities,
			keywords = excluded.keywords,
			timeline_start = excluded.timeline_start,
			timeline_end = excluded.timeline_end,
			timeline_estimated = excluded.timeline_estimated,
			source_path = excluded.source_path,
			source_type = excluded.source_type,
			updated_at = excluded.updated_at
	`,
		m.ID, m.Title, m.Description, m.Impact,
		marshalJSON(factorStrings(m.MicroFactors)), marshalJSON(factorStrings(m.MacroFactors)),
		marshalJSON(m.Entities), marshalJSON(m.Keywords),
		m.Timeline.Start, m.Timeline.End, m.Timeline.IsEstimated,
		m.SourceID, m.SourcePath, string(m.SourceType), m.ExtractedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert moment: %w", err)
	}
	return nil
}

// UpsertMoments writes a batch of moments in one transaction
func (s *Store) UpsertMoments(moments []types.PivotalMoment) error {
	if len(moments) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO moments (id, title, description, impact, micro_factors, macro_factors,
			entities, keywords, timeline_start, timeline_end, timeline_estimated,
			source_id, source_path, source_type, extracted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			impact = excluded.impact,
			micro_factors = excluded.micro_factors,
			macro_factors = excluded.macro_factors,
			entities = excluded.entities,
			keywords = excluded.keywords,
			timeline_start = excluded.timeline_start,
			timeline_end = excluded.timeline_end,
			timeline_estimated = excluded.timeline_estimated,
			source_path = excluded.source_path,
			source_type = excluded.source_type,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range moments {
		m := &moments[i]
		if m.ID == "" || m.SourceID == "" {
			continue
		}
		if m.ExtractedAt.IsZero() {
			m.ExtractedAt = now
		}
		if m.UpdatedAt.IsZero() {
			m.UpdatedAt = now
		}
		_, err := stmt.Exec(
			m.ID, m.Title, m.Description, m.Impact,
			marshalJSON(factorStrings(m.MicroFactors)), marshalJSON(factorStrings(m.MacroFactors)),
			marshalJSON(m.Entities), marshalJSON(m.Keywords),
			m.Timeline.Start, m.Timeline.End, m.Timeline.IsEstimated,
			m.SourceID, m.SourcePath, string(m.SourceType), m.ExtractedAt, m.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert moment %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// GetMoment retrieves a moment by ID. Returns nil when not found.
func (s *Store) GetMoment(id string) (*types.PivotalMoment, error) {
	row := s.db.QueryRow(`SELECT `+momentColumns+` FROM moments WHERE id = ?`, id)
	return scanMoment(row)
}

// Filter narrows ListMoments results. Zero values mean no constraint.
type Filter struct {
	SourceType   types.SourceType // company or technology
	SourcePrefix string           // source_id prefix, e.g. "company/acme"
	Factor       string           // micro or macro factor tag
	MinImpact    float64
	Since        *time.Time // anchor date lower bound
	Until        *time.Time // anchor date upper bound
	SortBy       string     // "impact" (default) or "date"
	Limit        int        // <= 0 means no limit
	Offset       int
}

// ListMoments retrieves moments matching the filter. The anchor date for
// range filtering and date sorting is the timeline start when present, else
// the extraction time.
func (s *Store) ListMoments(f Filter) ([]types.PivotalMoment, error) {
	var where []string
	var args []any

	if f.SourceType != "" {
		where = append(where, "source_type = ?")
		args = append(args, string(f.SourceType))
	}
	if f.SourcePrefix != "" {
		where = append(where, "source_id LIKE ?")
		args = append(args, f.SourcePrefix+"%")
	}
	if f.Factor != "" {
		like := `%"` + strings.ToLower(strings.TrimSpace(f.Factor)) + `"%`
		where = append(where, "(micro_factors LIKE ? OR macro_factors LIKE ?)")
		args = append(args, like, like)
	}
	if f.MinImpact > 0 {
		where = append(where, "impact >= ?")
		args = append(args, f.MinImpact)
	}
	if f.Since != nil {
		where = append(where, "COALESCE(timeline_start, extracted_at) >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		where = append(where, "COALESCE(timeline_start, extracted_at) <= ?")
		args = append(args, *f.Until)
	}

	query := `SELECT ` + momentColumns + ` FROM moments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch f.SortBy {
	case "date":
		query += " ORDER BY COALESCE(timeline_start, extracted_at) DESC"
	default:
		query += " ORDER BY impact DESC, COALESCE(timeline_start, extracted_at) DESC"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMomentRows(rows)
}

// AllMoments retrieves every stored moment
func (s *Store) AllMoments() ([]types.PivotalMoment, error) {
	rows, err := s.db.Query(`SELECT ` + momentColumns + ` FROM moments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMomentRows(rows)
}

// SourceIDs returns the distinct content-item IDs that have stored moments
func (s *Store) SourceIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT source_id FROM moments ORDER BY source_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MomentsBySource retrieves the moments extracted from one content item
func (s *Store) MomentsBySource(sourceID string) ([]types.PivotalMoment, error) {
	rows, err := s.db.Query(`SELECT `+momentColumns+` FROM moments WHERE source_id = ? ORDER BY id`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMomentRows(rows)
}

// DeleteMomentsBySource removes every moment extracted from one content
// item. Correlations referencing them cascade. Returns the number of
// moments removed.
func (s *Store) DeleteMomentsBySource(sourceID string) (int, error) {
	// Collect rowids first so the vec index can be cleaned; vec0 tables
	// have no foreign keys.
	var rowids []int64
	if s.vecDim > 0 {
		rows, err := s.db.Query(`SELECT rowid FROM moments WHERE source_id = ?`, sourceID)
		if err == nil {
			for rows.Next() {
				var rid int64
				if rows.Scan(&rid) == nil {
					rowids = append(rowids, rid)
				}
			}
			rows.Close()
		}
	}

	res, err := s.db.Exec(`DELETE FROM moments WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete moments for %s: %w", sourceID, err)
	}

	for _, rid := range rowids {
		s.db.Exec(`DELETE FROM moment_vec WHERE rowid = ?`, rid)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteMoment removes one moment by ID
func (s *Store) DeleteMoment(id string) error {
	if s.vecDim > 0 {
		var rowid int64
		if err := s.db.QueryRow(`SELECT rowid FROM moments WHERE id = ?`, id).Scan(&rowid); err == nil {
			s.db.Exec(`DELETE FROM moment_vec WHERE rowid = ?`, rowid)
		}
	}
	_, err := s.db.Exec(`DELETE FROM moments WHERE id = ?`, id)
	return err
}

// UpdateImpact sets a moment's impact score, clamped to 0-100
func (s *Store) UpdateImpact(id string, impact float64) error {
	if impact < 0 {
		impact = 0
	}
	if impact > 100 {
		impact = 100
	}
	res, err := s.db.Exec(`UPDATE moments SET impact = ?, updated_at = ? WHERE id = ?`, impact, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update impact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("moment %s not found", id)
	}
	return nil
}

// SetEmbedding stores a moment's embedding vector and mirrors it into the
// vec index when sqlite-vec is available
func (s *Store) SetEmbedding(id string, emb []float32) error {
	if len(emb) == 0 {
		return fmt.Errorf("empty embedding")
	}

	embBytes, err := json.Marshal(emb)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}

	res, err := s.db.Exec(`UPDATE moments SET embedding = ? WHERE id = ?`, embBytes, id)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("moment %s not found", id)
	}

	if !s.vecAvailable {
		return nil
	}
	if err := s.ensureVecTable(len(emb)); err != nil {
		logging.Debug("store", "vec index skipped for %s: %v", id, err)
		return nil
	}

	var rowid int64
	if err := s.db.QueryRow(`SELECT rowid FROM moments WHERE id = ?`, id).Scan(&rowid); err != nil {
		return nil
	}
	serialized, err := sqlite_vec.SerializeFloat32(emb)
	if err != nil {
		return nil
	}
	s.db.Exec(`DELETE FROM moment_vec WHERE rowid = ?`, rowid)
	if _, err := s.db.Exec(`INSERT INTO moment_vec(rowid, embedding, moment_id) VALUES (?, ?, ?)`, rowid, serialized, id); err != nil {
		logging.Debug("store", "vec insert failed for %s: %v", id, err)
	}
	return nil
}

// scanMoment scans a single row into a PivotalMoment. Returns nil when the
// row does not exist.
func scanMoment(row *sql.Row) (*types.PivotalMoment, error) {
	var m types.PivotalMoment
	var description, micro, macro, entities, keywords, sourcePath, sourceType sql.NullString
	var tlStart, tlEnd sql.NullTime

	err := row.Scan(
		&m.ID, &m.Title, &description, &m.Impact, &micro, &macro,
		&entities, &keywords, &tlStart, &tlEnd, &m.Timeline.IsEstimated,
		&m.SourceID, &sourcePath, &sourceType, &m.ExtractedAt, &m.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	fillMoment(&m, description, micro, macro, entities, keywords, sourcePath, sourceType, tlStart, tlEnd)
	return &m, nil
}

// scanMomentRows scans multiple rows into PivotalMoments
func scanMomentRows(rows *sql.Rows) ([]types.PivotalMoment, error) {
	var moments []types.PivotalMoment
	for rows.Next() {
		var m types.PivotalMoment
		var description, micro, macro, entities, keywords, sourcePath, sourceType sql.NullString
		var tlStart, tlEnd sql.NullTime

		err := rows.Scan(
			&m.ID, &m.Title, &description, &m.Impact, &micro, &macro,
			&entities, &keywords, &tlStart, &tlEnd, &m.Timeline.IsEstimated,
			&m.SourceID, &sourcePath, &sourceType, &m.ExtractedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		fillMoment(&m, description, micro, macro, entities, keywords, sourcePath, sourceType, tlStart, tlEnd)
		moments = append(moments, m)
	}
	return moments, rows.Err()
}

func fillMoment(m *types.PivotalMoment, description, micro, macro, entities, keywords, sourcePath, sourceType sql.NullString, tlStart, tlEnd sql.NullTime) {
	m.Description = description.String
	m.SourcePath = sourcePath.String
	m.SourceType = types.SourceType(sourceType.String)

	if micro.Valid && micro.String != "" {
		var tags []types.Factor
		if json.Unmarshal([]byte(micro.String), &tags) == nil {
			m.MicroFactors = tags
		}
	}
	if macro.Valid && macro.String != "" {
		var tags []types.Factor
		if json.Unmarshal([]byte(macro.String), &tags) == nil {
			m.MacroFactors = tags
		}
	}
	if entities.Valid && entities.String != "" {
		json.Unmarshal([]byte(entities.String), &m.Entities)
	}
	if keywords.Valid && keywords.String != "" {
		json.Unmarshal([]byte(keywords.String), &m.Keywords)
	}
	if tlStart.Valid {
		t := tlStart.Time
		m.Timeline.Start = &t
	}
	if tlEnd.Valid {
		t := tlEnd.Time
		m.Timeline.End = &t
	}
}

// marshalJSON encodes v for TEXT column storage; errors become empty
func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func factorStrings(factors []types.Factor) []string {
	out := make([]string, len(factors))
	for i, f := range factors {
		out[i] = string(f)
	}
	return out
}
