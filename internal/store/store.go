// Package store persists moments and correlations in SQLite, with optional
// FTS5 keyword search and sqlite-vec semantic search when the extensions are
// compiled in.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/types"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// Store wraps the SQLite database holding moments and correlations
type Store struct {
	db           *sql.DB
	path         string
	vecAvailable bool
	ftsAvailable bool
	vecDim       int // embedding dimension used in moment_vec (0 = not yet determined)
}

// Open opens or creates the moments database under dataDir
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "moments.db")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	// Check if sqlite-vec extension is available
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		logging.Info("store", "sqlite-vec not available: %v, semantic search falls back to full scan", err)
	} else {
		logging.Info("store", "sqlite-vec %s loaded", vecVersion)
		s.vecAvailable = true
		// Restore vecDim on restart when the vec table already exists
		if s.vecDim == 0 {
			if err := s.initVecTableFromMoments(); err != nil {
				logging.Warn("store", "vec init: %v", err)
			}
		}
	}

	// Check if the FTS5 index made it in; keyword search falls back otherwise
	var n int
	if err := db.QueryRow("SELECT count(*) FROM moments_fts").Scan(&n); err == nil {
		s.ftsAvailable = true
	} else {
		logging.Info("store", "FTS5 not available: %v, keyword search falls back to full scan", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// migrate creates the base schema and applies incremental migrations
func (s *Store) migrate() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Extracted pivotal moments, one row per moment
	CREATE TABLE IF NOT EXISTS moments (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		impact REAL DEFAULT 0,
		micro_factors TEXT,
		macro_factors TEXT,
		entities TEXT,
		keywords TEXT,
		timeline_start DATETIME,
		timeline_end DATETIME,
		timeline_estimated BOOLEAN DEFAULT FALSE,
		source_id TEXT NOT NULL,
		source_path TEXT,
		source_type TEXT,
		embedding BLOB,
		extracted_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_moments_source ON moments(source_id);
	CREATE INDEX IF NOT EXISTS idx_moments_source_type ON moments(source_type);
	CREATE INDEX IF NOT EXISTS idx_moments_impact ON moments(impact);
	CREATE INDEX IF NOT EXISTS idx_moments_extracted ON moments(extracted_at);

	-- Correlations between moment pairs inside one temporal window
	CREATE TABLE IF NOT EXISTS correlations (
		id TEXT PRIMARY KEY,
		moment_a TEXT NOT NULL,
		moment_b TEXT NOT NULL,
		score REAL NOT NULL,
		window_label TEXT NOT NULL,
		shared_entities TEXT,
		shared_factors TEXT,
		shared_keywords TEXT,
		same_source BOOLEAN DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (moment_a) REFERENCES moments(id) ON DELETE CASCADE,
		FOREIGN KEY (moment_b) REFERENCES moments(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_correlations_a ON correlations(moment_a);
	CREATE INDEX IF NOT EXISTS idx_correlations_b ON correlations(moment_b);
	CREATE INDEX IF NOT EXISTS idx_correlations_window ON correlations(window_label);

	-- Record schema version
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations applies incremental schema changes
func (s *Store) runMigrations() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		version = 1
	}

	// Migration v2: FTS5 index over moment text for keyword search.
	// Skipped gracefully if FTS5 is not compiled in; SearchText falls back
	// to a Go-side scan.
	if version < 2 {
		migrations := []string{
			`CREATE VIRTUAL TABLE IF NOT EXISTS moments_fts USING fts5(
				id UNINDEXED,
				title,
				description,
				keywords,
				content=moments
			)`,
			`INSERT INTO moments_fts(rowid, id, title, description, keywords)
				SELECT rowid, id, title, COALESCE(description, ''), COALESCE(keywords, '') FROM moments`,
			`CREATE TRIGGER IF NOT EXISTS moments_ai
				AFTER INSERT ON moments
				BEGIN
					INSERT INTO moments_fts(rowid, id, title, description, keywords)
					VALUES (NEW.rowid, NEW.id, NEW.title, COALESCE(NEW.description, ''), COALESCE(NEW.keywords, ''));
				END`,
			`CREATE TRIGGER IF NOT EXISTS moments_au
				AFTER UPDATE ON moments
				BEGIN
					INSERT INTO moments_fts(moments_fts, rowid, id, title, description, keywords)
					VALUES ('delete', OLD.rowid, OLD.id, OLD.title, COALESCE(OLD.description, ''), COALESCE(OLD.keywords, ''));
					INSERT INTO moments_fts(rowid, id, title, description, keywords)
					VALUES (NEW.rowid, NEW.id, NEW.title, COALESCE(NEW.description, ''), COALESCE(NEW.keywords, ''));
				END`,
			`CREATE TRIGGER IF NOT EXISTS moments_ad
				AFTER DELETE ON moments
				BEGIN
					INSERT INTO moments_fts(moments_fts, rowid, id, title, description, keywords)
					VALUES ('delete', OLD.rowid, OLD.id, OLD.title, COALESCE(OLD.description, ''), COALESCE(OLD.keywords, ''));
				END`,
		}
		for _, stmt := range migrations {
			if _, err := s.db.Exec(stmt); err != nil {
				logging.Warn("store", "Migration v2 (FTS5 may be unavailable): %v", err)
				break
			}
		}
		s.db.Exec("INSERT INTO schema_version (version) VALUES (2)")
	}

	// Migration v3: sqlite-vec ANN index for moment embeddings. The vec table
	// dimension comes from stored embeddings, so creation is deferred until
	// one exists. Skipped gracefully if sqlite-vec is not compiled in.
	if version < 3 {
		if err := s.initVecTableFromMoments(); err != nil {
			logging.Warn("store", "Migration v3: %v, vec index deferred to first SetEmbedding", err)
		}
		s.db.Exec("INSERT INTO schema_version (version) VALUES (3)")
	}

	return nil
}

// initVecTableFromMoments reads the embedding dimension from stored moments,
// creates moment_vec with that dimension, and backfills existing embeddings.
// No-ops when no moment has an embedding yet.
func (s *Store) initVecTableFromMoments() error {
	var embBytes []byte
	err := s.db.QueryRow(`SELECT embedding FROM moments WHERE embedding IS NOT NULL AND LENGTH(embedding) > 4 LIMIT 1`).Scan(&embBytes)
	if err != nil {
		return nil // nothing stored yet; defer to first SetEmbedding
	}
	var emb []float32
	if err := json.Unmarshal(embBytes, &emb); err != nil || len(emb) == 0 {
		return nil
	}
	return s.ensureVecTable(len(emb))
}

// ensureVecTable creates the moment_vec virtual table for the given embedding
// dimension (if not yet created) and backfills stored embeddings. Idempotent
// for the same dimension.
func (s *Store) ensureVecTable(dim int) error {
	if s.vecDim == dim {
		return nil
	}
	if s.vecDim != 0 && s.vecDim != dim {
		return fmt.Errorf("embedding dim %d doesn't match vec table dim %d", dim, s.vecDim)
	}

	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS moment_vec USING vec0(
			embedding float[%d],
			+moment_id TEXT
		)
	`, dim))
	if err != nil {
		return fmt.Errorf("failed to create moment_vec(float[%d]): %w", dim, err)
	}
	s.vecDim = dim

	rows, err := s.db.Query(`SELECT rowid, id, embedding FROM moments WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil // backfill failure is non-fatal
	}
	defer rows.Close()

	tx, err := s.db.Begin()
	if err != nil {
		return nil
	}

	var count int
	for rows.Next() {
		var rowid int64
		var id string
		var embBytes []byte
		if err := rows.Scan(&rowid, &id, &embBytes); err != nil {
			continue
		}
		var emb []float32
		if err := json.Unmarshal(embBytes, &emb); err != nil || len(emb) != dim {
			continue
		}
		serialized, serErr := sqlite_vec.SerializeFloat32(emb)
		if serErr != nil {
			continue
		}
		// vec0 does not reliably support INSERT OR REPLACE; use DELETE + INSERT.
		tx.Exec(`DELETE FROM moment_vec WHERE rowid = ?`, rowid)
		if _, err := tx.Exec(`INSERT INTO moment_vec(rowid, embedding, moment_id) VALUES (?, ?, ?)`, rowid, serialized, id); err != nil {
			logging.Debug("store", "vec backfill failed for %s: %v", id, err)
			continue
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return nil
	}
	if count > 0 {
		logging.Info("store", "vec backfill: indexed %d moments (dim=%d)", count, dim)
	}
	return nil
}

// Stats summarizes stored data for status endpoints and CLI output
type Stats struct {
	Moments       int            `json:"moments"`
	Correlations  int            `json:"correlations"`
	WithEmbedding int            `json:"with_embedding"`
	AvgImpact     float64        `json:"avg_impact"`
	MaxImpact     float64        `json:"max_impact"`
	BySource      map[string]int `json:"by_source"`
	ByFactor      map[string]int `json:"by_factor"`
	LastExtracted *time.Time     `json:"last_extracted,omitempty"`
}

// GetStats returns counts and impact aggregates across the database
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{
		BySource: make(map[string]int),
		ByFactor: make(map[string]int),
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM moments").Scan(&stats.Moments); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM correlations").Scan(&stats.Correlations); err != nil {
		return nil, err
	}
	s.db.QueryRow("SELECT COUNT(*) FROM moments WHERE embedding IS NOT NULL").Scan(&stats.WithEmbedding)

	if stats.Moments > 0 {
		s.db.QueryRow("SELECT AVG(impact), MAX(impact) FROM moments").Scan(&stats.AvgImpact, &stats.MaxImpact)

		var last sql.NullTime
		if err := s.db.QueryRow("SELECT MAX(extracted_at) FROM moments").Scan(&last); err == nil && last.Valid {
			stats.LastExtracted = &last.Time
		}
	}

	rows, err := s.db.Query("SELECT source_type, COUNT(*) FROM moments GROUP BY source_type")
	if err == nil {
		for rows.Next() {
			var src sql.NullString
			var count int
			if rows.Scan(&src, &count) == nil && src.Valid {
				stats.BySource[src.String] = count
			}
		}
		rows.Close()
	}

	// Factor counts need the JSON arrays unpacked Go-side
	factorRows, err := s.db.Query("SELECT micro_factors, macro_factors FROM moments")
	if err == nil {
		for factorRows.Next() {
			var micro, macro sql.NullString
			if factorRows.Scan(&micro, &macro) != nil {
				continue
			}
			for _, col := range []sql.NullString{micro, macro} {
				if !col.Valid || col.String == "" {
					continue
				}
				var factors []string
				if json.Unmarshal([]byte(col.String), &factors) == nil {
					for _, f := range factors {
						stats.ByFactor[f]++
					}
				}
			}
		}
		factorRows.Close()
	}

	return stats, nil
}

// Clear removes all data (for reset and import)
func (s *Store) Clear() error {
	tables := []string{"correlations", "moments"}
	for _, table := range tables {
		if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if s.vecDim > 0 {
		s.db.Exec("DELETE FROM moment_vec")
	}
	return nil
}

// Backup writes a consistent snapshot of the database to destPath using
// VACUUM INTO. Fails if destPath already exists.
func (s *Store) Backup(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	logging.Info("store", "Backup written to %s", destPath)
	return nil
}

// exportDoc is the JSON envelope for export/import
type exportDoc struct {
	ExportedAt   time.Time             `json:"exported_at"`
	Moments      []types.PivotalMoment `json:"moments"`
	Correlations []types.Correlation   `json:"correlations"`
}

// ExportJSON writes all moments and correlations as one JSON document.
// Embeddings are not exported; they regenerate on the next analysis run.
func (s *Store) ExportJSON(w io.Writer) error {
	moments, err := s.AllMoments()
	if err != nil {
		return fmt.Errorf("export failed reading moments: %w", err)
	}
	correlations, err := s.ListCorrelations("", 0)
	if err != nil {
		return fmt.Errorf("export failed reading correlations: %w", err)
	}

	doc := exportDoc{
		ExportedAt:   time.Now(),
		Moments:      moments,
		Correlations: correlations,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ImportJSON loads moments and correlations from an export document,
// upserting over existing rows. Returns counts of imported moments and
// correlations.
func (s *Store) ImportJSON(r io.Reader) (int, int, error) {
	var doc exportDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, 0, fmt.Errorf("import failed decoding document: %w", err)
	}

	var momentCount int
	for i := range doc.Moments {
		if err := s.UpsertMoment(&doc.Moments[i]); err != nil {
			logging.Warn("store", "Import skipped moment %s: %v", doc.Moments[i].ID, err)
			continue
		}
		momentCount++
	}

	var corrCount int
	for i := range doc.Correlations {
		if err := s.insertCorrelation(s.db, &doc.Correlations[i]); err != nil {
			logging.Debug("store", "Import skipped correlation %s: %v", doc.Correlations[i].ID, err)
			continue
		}
		corrCount++
	}

	logging.Info("store", "Imported %d moments, %d correlations", momentCount, corrCount)
	return momentCount, corrCount, nil
}

// cosineSimilarity computes cosine similarity between two embeddings
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
