// Package store provides the durable persistence layer over SQLite:
// resources, citations, collections, annotations, and ingestion jobs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed record store. Single-row writes are atomic;
// multi-row operations within one call run inside a transaction.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a store instance backed by a SQLite database under dataDir.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "alexandria.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

// initialize creates the necessary tables and indexes.
func (s *Store) initialize() error {
	resourcesTable := `
	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		creator TEXT NOT NULL DEFAULT '',
		publisher TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '[]',
		classification_code TEXT NOT NULL DEFAULT '',
		ingestion_status TEXT NOT NULL DEFAULT 'pending',
		quality_overall REAL,
		quality_accuracy REAL,
		quality_completeness REAL,
		quality_consistency REAL,
		quality_timeliness REAL,
		quality_relevance REAL,
		quality_last_computed DATETIME,
		quality_computation_version TEXT NOT NULL DEFAULT '',
		needs_review INTEGER NOT NULL DEFAULT 0,
		embedding TEXT,
		embedding_failed INTEGER NOT NULL DEFAULT 0,
		sparse_embedding TEXT,
		sparse_embedding_model TEXT NOT NULL DEFAULT '',
		sparse_embedding_updated_at DATETIME,
		archive_path TEXT NOT NULL DEFAULT '',
		content_fingerprint TEXT NOT NULL DEFAULT '',
		extracted_text TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	citationsTable := `
	CREATE TABLE IF NOT EXISTS citations (
		id TEXT PRIMARY KEY,
		source_resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		target_resource_id TEXT REFERENCES resources(id) ON DELETE SET NULL,
		target_url TEXT NOT NULL,
		citation_type TEXT NOT NULL DEFAULT 'general',
		context TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL DEFAULT 0,
		importance_score REAL,
		created_at DATETIME NOT NULL
	);`

	collectionsTable := `
	CREATE TABLE IF NOT EXISTS collections (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'private',
		parent_id TEXT REFERENCES collections(id) ON DELETE SET NULL,
		embedding TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	collectionResourcesTable := `
	CREATE TABLE IF NOT EXISTS collection_resources (
		collection_id TEXT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
		resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		added_at DATETIME NOT NULL,
		PRIMARY KEY (collection_id, resource_id)
	);`

	annotationsTable := `
	CREATE TABLE IF NOT EXISTS annotations (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		owner_id TEXT NOT NULL DEFAULT '',
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		highlighted_text TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		color TEXT NOT NULL DEFAULT '#ffff00',
		is_shared INTEGER NOT NULL DEFAULT 0,
		embedding TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`

	jobsTable := `
	CREATE TABLE IF NOT EXISTS ingestion_jobs (
		resource_id TEXT PRIMARY KEY REFERENCES resources(id) ON DELETE CASCADE,
		state TEXT NOT NULL DEFAULT 'pending',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME
	);`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_resources_status ON resources(ingestion_status);`,
		`CREATE INDEX IF NOT EXISTS idx_resources_classification ON resources(classification_code);`,
		`CREATE INDEX IF NOT EXISTS idx_resources_quality ON resources(quality_overall);`,
		`CREATE INDEX IF NOT EXISTS idx_resources_fingerprint ON resources(content_fingerprint);`,
		`CREATE INDEX IF NOT EXISTS idx_resources_sparse_updated ON resources(sparse_embedding_updated_at);`,
		`CREATE INDEX IF NOT EXISTS idx_citations_source ON citations(source_resource_id);`,
		`CREATE INDEX IF NOT EXISTS idx_citations_target ON citations(target_resource_id);`,
		`CREATE INDEX IF NOT EXISTS idx_collection_resources_collection ON collection_resources(collection_id);`,
		`CREATE INDEX IF NOT EXISTS idx_collection_resources_resource ON collection_resources(resource_id);`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_resource ON annotations(resource_id);`,
		`CREATE INDEX IF NOT EXISTS idx_annotations_owner ON annotations(owner_id, updated_at);`,
	}

	statements := []string{
		resourcesTable, citationsTable, collectionsTable,
		collectionResourcesTable, annotationsTable, jobsTable,
	}
	statements = append(statements, indexes...)

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// jsonArrayContains builds a portable containment predicate over a JSON
// array column. Subject and tag filters must work without a native array
// type, so membership is tested by expanding the array with json_each.
func jsonArrayContains(column string) string {
	return fmt.Sprintf(`EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)`, column)
}

// isUniqueViolation reports whether err is a SQLite unique-constraint error.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
