package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"alexandria/internal/core"
)

// ListOptions filters and orders a resource listing.
type ListOptions struct {
	Status               []core.IngestionStatus
	Language             string
	ClassificationPrefix string
	SubjectAny           []string // Resources carrying any of these subjects
	SubjectAll           []string // Resources carrying all of these subjects
	MinQuality           *float64
	MaxQuality           *float64
	CollectionID         string
	OrderBy              string // Scalar column name; defaults to updated_at
	OrderDesc            bool
	Limit                int
	Offset               int
}

// sortableColumns whitelists columns accepted in ORDER BY clauses.
var sortableColumns = map[string]bool{
	"id": true, "source": true, "title": true, "created_at": true,
	"updated_at": true, "quality_overall": true, "ingestion_status": true,
	"classification_code": true, "language": true, "type": true,
}

const resourceColumns = `id, source, title, description, creator, publisher, language, type,
	subject, classification_code, ingestion_status,
	quality_overall, quality_accuracy, quality_completeness, quality_consistency,
	quality_timeliness, quality_relevance, quality_last_computed, quality_computation_version,
	needs_review, embedding, embedding_failed, sparse_embedding, sparse_embedding_model,
	sparse_embedding_updated_at, archive_path, content_fingerprint, extracted_text,
	created_at, updated_at`

// PutResource inserts a resource. A duplicate normalized source URL yields
// core.ErrConflict.
func (s *Store) PutResource(ctx context.Context, r *core.Resource) error {
	subject, embedding, sparse, err := marshalResourceJSON(r)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO resources (` + resourceColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.Source, r.Title, r.Description, r.Creator, r.Publisher, r.Language, r.Type,
		subject, r.ClassificationCode, string(r.IngestionStatus),
		r.QualityOverall, r.QualityAccuracy, r.QualityCompleteness, r.QualityConsistency,
		r.QualityTimeliness, r.QualityRelevance, r.QualityLastComputed, r.QualityVersion,
		r.NeedsReview, embedding, r.EmbeddingFailed, sparse, r.SparseEmbeddingModel,
		r.SparseEmbeddingUpdated, r.ArchivePath, r.ContentFingerprint, r.ExtractedText,
		r.CreatedAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: resource with source %s already exists", core.ErrConflict, r.Source)
	}
	if err != nil {
		return fmt.Errorf("failed to insert resource: %w", err)
	}
	return nil
}

// UpdateResource persists all mutable fields of a resource using optimistic
// concurrency: the write succeeds only if the stored updated_at still equals
// the value the caller read. On success UpdatedAt is advanced.
func (s *Store) UpdateResource(ctx context.Context, r *core.Resource) error {
	subject, embedding, sparse, err := marshalResourceJSON(r)
	if err != nil {
		return err
	}

	previous := r.UpdatedAt
	now := time.Now().UTC()

	query := `
	UPDATE resources SET
		title = ?, description = ?, creator = ?, publisher = ?, language = ?, type = ?,
		subject = ?, classification_code = ?, ingestion_status = ?,
		quality_overall = ?, quality_accuracy = ?, quality_completeness = ?, quality_consistency = ?,
		quality_timeliness = ?, quality_relevance = ?, quality_last_computed = ?, quality_computation_version = ?,
		needs_review = ?, embedding = ?, embedding_failed = ?, sparse_embedding = ?, sparse_embedding_model = ?,
		sparse_embedding_updated_at = ?, archive_path = ?, content_fingerprint = ?, extracted_text = ?,
		updated_at = ?
	WHERE id = ? AND updated_at = ?`

	result, err := s.db.ExecContext(ctx, query,
		r.Title, r.Description, r.Creator, r.Publisher, r.Language, r.Type,
		subject, r.ClassificationCode, string(r.IngestionStatus),
		r.QualityOverall, r.QualityAccuracy, r.QualityCompleteness, r.QualityConsistency,
		r.QualityTimeliness, r.QualityRelevance, r.QualityLastComputed, r.QualityVersion,
		r.NeedsReview, embedding, r.EmbeddingFailed, sparse, r.SparseEmbeddingModel,
		r.SparseEmbeddingUpdated, r.ArchivePath, r.ContentFingerprint, r.ExtractedText,
		now, r.ID, previous,
	)
	if err != nil {
		return fmt.Errorf("failed to update resource %s: %w", r.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or another writer advanced updated_at.
		if _, getErr := s.GetResource(ctx, r.ID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: resource %s was modified concurrently", core.ErrConflict, r.ID)
	}

	r.UpdatedAt = now
	return nil
}

// GetResource retrieves a resource by ID.
func (s *Store) GetResource(ctx context.Context, id string) (*core.Resource, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	r, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: resource %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan resource: %w", err)
	}
	return r, nil
}

// GetResourceBySource retrieves a resource by its normalized source URL.
func (s *Store) GetResourceBySource(ctx context.Context, source string) (*core.Resource, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE source = ?`, source)
	r, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: resource with source %s", core.ErrNotFound, source)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan resource: %w", err)
	}
	return r, nil
}

// GetResourceByFingerprint retrieves a resource by its content fingerprint.
func (s *Store) GetResourceByFingerprint(ctx context.Context, fingerprint string) (*core.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE content_fingerprint = ?`, fingerprint)
	r, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: resource with fingerprint %s", core.ErrNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan resource: %w", err)
	}
	return r, nil
}

// DeleteResource removes a resource. Citations it sourced, its annotations,
// its job row, and its collection memberships cascade; citations pointing at
// it are set to unresolved. It returns the IDs of collections that held the
// resource so callers can schedule embedding recomputation.
func (s *Store) DeleteResource(ctx context.Context, id string) ([]string, error) {
	var collectionIDs []string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT collection_id FROM collection_resources WHERE resource_id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to list memberships: %w", err)
		}
		for rows.Next() {
			var cid string
			if err := rows.Scan(&cid); err != nil {
				rows.Close()
				return err
			}
			collectionIDs = append(collectionIDs, cid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete resource: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: resource %s", core.ErrNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return collectionIDs, nil
}

// ListResources returns resources matching the filter, ordered and paginated.
func (s *Store) ListResources(ctx context.Context, opts ListOptions) ([]core.Resource, error) {
	where, args := buildResourceFilter(opts)

	orderBy := "updated_at"
	if opts.OrderBy != "" {
		if !sortableColumns[opts.OrderBy] {
			return nil, core.Validationf("cannot sort by column %q", opts.OrderBy)
		}
		orderBy = opts.OrderBy
	}
	direction := "ASC"
	if opts.OrderDesc {
		direction = "DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + resourceColumns + ` FROM resources` + where +
		fmt.Sprintf(` ORDER BY %s %s LIMIT ? OFFSET ?`, orderBy, direction)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var resources []core.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, *r)
	}
	return resources, rows.Err()
}

// CountResources returns the number of resources matching the filter.
func (s *Store) CountResources(ctx context.Context, opts ListOptions) (int, error) {
	where, args := buildResourceFilter(opts)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count resources: %w", err)
	}
	return count, nil
}

// buildResourceFilter translates ListOptions into a WHERE clause.
func buildResourceFilter(opts ListOptions) (string, []any) {
	var clauses []string
	var args []any

	if len(opts.Status) > 0 {
		placeholders := make([]string, len(opts.Status))
		for i, st := range opts.Status {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, fmt.Sprintf("ingestion_status IN (%s)", strings.Join(placeholders, ", ")))
	}
	if opts.Language != "" {
		clauses = append(clauses, "language = ?")
		args = append(args, opts.Language)
	}
	if opts.ClassificationPrefix != "" {
		clauses = append(clauses, "classification_code LIKE ?")
		args = append(args, opts.ClassificationPrefix+"%")
	}
	if len(opts.SubjectAny) > 0 {
		var any []string
		for _, subj := range opts.SubjectAny {
			any = append(any, jsonArrayContains("subject"))
			args = append(args, subj)
		}
		clauses = append(clauses, "("+strings.Join(any, " OR ")+")")
	}
	for _, subj := range opts.SubjectAll {
		clauses = append(clauses, jsonArrayContains("subject"))
		args = append(args, subj)
	}
	if opts.MinQuality != nil {
		clauses = append(clauses, "quality_overall >= ?")
		args = append(args, *opts.MinQuality)
	}
	if opts.MaxQuality != nil {
		clauses = append(clauses, "quality_overall <= ?")
		args = append(args, *opts.MaxQuality)
	}
	if opts.CollectionID != "" {
		clauses = append(clauses, "id IN (SELECT resource_id FROM collection_resources WHERE collection_id = ?)")
		args = append(args, opts.CollectionID)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (*core.Resource, error) {
	var r core.Resource
	var subject string
	var embeddingJSON, sparseJSON sql.NullString
	var qualityLastComputed, sparseUpdated sql.NullTime
	var status string

	err := row.Scan(
		&r.ID, &r.Source, &r.Title, &r.Description, &r.Creator, &r.Publisher, &r.Language, &r.Type,
		&subject, &r.ClassificationCode, &status,
		&r.QualityOverall, &r.QualityAccuracy, &r.QualityCompleteness, &r.QualityConsistency,
		&r.QualityTimeliness, &r.QualityRelevance, &qualityLastComputed, &r.QualityVersion,
		&r.NeedsReview, &embeddingJSON, &r.EmbeddingFailed, &sparseJSON, &r.SparseEmbeddingModel,
		&sparseUpdated, &r.ArchivePath, &r.ContentFingerprint, &r.ExtractedText,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.IngestionStatus = core.IngestionStatus(status)
	if err := json.Unmarshal([]byte(subject), &r.Subject); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subject: %w", err)
	}
	if qualityLastComputed.Valid {
		t := qualityLastComputed.Time
		r.QualityLastComputed = &t
	}
	if sparseUpdated.Valid {
		t := sparseUpdated.Time
		r.SparseEmbeddingUpdated = &t
	}
	if embeddingJSON.Valid && embeddingJSON.String != "" {
		if err := json.Unmarshal([]byte(embeddingJSON.String), &r.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
	}
	if sparseJSON.Valid && sparseJSON.String != "" {
		if err := json.Unmarshal([]byte(sparseJSON.String), &r.SparseEmbedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sparse embedding: %w", err)
		}
	}
	return &r, nil
}

// marshalResourceJSON serializes the JSON-typed columns of a resource.
func marshalResourceJSON(r *core.Resource) (subject string, embedding, sparse any, err error) {
	subjectBytes, err := json.Marshal(emptyIfNil(r.Subject))
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to marshal subject: %w", err)
	}
	subject = string(subjectBytes)

	if r.Embedding != nil {
		b, err := json.Marshal(r.Embedding)
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embedding = string(b)
	}
	if r.SparseEmbedding != nil {
		b, err := json.Marshal(r.SparseEmbedding)
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to marshal sparse embedding: %w", err)
		}
		sparse = string(b)
	}
	return subject, embedding, sparse, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
