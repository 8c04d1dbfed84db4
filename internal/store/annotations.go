package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"alexandria/internal/core"
)

const annotationColumns = `id, resource_id, owner_id, start_offset, end_offset,
	highlighted_text, note, tags, color, is_shared, embedding, created_at, updated_at`

// PutAnnotation inserts or replaces an annotation.
func (s *Store) PutAnnotation(ctx context.Context, a *core.Annotation) error {
	tags, err := json.Marshal(emptyIfNil(a.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	embedding, err := marshalEmbedding(a.Embedding)
	if err != nil {
		return err
	}

	query := `INSERT OR REPLACE INTO annotations (` + annotationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		a.ID, a.ResourceID, a.OwnerID, a.StartOffset, a.EndOffset,
		a.HighlightedText, a.Note, string(tags), a.Color, a.IsShared,
		embedding, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put annotation: %w", err)
	}
	return nil
}

// GetAnnotation retrieves an annotation by ID.
func (s *Store) GetAnnotation(ctx context.Context, id string) (*core.Annotation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+annotationColumns+` FROM annotations WHERE id = ?`, id)
	a, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: annotation %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan annotation: %w", err)
	}
	return a, nil
}

// DeleteAnnotation removes an annotation by ID.
func (s *Store) DeleteAnnotation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: annotation %s", core.ErrNotFound, id)
	}
	return nil
}

// ListAnnotationsByResource returns annotations on a resource ordered by span.
func (s *Store) ListAnnotationsByResource(ctx context.Context, resourceID string) ([]core.Annotation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+annotationColumns+` FROM annotations WHERE resource_id = ? ORDER BY start_offset`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()
	return collectAnnotations(rows)
}

// ListAnnotationsByOwner returns an owner's annotations, most recent first.
func (s *Store) ListAnnotationsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]core.Annotation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+annotationColumns+` FROM annotations WHERE owner_id = ?
		 ORDER BY updated_at DESC LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	defer rows.Close()
	return collectAnnotations(rows)
}

func collectAnnotations(rows *sql.Rows) ([]core.Annotation, error) {
	var annotations []core.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		annotations = append(annotations, *a)
	}
	return annotations, rows.Err()
}

func scanAnnotation(row scanner) (*core.Annotation, error) {
	var a core.Annotation
	var tags string
	var embedding sql.NullString

	err := row.Scan(&a.ID, &a.ResourceID, &a.OwnerID, &a.StartOffset, &a.EndOffset,
		&a.HighlightedText, &a.Note, &tags, &a.Color, &a.IsShared,
		&embedding, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &a.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal annotation embedding: %w", err)
		}
	}
	return &a, nil
}
