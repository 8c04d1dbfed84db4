package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"alexandria/internal/core"
)

const collectionColumns = `id, name, description, owner_id, visibility, parent_id, embedding, created_at, updated_at`

// PutCollection inserts a collection. The parent chain is checked for cycles.
func (s *Store) PutCollection(ctx context.Context, c *core.Collection) error {
	if c.ParentID != "" {
		if err := s.checkCollectionCycle(ctx, c.ID, c.ParentID); err != nil {
			return err
		}
	}

	embedding, err := marshalEmbedding(c.Embedding)
	if err != nil {
		return err
	}

	query := `INSERT INTO collections (` + collectionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Description, c.OwnerID, string(c.Visibility),
		nullable(c.ParentID), embedding, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: collection %s already exists", core.ErrConflict, c.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}
	return nil
}

// GetCollection retrieves a collection by ID.
func (s *Store) GetCollection(ctx context.Context, id string) (*core.Collection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = ?`, id)

	var c core.Collection
	var visibility string
	var parent, embedding sql.NullString
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.OwnerID, &visibility,
		&parent, &embedding, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: collection %s", core.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}

	c.Visibility = core.Visibility(visibility)
	c.ParentID = parent.String
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal collection embedding: %w", err)
		}
	}
	return &c, nil
}

// DeleteCollection removes a collection; memberships cascade, children are
// re-parented to the root by the schema's SET NULL.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: collection %s", core.ErrNotFound, id)
	}
	return nil
}

// AddResourcesToCollection adds memberships in one transaction. Existing
// memberships are ignored so the call is idempotent. Missing resources fail
// the whole batch.
func (s *Store) AddResourcesToCollection(ctx context.Context, collectionID string, resourceIDs []string) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM collections WHERE id = ?`, collectionID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: collection %s", core.ErrNotFound, collectionID)
		}

		for _, rid := range resourceIDs {
			var found int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM resources WHERE id = ?`, rid).Scan(&found); err != nil {
				return err
			}
			if found == 0 {
				return fmt.Errorf("%w: resource %s", core.ErrNotFound, rid)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO collection_resources (collection_id, resource_id, added_at) VALUES (?, ?, ?)`,
				collectionID, rid, now); err != nil {
				return fmt.Errorf("failed to add resource %s to collection: %w", rid, err)
			}
		}
		return nil
	})
}

// RemoveResourcesFromCollection removes memberships in one transaction.
func (s *Store) RemoveResourcesFromCollection(ctx context.Context, collectionID string, resourceIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, rid := range resourceIDs {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM collection_resources WHERE collection_id = ? AND resource_id = ?`,
				collectionID, rid); err != nil {
				return fmt.Errorf("failed to remove resource %s from collection: %w", rid, err)
			}
		}
		return nil
	})
}

// ListCollectionMembers returns the member resource IDs of a collection.
func (s *Store) ListCollectionMembers(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource_id FROM collection_resources WHERE collection_id = ? ORDER BY added_at`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MemberEmbeddings returns the non-nil embeddings of a collection's members.
func (s *Store) MemberEmbeddings(ctx context.Context, collectionID string) ([][]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.embedding FROM resources r
		JOIN collection_resources cr ON cr.resource_id = r.id
		WHERE cr.collection_id = ? AND r.embedding IS NOT NULL`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load member embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings [][]float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var vec []float64
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal member embedding: %w", err)
		}
		embeddings = append(embeddings, vec)
	}
	return embeddings, rows.Err()
}

// SetCollectionEmbedding writes the aggregate embedding; nil clears it.
func (s *Store) SetCollectionEmbedding(ctx context.Context, collectionID string, embedding []float64) error {
	raw, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE collections SET embedding = ?, updated_at = ? WHERE id = ?`,
		raw, time.Now().UTC(), collectionID)
	if err != nil {
		return fmt.Errorf("failed to set collection embedding: %w", err)
	}
	return nil
}

// checkCollectionCycle walks the parent chain from parentID and fails if it
// reaches id. Collections form a forest; a cycle would make traversal diverge.
func (s *Store) checkCollectionCycle(ctx context.Context, id, parentID string) error {
	current := parentID
	for current != "" {
		if current == id {
			return core.Validationf("collection parent chain would form a cycle at %s", id)
		}
		var next sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT parent_id FROM collections WHERE id = ?`, current).Scan(&next)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: parent collection %s", core.ErrNotFound, current)
		}
		if err != nil {
			return fmt.Errorf("failed to walk parent chain: %w", err)
		}
		current = next.String
	}
	return nil
}

func marshalEmbedding(embedding []float64) (any, error) {
	if embedding == nil {
		return nil, nil
	}
	b, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return string(b), nil
}
