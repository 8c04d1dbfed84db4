package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alexandria/internal/core"
)

// CitationDirection selects which edges a citation listing returns.
type CitationDirection string

const (
	CitationsOutbound CitationDirection = "outbound"
	CitationsInbound  CitationDirection = "inbound"
	CitationsBoth     CitationDirection = "both"
)

const citationColumns = `id, source_resource_id, target_resource_id, target_url,
	citation_type, context, position, importance_score, created_at`

// UpsertCitation inserts or replaces a citation row.
func (s *Store) UpsertCitation(ctx context.Context, c *core.Citation) error {
	query := `
	INSERT OR REPLACE INTO citations (` + citationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.SourceResourceID, nullable(c.TargetResourceID), c.TargetURL,
		string(c.CitationType), c.Context, c.Position, c.ImportanceScore, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert citation: %w", err)
	}
	return nil
}

// ReplaceCitations atomically replaces all outbound citations of a resource.
// Used by the enrichment pipeline so a retried extraction never duplicates rows.
func (s *Store) ReplaceCitations(ctx context.Context, resourceID string, citations []core.Citation) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM citations WHERE source_resource_id = ?`, resourceID); err != nil {
			return fmt.Errorf("failed to clear citations: %w", err)
		}
		for i := range citations {
			c := &citations[i]
			_, err := tx.ExecContext(ctx,
				`INSERT INTO citations (`+citationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, c.SourceResourceID, nullable(c.TargetResourceID), c.TargetURL,
				string(c.CitationType), c.Context, c.Position, c.ImportanceScore, c.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert citation: %w", err)
			}
		}
		return nil
	})
}

// ListCitations returns the citations touching a resource in the given direction.
func (s *Store) ListCitations(ctx context.Context, resourceID string, direction CitationDirection) ([]core.Citation, error) {
	var query string
	var args []any

	switch direction {
	case CitationsOutbound:
		query = `SELECT ` + citationColumns + ` FROM citations WHERE source_resource_id = ? ORDER BY position`
		args = []any{resourceID}
	case CitationsInbound:
		query = `SELECT ` + citationColumns + ` FROM citations WHERE target_resource_id = ? ORDER BY created_at`
		args = []any{resourceID}
	case CitationsBoth:
		query = `SELECT ` + citationColumns + ` FROM citations
			WHERE source_resource_id = ? OR target_resource_id = ? ORDER BY created_at`
		args = []any{resourceID, resourceID}
	default:
		return nil, core.Validationf("unknown citation direction %q", direction)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list citations: %w", err)
	}
	defer rows.Close()
	return scanCitations(rows)
}

// ListAllResolvedCitations returns every citation with a resolved target.
// Used by the offline PageRank batch.
func (s *Store) ListAllResolvedCitations(ctx context.Context) ([]core.Citation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+citationColumns+` FROM citations WHERE target_resource_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolved citations: %w", err)
	}
	defer rows.Close()
	return scanCitations(rows)
}

// ResolveCitationTargets matches unresolved citations whose target URL now
// corresponds to a stored resource and sets target_resource_id. Returns the
// number of rows resolved.
func (s *Store) ResolveCitationTargets(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE citations
		SET target_resource_id = (SELECT id FROM resources WHERE resources.source = citations.target_url)
		WHERE target_resource_id IS NULL
		  AND EXISTS (SELECT 1 FROM resources WHERE resources.source = citations.target_url)`)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve citation targets: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// SetCitationImportance writes PageRank scores back onto citations by their
// target resource. Scores map resource ID to normalized importance.
func (s *Store) SetCitationImportance(ctx context.Context, scores map[string]float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE citations SET importance_score = ? WHERE target_resource_id = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare importance update: %w", err)
		}
		defer stmt.Close()

		for resourceID, score := range scores {
			if _, err := stmt.ExecContext(ctx, score, resourceID); err != nil {
				return fmt.Errorf("failed to set importance for %s: %w", resourceID, err)
			}
		}
		return nil
	})
}

func scanCitations(rows *sql.Rows) ([]core.Citation, error) {
	var citations []core.Citation
	for rows.Next() {
		var c core.Citation
		var target sql.NullString
		var ctype string
		var created time.Time
		if err := rows.Scan(&c.ID, &c.SourceResourceID, &target, &c.TargetURL,
			&ctype, &c.Context, &c.Position, &c.ImportanceScore, &created); err != nil {
			return nil, fmt.Errorf("failed to scan citation: %w", err)
		}
		c.TargetResourceID = target.String
		c.CitationType = core.CitationType(ctype)
		c.CreatedAt = created
		citations = append(citations, c)
	}
	return citations, rows.Err()
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
