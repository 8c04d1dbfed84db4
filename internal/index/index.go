// Package index maintains the three in-memory retrieval indexes: lexical
// full-text, dense vector, and learned sparse. Entries are keyed by resource
// ID and kept in lock-step with the store by the ingestion engine.
package index

import (
	"context"
	"fmt"

	"alexandria/internal/core"
)

// Hit is one scored candidate from a single index.
type Hit struct {
	ResourceID string
	Score      float64
}

// TextBundle is the lexical material indexed for a resource.
type TextBundle struct {
	Title       string
	Description string
	Text        string
}

// Entry carries everything the indexes hold for one resource.
type Entry struct {
	ResourceID string
	Text       *TextBundle       // nil skips the text index
	Dense      []float64         // nil skips the vector index
	Sparse     core.SparseVector // nil skips the sparse index
}

// Indexes owns the three retrieval indexes and provides the all-or-nothing
// write set the ingestion engine requires: either every index reflects the
// resource, or none does.
type Indexes struct {
	Text   *TextIndex
	Vector *VectorIndex
	Sparse *SparseIndex
}

// New creates the index set. dimensions fixes the dense vector dimension D.
func New(dimensions int, stopwords []string) *Indexes {
	return &Indexes{
		Text:   NewTextIndex(stopwords),
		Vector: NewVectorIndex(dimensions),
		Sparse: NewSparseIndex(),
	}
}

// Index writes a resource's entry into every applicable index. The write is
// remove-then-add per index; if any index rejects the entry, all three are
// rolled back to their previous state for that resource.
func (ix *Indexes) Index(ctx context.Context, entry Entry) error {
	if entry.ResourceID == "" {
		return core.Validationf("index entry missing resource id")
	}

	prevText, hadText := ix.Text.snapshot(entry.ResourceID)
	prevDense, hadDense := ix.Vector.snapshot(entry.ResourceID)
	prevSparse, hadSparse := ix.Sparse.snapshot(entry.ResourceID)

	rollback := func() {
		ix.Text.Remove(entry.ResourceID)
		ix.Vector.Remove(entry.ResourceID)
		ix.Sparse.Remove(entry.ResourceID)
		if hadText {
			ix.Text.restore(entry.ResourceID, prevText)
		}
		if hadDense {
			_ = ix.Vector.Add(entry.ResourceID, prevDense)
		}
		if hadSparse {
			ix.Sparse.Add(entry.ResourceID, prevSparse)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if entry.Text != nil {
		ix.Text.Index(entry.ResourceID, *entry.Text)
	} else {
		ix.Text.Remove(entry.ResourceID)
	}

	if entry.Dense != nil {
		if err := ix.Vector.Add(entry.ResourceID, entry.Dense); err != nil {
			rollback()
			return fmt.Errorf("vector index write failed: %w", err)
		}
	} else {
		ix.Vector.Remove(entry.ResourceID)
	}

	if entry.Sparse != nil {
		ix.Sparse.Add(entry.ResourceID, entry.Sparse)
	} else {
		ix.Sparse.Remove(entry.ResourceID)
	}

	return nil
}

// Remove deletes a resource from all three indexes. Idempotent.
func (ix *Indexes) Remove(resourceID string) {
	ix.Text.Remove(resourceID)
	ix.Vector.Remove(resourceID)
	ix.Sparse.Remove(resourceID)
}

// normalizeScores rescales scores to [0,1] within the result set. A uniform
// set maps to 1.0 for every member.
func normalizeScores(hits []Hit) []Hit {
	if len(hits) == 0 {
		return hits
	}
	minScore, maxScore := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < minScore {
			minScore = h.Score
		}
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	span := maxScore - minScore
	out := make([]Hit, len(hits))
	for i, h := range hits {
		if span == 0 {
			out[i] = Hit{ResourceID: h.ResourceID, Score: 1.0}
		} else {
			out[i] = Hit{ResourceID: h.ResourceID, Score: (h.Score - minScore) / span}
		}
	}
	return out
}
