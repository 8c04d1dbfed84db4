package index

import (
	"math"
	"sort"
	"sync"

	"alexandria/internal/core"
)

// VectorIndex is a dense embedding index with cosine similarity. The scan is
// exact, which trivially satisfies the recall contract; entries are stored
// unit-normalized so a query reduces to a dot product.
type VectorIndex struct {
	mu         sync.RWMutex
	dimensions int
	vectors    map[string][]float64 // resource id -> unit vector
	norms      map[string]float64   // original norms, for snapshot fidelity
}

// NewVectorIndex creates a vector index over vectors of the given dimension.
func NewVectorIndex(dimensions int) *VectorIndex {
	return &VectorIndex{
		dimensions: dimensions,
		vectors:    make(map[string][]float64),
		norms:      make(map[string]float64),
	}
}

// Add inserts or replaces a resource's dense vector. Zero vectors and
// dimension mismatches are rejected.
func (v *VectorIndex) Add(resourceID string, vector []float64) error {
	if len(vector) != v.dimensions {
		return core.Validationf("vector for %s has dimension %d, index expects %d",
			resourceID, len(vector), v.dimensions)
	}
	n := vecNorm(vector)
	if n == 0 {
		return core.Validationf("vector for %s is all zeros", resourceID)
	}

	unit := make([]float64, len(vector))
	for i, x := range vector {
		unit[i] = x / n
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.vectors[resourceID] = unit
	v.norms[resourceID] = n
	return nil
}

// Remove deletes a resource's vector. Idempotent.
func (v *VectorIndex) Remove(resourceID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.vectors, resourceID)
	delete(v.norms, resourceID)
}

// Search returns up to limit resources by cosine similarity to the query.
// Results below minSimilarity are excluded even if fewer than limit remain.
// The allowed set, when non-nil, is applied before ranking.
func (v *VectorIndex) Search(query []float64, limit int, minSimilarity float64, allowed map[string]bool) ([]Hit, error) {
	if len(query) != v.dimensions {
		return nil, core.Validationf("query vector has dimension %d, index expects %d",
			len(query), v.dimensions)
	}
	qn := vecNorm(query)
	if qn == 0 {
		return nil, core.Validationf("query vector is all zeros")
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	hits := make([]Hit, 0, len(v.vectors))
	for id, unit := range v.vectors {
		if allowed != nil && !allowed[id] {
			continue
		}
		dot := 0.0
		for i, x := range unit {
			dot += x * query[i]
		}
		sim := dot / qn
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, Hit{ResourceID: id, Score: sim})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ResourceID < hits[j].ResourceID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len returns the number of indexed vectors.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vectors)
}

// snapshot returns the original (denormalized) vector for rollback.
func (v *VectorIndex) snapshot(resourceID string) ([]float64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	unit, ok := v.vectors[resourceID]
	if !ok {
		return nil, false
	}
	n := v.norms[resourceID]
	original := make([]float64, len(unit))
	for i, x := range unit {
		original[i] = x * n
	}
	return original, true
}

// Cosine computes cosine similarity between two vectors of equal length.
// Returns 0 when either vector is zero.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func vecNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
