package index

import (
	"sort"
	"sync"

	"alexandria/internal/core"
)

// SparseIndex stores learned sparse vectors (token id to weight) and ranks
// by inner product over the non-zero token intersection.
type SparseIndex struct {
	mu       sync.RWMutex
	vectors  map[string]core.SparseVector
	postings map[int]map[string]float64 // token id -> resource id -> weight
}

// NewSparseIndex creates an empty sparse index.
func NewSparseIndex() *SparseIndex {
	return &SparseIndex{
		vectors:  make(map[string]core.SparseVector),
		postings: make(map[int]map[string]float64),
	}
}

// Add inserts or replaces a resource's sparse vector. Non-positive weights
// are dropped.
func (s *SparseIndex) Add(resourceID string, vec core.SparseVector) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(resourceID)

	stored := make(core.SparseVector, len(vec))
	for token, weight := range vec {
		if weight <= 0 {
			continue
		}
		stored[token] = weight
		byDoc, ok := s.postings[token]
		if !ok {
			byDoc = make(map[string]float64)
			s.postings[token] = byDoc
		}
		byDoc[resourceID] = weight
	}
	s.vectors[resourceID] = stored
}

// Remove deletes a resource's sparse vector. Idempotent.
func (s *SparseIndex) Remove(resourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(resourceID)
}

func (s *SparseIndex) removeLocked(resourceID string) {
	vec, ok := s.vectors[resourceID]
	if !ok {
		return
	}
	for token := range vec {
		if byDoc, ok := s.postings[token]; ok {
			delete(byDoc, resourceID)
			if len(byDoc) == 0 {
				delete(s.postings, token)
			}
		}
	}
	delete(s.vectors, resourceID)
}

// Search returns up to limit resources by inner product with the query,
// normalized to [0,1] within the result set. The allowed set, when non-nil,
// is applied before ranking.
func (s *SparseIndex) Search(query core.SparseVector, limit int, allowed map[string]bool) []Hit {
	if len(query) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make(map[string]float64)
	for token, qw := range query {
		if qw <= 0 {
			continue
		}
		for id, dw := range s.postings[token] {
			if allowed != nil && !allowed[id] {
				continue
			}
			scores[id] += qw * dw
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ResourceID: id, Score: score})
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
	return normalizeScores(hits)
}

// Len returns the number of indexed sparse vectors.
func (s *SparseIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// snapshot returns a copy of the stored sparse vector for rollback.
func (s *SparseIndex) snapshot(resourceID string) (core.SparseVector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vec, ok := s.vectors[resourceID]
	if !ok {
		return nil, false
	}
	out := make(core.SparseVector, len(vec))
	for k, v := range vec {
		out[k] = v
	}
	return out, true
}
