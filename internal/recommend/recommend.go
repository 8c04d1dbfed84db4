// Package recommend ranks resources against a profile vector built from the
// embeddings of resources the caller already interacted with.
package recommend

import (
	"context"
	"sort"

	"alexandria/internal/core"
	"alexandria/internal/index"
	"alexandria/internal/store"
)

// Recommendation is one suggested resource.
type Recommendation struct {
	Resource *core.Resource `json:"resource"`
	Score    float64        `json:"score"` // Cosine similarity to the profile vector
}

// Recommender ranks candidates from the vector index against profile
// vectors.
type Recommender struct {
	store   *store.Store
	indexes *index.Indexes
}

// New creates a recommender.
func New(st *store.Store, indexes *index.Indexes) *Recommender {
	return &Recommender{store: st, indexes: indexes}
}

// ForOwner recommends resources for a user based on the resources they have
// annotated. Already-annotated resources are excluded.
func (r *Recommender) ForOwner(ctx context.Context, ownerID string, limit int) ([]Recommendation, error) {
	annotations, err := r.store.ListAnnotationsByOwner(ctx, ownerID, 200, 0)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	var embeddings [][]float64
	for _, a := range annotations {
		if known[a.ResourceID] {
			continue
		}
		known[a.ResourceID] = true
		res, err := r.store.GetResource(ctx, a.ResourceID)
		if err != nil {
			continue
		}
		if len(res.Embedding) > 0 {
			embeddings = append(embeddings, res.Embedding)
		}
	}
	if len(embeddings) == 0 {
		return []Recommendation{}, nil
	}

	return r.rank(ctx, meanVector(embeddings), known, limit)
}

// ForCollection recommends resources similar to a collection's aggregate
// embedding, excluding current members.
func (r *Recommender) ForCollection(ctx context.Context, collectionID string, limit int) ([]Recommendation, error) {
	coll, err := r.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	members, err := r.store.ListCollectionMembers(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(members))
	for _, id := range members {
		known[id] = true
	}

	profile := coll.Embedding
	if len(profile) == 0 {
		embeddings, err := r.store.MemberEmbeddings(ctx, collectionID)
		if err != nil {
			return nil, err
		}
		if len(embeddings) == 0 {
			return []Recommendation{}, nil
		}
		profile = meanVector(embeddings)
	}

	return r.rank(ctx, profile, known, limit)
}

// rank searches the vector index with the profile and attaches resources,
// dropping excluded and non-completed candidates.
func (r *Recommender) rank(ctx context.Context, profile []float64, exclude map[string]bool, limit int) ([]Recommendation, error) {
	// Over-fetch so exclusions do not starve the result.
	hits, err := r.indexes.Vector.Search(profile, limit+len(exclude), 0, nil)
	if err != nil {
		return nil, err
	}

	recs := make([]Recommendation, 0, limit)
	for _, hit := range hits {
		if exclude[hit.ResourceID] {
			continue
		}
		res, err := r.store.GetResource(ctx, hit.ResourceID)
		if err != nil {
			continue
		}
		if res.IngestionStatus != core.StatusCompleted {
			continue
		}
		recs = append(recs, Recommendation{Resource: res, Score: hit.Score})
		if len(recs) == limit {
			break
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	return recs, nil
}

// meanVector averages embeddings of equal dimension.
func meanVector(embeddings [][]float64) []float64 {
	mean := make([]float64, len(embeddings[0]))
	for _, e := range embeddings {
		for i := range mean {
			mean[i] += e[i]
		}
	}
	for i := range mean {
		mean[i] /= float64(len(embeddings))
	}
	return mean
}
