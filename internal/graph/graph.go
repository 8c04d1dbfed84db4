// Package graph scores relationships between resources: a hybrid
// embedding/subject/classification similarity for neighbor discovery, and
// PageRank over the resolved citation graph for citation importance.
package graph

import (
	"context"
	"sort"

	"alexandria/internal/config"
	"alexandria/internal/core"
	"alexandria/internal/index"
	"alexandria/internal/logger"
	"alexandria/internal/store"
)

// Neighbor is one related resource with its relationship score.
type Neighbor struct {
	Resource *core.Resource `json:"resource"`
	Score    float64        `json:"score"`
}

// Scorer computes relationship scores and citation importance.
type Scorer struct {
	store *store.Store
	cfg   config.Graph
	tauV  float64 // cosine floor below which the vector term is zeroed
}

// New creates a scorer. minSim is the graph-path cosine floor.
func New(st *store.Store, cfg config.Graph, minSim float64) *Scorer {
	return &Scorer{store: st, cfg: cfg, tauV: minSim}
}

// Relationship computes the hybrid score between two resources:
// a cosine term gated by the similarity floor, a Jaccard term over
// subjects, and an indicator for equal classification codes.
func (s *Scorer) Relationship(a, b *core.Resource) float64 {
	score := 0.0
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		cos := index.Cosine(a.Embedding, b.Embedding)
		if cos >= s.tauV {
			score += s.cfg.VectorWeight * cos
		}
	}
	score += s.cfg.TagWeight * jaccard(a.Subject, b.Subject)
	if a.ClassificationCode != "" && a.ClassificationCode == b.ClassificationCode {
		score += s.cfg.ClassWeight
	}
	return score
}

// Neighbors returns the top-k related completed resources for the given
// resource, scored by Relationship, ties broken by id.
func (s *Scorer) Neighbors(ctx context.Context, resourceID string, k int) ([]Neighbor, error) {
	res, err := s.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	others, err := s.store.ListResources(ctx, store.ListOptions{
		Status: []core.IngestionStatus{core.StatusCompleted},
		Limit:  10000,
	})
	if err != nil {
		return nil, err
	}

	neighbors := make([]Neighbor, 0, len(others))
	for i := range others {
		other := &others[i]
		if other.ID == resourceID {
			continue
		}
		score := s.Relationship(res, other)
		if score > 0 {
			neighbors = append(neighbors, Neighbor{Resource: other, Score: score})
		}
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Score != neighbors[j].Score {
			return neighbors[i].Score > neighbors[j].Score
		}
		return neighbors[i].Resource.ID < neighbors[j].Resource.ID
	})
	if k > 0 && len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// RecomputeImportance runs PageRank over the resolved citation graph and
// writes normalized scores back to the citation rows. Returns the number of
// nodes ranked.
func (s *Scorer) RecomputeImportance(ctx context.Context) (int, error) {
	citations, err := s.store.ListAllResolvedCitations(ctx)
	if err != nil {
		return 0, err
	}
	if len(citations) == 0 {
		return 0, nil
	}

	edges := make(map[string][]string)
	nodes := make(map[string]bool)
	for _, c := range citations {
		edges[c.SourceResourceID] = append(edges[c.SourceResourceID], c.TargetResourceID)
		nodes[c.SourceResourceID] = true
		nodes[c.TargetResourceID] = true
	}

	ranks := pageRank(nodes, edges, s.cfg.PageRankDamping, s.cfg.PageRankMaxIter, s.cfg.PageRankEpsilon)
	if err := s.store.SetCitationImportance(ctx, ranks); err != nil {
		return 0, err
	}
	logger.Info("citation importance recomputed", "nodes", len(ranks), "edges", len(citations))
	return len(ranks), nil
}

// pageRank iterates to convergence with uniform teleportation; dangling
// nodes distribute their mass uniformly. Output is min-max normalized to
// [0,1].
func pageRank(nodes map[string]bool, edges map[string][]string, damping float64, maxIter int, epsilon float64) map[string]float64 {
	n := len(nodes)
	if n == 0 {
		return nil
	}

	ranks := make(map[string]float64, n)
	for node := range nodes {
		ranks[node] = 1.0 / float64(n)
	}

	for iter := 0; iter < maxIter; iter++ {
		next := make(map[string]float64, n)
		dangling := 0.0
		for node := range nodes {
			out := edges[node]
			if len(out) == 0 {
				dangling += ranks[node]
				continue
			}
			share := ranks[node] / float64(len(out))
			for _, target := range out {
				next[target] += share
			}
		}

		base := (1-damping)/float64(n) + damping*dangling/float64(n)
		delta := 0.0
		for node := range nodes {
			updated := base + damping*next[node]
			diff := updated - ranks[node]
			if diff < 0 {
				diff = -diff
			}
			delta += diff
			ranks[node] = updated
		}
		if delta < epsilon {
			break
		}
	}

	return normalizeRanks(ranks)
}

func normalizeRanks(ranks map[string]float64) map[string]float64 {
	min, max := 0.0, 0.0
	first := true
	for _, r := range ranks {
		if first {
			min, max = r, r
			first = false
			continue
		}
		if r < min {
			min = r
		}
		if r > max {
			max = r
		}
	}
	out := make(map[string]float64, len(ranks))
	if max == min {
		for node := range ranks {
			out[node] = 1
		}
		return out
	}
	for node, r := range ranks {
		out[node] = (r - min) / (max - min)
	}
	return out
}

// jaccard is set similarity over subject tags; two empty sets score 0.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s] = true
	}
	inter := 0
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		if setB[s] {
			continue
		}
		setB[s] = true
		if setA[s] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
