package search

import (
	"sort"

	"alexandria/internal/core"
	"alexandria/internal/index"
)

// candidate is one fused result before resources are attached.
type candidate struct {
	resourceID   string
	fusedScore   float64
	methodRanks  map[string]int
	methodScores map[string]float64
}

// fuse combines per-method ranked lists with weighted Reciprocal Rank
// Fusion: RRF(d) = sum over methods of w_m / (k + rank_m(d)), ranks
// 1-based. A document absent from a method contributes nothing for it.
func fuse(lists map[string][]index.Hit, weights map[string]float64, k float64) []candidate {
	byID := make(map[string]*candidate)
	for method, hits := range lists {
		weight := weights[method]
		for i, hit := range hits {
			c, ok := byID[hit.ResourceID]
			if !ok {
				c = &candidate{
					resourceID:   hit.ResourceID,
					methodRanks:  make(map[string]int),
					methodScores: make(map[string]float64),
				}
				byID[hit.ResourceID] = c
			}
			rank := i + 1
			c.methodRanks[method] = rank
			c.methodScores[method] = hit.Score
			c.fusedScore += weight / (k + float64(rank))
		}
	}

	out := make([]candidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	return out
}

// sortFused orders candidates by fused score descending with the standard
// tie-breaks: higher quality_overall, newer updated_at, then id ascending.
// Resources missing from the lookup sort as lowest quality.
func sortFused(candidates []candidate, resources map[string]*core.Resource) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.fusedScore != b.fusedScore {
			return a.fusedScore > b.fusedScore
		}
		qa, qb := quality(resources[a.resourceID]), quality(resources[b.resourceID])
		if qa != qb {
			return qa > qb
		}
		ra, rb := resources[a.resourceID], resources[b.resourceID]
		if ra != nil && rb != nil && !ra.UpdatedAt.Equal(rb.UpdatedAt) {
			return ra.UpdatedAt.After(rb.UpdatedAt)
		}
		return a.resourceID < b.resourceID
	})
}

func quality(res *core.Resource) float64 {
	if res == nil || res.QualityOverall == nil {
		return -1
	}
	return *res.QualityOverall
}
