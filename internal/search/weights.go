package search

import (
	"regexp"
	"strings"

	"alexandria/internal/core"
)

// Retriever method names used in weights, ranks, and logs.
const (
	methodLexical = "lexical"
	methodDense   = "semantic"
	methodSparse  = "sparse"
)

var quotedPhrase = regexp.MustCompile(`"[^"]+"`)

// computeWeights returns the per-retriever fusion weights for a query.
// When hybridWeight is nil the semantic mass adapts to the query shape;
// an explicit value disables adaptation entirely. Weights sum to 1 over
// the strategy's methods.
func computeWeights(strategy core.SearchStrategy, text string, hybridWeight *float64, defaultWeight float64) map[string]float64 {
	switch strategy {
	case core.StrategyKeyword:
		return map[string]float64{methodLexical: 1}
	case core.StrategySemantic:
		return map[string]float64{methodDense: 1}
	case core.StrategySparse:
		return map[string]float64{methodSparse: 1}
	}

	// Semantic mass: the share of weight given to embedding retrievers.
	w := defaultWeight
	if hybridWeight != nil {
		w = *hybridWeight
	} else {
		tokens := len(strings.Fields(stripQuotes(text)))
		switch {
		case tokens <= 2:
			w -= 0.2
		case tokens >= 6:
			w += 0.2
		}
		if quotedPhrase.MatchString(text) && w > 0.4 {
			// Quoted phrases force the lexical weight to at least 0.6.
			w = 0.4
		}
	}
	w = clamp01(w)

	if strategy == core.StrategyThreeWay {
		return map[string]float64{
			methodLexical: 1 - w,
			methodDense:   w / 2,
			methodSparse:  w / 2,
		}
	}
	return map[string]float64{
		methodLexical: 1 - w,
		methodDense:   w,
	}
}

// renormalize drops failed methods and rescales the rest to sum to 1.
func renormalize(weights map[string]float64, failed map[string]bool) map[string]float64 {
	if len(failed) == 0 {
		return weights
	}
	sum := 0.0
	for method, weight := range weights {
		if !failed[method] {
			sum += weight
		}
	}
	out := make(map[string]float64, len(weights))
	if sum <= 0 {
		// All surviving weight was on failed methods; split evenly.
		n := 0
		for method := range weights {
			if !failed[method] {
				n++
			}
		}
		for method := range weights {
			if !failed[method] {
				out[method] = 1 / float64(n)
			}
		}
		return out
	}
	for method, weight := range weights {
		if !failed[method] {
			out[method] = weight / sum
		}
	}
	return out
}

func stripQuotes(text string) string {
	return quotedPhrase.ReplaceAllStringFunc(text, func(m string) string {
		return strings.Trim(m, `"`)
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
