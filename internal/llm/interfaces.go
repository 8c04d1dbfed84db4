// Package llm provides clients for the enrichment and ranking models. All
// models are remote black boxes with declared timeouts; callers must treat
// every method as fallible and degrade per stage policy.
package llm

import (
	"context"

	"alexandria/internal/core"
)

// Document is a candidate passed to the reranker.
type Document struct {
	ResourceID string
	Title      string
	Text       string
}

// QualityScores holds the five raw dimension scores in [0,1] returned by the
// quality model before weighting.
type QualityScores struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Timeliness   float64 `json:"timeliness"`
	Relevance    float64 `json:"relevance"`
}

// Service is the full model surface used by enrichment and retrieval.
type Service interface {
	// Summarize produces a concise abstract of the text.
	Summarize(ctx context.Context, title, text string) (string, error)
	// SuggestTags proposes subject tags for the text.
	SuggestTags(ctx context.Context, title, text string) ([]string, error)
	// Classify assigns a hierarchical classification code.
	Classify(ctx context.Context, title, text string) (string, error)
	// ExtractScholarly pulls bibliographic metadata from scholarly content,
	// returning nil when the content is not scholarly.
	ExtractScholarly(ctx context.Context, text string) (*core.ScholarlyMetadata, error)
	// ScoreQuality rates the resource on five dimensions in [0,1].
	ScoreQuality(ctx context.Context, title, text string) (*QualityScores, error)
	// Embed returns a dense embedding of fixed dimensionality.
	Embed(ctx context.Context, text string) ([]float64, error)
	// EmbedSparse returns a learned sparse vector (token id to weight).
	EmbedSparse(ctx context.Context, text string) (core.SparseVector, error)
	// Rerank scores each document's relevance to the query in [0,1],
	// returned in input order.
	Rerank(ctx context.Context, query string, docs []Document) ([]float64, error)
}
