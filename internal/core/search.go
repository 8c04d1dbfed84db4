package core

// SearchStrategy selects which retrievers participate in a query.
type SearchStrategy string

const (
	StrategyKeyword  SearchStrategy = "keyword"
	StrategySemantic SearchStrategy = "semantic"
	StrategySparse   SearchStrategy = "sparse"
	StrategyHybrid   SearchStrategy = "hybrid"
	StrategyThreeWay SearchStrategy = "three_way"
)

// SearchFilters narrows the candidate universe before ranking.
type SearchFilters struct {
	Status               []IngestionStatus `json:"status,omitempty"`
	Language             string            `json:"language,omitempty"`
	ClassificationPrefix string            `json:"classification_prefix,omitempty"`
	SubjectAny           []string          `json:"subject_any,omitempty"` // Match resources carrying any of these subjects
	SubjectAll           []string          `json:"subject_all,omitempty"` // Match resources carrying all of these subjects
	MinQuality           *float64          `json:"min_quality,omitempty"`
	MaxQuality           *float64          `json:"max_quality,omitempty"`
	CollectionID         string            `json:"collection_id,omitempty"`
}

// Empty reports whether no filter is set.
func (f SearchFilters) Empty() bool {
	return len(f.Status) == 0 && f.Language == "" && f.ClassificationPrefix == "" &&
		len(f.SubjectAny) == 0 && len(f.SubjectAll) == 0 &&
		f.MinQuality == nil && f.MaxQuality == nil && f.CollectionID == ""
}

// SearchRequest is a query against the retrieval engine.
type SearchRequest struct {
	Text         string         `json:"text"`
	HybridWeight *float64       `json:"hybrid_weight,omitempty" validate:"omitempty,gte=0,lte=1"` // Explicit value disables adaptive weighting
	Strategy     SearchStrategy `json:"strategy,omitempty" validate:"omitempty,oneof=keyword semantic sparse hybrid three_way"`
	Filters      SearchFilters  `json:"filters,omitempty"`
	Limit        int            `json:"limit,omitempty" validate:"omitempty,gte=1,lte=200"`
	Offset       int            `json:"offset,omitempty" validate:"omitempty,gte=0"`
	SortBy       string         `json:"sort_by,omitempty" validate:"omitempty,oneof=relevance updated_at created_at quality_overall title"`
	SortDir      string         `json:"sort_dir,omitempty" validate:"omitempty,oneof=asc desc"`
	Rerank       bool           `json:"rerank,omitempty"`
}

// SearchItem is one ranked hit with its per-method provenance.
type SearchItem struct {
	Resource      *Resource      `json:"resource"`
	FusedScore    float64        `json:"fused_score"`
	RerankScore   *float64       `json:"rerank_score,omitempty"`
	MethodRanks   map[string]int `json:"method_ranks"` // Retriever name to 1-based rank; absent if not returned
	LexicalScore  float64        `json:"lexical_score,omitempty"`
	SemanticScore float64        `json:"semantic_score,omitempty"`
	SparseScore   float64        `json:"sparse_score,omitempty"`
}

// FacetCounts aggregates attribute counts over the pre-paginated candidate set.
type FacetCounts struct {
	Language       map[string]int `json:"language"`
	Type           map[string]int `json:"type"`
	Classification map[string]int `json:"classification"`
	Subject        map[string]int `json:"subject"`
}

// SearchResponse is the engine's answer: the page of items, the candidate
// total, and facets over the whole candidate set.
type SearchResponse struct {
	Items  []SearchItem `json:"items"`
	Total  int          `json:"total"`
	Facets FacetCounts  `json:"facets"`
}
