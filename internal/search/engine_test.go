package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"alexandria/internal/config"
	"alexandria/internal/core"
	"alexandria/internal/index"
	"alexandria/internal/llm"
	"alexandria/internal/store"
)

// queryModels serves query-time embeddings and reranking from fixtures.
type queryModels struct {
	denseQuery  []float64
	sparseQuery core.SparseVector
	rerankBy    map[string]float64 // resource id -> score
	failDense   bool
	failSparse  bool
	failRerank  bool
}

func (m *queryModels) Summarize(ctx context.Context, title, text string) (string, error) {
	return "", nil
}
func (m *queryModels) SuggestTags(ctx context.Context, title, text string) ([]string, error) {
	return nil, nil
}
func (m *queryModels) Classify(ctx context.Context, title, text string) (string, error) {
	return "", nil
}
func (m *queryModels) ExtractScholarly(ctx context.Context, text string) (*core.ScholarlyMetadata, error) {
	return nil, nil
}
func (m *queryModels) ScoreQuality(ctx context.Context, title, text string) (*llm.QualityScores, error) {
	return nil, nil
}

func (m *queryModels) Embed(ctx context.Context, text string) ([]float64, error) {
	if m.failDense {
		return nil, core.Transientf("embedding service down")
	}
	return m.denseQuery, nil
}

func (m *queryModels) EmbedSparse(ctx context.Context, text string) (core.SparseVector, error) {
	if m.failSparse {
		return nil, core.Transientf("sparse service down")
	}
	return m.sparseQuery, nil
}

func (m *queryModels) Rerank(ctx context.Context, query string, docs []llm.Document) ([]float64, error) {
	if m.failRerank {
		return nil, core.Transientf("reranker down")
	}
	scores := make([]float64, len(docs))
	for i, doc := range docs {
		scores[i] = m.rerankBy[doc.ResourceID]
	}
	return scores, nil
}

func retrievalConfig() config.Retrieval {
	return config.Retrieval{
		RRFK:                60,
		CandidatePool:       200,
		RerankTop:           50,
		DefaultHybridWeight: 0.5,
		VectorMinSimHybrid:  0.0,
		VectorMinSimGraph:   0.85,
		QueryTimeout:        2 * time.Second,
		DefaultLimit:        25,
	}
}

type fixture struct {
	id      string
	title   string
	text    string
	subject []string
	lang    string
	dense   []float64
	sparse  core.SparseVector
	quality *float64
}

func seedEngine(t *testing.T, models llm.Service, rerankOn bool, fixtures []fixture) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	indexes := index.New(2, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	for i, f := range fixtures {
		res := &core.Resource{
			ID:              f.id,
			Source:          "https://example.com/" + f.id,
			Title:           f.title,
			Language:        f.lang,
			Type:            "article",
			Subject:         f.subject,
			IngestionStatus: core.StatusCompleted,
			ExtractedText:   f.text,
			Embedding:       f.dense,
			SparseEmbedding: f.sparse,
			QualityOverall:  f.quality,
			CreatedAt:       now.Add(time.Duration(i) * time.Second),
			UpdatedAt:       now.Add(time.Duration(i) * time.Second),
		}
		if err := st.PutResource(ctx, res); err != nil {
			t.Fatalf("seed resource %s: %v", f.id, err)
		}
		if err := indexes.Index(ctx, index.Entry{
			ResourceID: f.id,
			Text:       &index.TextBundle{Title: f.title, Text: f.text},
			Dense:      f.dense,
			Sparse:     f.sparse,
		}); err != nil {
			t.Fatalf("seed index %s: %v", f.id, err)
		}
	}
	return New(st, indexes, models, retrievalConfig(), rerankOn), st
}

func defaultFixtures() []fixture {
	return []fixture{
		{id: "a", title: "go concurrency", text: "goroutines channels select", lang: "en",
			subject: []string{"go"}, dense: []float64{1, 0}, sparse: core.SparseVector{1: 2}},
		{id: "b", title: "rust ownership", text: "borrow checker lifetimes", lang: "en",
			subject: []string{"rust"}, dense: []float64{0, 1}, sparse: core.SparseVector{2: 2}},
		{id: "c", title: "go modules", text: "dependency management for go builds", lang: "de",
			subject: []string{"go", "tooling"}, dense: []float64{0.9, 0.44}, sparse: core.SparseVector{1: 1}},
	}
}

func TestSearchThreeWayFusesAllRetrievers(t *testing.T) {
	models := &queryModels{denseQuery: []float64{1, 0}, sparseQuery: core.SparseVector{1: 1}}
	engine, _ := seedEngine(t, models, false, defaultFixtures())

	resp, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go concurrency",
		Strategy: core.StrategyThreeWay,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if resp.Total < 2 {
		t.Fatalf("expected at least 2 candidates, got %d", resp.Total)
	}
	if resp.Items[0].Resource.ID != "a" {
		t.Errorf("expected a first (top in every retriever), got %s", resp.Items[0].Resource.ID)
	}
	top := resp.Items[0]
	if top.MethodRanks[methodLexical] != 1 || top.MethodRanks[methodDense] != 1 || top.MethodRanks[methodSparse] != 1 {
		t.Errorf("expected rank 1 in all methods, got %v", top.MethodRanks)
	}
	if top.FusedScore <= 0 {
		t.Error("fused score must be positive")
	}
}

func TestSearchFailedRetrieverDegrades(t *testing.T) {
	models := &queryModels{denseQuery: []float64{1, 0}, sparseQuery: core.SparseVector{1: 1}, failDense: true}
	engine, _ := seedEngine(t, models, false, defaultFixtures())

	resp, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategyThreeWay,
	})
	if err != nil {
		t.Fatalf("partial retriever failure must not fail the query: %v", err)
	}
	for _, item := range resp.Items {
		if _, ok := item.MethodRanks[methodDense]; ok {
			t.Error("failed retriever must contribute no ranks")
		}
	}
}

func TestSearchAllRetrieversFailed(t *testing.T) {
	models := &queryModels{failDense: true, failSparse: true}
	engine, _ := seedEngine(t, models, false, defaultFixtures())

	_, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategySemantic,
	})
	if !errors.Is(err, core.ErrRetrievalUnavailable) {
		t.Errorf("expected RetrievalUnavailable, got %v", err)
	}
}

func TestSearchFiltersRestrictCandidates(t *testing.T) {
	models := &queryModels{denseQuery: []float64{1, 0}, sparseQuery: core.SparseVector{1: 1}}
	engine, _ := seedEngine(t, models, false, defaultFixtures())

	resp, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategyKeyword,
		Filters:  core.SearchFilters{Language: "de"},
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if resp.Total != 1 || resp.Items[0].Resource.ID != "c" {
		t.Errorf("expected only the German resource, got %+v", resp.Items)
	}
	if resp.Facets.Language["de"] != 1 || resp.Facets.Language["en"] != 0 {
		t.Errorf("facets must cover only the candidate set: %v", resp.Facets.Language)
	}
}

func TestSearchEmptyFilterResultShortCircuits(t *testing.T) {
	models := &queryModels{failDense: true, failSparse: true} // would fail if invoked
	engine, _ := seedEngine(t, models, false, defaultFixtures())

	resp, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategyThreeWay,
		Filters:  core.SearchFilters{Language: "fr"},
	})
	if err != nil {
		t.Fatalf("empty candidate universe must not invoke retrievers: %v", err)
	}
	if resp.Total != 0 || len(resp.Items) != 0 {
		t.Errorf("expected empty result, got %+v", resp)
	}
}

func TestSearchEmptyQueryFallsBackToListing(t *testing.T) {
	models := &queryModels{}
	engine, _ := seedEngine(t, models, false, defaultFixtures())

	resp, err := engine.Search(context.Background(), core.SearchRequest{Text: "  "})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if resp.Total != 3 {
		t.Fatalf("expected all resources, got %d", resp.Total)
	}
	// Default order is updated_at descending: newest fixture first.
	if resp.Items[0].Resource.ID != "c" {
		t.Errorf("expected newest first, got %s", resp.Items[0].Resource.ID)
	}
}

func TestSearchSortOverride(t *testing.T) {
	models := &queryModels{denseQuery: []float64{1, 0}, sparseQuery: core.SparseVector{1: 1}}
	engine, _ := seedEngine(t, models, false, defaultFixtures())

	resp, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategyKeyword,
		SortBy:   "title",
		SortDir:  "asc",
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for i := 1; i < len(resp.Items); i++ {
		if resp.Items[i-1].Resource.Title > resp.Items[i].Resource.Title {
			t.Fatalf("items not sorted by title asc: %q then %q",
				resp.Items[i-1].Resource.Title, resp.Items[i].Resource.Title)
		}
	}
}

func TestSearchRerankPreservesSet(t *testing.T) {
	models := &queryModels{
		denseQuery:  []float64{1, 0},
		sparseQuery: core.SparseVector{1: 1},
		rerankBy:    map[string]float64{"a": 0.1, "c": 0.9},
	}
	engine, _ := seedEngine(t, models, true, defaultFixtures())

	fused, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategyKeyword,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	reranked, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategyKeyword,
		Rerank:   true,
	})
	if err != nil {
		t.Fatalf("reranked search failed: %v", err)
	}

	if len(fused.Items) != len(reranked.Items) {
		t.Fatalf("rerank changed the result set size: %d vs %d", len(fused.Items), len(reranked.Items))
	}
	fusedSet := make(map[string]bool)
	for _, item := range fused.Items {
		fusedSet[item.Resource.ID] = true
	}
	for _, item := range reranked.Items {
		if !fusedSet[item.Resource.ID] {
			t.Errorf("rerank introduced %s not in the fused set", item.Resource.ID)
		}
	}
	if reranked.Items[0].Resource.ID != "c" {
		t.Errorf("reranker score must reorder the prefix, got %s first", reranked.Items[0].Resource.ID)
	}
	if reranked.Items[0].RerankScore == nil || *reranked.Items[0].RerankScore != 0.9 {
		t.Errorf("rerank score missing: %+v", reranked.Items[0].RerankScore)
	}
}

func TestSearchRerankerFailureKeepsFusedOrder(t *testing.T) {
	models := &queryModels{
		denseQuery:  []float64{1, 0},
		sparseQuery: core.SparseVector{1: 1},
		failRerank:  true,
	}
	engine, _ := seedEngine(t, models, true, defaultFixtures())

	resp, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategyKeyword,
		Rerank:   true,
	})
	if err != nil {
		t.Fatalf("reranker failure must degrade, not error: %v", err)
	}
	for _, item := range resp.Items {
		if item.RerankScore != nil {
			t.Error("no rerank score should be attached when the reranker fails")
		}
	}
}

func TestSearchPagination(t *testing.T) {
	models := &queryModels{denseQuery: []float64{1, 0}, sparseQuery: core.SparseVector{1: 1}}
	engine, _ := seedEngine(t, models, false, defaultFixtures())

	page, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategyKeyword,
		Limit:    1,
		Offset:   1,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one item on the page, got %d", len(page.Items))
	}
	if page.Total < 2 {
		t.Errorf("total must count the whole candidate set, got %d", page.Total)
	}

	beyond, err := engine.Search(context.Background(), core.SearchRequest{
		Text:     "go",
		Strategy: core.StrategyKeyword,
		Limit:    10,
		Offset:   100,
	})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(beyond.Items) != 0 {
		t.Errorf("offset beyond the set must return empty page, got %d items", len(beyond.Items))
	}
}

func TestSearchValidatesRequest(t *testing.T) {
	models := &queryModels{}
	engine, _ := seedEngine(t, models, false, nil)

	bad := 1.5
	if _, err := engine.Search(context.Background(), core.SearchRequest{Text: "q", HybridWeight: &bad}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("expected validation error for hybrid_weight > 1, got %v", err)
	}
	if _, err := engine.Search(context.Background(), core.SearchRequest{Text: "q", Strategy: "bogus"}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("expected validation error for unknown strategy, got %v", err)
	}
}
