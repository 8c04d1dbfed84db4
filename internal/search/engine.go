// Package search implements the hybrid retrieval engine: parallel lexical,
// dense, and sparse retrievers fused with weighted Reciprocal Rank Fusion,
// optional cross-encoder reranking, faceting, and pagination.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"alexandria/internal/config"
	"alexandria/internal/core"
	"alexandria/internal/index"
	"alexandria/internal/llm"
	"alexandria/internal/logger"
	"alexandria/internal/store"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

// maxCandidateUniverse bounds how many filtered resources are loaded to
// form the candidate universe.
const maxCandidateUniverse = 10000

// Engine answers search requests against the store and in-memory indexes.
type Engine struct {
	store    *store.Store
	indexes  *index.Indexes
	models   llm.Service
	cfg      config.Retrieval
	rerankOn bool
	validate *validator.Validate
}

// New creates a search engine. models may be nil when no embedding or
// reranking service is configured; semantic and sparse retrieval then
// degrade to lexical-only results.
func New(st *store.Store, indexes *index.Indexes, models llm.Service, cfg config.Retrieval, rerankEnabled bool) *Engine {
	return &Engine{
		store:    st,
		indexes:  indexes,
		models:   models,
		cfg:      cfg,
		rerankOn: rerankEnabled,
		validate: validator.New(),
	}
}

// Warm rebuilds the in-memory indexes from every completed resource in the
// store. Called once at boot; index writes during ingestion keep them
// current afterwards.
func (e *Engine) Warm(ctx context.Context) error {
	completed, err := e.store.ListResources(ctx, store.ListOptions{
		Status: []core.IngestionStatus{core.StatusCompleted},
		Limit:  maxCandidateUniverse,
	})
	if err != nil {
		return fmt.Errorf("failed to load resources for index warm-up: %w", err)
	}
	for i := range completed {
		res := &completed[i]
		entry := index.Entry{
			ResourceID: res.ID,
			Text: &index.TextBundle{
				Title:       res.Title,
				Description: res.Description,
				Text:        res.ExtractedText,
			},
		}
		if len(res.Embedding) > 0 {
			entry.Dense = res.Embedding
		}
		if len(res.SparseEmbedding) > 0 {
			entry.Sparse = res.SparseEmbedding
		}
		if err := e.indexes.Index(ctx, entry); err != nil {
			logger.Warn("index warm-up skipped resource", "resource_id", res.ID, "error", err.Error())
		}
	}
	logger.Info("indexes warmed", "resources", len(completed))
	return nil
}

// Search runs the full retrieval plan for one request.
func (e *Engine) Search(ctx context.Context, req core.SearchRequest) (*core.SearchResponse, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	applyDefaults(&req, e.cfg)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	// Filters produce the candidate universe up front. An empty universe
	// short-circuits without invoking any retriever.
	var allowed map[string]bool
	resources := make(map[string]*core.Resource)
	if !req.Filters.Empty() {
		universe, err := e.store.ListResources(ctx, filterOptions(req.Filters, maxCandidateUniverse))
		if err != nil {
			return nil, err
		}
		if len(universe) == 0 {
			return &core.SearchResponse{Items: []core.SearchItem{}, Facets: emptyFacets()}, nil
		}
		allowed = make(map[string]bool, len(universe))
		for i := range universe {
			res := &universe[i]
			allowed[res.ID] = true
			resources[res.ID] = res
		}
	}

	if strings.TrimSpace(req.Text) == "" {
		return e.filterOnly(ctx, req, resources)
	}

	lists, failed, err := e.retrieve(ctx, req, allowed)
	if err != nil {
		return nil, err
	}

	weights := renormalize(
		computeWeights(req.Strategy, req.Text, req.HybridWeight, e.cfg.DefaultHybridWeight),
		failed,
	)
	candidates := fuse(lists, weights, e.cfg.RRFK)

	if err := e.attachResources(ctx, candidates, resources); err != nil {
		return nil, err
	}
	sortFused(candidates, resources)

	items := e.buildItems(candidates, resources)
	if req.SortBy == "relevance" {
		items = e.rerank(ctx, req, items)
	} else {
		sortOverride(items, req.SortBy, req.SortDir)
	}

	response := &core.SearchResponse{
		Total:  len(items),
		Facets: computeFacets(items),
	}
	response.Items = paginate(items, req.Offset, req.Limit)
	return response, nil
}

// applyDefaults fills request defaults after validation.
func applyDefaults(req *core.SearchRequest, cfg config.Retrieval) {
	if req.Strategy == "" {
		req.Strategy = core.StrategyHybrid
	}
	if req.Limit == 0 {
		req.Limit = cfg.DefaultLimit
	}
	if req.SortBy == "" {
		req.SortBy = "relevance"
	}
	if req.SortDir == "" {
		req.SortDir = "desc"
	}
}

// retrieve fans out to the strategy's retrievers and fans in their ranked
// lists. A failed retriever is logged and excluded; only a total failure
// is an error.
func (e *Engine) retrieve(ctx context.Context, req core.SearchRequest, allowed map[string]bool) (map[string][]index.Hit, map[string]bool, error) {
	k := e.cfg.CandidatePool
	if req.Limit*10 > k {
		k = req.Limit * 10
	}

	methods := computeWeights(req.Strategy, req.Text, req.HybridWeight, e.cfg.DefaultHybridWeight)

	var mu sync.Mutex
	lists := make(map[string][]index.Hit)
	failed := make(map[string]bool)
	record := func(method string, hits []index.Hit, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			logger.Warn("retriever failed", "method", method, "error", err.Error())
			failed[method] = true
			return
		}
		lists[method] = hits
	}

	g, gctx := errgroup.WithContext(ctx)
	if _, ok := methods[methodLexical]; ok {
		g.Go(func() error {
			record(methodLexical, e.indexes.Text.Search(req.Text, k, allowed), nil)
			return nil
		})
	}
	if _, ok := methods[methodDense]; ok {
		g.Go(func() error {
			hits, err := e.denseRetrieve(gctx, req.Text, k, allowed)
			record(methodDense, hits, err)
			return nil
		})
	}
	if _, ok := methods[methodSparse]; ok {
		g.Go(func() error {
			hits, err := e.sparseRetrieve(gctx, req.Text, k, allowed)
			record(methodSparse, hits, err)
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == len(methods) {
		if ctx.Err() != nil {
			return nil, nil, core.ErrRetrievalTimeout
		}
		return nil, nil, core.ErrRetrievalUnavailable
	}
	return lists, failed, nil
}

func (e *Engine) denseRetrieve(ctx context.Context, text string, k int, allowed map[string]bool) ([]index.Hit, error) {
	if e.models == nil {
		return nil, errors.New("no embedding service configured")
	}
	query, err := e.models.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.indexes.Vector.Search(query, k, e.cfg.VectorMinSimHybrid, allowed)
}

func (e *Engine) sparseRetrieve(ctx context.Context, text string, k int, allowed map[string]bool) ([]index.Hit, error) {
	if e.models == nil {
		return nil, errors.New("no sparse embedding service configured")
	}
	query, err := e.models.EmbedSparse(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.indexes.Sparse.Search(query, k, allowed), nil
}

// attachResources loads any candidate resources the filter pass did not
// already bring in.
func (e *Engine) attachResources(ctx context.Context, candidates []candidate, resources map[string]*core.Resource) error {
	for _, c := range candidates {
		if _, ok := resources[c.resourceID]; ok {
			continue
		}
		res, err := e.store.GetResource(ctx, c.resourceID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Deleted between index read and store read; skip it.
				continue
			}
			return err
		}
		resources[c.resourceID] = res
	}
	return nil
}

func (e *Engine) buildItems(candidates []candidate, resources map[string]*core.Resource) []core.SearchItem {
	items := make([]core.SearchItem, 0, len(candidates))
	for _, c := range candidates {
		res, ok := resources[c.resourceID]
		if !ok {
			continue
		}
		items = append(items, core.SearchItem{
			Resource:      res,
			FusedScore:    c.fusedScore,
			MethodRanks:   c.methodRanks,
			LexicalScore:  c.methodScores[methodLexical],
			SemanticScore: c.methodScores[methodDense],
			SparseScore:   c.methodScores[methodSparse],
		})
	}
	return items
}

// rerank rescores the top R = min(rerank_top, 3*limit) items with the
// cross-encoder, reordering only within that prefix. Any failure keeps the
// fused order.
func (e *Engine) rerank(ctx context.Context, req core.SearchRequest, items []core.SearchItem) []core.SearchItem {
	if !e.rerankOn || !req.Rerank || e.models == nil || len(items) == 0 {
		return items
	}
	r := e.cfg.RerankTop
	if 3*req.Limit < r {
		r = 3 * req.Limit
	}
	if r > len(items) {
		r = len(items)
	}

	docs := make([]llm.Document, r)
	for i := 0; i < r; i++ {
		docs[i] = llm.Document{
			ResourceID: items[i].Resource.ID,
			Title:      items[i].Resource.Title,
			Text:       items[i].Resource.Description,
		}
	}
	scores, err := e.models.Rerank(ctx, req.Text, docs)
	if err != nil {
		logger.Warn("reranker unavailable, keeping fused order", "error", err.Error())
		return items
	}

	prefix := make([]core.SearchItem, r)
	copy(prefix, items[:r])
	for i := range prefix {
		score := scores[i]
		prefix[i].RerankScore = &score
	}
	sort.SliceStable(prefix, func(i, j int) bool {
		return *prefix[i].RerankScore > *prefix[j].RerankScore
	})
	return append(prefix, items[r:]...)
}

// filterOnly handles the empty-query path: the candidate set is the filter
// result ordered by the requested column, with no retriever scores.
func (e *Engine) filterOnly(ctx context.Context, req core.SearchRequest, resources map[string]*core.Resource) (*core.SearchResponse, error) {
	var all []*core.Resource
	if req.Filters.Empty() {
		listed, err := e.store.ListResources(ctx, store.ListOptions{Limit: maxCandidateUniverse})
		if err != nil {
			return nil, err
		}
		for i := range listed {
			all = append(all, &listed[i])
		}
	} else {
		for _, res := range resources {
			all = append(all, res)
		}
	}

	items := make([]core.SearchItem, 0, len(all))
	for _, res := range all {
		items = append(items, core.SearchItem{Resource: res})
	}
	sortBy := req.SortBy
	if sortBy == "relevance" {
		sortBy = "updated_at"
	}
	sortOverride(items, sortBy, req.SortDir)

	return &core.SearchResponse{
		Items:  paginate(items, req.Offset, req.Limit),
		Total:  len(items),
		Facets: computeFacets(items),
	}, nil
}

// sortOverride orders items by a resource column instead of relevance.
func sortOverride(items []core.SearchItem, sortBy, sortDir string) {
	asc := sortDir == "asc"
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Resource, items[j].Resource
		var less bool
		switch sortBy {
		case "created_at":
			if a.CreatedAt.Equal(b.CreatedAt) {
				return a.ID < b.ID
			}
			less = a.CreatedAt.Before(b.CreatedAt)
		case "quality_overall":
			qa, qb := quality(a), quality(b)
			if qa == qb {
				return a.ID < b.ID
			}
			less = qa < qb
		case "title":
			if a.Title == b.Title {
				return a.ID < b.ID
			}
			less = a.Title < b.Title
		default: // updated_at
			if a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.ID < b.ID
			}
			less = a.UpdatedAt.Before(b.UpdatedAt)
		}
		if asc {
			return less
		}
		return !less
	})
}

// computeFacets aggregates counts over the pre-paginated candidate set.
func computeFacets(items []core.SearchItem) core.FacetCounts {
	facets := emptyFacets()
	for _, item := range items {
		res := item.Resource
		if res.Language != "" {
			facets.Language[res.Language]++
		}
		if res.Type != "" {
			facets.Type[res.Type]++
		}
		if res.ClassificationCode != "" {
			facets.Classification[res.ClassificationCode]++
		}
		for _, subj := range res.Subject {
			facets.Subject[subj]++
		}
	}
	return facets
}

func emptyFacets() core.FacetCounts {
	return core.FacetCounts{
		Language:       make(map[string]int),
		Type:           make(map[string]int),
		Classification: make(map[string]int),
		Subject:        make(map[string]int),
	}
}

func paginate(items []core.SearchItem, offset, limit int) []core.SearchItem {
	if offset >= len(items) {
		return []core.SearchItem{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// filterOptions maps request filters onto the store's listing options.
func filterOptions(f core.SearchFilters, limit int) store.ListOptions {
	return store.ListOptions{
		Status:               f.Status,
		Language:             f.Language,
		ClassificationPrefix: f.ClassificationPrefix,
		SubjectAny:           f.SubjectAny,
		SubjectAll:           f.SubjectAll,
		MinQuality:           f.MinQuality,
		MaxQuality:           f.MaxQuality,
		CollectionID:         f.CollectionID,
		Limit:                limit,
	}
}
