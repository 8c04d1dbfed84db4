package handlers

import (
	"context"
	"fmt"

	"alexandria/internal/annotations"
	"alexandria/internal/archive"
	"alexandria/internal/collections"
	"alexandria/internal/config"
	"alexandria/internal/enrich"
	"alexandria/internal/events"
	"alexandria/internal/fetch"
	"alexandria/internal/graph"
	"alexandria/internal/index"
	"alexandria/internal/ingest"
	"alexandria/internal/llm"
	"alexandria/internal/logger"
	"alexandria/internal/recommend"
	"alexandria/internal/search"
	"alexandria/internal/store"
)

// app holds the wired service graph shared by the commands.
type app struct {
	cfg         *config.Config
	store       *store.Store
	indexes     *index.Indexes
	models      llm.Service
	bus         *events.Bus
	engine      *ingest.Engine
	search      *search.Engine
	graph       *graph.Scorer
	recommender *recommend.Recommender
	annotations *annotations.Service
	collections *collections.Service
}

// newApp builds the full service graph from configuration. The model
// service is nil when no API key is configured; enrichment stages and
// semantic retrieval then degrade.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Get()

	st, err := store.New(cfg.App.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	arch, err := archive.New(cfg.App.ArchiveDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	var models llm.Service
	if cfg.Models.APIKey != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.Models)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create model client: %w", err)
		}
		models = llm.NewResilient(gemini, cfg.Models.Timeout)
	} else {
		logger.Warn("no model API key configured, enrichment and semantic retrieval will degrade")
	}

	indexes := index.New(cfg.Models.EmbeddingDimensions, nil)
	fetcher := fetch.NewFetcher(cfg.Ingestion.FetchTimeout, cfg.Ingestion.MaxBodyBytes)
	pipeline := enrich.New(fetcher, arch, models, cfg)
	bus := events.NewBus()

	engine := ingest.New(st, indexes, pipeline, bus, ingest.Options{
		Workers:   cfg.Ingestion.WorkerPoolSize,
		QueueSize: cfg.Ingestion.QueueSize,
		Retry: ingest.RetryPolicy{
			MaxAttempts: cfg.Ingestion.MaxAttempts,
			BackoffBase: cfg.Ingestion.BackoffBase,
			MaxBackoff:  cfg.Ingestion.MaxBackoff,
		},
		IndexWriteTimeout: cfg.Ingestion.IndexWriteTimeout,
	})

	searchEngine := search.New(st, indexes, models, cfg.Retrieval, cfg.Models.RerankEnabled)

	return &app{
		cfg:         cfg,
		store:       st,
		indexes:     indexes,
		models:      models,
		bus:         bus,
		engine:      engine,
		search:      searchEngine,
		graph:       graph.New(st, cfg.Graph, cfg.Retrieval.VectorMinSimGraph),
		recommender: recommend.New(st, indexes),
		annotations: annotations.New(st, models),
		collections: collections.New(st),
	}, nil
}

// start warms the indexes and launches the ingestion workers.
func (a *app) start(ctx context.Context) error {
	if err := a.search.Warm(ctx); err != nil {
		return err
	}
	return a.engine.Start(ctx)
}

// close shuts the services down in dependency order.
func (a *app) close() {
	a.engine.Stop()
	a.collections.Close()
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logger.Error("failed to close store", err)
	}
}
