// Package server exposes the HTTP API: resource submission and lifecycle,
// hybrid search, graph neighbors, collections, annotations, and
// recommendations.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"alexandria/internal/annotations"
	"alexandria/internal/collections"
	"alexandria/internal/config"
	"alexandria/internal/graph"
	"alexandria/internal/ingest"
	"alexandria/internal/logger"
	"alexandria/internal/recommend"
	"alexandria/internal/search"
	"alexandria/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server wires the HTTP routes to the domain services.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     config.Server

	store       *store.Store
	engine      *ingest.Engine
	search      *search.Engine
	graph       *graph.Scorer
	recommender *recommend.Recommender
	annotations *annotations.Service
	collections *collections.Service
}

// Deps carries the services the server routes to.
type Deps struct {
	Store       *store.Store
	Engine      *ingest.Engine
	Search      *search.Engine
	Graph       *graph.Scorer
	Recommender *recommend.Recommender
	Annotations *annotations.Service
	Collections *collections.Service
}

// New creates the HTTP server.
func New(cfg config.Server, deps Deps) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		config:      cfg,
		store:       deps.Store,
		engine:      deps.Engine,
		search:      deps.Search,
		graph:       deps.Graph,
		recommender: deps.Recommender,
		annotations: deps.Annotations,
		collections: deps.Collections,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.config.CORSEnabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID"},
			MaxAge:         300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/resources", s.handleSubmitResource)
		r.Get("/resources", s.handleListResources)
		r.Get("/resources/{id}", s.handleGetResource)
		r.Delete("/resources/{id}", s.handleDeleteResource)
		r.Get("/resources/{id}/status", s.handleResourceStatus)
		r.Post("/resources/{id}/cancel", s.handleCancelResource)
		r.Get("/resources/{id}/neighbors", s.handleNeighbors)
		r.Get("/resources/{id}/citations", s.handleCitations)
		r.Get("/resources/{id}/annotations", s.handleListResourceAnnotations)

		r.Post("/search", s.handleSearch)

		r.Post("/collections", s.handleCreateCollection)
		r.Get("/collections/{id}", s.handleGetCollection)
		r.Put("/collections/{id}", s.handleUpdateCollection)
		r.Delete("/collections/{id}", s.handleDeleteCollection)
		r.Get("/collections/{id}/resources", s.handleCollectionMembers)
		r.Post("/collections/{id}/resources", s.handleAddCollectionResources)
		r.Delete("/collections/{id}/resources", s.handleRemoveCollectionResources)
		r.Get("/collections/{id}/recommendations", s.handleCollectionRecommendations)

		r.Post("/annotations", s.handleCreateAnnotation)
		r.Get("/annotations", s.handleListOwnAnnotations)
		r.Get("/annotations/{id}", s.handleGetAnnotation)
		r.Put("/annotations/{id}", s.handleUpdateAnnotation)
		r.Delete("/annotations/{id}", s.handleDeleteAnnotation)

		r.Get("/recommendations", s.handleRecommendations)
	})
}

// Start begins serving and blocks until the context is canceled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
