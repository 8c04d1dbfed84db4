package server

import (
	"net/http"
	"strconv"
	"strings"

	"alexandria/internal/core"
	"alexandria/internal/store"

	"github.com/go-chi/chi/v5"
)

type submitRequest struct {
	URL string `json:"url"`
}

// handleSubmitResource accepts a URL for asynchronous ingestion. A new
// submission answers 202 with the pending resource; a duplicate source
// answers 200 with the existing one.
func (s *Server) handleSubmitResource(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.URL == "" {
		writeError(w, r, core.Validationf("url is required"))
		return
	}

	res, created, err := s.engine.Submit(r.Context(), req.URL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.GetResource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type listResponse struct {
	Items []core.Resource `json:"items"`
	Total int             `json:"total"`
}

// handleListResources lists resources with the store's filters, applied from
// query parameters.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, err := s.store.ListResources(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.store.CountResources(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total})
}

func (s *Server) handleDeleteResource(w http.ResponseWriter, r *http.Request) {
	affected, err := s.engine.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.collections.MarkDirty(affected...)
	writeJSON(w, http.StatusNoContent, nil)
}

// handleResourceStatus reports ingestion progress: job state, attempts, and
// the last error if any.
func (s *Server) handleResourceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.store.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id":      res.ID,
		"ingestion_status": res.IngestionStatus,
		"attempt_count":    job.AttemptCount,
		"last_error":       job.LastError,
		"created_at":       job.CreatedAt,
		"started_at":       job.StartedAt,
		"completed_at":     job.CompletedAt,
	})
}

func (s *Server) handleCancelResource(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	neighbors, err := s.graph.Neighbors(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, neighbors)
}

func (s *Server) handleCitations(w http.ResponseWriter, r *http.Request) {
	direction := store.CitationDirection(r.URL.Query().Get("direction"))
	switch direction {
	case "":
		direction = store.CitationsBoth
	case store.CitationsInbound, store.CitationsOutbound, store.CitationsBoth:
	default:
		writeError(w, r, core.Validationf("direction must be inbound, outbound, or both"))
		return
	}
	citations, err := s.store.ListCitations(r.Context(), chi.URLParam(r, "id"), direction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, citations)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	recs, err := s.recommender.ForOwner(r.Context(), requesterID(r), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// listOptionsFromQuery translates query parameters into store list options.
func listOptionsFromQuery(r *http.Request) (store.ListOptions, error) {
	q := r.URL.Query()
	opts := store.ListOptions{
		Language:             q.Get("language"),
		ClassificationPrefix: q.Get("classification"),
		CollectionID:         q.Get("collection_id"),
		Limit:                queryInt(r, "limit", 25),
		Offset:               queryInt(r, "offset", 0),
	}
	for _, st := range splitParam(q.Get("status")) {
		opts.Status = append(opts.Status, core.IngestionStatus(st))
	}
	opts.SubjectAny = splitParam(q.Get("subject_any"))
	opts.SubjectAll = splitParam(q.Get("subject_all"))

	if v := q.Get("min_quality"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, core.Validationf("min_quality must be a number")
		}
		opts.MinQuality = &f
	}
	if v := q.Get("max_quality"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, core.Validationf("max_quality must be a number")
		}
		opts.MaxQuality = &f
	}

	switch sortBy := q.Get("sort_by"); sortBy {
	case "", "updated_at", "created_at", "title", "quality_overall":
		opts.OrderBy = sortBy
	default:
		return opts, core.Validationf("unsupported sort_by %q", sortBy)
	}
	opts.OrderDesc = q.Get("sort_dir") != "asc"
	return opts, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
