package server

import (
	"net/http"

	"alexandria/internal/core"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var c core.Collection
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	c.OwnerID = requesterID(r)
	if err := s.collections.Create(r.Context(), &c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	c, err := s.collections.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCollection(w http.ResponseWriter, r *http.Request) {
	var c core.Collection
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	c.ID = chi.URLParam(r, "id")
	if err := s.collections.Update(r.Context(), &c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.collections.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleCollectionMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.collections.Members(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"resource_ids": members})
}

type membershipRequest struct {
	ResourceIDs []string `json:"resource_ids"`
}

func (s *Server) handleAddCollectionResources(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.ResourceIDs) == 0 {
		writeError(w, r, core.Validationf("resource_ids is required"))
		return
	}
	if err := s.collections.AddResources(r.Context(), chi.URLParam(r, "id"), req.ResourceIDs); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleRemoveCollectionResources(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.collections.RemoveResources(r.Context(), chi.URLParam(r, "id"), req.ResourceIDs); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleCollectionRecommendations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	recs, err := s.recommender.ForCollection(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
