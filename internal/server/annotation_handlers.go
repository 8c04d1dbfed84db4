package server

import (
	"net/http"

	"alexandria/internal/core"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleCreateAnnotation(w http.ResponseWriter, r *http.Request) {
	var a core.Annotation
	if err := decodeJSON(r, &a); err != nil {
		writeError(w, r, err)
		return
	}
	a.OwnerID = requesterID(r)
	if err := s.annotations.Create(r.Context(), &a); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleGetAnnotation(w http.ResponseWriter, r *http.Request) {
	a, err := s.annotations.Get(r.Context(), chi.URLParam(r, "id"), requesterID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAnnotation(w http.ResponseWriter, r *http.Request) {
	var a core.Annotation
	if err := decodeJSON(r, &a); err != nil {
		writeError(w, r, err)
		return
	}
	a.ID = chi.URLParam(r, "id")
	a.OwnerID = requesterID(r)
	if err := s.annotations.Update(r.Context(), &a); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	if err := s.annotations.Delete(r.Context(), chi.URLParam(r, "id"), requesterID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleListResourceAnnotations returns the caller's annotations on a
// resource plus shared ones from other users.
func (s *Server) handleListResourceAnnotations(w http.ResponseWriter, r *http.Request) {
	annotations, err := s.annotations.ListByResource(r.Context(), chi.URLParam(r, "id"), requesterID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, annotations)
}

func (s *Server) handleListOwnAnnotations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	annotations, err := s.annotations.ListByOwner(r.Context(), requesterID(r), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, annotations)
}
