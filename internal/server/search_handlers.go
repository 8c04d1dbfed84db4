package server

import (
	"net/http"

	"alexandria/internal/core"
)

// handleSearch runs a hybrid retrieval query.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req core.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
