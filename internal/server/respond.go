package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"alexandria/internal/core"
	"alexandria/internal/logger"

	"github.com/go-chi/chi/v5/middleware"
)

// errorBody is the redacted error envelope: a stable message plus the
// request correlation id. Internal detail stays in the logs.
type errorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", err)
	}
}

// writeError maps domain errors to HTTP status codes. Validation messages
// are safe to surface; everything else is redacted to a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetReqID(r.Context())

	var status int
	var message string
	switch {
	case errors.Is(err, core.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, core.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrConflict):
		status, message = http.StatusConflict, "conflict"
	case errors.Is(err, core.ErrRetrievalUnavailable):
		status, message = http.StatusServiceUnavailable, "retrieval unavailable"
	case errors.Is(err, core.ErrRetrievalTimeout):
		status, message = http.StatusServiceUnavailable, "retrieval timed out"
	default:
		status, message = http.StatusInternalServerError, "internal error"
	}

	if status >= 500 {
		logger.Error("request failed", err, "request_id", requestID, "path", r.URL.Path)
	} else {
		logger.Debug("request rejected", "request_id", requestID, "path", r.URL.Path, "error", err.Error())
	}
	writeJSON(w, status, errorBody{Error: message, RequestID: requestID})
}

// decodeJSON reads a request body into dst, rejecting malformed JSON with a
// validation error.
func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		return core.Validationf("malformed JSON body: %v", err)
	}
	return nil
}

// requesterID identifies the caller for ownership checks. Deployments sit
// behind an authenticating proxy that sets the header; absent that, a single
// local user is assumed.
func requesterID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "local"
}
