package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/recall/recalld/internal/apperr"
)

type errorBody struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps a typed error to its status code and sanitized body;
// untyped errors become an opaque 500 so internals never leak.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := apperr.As(err); ok {
		writeErrorBody(w, r, e.Status, string(e.Kind), e.Message(), e.Details)
		return
	}
	writeErrorBody(w, r, http.StatusInternalServerError, "internal_error", "internal server error", nil)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorBody{
		Error:     code,
		Message:   message,
		Details:   details,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
