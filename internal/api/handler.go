// Package api provides HTTP handlers for the handoff service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/admithub/handoff/internal/handoff"
	"github.com/admithub/handoff/internal/store"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeError maps domain errors to HTTP statuses. Conflicts and lost
// optimistic races both surface as 409 so a losing admin sees "already
// taken" rather than a server fault.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrStaleWrite),
		errors.Is(err, handoff.ErrInvalidTransition):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, handoff.ErrUnavailable):
		Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(v)
}
