package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofrs/uuid/v5"

	"osprey-ptx/core/engagements"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

// parseUUIDParam rejects malformed public identifiers before any store
// lookup happens.
func parseUUIDParam(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	raw := urlParam(r, key)
	id, err := uuid.FromString(raw)
	if err != nil {
		http.Error(w, "invalid id format", http.StatusBadRequest)
		return "", false
	}
	return id.String(), true
}

func newPublicID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// renderDomainError maps lifecycle and validation errors onto HTTP
// statuses; anything unrecognized is a plain 500.
func renderDomainError(w http.ResponseWriter, err error) {
	var invalid *engagements.InvalidTransitionError
	var validation *engagements.ValidationError
	switch {
	case errors.Is(err, engagements.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, engagements.ErrInvalidRole):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]string{
				"code":    "engagements.invalid_transition",
				"reason":  string(invalid.Reason),
				"from":    string(invalid.From),
				"to":      string(invalid.To),
				"message": invalid.Message,
			},
		})
	case errors.As(err, &validation):
		http.Error(w, validation.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
