package server

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/jrsteele09/go-session-authn/internal/errors"
	"github.com/jrsteele09/go-session-authn/realms"
	"github.com/jrsteele09/go-session-authn/sessions"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	maxBodyBytes    = 1 << 20
)

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("Failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, errorResponse{Error: code, Description: description})
}

// writeError maps domain errors to responses. Unknown and expired sessions look the
// same to clients; internal details are logged, not returned.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case sessions.IsNotAuthenticated(err):
		writeJSONError(w, "not_authenticated", "please authenticate", http.StatusUnauthorized)
	case apperrors.Is(err, apperrors.ErrInvalidRequest):
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, realms.ErrRealmNotFound):
		writeJSONError(w, "invalid_request", "unknown realm", http.StatusBadRequest)
	default:
		log.Err(err).Msg("Request failed")
		writeJSONError(w, "server_error", "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidRequest, "malformed body (%v)", err)
	}
	return nil
}
