package server

import (
	"net/http"

	"github.com/jrsteele09/go-session-authn/authn"
	apperrors "github.com/jrsteele09/go-session-authn/internal/errors"
	"github.com/jrsteele09/go-session-authn/sessions"
	"github.com/jrsteele09/go-session-authn/stepup"
)

type stepUpRequest struct {
	Credential string `json:"credential"` // Credential about to be changed, matched by the CURRENT policy token
}

type stepUpResponse struct {
	Required bool   `json:"required"`
	OptionID string `json:"optionId,omitempty"`
}

// StepUpHandler evaluates the endpoint's additional authentication policy for the
// caller's session and reports which authenticator, if any, must be used first.
func (s *Server) StepUpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stepUpRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, err)
				return
			}
		}

		session, err := s.sessions.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if s.endpoint.Realm != "" && session.Realm != s.endpoint.Realm {
			writeError(w, sessions.ErrUnknownSession)
			return
		}

		engine, err := stepup.NewEngine(s.processor, s.endpoint.StepUpPolicy, s.endpoint.StepUpEnabled, session.EntityID)
		if err != nil {
			writeError(w, apperrors.Wrapf(apperrors.ErrInternal, "step-up engine for endpoint %q: %v", s.endpoint.Name, err))
			return
		}

		actx := authn.NewContext(session, s.endpoint.Flows)
		var decision stepup.Decision
		if req.Credential != "" {
			decision, err = engine.CheckCredentialRequirements(r.Context(), actx, req.Credential)
		} else {
			decision, err = engine.CheckRequirements(r.Context(), actx)
		}
		if err != nil {
			writeError(w, err)
			return
		}

		switch decision.Kind {
		case stepup.NoStepUp:
			writeJSON(w, http.StatusOK, stepUpResponse{Required: false})
		case stepup.StepUp:
			writeJSON(w, http.StatusOK, stepUpResponse{Required: true, OptionID: decision.OptionID})
		default:
			// The engine already logged the reason; clients only learn that step-up is unavailable
			writeJSONError(w, "server_error", "additional authentication is not available", http.StatusInternalServerError)
		}
	}
}
