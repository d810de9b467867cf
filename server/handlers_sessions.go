package server

import (
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/jrsteele09/go-session-authn/credentials"
	apperrors "github.com/jrsteele09/go-session-authn/internal/errors"
	"github.com/jrsteele09/go-session-authn/internal/utils"
	"github.com/jrsteele09/go-session-authn/sessions"
)

type createSessionRequest struct {
	EntityID             int64                    `json:"entityId"`
	Realm                string                   `json:"realm"`
	Label                string                   `json:"label"`
	FirstFactor          string                   `json:"firstFactor"`
	SecondFactor         string                   `json:"secondFactor"`
	OutdatedCredentialID string                   `json:"outdatedCredentialId"`
	Methods              []string                 `json:"authenticationMethods"`
	RememberMe           *sessions.RememberMeInfo `json:"rememberMe"`
	AuthenticationTime   *time.Time               `json:"authenticationTime"`
}

type sessionResponse struct {
	*sessions.LoginSession
	AuthenticationMethods []sessions.AuthenticationMethod `json:"authenticationMethods"`
}

func newSessionResponse(session *sessions.LoginSession) sessionResponse {
	methods := session.Methods()
	slices.Sort(methods)
	return sessionResponse{LoginSession: session, AuthenticationMethods: methods}
}

type entityCredentialsResponse struct {
	EntityID    int64                    `json:"entityId"`
	Credentials []credentials.Credential `json:"credentials"`
}

type additionalAuthnRequest struct {
	OptionID string `json:"optionId"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// CreateSessionHandler records a completed login, reusing a live session of the same
// entity, realm, first factor and label when there is one.
func (s *Server) CreateSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.Realm == "" {
			req.Realm = s.endpoint.Realm
		}
		if req.Realm == "" || req.FirstFactor == "" {
			writeError(w, apperrors.Wrapf(apperrors.ErrInvalidRequest, "realm and firstFactor are required"))
			return
		}

		methods := make([]sessions.AuthenticationMethod, 0, len(req.Methods))
		for _, m := range req.Methods {
			methods = append(methods, sessions.AuthenticationMethod(m))
		}

		session, err := s.sessions.GetOrCreate(r.Context(), sessions.CreateParams{
			EntityID:              req.EntityID,
			Realm:                 req.Realm,
			Label:                 req.Label,
			FirstFactorOptionID:   req.FirstFactor,
			SecondFactorOptionID:  req.SecondFactor,
			OutdatedCredentialID:  req.OutdatedCredentialID,
			RememberMe:            utils.Value(req.RememberMe),
			AuthenticationMethods: methods,
			AuthenticationTime:    utils.Value(req.AuthenticationTime),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(session))
	}
}

func (s *Server) GetSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.sessions.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(session))
	}
}

// OwnedSessionHandler returns the entity's live session in the requested realm,
// defaulting to the endpoint realm.
func (s *Server) OwnedSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityID, err := strconv.ParseInt(r.PathValue("entityId"), 10, 64)
		if err != nil {
			writeError(w, apperrors.Wrapf(apperrors.ErrInvalidRequest, "entityId must be numeric"))
			return
		}
		realm := r.URL.Query().Get("realm")
		if realm == "" {
			realm = s.endpoint.Realm
		}

		session, err := s.sessions.GetOwned(r.Context(), entityID, realm)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(session))
	}
}

// EntityCredentialsHandler lists the local credentials an entity holds, so a login
// page can tell which ones must be changed.
func (s *Server) EntityCredentialsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityID, err := strconv.ParseInt(r.PathValue("entityId"), 10, 64)
		if err != nil {
			writeError(w, apperrors.Wrapf(apperrors.ErrInvalidRequest, "entityId must be numeric"))
			return
		}
		writeJSON(w, http.StatusOK, entityCredentialsResponse{
			EntityID:    entityID,
			Credentials: s.processor.Credentials(entityID),
		})
	}
}

func (s *Server) TouchSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sessions.Touch(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RemoveSessionHandler logs the session out; rememberMe=true also drops remembered devices.
func (s *Server) RemoveSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invalidateRememberMe, _ := strconv.ParseBool(r.URL.Query().Get("rememberMe"))
		if err := s.sessions.Remove(r.Context(), r.PathValue("id"), invalidateRememberMe); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// UpdateAttributesHandler merges the posted object into the session data. An empty
// value deletes the attribute.
func (s *Server) UpdateAttributesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var attrs map[string]string
		if err := decodeJSON(w, r, &attrs); err != nil {
			writeError(w, err)
			return
		}

		err := s.sessions.UpdateAttributes(r.Context(), r.PathValue("id"), func(data map[string]string) {
			for k, v := range attrs {
				if v == "" {
					delete(data, k)
					continue
				}
				data[k] = v
			}
		})
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AdditionalAuthenticationHandler records a completed step-up on the session.
func (s *Server) AdditionalAuthenticationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req additionalAuthnRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.OptionID == "" {
			writeError(w, apperrors.Wrapf(apperrors.ErrInvalidRequest, "optionId is required"))
			return
		}

		if err := s.sessions.RecordAdditionalAuthentication(r.Context(), r.PathValue("id"), req.OptionID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
