package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-authn/authn"
	"github.com/jrsteele09/go-session-authn/credentials"
	"github.com/jrsteele09/go-session-authn/internal/config"
	"github.com/jrsteele09/go-session-authn/sessions"
	"github.com/rs/zerolog/log"
)

// CredentialStore resolves authenticators for step-up and lists the local
// credentials an entity holds.
type CredentialStore interface {
	authn.Processor
	Credentials(entityID int64) []credentials.Credential
}

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	sessions  *sessions.Manager
	processor CredentialStore
	endpoint  config.Endpoint
}

// New builds the session API. The endpoint carries the flows and step-up policy
// evaluated by the step-up route.
func New(cfg config.EnvConfig, manager *sessions.Manager, processor CredentialStore, endpoint config.Endpoint) (*Server, error) {
	if manager == nil {
		return nil, errors.New("[Server New] session manager is required")
	}
	if processor == nil {
		return nil, errors.New("[Server New] authentication processor is required")
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		sessions:  manager,
		processor: processor,
		endpoint:  endpoint,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		log.Info().Msg(colourRoute(method, path))
	}
}

func colourRoute(method, path string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	colour, ok := methodColors[method]
	if !ok {
		colour = Gray
	}
	return fmt.Sprintf("[%-19s] %s", colour+paddedMethod+ResetColor, path)
}
