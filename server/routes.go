package server

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// Session lifecycle
	s.RegisterRouteFunc("POST "+RouteSessions, ChainMiddleware(s.CreateSessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteSession, ChainMiddleware(s.GetSessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("DELETE "+RouteSession, ChainMiddleware(s.RemoveSessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteSessionTouch, ChainMiddleware(s.TouchSessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteSessionAttributes, ChainMiddleware(s.UpdateAttributesHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteEntitySession, ChainMiddleware(s.OwnedSessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteEntityCredentials, ChainMiddleware(s.EntityCredentialsHandler(), s.APIMiddleware()...))

	// Additional authentication
	s.RegisterRouteFunc("POST "+RouteSessionStepUp, ChainMiddleware(s.StepUpHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteSessionAdditionalAuth, ChainMiddleware(s.AdditionalAuthenticationHandler(), s.APIMiddleware()...))
}
