package server

// Route path constants
const (
	RouteHealth = "/healthz"

	RouteSessions              = "/sessions"
	RouteSession               = "/sessions/{id}"
	RouteSessionTouch          = "/sessions/{id}/touch"
	RouteSessionAttributes     = "/sessions/{id}/attributes"
	RouteSessionAdditionalAuth = "/sessions/{id}/additional-authn"
	RouteSessionStepUp         = "/sessions/{id}/stepup"

	RouteEntitySession     = "/entities/{entityId}/session"
	RouteEntityCredentials = "/entities/{entityId}/credentials"
)
