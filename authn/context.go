package authn

import "github.com/jrsteele09/go-session-authn/sessions"

// Context carries per-request authentication state: the caller's login session, if any,
// and the flows configured for the endpoint being used. It is built per request and
// passed explicitly.
type Context struct {
	session *sessions.LoginSession
	flows   []*Flow
}

// NewContext creates a request authentication context. session may be nil.
func NewContext(session *sessions.LoginSession, flows []*Flow) *Context {
	return &Context{session: session, flows: flows}
}

// CurrentSession returns the caller's session or nil when unauthenticated.
func (c *Context) CurrentSession() *sessions.LoginSession {
	if c == nil {
		return nil
	}
	return c.session
}

// CurrentFlows returns the endpoint's authentication flows.
func (c *Context) CurrentFlows() []*Flow {
	if c == nil {
		return nil
	}
	return c.flows
}

// WithSession returns a copy of the context bound to another session, e.g. after a
// session mutation refreshed it.
func (c *Context) WithSession(session *sessions.LoginSession) *Context {
	return &Context{session: session, flows: c.CurrentFlows()}
}

// FindAuthenticator looks an authenticator up by id across all flows.
func (c *Context) FindAuthenticator(id string) (AuthenticatorRef, bool) {
	for _, flow := range c.CurrentFlows() {
		for _, a := range flow.Authenticators() {
			if a.ID() == id {
				return a, true
			}
		}
	}
	return nil, false
}
