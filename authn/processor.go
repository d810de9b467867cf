package authn

import "context"

// Processor answers credential questions about entities. Implementations may block
// on credential storage.
type Processor interface {
	// HasCredential reports whether the entity can be authenticated with the authenticator
	HasCredential(ctx context.Context, entityID int64, authenticator AuthenticatorRef) (bool, error)

	// ResolveValidAuthenticator picks the first second factor authenticator of the flow usable
	// by the entity, or nil when there is none
	ResolveValidAuthenticator(ctx context.Context, flow *Flow, entityID int64) (AuthenticatorRef, error)
}
