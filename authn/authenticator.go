package authn

import "strings"

// AuthenticatorRef exposes the metadata the step-up policy needs about an authenticator.
type AuthenticatorRef interface {
	// ID is the authenticator instance id, e.g. "pwd" or "sms-otp"
	ID() string
	// LocalCredentialName is the local credential verified by the authenticator, empty for remote ones
	LocalCredentialName() string
	// RequiresRedirect reports whether credential retrieval leaves the current page (e.g. federated login)
	RequiresRedirect() bool
}

var _ AuthenticatorRef = Authenticator{}

// Authenticator is a plain AuthenticatorRef implementation, as loaded from configuration.
type Authenticator struct {
	AuthenticatorID string `json:"id" yaml:"id"`
	Credential      string `json:"credential,omitempty" yaml:"credential"`
	Redirect        bool   `json:"redirect,omitempty" yaml:"redirect"`
}

func (a Authenticator) ID() string                  { return a.AuthenticatorID }
func (a Authenticator) LocalCredentialName() string { return a.Credential }
func (a Authenticator) RequiresRedirect() bool      { return a.Redirect }

// AuthenticatorOnly extracts the authenticator id from an authentication option id of
// the form "<authenticator>.<option>". Ids without an option part are returned unchanged.
func AuthenticatorOnly(optionID string) string {
	authenticator, _, _ := strings.Cut(optionID, ".")
	return authenticator
}

// OptionID builds an authentication option id from its parts.
func OptionID(authenticatorID, optionKey string) string {
	if optionKey == "" {
		return authenticatorID
	}
	return authenticatorID + "." + optionKey
}
