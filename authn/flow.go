package authn

import "fmt"

// FlowPolicy decides when the second factor of a flow is used during login.
type FlowPolicy string

const (
	FlowPolicyNever     FlowPolicy = "NEVER"
	FlowPolicyUserOptIn FlowPolicy = "USER_OPTIN"
	FlowPolicyRequire   FlowPolicy = "REQUIRE"
)

// Flow is an ordered set of first factor and optional second factor authenticators
// configured for an endpoint.
type Flow struct {
	Name         string
	Policy       FlowPolicy
	FirstFactor  []AuthenticatorRef
	SecondFactor []AuthenticatorRef // Ordered by preference
}

// NewFlow validates and builds a flow.
func NewFlow(name string, policy FlowPolicy, first, second []AuthenticatorRef) (*Flow, error) {
	if name == "" {
		return nil, fmt.Errorf("flow name is required")
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("flow %q needs at least one first factor authenticator", name)
	}
	switch policy {
	case "":
		policy = FlowPolicyNever
	case FlowPolicyNever, FlowPolicyUserOptIn, FlowPolicyRequire:
	default:
		return nil, fmt.Errorf("flow %q has unknown policy %q", name, policy)
	}
	if policy == FlowPolicyRequire && len(second) == 0 {
		return nil, fmt.Errorf("flow %q requires a second factor but has none configured", name)
	}
	return &Flow{Name: name, Policy: policy, FirstFactor: first, SecondFactor: second}, nil
}

// Authenticators returns first and second factor authenticators, in that order.
func (f *Flow) Authenticators() []AuthenticatorRef {
	all := make([]AuthenticatorRef, 0, len(f.FirstFactor)+len(f.SecondFactor))
	all = append(all, f.FirstFactor...)
	return append(all, f.SecondFactor...)
}
