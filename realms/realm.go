package realms

import (
	"errors"
	"fmt"
	"time"
)

// RememberMePolicy controls which part of an authentication may be remembered on a device.
type RememberMePolicy string

const (
	RememberMeDisallow       RememberMePolicy = "disallow"
	RememberMeAllowFor2nd    RememberMePolicy = "allowFor2ndFactor"
	RememberMeAllowWholeAuth RememberMePolicy = "allowForWholeAuthn"
)

var (
	ErrRealmNotFound = errors.New("realm not found")
	ErrInvalidRealm  = errors.New("invalid realm")
)

// Realm is an authentication policy domain. Login sessions are scoped to one realm
// and take their validity windows from it.
type Realm struct {
	Name             string           `json:"name" yaml:"name"`
	Description      string           `json:"description,omitempty" yaml:"description"`
	MaxInactivity    time.Duration    `json:"maxInactivity" yaml:"maxInactivity"` // Idle time after which a session dies
	Lifetime         time.Duration    `json:"lifetime,omitempty" yaml:"lifetime"`  // Absolute session lifetime, zero for no cap
	RememberMePolicy RememberMePolicy `json:"rememberMePolicy,omitempty" yaml:"rememberMePolicy"`
}

// Validate checks the realm carries usable session windows.
func (r *Realm) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRealm)
	}
	if r.MaxInactivity <= 0 {
		return fmt.Errorf("%w: realm %q maxInactivity must be positive", ErrInvalidRealm, r.Name)
	}
	if r.Lifetime < 0 {
		return fmt.Errorf("%w: realm %q lifetime must not be negative", ErrInvalidRealm, r.Name)
	}
	switch r.RememberMePolicy {
	case "", RememberMeDisallow, RememberMeAllowFor2nd, RememberMeAllowWholeAuth:
	default:
		return fmt.Errorf("%w: realm %q unknown remember me policy %q", ErrInvalidRealm, r.Name, r.RememberMePolicy)
	}
	return nil
}
