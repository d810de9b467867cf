package sessions

import (
	"encoding/hex"
	"maps"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// AuthenticationMethod tags a kind of method that contributed to a session.
type AuthenticationMethod string

const (
	MethodPassword    AuthenticationMethod = "pwd"
	MethodSMS         AuthenticationMethod = "sms"
	MethodOTP         AuthenticationMethod = "otp"
	MethodCertificate AuthenticationMethod = "swk"
	MethodHardwareKey AuthenticationMethod = "hwk"
	MethodFederated   AuthenticationMethod = "fed"
	MethodUnknown     AuthenticationMethod = "unknown"
)

// AuthNInfo records which authentication option was used and when.
type AuthNInfo struct {
	OptionID string    `json:"optionId" bson:"option_id" cbor:"1,keyasint"`
	Time     time.Time `json:"time" bson:"time" cbor:"2,keyasint"`
}

// RememberMeInfo is carried through untouched; remember-me handling lives elsewhere.
type RememberMeInfo struct {
	FirstFactorSkipped  bool `json:"firstFactorSkipped" bson:"first_factor_skipped" cbor:"1,keyasint"`
	SecondFactorSkipped bool `json:"secondFactorSkipped" bson:"second_factor_skipped" cbor:"2,keyasint"`
}

// LoginSession is an authenticated user's session within a single realm.
type LoginSession struct {
	ID                    string                            `json:"id" cbor:"1,keyasint"`
	EntityID              int64                             `json:"entityId" cbor:"2,keyasint"`
	Realm                 string                            `json:"realm" cbor:"3,keyasint"`
	Label                 string                            `json:"label" cbor:"4,keyasint"`
	Started               time.Time                         `json:"started" cbor:"5,keyasint"`
	LastUsed              time.Time                         `json:"lastUsed" cbor:"6,keyasint"`
	Expires               time.Time                         `json:"expires" cbor:"7,keyasint"`
	MaxInactivity         time.Duration                     `json:"maxInactivity" cbor:"8,keyasint"`
	AbsoluteExpiry        time.Time                         `json:"absoluteExpiry,omitzero" cbor:"9,keyasint"` // Realm lifetime cap, zero when uncapped
	FirstFactor           AuthNInfo                         `json:"firstFactor" cbor:"10,keyasint"`
	SecondFactor          *AuthNInfo                        `json:"secondFactor,omitempty" cbor:"11,keyasint,omitempty"`
	RememberMe            RememberMeInfo                    `json:"rememberMe" cbor:"12,keyasint"`
	AuthenticationMethods map[AuthenticationMethod]struct{} `json:"-" cbor:"13,keyasint,omitempty"`
	SessionData           map[string]string                 `json:"sessionData" cbor:"14,keyasint,omitempty"`
	OutdatedCredentialID  string                            `json:"outdatedCredentialId,omitempty" cbor:"15,keyasint,omitempty"`
	Version               int64                             `json:"-" cbor:"16,keyasint"`
}

// IsExpiredAt reports whether the session is dead at the given instant.
func (s *LoginSession) IsExpiredAt(now time.Time) bool {
	return !s.Expires.After(now)
}

// Methods returns the authentication methods as a slice, in no particular order.
func (s *LoginSession) Methods() []AuthenticationMethod {
	methods := make([]AuthenticationMethod, 0, len(s.AuthenticationMethods))
	for m := range s.AuthenticationMethods {
		methods = append(methods, m)
	}
	return methods
}

// Clone returns a deep copy, so repos and callers never share mutable state.
func (s *LoginSession) Clone() *LoginSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.SecondFactor != nil {
		second := *s.SecondFactor
		c.SecondFactor = &second
	}
	c.AuthenticationMethods = maps.Clone(s.AuthenticationMethods)
	c.SessionData = maps.Clone(s.SessionData)
	if c.SessionData == nil {
		c.SessionData = make(map[string]string)
	}
	return &c
}

// expiryAfterUse computes the inactivity deadline for a use at the given time,
// bounded by the absolute realm lifetime when one is set.
func (s *LoginSession) expiryAfterUse(used time.Time) time.Time {
	expires := used.Add(s.MaxInactivity)
	if !s.AbsoluteExpiry.IsZero() && expires.After(s.AbsoluteExpiry) {
		expires = s.AbsoluteExpiry
	}
	return expires
}

// MarshalZerologObject logs the session without exposing the bearer id.
func (s *LoginSession) MarshalZerologObject(e *zerolog.Event) {
	e.Str("session", Fingerprint(s.ID)).
		Int64("entity_id", s.EntityID).
		Str("realm", s.Realm).
		Time("last_used", s.LastUsed).
		Time("expires", s.Expires)
}

// Fingerprint returns a short, non-reversible tag for a session id suitable for logs.
func Fingerprint(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

// MethodSet builds a method set from a list.
func MethodSet(methods ...AuthenticationMethod) map[AuthenticationMethod]struct{} {
	set := make(map[AuthenticationMethod]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	return set
}
