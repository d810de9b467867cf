package mongorepo

import (
	"maps"
	"time"

	"github.com/jrsteele09/go-session-authn/sessions"
)

// sessionDocument is the stored shape of a session. Durations are kept in
// milliseconds and method tags as a plain array.
type sessionDocument struct {
	ID                   string                  `bson:"_id"`
	EntityID             int64                   `bson:"entity_id"`
	Realm                string                  `bson:"realm"`
	Label                string                  `bson:"label"`
	Started              time.Time               `bson:"started"`
	LastUsed             time.Time               `bson:"last_used"`
	Expires              time.Time               `bson:"expires"`
	MaxInactivityMillis  int64                   `bson:"max_inactivity_ms"`
	AbsoluteExpiry       *time.Time              `bson:"absolute_expiry,omitempty"`
	FirstFactor          sessions.AuthNInfo      `bson:"first_factor"`
	SecondFactor         *sessions.AuthNInfo     `bson:"second_factor,omitempty"`
	RememberMe           sessions.RememberMeInfo `bson:"remember_me"`
	Methods              []string                `bson:"methods,omitempty"`
	SessionData          map[string]string       `bson:"session_data,omitempty"`
	OutdatedCredentialID string                  `bson:"outdated_credential_id,omitempty"`
	Version              int64                   `bson:"version"`
}

func toDocument(s *sessions.LoginSession) *sessionDocument {
	doc := &sessionDocument{
		ID:                   s.ID,
		EntityID:             s.EntityID,
		Realm:                s.Realm,
		Label:                s.Label,
		Started:              s.Started,
		LastUsed:             s.LastUsed,
		Expires:              s.Expires,
		MaxInactivityMillis:  s.MaxInactivity.Milliseconds(),
		FirstFactor:          s.FirstFactor,
		RememberMe:           s.RememberMe,
		SessionData:          maps.Clone(s.SessionData),
		OutdatedCredentialID: s.OutdatedCredentialID,
		Version:              s.Version,
	}
	if !s.AbsoluteExpiry.IsZero() {
		absolute := s.AbsoluteExpiry
		doc.AbsoluteExpiry = &absolute
	}
	if s.SecondFactor != nil {
		second := *s.SecondFactor
		doc.SecondFactor = &second
	}
	for _, m := range s.Methods() {
		doc.Methods = append(doc.Methods, string(m))
	}
	return doc
}

func (d *sessionDocument) toSession() *sessions.LoginSession {
	s := &sessions.LoginSession{
		ID:                   d.ID,
		EntityID:             d.EntityID,
		Realm:                d.Realm,
		Label:                d.Label,
		Started:              d.Started,
		LastUsed:             d.LastUsed,
		Expires:              d.Expires,
		MaxInactivity:        time.Duration(d.MaxInactivityMillis) * time.Millisecond,
		FirstFactor:          d.FirstFactor,
		SecondFactor:         d.SecondFactor,
		RememberMe:           d.RememberMe,
		SessionData:          d.SessionData,
		OutdatedCredentialID: d.OutdatedCredentialID,
		Version:              d.Version,
	}
	if d.AbsoluteExpiry != nil {
		s.AbsoluteExpiry = *d.AbsoluteExpiry
	}
	if s.SessionData == nil {
		s.SessionData = make(map[string]string)
	}
	methods := make([]sessions.AuthenticationMethod, 0, len(d.Methods))
	for _, m := range d.Methods {
		methods = append(methods, sessions.AuthenticationMethod(m))
	}
	s.AuthenticationMethods = sessions.MethodSet(methods...)
	return s
}
