package sessions

import "errors"

var (
	// ErrUnknownSession means the session never existed or was removed.
	ErrUnknownSession = errors.New("unknown session")
	// ErrSessionExpired means the session existed but is past its validity window.
	ErrSessionExpired = errors.New("session expired")

	// Repo level errors
	ErrNotFound  = errors.New("session record not found")
	ErrDuplicate = errors.New("session id already exists")
	ErrConflict  = errors.New("session record modified concurrently")
)

// IsNotAuthenticated reports whether err means the caller has no usable session.
// Callers are free to treat unknown and expired sessions identically.
func IsNotAuthenticated(err error) bool {
	return errors.Is(err, ErrUnknownSession) || errors.Is(err, ErrSessionExpired)
}
