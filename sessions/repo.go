package sessions

import (
	"context"
	"time"
)

// Repo defines the interface for login session storage.
// Implementations return copies; mutating a returned session has no effect until Update.
type Repo interface {
	// Insert stores a new session, failing if the id is already taken
	Insert(ctx context.Context, session *LoginSession) error

	// Get retrieves a session by ID, returning ErrNotFound if absent
	Get(ctx context.Context, sessionID string) (*LoginSession, error)

	// Update replaces a stored session. The stored Version must equal session.Version,
	// otherwise ErrConflict is returned. On success session.Version is incremented.
	Update(ctx context.Context, session *LoginSession) error

	// Delete removes a session by ID. Deleting an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// ListByEntity returns all sessions owned by an entity, expired ones included
	ListByEntity(ctx context.Context, entityID int64) ([]*LoginSession, error)

	// DeleteExpired removes sessions whose expiry is at or before the given time
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
