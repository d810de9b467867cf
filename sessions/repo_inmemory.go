package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is an in-memory implementation of Repo
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]*LoginSession       // sessionID -> session
	byEntity map[int64]map[string]struct{} // entityID -> sessionIDs
}

// NewInMemoryRepo creates a new in-memory login session repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]*LoginSession),
		byEntity: make(map[int64]map[string]struct{}),
	}
}

// Insert stores a new login session
func (r *InMemoryRepo) Insert(_ context.Context, session *LoginSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("sessionID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return ErrDuplicate
	}

	// Store a copy of the session to avoid external modifications
	r.sessions[session.ID] = session.Clone()
	if _, ok := r.byEntity[session.EntityID]; !ok {
		r.byEntity[session.EntityID] = make(map[string]struct{})
	}
	r.byEntity[session.EntityID][session.ID] = struct{}{}
	return nil
}

// Get retrieves a login session by ID
func (r *InMemoryRepo) Get(_ context.Context, sessionID string) (*LoginSession, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

// Update replaces a stored login session if its version matches
func (r *InMemoryRepo) Update(_ context.Context, session *LoginSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != session.Version {
		return ErrConflict
	}

	session.Version++
	r.sessions[session.ID] = session.Clone()
	return nil
}

// Delete removes a login session
func (r *InMemoryRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(sessionID)
	return nil
}

// ListByEntity returns every session owned by the entity
func (r *InMemoryRepo) ListByEntity(_ context.Context, entityID int64) ([]*LoginSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byEntity[entityID]
	owned := make([]*LoginSession, 0, len(ids))
	for id := range ids {
		owned = append(owned, r.sessions[id].Clone())
	}
	return owned, nil
}

// DeleteExpired removes sessions that are dead at the given time
func (r *InMemoryRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, session := range r.sessions {
		if session.IsExpiredAt(now) {
			r.deleteLocked(id)
			removed++
		}
	}
	return removed, nil
}

func (r *InMemoryRepo) deleteLocked(sessionID string) {
	session, ok := r.sessions[sessionID]
	if !ok {
		return // Already doesn't exist, no error
	}
	delete(r.sessions, sessionID)

	owned := r.byEntity[session.EntityID]
	delete(owned, sessionID)

	// Clean up empty entity index
	if len(owned) == 0 {
		delete(r.byEntity, session.EntityID)
	}
}
