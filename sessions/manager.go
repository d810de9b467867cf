package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-authn/realms"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	maxUpdateAttempts = 3
	maxInsertAttempts = 3
)

// AuthenticationObserver is notified whenever a session proves an entity is authenticated.
// It is typically used to persist a "last authentication" marker for the entity.
type AuthenticationObserver func(entityID int64, at time.Time)

// RememberMeInvalidator is invoked when a session is removed with remember-me invalidation requested.
type RememberMeInvalidator func(ctx context.Context, session *LoginSession)

// AttributeUpdater mutates the session scoped attributes in place.
// It may be invoked more than once if the store reports a concurrent modification.
type AttributeUpdater func(sessionData map[string]string)

// CreateParams carries everything known about a successful login.
type CreateParams struct {
	EntityID              int64
	Realm                 string
	Label                 string
	FirstFactorOptionID   string
	SecondFactorOptionID  string // Optional, set when the login already included a second factor
	OutdatedCredentialID  string
	RememberMe            RememberMeInfo
	AuthenticationMethods []AuthenticationMethod
	AuthenticationTime    time.Time // When the first factor succeeded, defaults to now
}

func (p CreateParams) dedupKey() string {
	return fmt.Sprintf("%d\x00%s\x00%s\x00%s", p.EntityID, p.Realm, p.FirstFactorOptionID, p.Label)
}

// Manager owns login session creation, expiry and mutation.
// Mutations of one session id are serialised; different ids proceed independently.
type Manager struct {
	repo               Repo
	realms             realms.Repo
	nowTime            func() time.Time
	observer           AuthenticationObserver
	rememberMe         RememberMeInvalidator
	activityWriteDelay time.Duration

	locks     *keyedLocks
	creations singleflight.Group

	recentWritesLock sync.Mutex
	recentWrites     map[string]time.Time // sessionID -> last activity write
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithAuthenticationObserver registers the hook fired on successful Create and Get.
func WithAuthenticationObserver(observer AuthenticationObserver) ManagerOption {
	return func(m *Manager) {
		m.observer = observer
	}
}

// WithRememberMeInvalidator registers the hook used by Remove when asked to drop remember-me state.
func WithRememberMeInvalidator(invalidator RememberMeInvalidator) ManagerOption {
	return func(m *Manager) {
		m.rememberMe = invalidator
	}
}

// WithActivityWriteDelay limits how often Touch writes to the store for the same session.
func WithActivityWriteDelay(delay time.Duration) ManagerOption {
	return func(m *Manager) {
		m.activityWriteDelay = delay
	}
}

// NewManager creates a session manager over the given stores.
func NewManager(repo Repo, realmRepo realms.Repo, options ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[NewManager] session repo is required")
	}
	if realmRepo == nil {
		return nil, errors.New("[NewManager] realm repo is required")
	}

	m := &Manager{
		repo:         repo,
		realms:       realmRepo,
		nowTime:      time.Now,
		locks:        newKeyedLocks(),
		recentWrites: make(map[string]time.Time),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Create always stores a brand new session with a fresh id.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*LoginSession, error) {
	realm, err := m.realms.Get(params.Realm)
	if err != nil {
		return nil, fmt.Errorf("[Manager.Create] realm %q: %w", params.Realm, err)
	}

	now := m.nowTime()
	authnTime := params.AuthenticationTime
	if authnTime.IsZero() {
		authnTime = now
	}

	session := &LoginSession{
		EntityID:              params.EntityID,
		Realm:                 realm.Name,
		Label:                 params.Label,
		Started:               now,
		LastUsed:              now,
		MaxInactivity:         realm.MaxInactivity,
		FirstFactor:           AuthNInfo{OptionID: params.FirstFactorOptionID, Time: authnTime},
		RememberMe:            params.RememberMe,
		AuthenticationMethods: MethodSet(params.AuthenticationMethods...),
		SessionData:           make(map[string]string),
		OutdatedCredentialID:  params.OutdatedCredentialID,
	}
	if realm.Lifetime > 0 {
		session.AbsoluteExpiry = now.Add(realm.Lifetime)
	}
	if params.SecondFactorOptionID != "" {
		session.SecondFactor = &AuthNInfo{OptionID: params.SecondFactorOptionID, Time: authnTime}
	}
	session.Expires = session.expiryAfterUse(now)

	for attempt := 0; ; attempt++ {
		session.ID = uuid.New().String()
		err = m.repo.Insert(ctx, session)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicate) || attempt+1 >= maxInsertAttempts {
			return nil, fmt.Errorf("[Manager.Create] failed to store session: %w", err)
		}
	}

	log.Debug().Object("login_session", session).Msg("Created a new session")
	m.authenticationObserved(session.EntityID, now)
	return session.Clone(), nil
}

// GetOrCreate returns the live session matching entity, realm, first factor option and
// label without touching it, or creates one. Concurrent identical calls create at most one.
func (m *Manager) GetOrCreate(ctx context.Context, params CreateParams) (*LoginSession, error) {
	v, err, _ := m.creations.Do(params.dedupKey(), func() (any, error) {
		existing, err := m.findLive(ctx, params)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Debug().Object("login_session", existing).Msg("Using existing session")
			return existing, nil
		}
		return m.Create(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("[Manager.GetOrCreate] %w", err)
	}
	// Results are shared between callers of the same flight
	return v.(*LoginSession).Clone(), nil
}

func (m *Manager) findLive(ctx context.Context, params CreateParams) (*LoginSession, error) {
	owned, err := m.repo.ListByEntity(ctx, params.EntityID)
	if err != nil {
		return nil, fmt.Errorf("can't retrieve current sessions of the authenticated entity: %w", err)
	}
	now := m.nowTime()
	var found *LoginSession
	for _, s := range owned {
		if s.Realm != params.Realm || s.FirstFactor.OptionID != params.FirstFactorOptionID ||
			s.Label != params.Label || s.IsExpiredAt(now) {
			continue
		}
		if found == nil || s.LastUsed.After(found.LastUsed) {
			found = s
		}
	}
	return found, nil
}

// Get returns a live session. Dead sessions yield ErrUnknownSession or ErrSessionExpired.
func (m *Manager) Get(ctx context.Context, sessionID string) (*LoginSession, error) {
	now := m.nowTime()
	session, err := m.load(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}
	log.Trace().Object("login_session", session).Dur("max_inactivity", session.MaxInactivity).Msg("Returning session")
	m.authenticationObserved(session.EntityID, now)
	return session, nil
}

// GetOwned returns the most recently used live session of the entity in the realm.
func (m *Manager) GetOwned(ctx context.Context, entityID int64, realm string) (*LoginSession, error) {
	owned, err := m.repo.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("[Manager.GetOwned] %w", err)
	}
	now := m.nowTime()
	var found *LoginSession
	for _, s := range owned {
		if s.Realm != realm || s.IsExpiredAt(now) {
			continue
		}
		if found == nil || s.LastUsed.After(found.LastUsed) {
			found = s
		}
	}
	if found == nil {
		return nil, fmt.Errorf("[Manager.GetOwned] no session for entity %d in realm %q: %w", entityID, realm, ErrUnknownSession)
	}
	return found, nil
}

// Touch records activity on a live session, extending its inactivity window.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	now := m.nowTime()
	if m.activityWriteDelay > 0 && m.recentlyWritten(sessionID, now) {
		session, err := m.load(ctx, sessionID, now)
		if err != nil {
			return err
		}
		// A skipped write must not let the stored deadline fall inside the delay window
		deadline := now.Add(m.activityWriteDelay)
		if !session.Expires.Before(deadline) || !session.expiryAfterUse(now).After(session.Expires) {
			return nil
		}
	}

	_, err := m.mutate(ctx, sessionID, func(s *LoginSession) {
		s.LastUsed = now
		if expires := s.expiryAfterUse(now); expires.After(s.Expires) {
			s.Expires = expires
		}
	})
	if err != nil {
		return err
	}

	if m.activityWriteDelay > 0 {
		m.recentWritesLock.Lock()
		m.recentWrites[sessionID] = now
		m.recentWritesLock.Unlock()
	}
	log.Trace().Str("session", Fingerprint(sessionID)).Msg("Updated session activity timestamp")
	return nil
}

// UpdateAttributes applies the updater to the session data and persists the result.
func (m *Manager) UpdateAttributes(ctx context.Context, sessionID string, updater AttributeUpdater) error {
	_, err := m.mutate(ctx, sessionID, func(s *LoginSession) {
		if s.SessionData == nil {
			s.SessionData = make(map[string]string)
		}
		updater(s.SessionData)
	})
	return err
}

// RecordAdditionalAuthentication stores the option used for a step-up authentication.
func (m *Manager) RecordAdditionalAuthentication(ctx context.Context, sessionID, optionID string) error {
	now := m.nowTime()
	_, err := m.mutate(ctx, sessionID, func(s *LoginSession) {
		s.SecondFactor = &AuthNInfo{OptionID: optionID, Time: now}
	})
	if err != nil {
		return err
	}
	log.Debug().Str("option_id", optionID).Str("session", Fingerprint(sessionID)).Msg("Recorded additional authentication")
	return nil
}

// Remove deletes the session. Removing an unknown session is not an error.
func (m *Manager) Remove(ctx context.Context, sessionID string, invalidateRememberMe bool) error {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	session, err := m.repo.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("[Manager.Remove] %w", err)
	}
	if err := m.repo.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("[Manager.Remove] %w", err)
	}

	m.recentWritesLock.Lock()
	delete(m.recentWrites, sessionID)
	m.recentWritesLock.Unlock()

	if session != nil && invalidateRememberMe && m.rememberMe != nil {
		m.rememberMe(ctx, session)
	}
	log.Debug().Str("session", Fingerprint(sessionID)).Bool("remember_me_invalidated", invalidateRememberMe).Msg("Removed session")
	return nil
}

// RemoveExpired deletes every session that is dead now. Expired sessions are already
// unusable; this only reclaims storage.
func (m *Manager) RemoveExpired(ctx context.Context) (int, error) {
	now := m.nowTime()
	removed, err := m.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("[Manager.RemoveExpired] %w", err)
	}

	m.recentWritesLock.Lock()
	for id, written := range m.recentWrites {
		if now.Sub(written) >= m.activityWriteDelay {
			delete(m.recentWrites, id)
		}
	}
	m.recentWritesLock.Unlock()
	return removed, nil
}

// load reads a session and applies lazy expiry.
func (m *Manager) load(ctx context.Context, sessionID string, now time.Time) (*LoginSession, error) {
	session, err := m.repo.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("[Manager] failed to read session: %w", err)
	}
	if session.IsExpiredAt(now) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// mutate runs a read-modify-write cycle under the session's lock, retrying on
// optimistic conflicts reported by the store.
func (m *Manager) mutate(ctx context.Context, sessionID string, apply func(*LoginSession)) (*LoginSession, error) {
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		session, err := m.load(ctx, sessionID, m.nowTime())
		if err != nil {
			return nil, err
		}
		apply(session)

		err = m.repo.Update(ctx, session)
		switch {
		case err == nil:
			return session, nil
		case errors.Is(err, ErrConflict):
			log.Debug().Str("session", Fingerprint(sessionID)).Int("attempt", attempt+1).Msg("Concurrent session modification, retrying")
			continue
		case errors.Is(err, ErrNotFound):
			return nil, ErrUnknownSession
		default:
			return nil, fmt.Errorf("[Manager] failed to update session: %w", err)
		}
	}
	return nil, fmt.Errorf("[Manager] giving up after %d attempts: %w", maxUpdateAttempts, ErrConflict)
}

func (m *Manager) recentlyWritten(sessionID string, now time.Time) bool {
	m.recentWritesLock.Lock()
	defer m.recentWritesLock.Unlock()
	last, ok := m.recentWrites[sessionID]
	return ok && now.Before(last.Add(m.activityWriteDelay))
}

func (m *Manager) authenticationObserved(entityID int64, at time.Time) {
	if m.observer != nil {
		m.observer(entityID, at)
	}
}
