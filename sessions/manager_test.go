package sessions_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-authn/realms"
	"github.com/jrsteele09/go-session-authn/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRealm       = "main"
	testOtherRealm  = "admin"
	testShortRealm  = "short"
	testCappedRealm = "capped"
	testEntityID    = int64(42)
	testLabel       = "john.doe"
	testOptionID    = "pwd.password"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type observed struct {
	entityID int64
	at       time.Time
}

// testFixture holds all test dependencies
type testFixture struct {
	clock      *fakeClock
	repo       *sessions.InMemoryRepo
	manager    *sessions.Manager
	observedMu sync.Mutex
	observed   []observed
	rememberMe []string
}

func setupTestFixture(t *testing.T, options ...sessions.ManagerOption) *testFixture {
	t.Helper()

	realmRepo, err := realms.NewInMemoryRepo(
		&realms.Realm{Name: testRealm, MaxInactivity: 30 * time.Minute},
		&realms.Realm{Name: testOtherRealm, MaxInactivity: 30 * time.Minute},
		&realms.Realm{Name: testShortRealm, MaxInactivity: time.Second},
		&realms.Realm{Name: testCappedRealm, MaxInactivity: 10 * time.Minute, Lifetime: 15 * time.Minute},
	)
	require.NoError(t, err)

	f := &testFixture{
		clock: newFakeClock(),
		repo:  sessions.NewInMemoryRepo(),
	}

	opts := []sessions.ManagerOption{
		sessions.WithNowTime(f.clock.Now),
		sessions.WithAuthenticationObserver(func(entityID int64, at time.Time) {
			f.observedMu.Lock()
			defer f.observedMu.Unlock()
			f.observed = append(f.observed, observed{entityID: entityID, at: at})
		}),
		sessions.WithRememberMeInvalidator(func(_ context.Context, s *sessions.LoginSession) {
			f.rememberMe = append(f.rememberMe, s.ID)
		}),
	}
	opts = append(opts, options...)

	f.manager, err = sessions.NewManager(f.repo, realmRepo, opts...)
	require.NoError(t, err)
	return f
}

func defaultParams() sessions.CreateParams {
	return sessions.CreateParams{
		EntityID:              testEntityID,
		Realm:                 testRealm,
		Label:                 testLabel,
		FirstFactorOptionID:   testOptionID,
		AuthenticationMethods: []sessions.AuthenticationMethod{sessions.MethodPassword},
	}
}

func (f *testFixture) create(t *testing.T, params sessions.CreateParams) *sessions.LoginSession {
	t.Helper()
	s, err := f.manager.Create(context.Background(), params)
	require.NoError(t, err)
	return s
}

func TestNewManager_RequiresRepos(t *testing.T) {
	realmRepo, err := realms.NewInMemoryRepo()
	require.NoError(t, err)

	_, err = sessions.NewManager(nil, realmRepo)
	require.Error(t, err)

	_, err = sessions.NewManager(sessions.NewInMemoryRepo(), nil)
	require.Error(t, err)
}

func TestManager_Create(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	t.Run("fresh id for identical arguments", func(t *testing.T) {
		a := f.create(t, defaultParams())
		b := f.create(t, defaultParams())
		require.NotEqual(t, a.ID, b.ID)
	})

	t.Run("populates windows from realm", func(t *testing.T) {
		s := f.create(t, defaultParams())
		now := f.clock.Now()
		require.Equal(t, now, s.Started)
		require.Equal(t, now, s.LastUsed)
		require.Equal(t, now.Add(30*time.Minute), s.Expires)
		require.Equal(t, 30*time.Minute, s.MaxInactivity)
		require.Equal(t, testOptionID, s.FirstFactor.OptionID)
		require.Nil(t, s.SecondFactor)
		require.Contains(t, s.AuthenticationMethods, sessions.MethodPassword)
		require.NotNil(t, s.SessionData)
	})

	t.Run("authentication time recorded on first factor", func(t *testing.T) {
		params := defaultParams()
		params.AuthenticationTime = f.clock.Now().Add(-time.Second)
		s := f.create(t, params)
		require.Equal(t, params.AuthenticationTime, s.FirstFactor.Time)
	})

	t.Run("second factor recorded when supplied", func(t *testing.T) {
		params := defaultParams()
		params.SecondFactorOptionID = "sms.sms"
		s := f.create(t, params)
		require.NotNil(t, s.SecondFactor)
		require.Equal(t, "sms.sms", s.SecondFactor.OptionID)
	})

	t.Run("lifetime caps expiry", func(t *testing.T) {
		params := defaultParams()
		params.Realm = testCappedRealm
		s := f.create(t, params)
		require.Equal(t, f.clock.Now().Add(10*time.Minute), s.Expires)
		require.Equal(t, f.clock.Now().Add(15*time.Minute), s.AbsoluteExpiry)
	})

	t.Run("unknown realm", func(t *testing.T) {
		params := defaultParams()
		params.Realm = "nope"
		_, err := f.manager.Create(ctx, params)
		require.ErrorIs(t, err, realms.ErrRealmNotFound)
	})
}

func TestManager_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent while live", func(t *testing.T) {
		f := setupTestFixture(t)
		a, err := f.manager.GetOrCreate(ctx, defaultParams())
		require.NoError(t, err)
		b, err := f.manager.GetOrCreate(ctx, defaultParams())
		require.NoError(t, err)
		require.Equal(t, a.ID, b.ID)
	})

	t.Run("different realm yields a different session", func(t *testing.T) {
		f := setupTestFixture(t)
		a, err := f.manager.GetOrCreate(ctx, defaultParams())
		require.NoError(t, err)

		params := defaultParams()
		params.Realm = testOtherRealm
		b, err := f.manager.GetOrCreate(ctx, params)
		require.NoError(t, err)
		require.NotEqual(t, a.ID, b.ID)
	})

	t.Run("different option or label yields a different session", func(t *testing.T) {
		f := setupTestFixture(t)
		a, err := f.manager.GetOrCreate(ctx, defaultParams())
		require.NoError(t, err)

		params := defaultParams()
		params.FirstFactorOptionID = "cert.certificate"
		b, err := f.manager.GetOrCreate(ctx, params)
		require.NoError(t, err)
		require.NotEqual(t, a.ID, b.ID)

		params = defaultParams()
		params.Label = "someone else"
		c, err := f.manager.GetOrCreate(ctx, params)
		require.NoError(t, err)
		require.NotEqual(t, a.ID, c.ID)
	})

	t.Run("existing session is returned untouched", func(t *testing.T) {
		f := setupTestFixture(t)
		a, err := f.manager.GetOrCreate(ctx, defaultParams())
		require.NoError(t, err)

		f.clock.Advance(time.Minute)
		b, err := f.manager.GetOrCreate(ctx, defaultParams())
		require.NoError(t, err)
		require.Equal(t, a.LastUsed, b.LastUsed)
		require.Equal(t, a.Expires, b.Expires)
	})

	t.Run("expired session is replaced", func(t *testing.T) {
		f := setupTestFixture(t)
		params := defaultParams()
		params.Realm = testShortRealm
		a, err := f.manager.GetOrCreate(ctx, params)
		require.NoError(t, err)

		f.clock.Advance(1001 * time.Millisecond)
		b, err := f.manager.GetOrCreate(ctx, params)
		require.NoError(t, err)
		require.NotEqual(t, a.ID, b.ID)
	})

	t.Run("concurrent calls create one session", func(t *testing.T) {
		f := setupTestFixture(t)

		const callers = 32
		ids := make(chan string, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := f.manager.GetOrCreate(ctx, defaultParams())
				if err == nil {
					ids <- s.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		unique := map[string]struct{}{}
		for id := range ids {
			unique[id] = struct{}{}
		}
		require.Len(t, unique, 1)

		owned, err := f.repo.ListByEntity(ctx, testEntityID)
		require.NoError(t, err)
		require.Len(t, owned, 1)
	})
}

func TestManager_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("live session", func(t *testing.T) {
		f := setupTestFixture(t)
		s := f.create(t, defaultParams())

		got, err := f.manager.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, s.ID, got.ID)
		require.Equal(t, testEntityID, got.EntityID)
		require.Equal(t, testRealm, got.Realm)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.manager.Get(ctx, "does-not-exist")
		require.ErrorIs(t, err, sessions.ErrUnknownSession)
		require.True(t, sessions.IsNotAuthenticated(err))
	})

	t.Run("observer notified on create and get", func(t *testing.T) {
		f := setupTestFixture(t)
		s := f.create(t, defaultParams())
		f.clock.Advance(time.Second)
		_, err := f.manager.Get(ctx, s.ID)
		require.NoError(t, err)

		require.Len(t, f.observed, 2)
		require.Equal(t, testEntityID, f.observed[1].entityID)
		require.Equal(t, f.clock.Now(), f.observed[1].at)
	})

	t.Run("observer not notified for dead session", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.manager.Get(ctx, "does-not-exist")
		require.Error(t, err)
		require.Empty(t, f.observed)
	})
}

func TestManager_Expiry(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	params := defaultParams()
	params.Realm = testShortRealm
	s := f.create(t, params)

	f.clock.Advance(1001 * time.Millisecond)

	_, err := f.manager.Get(ctx, s.ID)
	require.True(t, sessions.IsNotAuthenticated(err))
	require.ErrorIs(t, err, sessions.ErrSessionExpired)

	err = f.manager.Touch(ctx, s.ID)
	require.ErrorIs(t, err, sessions.ErrSessionExpired)

	err = f.manager.UpdateAttributes(ctx, s.ID, func(data map[string]string) { data["a"] = "b" })
	require.ErrorIs(t, err, sessions.ErrSessionExpired)

	err = f.manager.RecordAdditionalAuthentication(ctx, s.ID, "sms")
	require.ErrorIs(t, err, sessions.ErrSessionExpired)

	// Still dead: nothing above revived it
	_, err = f.manager.Get(ctx, s.ID)
	require.ErrorIs(t, err, sessions.ErrSessionExpired)
}

func TestManager_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	params := defaultParams()
	params.Realm = testShortRealm
	s := f.create(t, params)

	f.clock.Advance(999 * time.Millisecond)
	_, err := f.manager.Get(ctx, s.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Millisecond)
	_, err = f.manager.Get(ctx, s.ID)
	require.ErrorIs(t, err, sessions.ErrSessionExpired)
}

func TestManager_Touch(t *testing.T) {
	ctx := context.Background()

	t.Run("extends inactivity window", func(t *testing.T) {
		f := setupTestFixture(t)
		params := defaultParams()
		params.Realm = testShortRealm
		s := f.create(t, params)

		for i := 0; i < 5; i++ {
			f.clock.Advance(800 * time.Millisecond)
			require.NoError(t, f.manager.Touch(ctx, s.ID))
		}

		got, err := f.manager.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, f.clock.Now(), got.LastUsed)
		require.Equal(t, f.clock.Now().Add(time.Second), got.Expires)
	})

	t.Run("never exceeds realm lifetime", func(t *testing.T) {
		f := setupTestFixture(t)
		params := defaultParams()
		params.Realm = testCappedRealm
		s := f.create(t, params)

		var previous time.Time
		for i := 0; i < 3; i++ {
			f.clock.Advance(4 * time.Minute)
			require.NoError(t, f.manager.Touch(ctx, s.ID))
			got, err := f.manager.Get(ctx, s.ID)
			require.NoError(t, err)
			require.False(t, got.Expires.After(s.AbsoluteExpiry))
			require.False(t, got.Expires.Before(previous), "expiry must never decrease")
			previous = got.Expires
		}
		require.Equal(t, s.AbsoluteExpiry, previous)

		f.clock.Advance(3 * time.Minute)
		require.ErrorIs(t, f.manager.Touch(ctx, s.ID), sessions.ErrSessionExpired)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := setupTestFixture(t)
		require.ErrorIs(t, f.manager.Touch(ctx, "missing"), sessions.ErrUnknownSession)
	})

	t.Run("activity write delay skips store writes", func(t *testing.T) {
		f := setupTestFixture(t, sessions.WithActivityWriteDelay(3*time.Second))
		s := f.create(t, defaultParams())

		f.clock.Advance(time.Second)
		require.NoError(t, f.manager.Touch(ctx, s.ID))
		firstWrite := f.clock.Now()

		f.clock.Advance(time.Second)
		require.NoError(t, f.manager.Touch(ctx, s.ID))
		got, err := f.manager.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, firstWrite, got.LastUsed)

		f.clock.Advance(2 * time.Second)
		require.NoError(t, f.manager.Touch(ctx, s.ID))
		got, err = f.manager.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, f.clock.Now(), got.LastUsed)
	})

	t.Run("activity write delay never shortens a short realm session", func(t *testing.T) {
		f := setupTestFixture(t, sessions.WithActivityWriteDelay(3*time.Second))
		params := defaultParams()
		params.Realm = testShortRealm
		s := f.create(t, params)

		f.clock.Advance(100 * time.Millisecond)
		require.NoError(t, f.manager.Touch(ctx, s.ID))
		f.clock.Advance(800 * time.Millisecond)
		require.NoError(t, f.manager.Touch(ctx, s.ID))
		lastUse := f.clock.Now()

		f.clock.Advance(600 * time.Millisecond)
		got, err := f.manager.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, lastUse, got.LastUsed)
		require.Equal(t, lastUse.Add(time.Second), got.Expires)
	})

	t.Run("activity write delay still reports dead sessions", func(t *testing.T) {
		f := setupTestFixture(t, sessions.WithActivityWriteDelay(time.Hour))
		s := f.create(t, defaultParams())
		require.NoError(t, f.manager.Touch(ctx, s.ID))
		require.NoError(t, f.manager.Remove(ctx, s.ID, false))
		require.ErrorIs(t, f.manager.Touch(ctx, s.ID), sessions.ErrUnknownSession)
	})
}

func TestManager_UpdateAttributes(t *testing.T) {
	ctx := context.Background()

	t.Run("merges rather than replaces", func(t *testing.T) {
		f := setupTestFixture(t)
		s := f.create(t, defaultParams())

		require.NoError(t, f.manager.UpdateAttributes(ctx, s.ID, func(data map[string]string) {
			data["a1"] = "x"
		}))
		require.NoError(t, f.manager.UpdateAttributes(ctx, s.ID, func(data map[string]string) {
			data["a2"] = "y"
		}))

		got, err := f.manager.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, map[string]string{"a1": "x", "a2": "y"}, got.SessionData)
	})

	t.Run("concurrent updaters on one session are serialised", func(t *testing.T) {
		f := setupTestFixture(t)
		s := f.create(t, defaultParams())

		const writers = 50
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := f.manager.UpdateAttributes(ctx, s.ID, func(data map[string]string) {
					data[fmt.Sprintf("k%d", i)] = "v"
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := f.manager.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, got.SessionData, writers)
	})

	t.Run("retries on store conflict", func(t *testing.T) {
		f := setupTestFixture(t)
		s := f.create(t, defaultParams())

		repo := &conflictingRepo{InMemoryRepo: f.repo, conflicts: 1}
		realmRepo, err := realms.NewInMemoryRepo(&realms.Realm{Name: testRealm, MaxInactivity: time.Hour})
		require.NoError(t, err)
		manager, err := sessions.NewManager(repo, realmRepo, sessions.WithNowTime(f.clock.Now))
		require.NoError(t, err)

		calls := 0
		require.NoError(t, manager.UpdateAttributes(ctx, s.ID, func(data map[string]string) {
			calls++
			data["k"] = "v"
		}))
		require.Equal(t, 2, calls)

		got, err := manager.Get(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, "v", got.SessionData["k"])
	})

	t.Run("gives up after repeated conflicts", func(t *testing.T) {
		f := setupTestFixture(t)
		s := f.create(t, defaultParams())

		repo := &conflictingRepo{InMemoryRepo: f.repo, conflicts: 100}
		realmRepo, err := realms.NewInMemoryRepo(&realms.Realm{Name: testRealm, MaxInactivity: time.Hour})
		require.NoError(t, err)
		manager, err := sessions.NewManager(repo, realmRepo, sessions.WithNowTime(f.clock.Now))
		require.NoError(t, err)

		err = manager.UpdateAttributes(ctx, s.ID, func(map[string]string) {})
		require.ErrorIs(t, err, sessions.ErrConflict)
	})

	t.Run("store failures propagate", func(t *testing.T) {
		f := setupTestFixture(t)
		s := f.create(t, defaultParams())

		repo := &failingRepo{InMemoryRepo: f.repo}
		realmRepo, err := realms.NewInMemoryRepo(&realms.Realm{Name: testRealm, MaxInactivity: time.Hour})
		require.NoError(t, err)
		manager, err := sessions.NewManager(repo, realmRepo, sessions.WithNowTime(f.clock.Now))
		require.NoError(t, err)

		err = manager.UpdateAttributes(ctx, s.ID, func(map[string]string) {})
		require.ErrorIs(t, err, errStoreDown)
		require.False(t, sessions.IsNotAuthenticated(err))
	})
}

func TestManager_RecordAdditionalAuthentication(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	s := f.create(t, defaultParams())

	require.NoError(t, f.manager.RecordAdditionalAuthentication(ctx, s.ID, "opt"))
	got, err := f.manager.Get(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SecondFactor)
	require.Equal(t, "opt", got.SecondFactor.OptionID)
	require.Equal(t, f.clock.Now(), got.SecondFactor.Time)

	f.clock.Advance(time.Second)
	require.NoError(t, f.manager.RecordAdditionalAuthentication(ctx, s.ID, "other"))
	got, err = f.manager.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "other", got.SecondFactor.OptionID)

	// Attribute updates leave the second factor alone
	require.NoError(t, f.manager.UpdateAttributes(ctx, s.ID, func(data map[string]string) { data["x"] = "y" }))
	require.NoError(t, f.manager.Touch(ctx, s.ID))
	got, err = f.manager.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, "other", got.SecondFactor.OptionID)
}

func TestManager_Remove(t *testing.T) {
	ctx := context.Background()

	t.Run("removed session is unknown", func(t *testing.T) {
		f := setupTestFixture(t)
		s := f.create(t, defaultParams())

		require.NoError(t, f.manager.Remove(ctx, s.ID, false))
		_, err := f.manager.Get(ctx, s.ID)
		require.ErrorIs(t, err, sessions.ErrUnknownSession)
		require.Empty(t, f.rememberMe)
	})

	t.Run("remember me invalidation requested", func(t *testing.T) {
		f := setupTestFixture(t)
		s := f.create(t, defaultParams())

		require.NoError(t, f.manager.Remove(ctx, s.ID, true))
		require.Equal(t, []string{s.ID}, f.rememberMe)
	})

	t.Run("removing unknown session is not an error", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.manager.Remove(ctx, "missing", true))
		require.Empty(t, f.rememberMe)
	})

	t.Run("getOrCreate after remove creates a new id", func(t *testing.T) {
		f := setupTestFixture(t)
		a, err := f.manager.GetOrCreate(ctx, defaultParams())
		require.NoError(t, err)
		require.NoError(t, f.manager.Remove(ctx, a.ID, false))

		b, err := f.manager.GetOrCreate(ctx, defaultParams())
		require.NoError(t, err)
		require.NotEqual(t, a.ID, b.ID)
	})
}

func TestManager_GetOwned(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	primary := f.create(t, defaultParams())
	params := defaultParams()
	params.Realm = testShortRealm
	short := f.create(t, params)

	got, err := f.manager.GetOwned(ctx, testEntityID, testRealm)
	require.NoError(t, err)
	require.Equal(t, primary.ID, got.ID)

	got, err = f.manager.GetOwned(ctx, testEntityID, testShortRealm)
	require.NoError(t, err)
	require.Equal(t, short.ID, got.ID)

	f.clock.Advance(2 * time.Second)
	_, err = f.manager.GetOwned(ctx, testEntityID, testShortRealm)
	require.ErrorIs(t, err, sessions.ErrUnknownSession)

	_, err = f.manager.GetOwned(ctx, 7, testRealm)
	require.ErrorIs(t, err, sessions.ErrUnknownSession)
}

func TestManager_RemoveExpired(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	live := f.create(t, defaultParams())
	params := defaultParams()
	params.Realm = testShortRealm
	dead := f.create(t, params)

	f.clock.Advance(2 * time.Second)
	removed, err := f.manager.RemoveExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = f.repo.Get(ctx, dead.ID)
	require.ErrorIs(t, err, sessions.ErrNotFound)
	_, err = f.manager.Get(ctx, live.ID)
	require.NoError(t, err)
}

var errStoreDown = errors.New("store down")

// conflictingRepo reports a fixed number of optimistic conflicts before delegating.
type conflictingRepo struct {
	*sessions.InMemoryRepo
	mu        sync.Mutex
	conflicts int
}

func (r *conflictingRepo) Update(ctx context.Context, s *sessions.LoginSession) error {
	r.mu.Lock()
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return sessions.ErrConflict
	}
	r.mu.Unlock()
	return r.InMemoryRepo.Update(ctx, s)
}

type failingRepo struct {
	*sessions.InMemoryRepo
}

func (r *failingRepo) Update(context.Context, *sessions.LoginSession) error {
	return errStoreDown
}
