package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jobportal/identity/internal/config"
	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/token"
	"github.com/jobportal/identity/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRemote struct {
	login    func(ctx context.Context, email, password string) (*Grant, error)
	register func(ctx context.Context, reg Registration) (*Grant, error)
	me       func(ctx context.Context, accessToken string) (*user.Profile, error)
	refresh  func(ctx context.Context, refreshToken string) (*Grant, error)

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	lastLogout   atomic.Value
}

func (f *fakeRemote) Login(ctx context.Context, email, password string) (*Grant, error) {
	return f.login(ctx, email, password)
}

func (f *fakeRemote) Register(ctx context.Context, reg Registration) (*Grant, error) {
	return f.register(ctx, reg)
}

func (f *fakeRemote) Me(ctx context.Context, accessToken string) (*user.Profile, error) {
	return f.me(ctx, accessToken)
}

func (f *fakeRemote) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	f.refreshCalls.Add(1)
	if f.refresh == nil {
		return nil, &RemoteError{Status: http.StatusUnauthorized, Message: "Invalid or expired token"}
	}
	return f.refresh(ctx, refreshToken)
}

func (f *fakeRemote) Logout(_ context.Context, refreshToken string) error {
	f.logoutCalls.Add(1)
	f.lastLogout.Store(refreshToken)
	return nil
}

func grantFor(access, refresh string, profile *user.Profile) *Grant {
	return &Grant{
		Token: &token.Pair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    time.Now().Add(15 * time.Minute),
			TokenType:    token.TokenTypeBearer,
		},
		User: profile,
	}
}

func testRoutes() config.RoutesConfig {
	return config.RoutesConfig{
		Landing:         map[string]string{"employer": "/employer/dashboard", "jobseeker": "/jobs"},
		Unauthenticated: "/login",
		Home:            "/",
	}
}

func newTestController(t *testing.T, remote Remote) (*Controller, *Store, *MemoryMedium) {
	t.Helper()
	medium := NewMemoryMedium()
	store := NewStore(medium, zaptest.NewLogger(t))
	return NewController(store, remote, testRoutes(), zaptest.NewLogger(t)), store, medium
}

func seed(t *testing.T, store *Store, rec *Record) {
	t.Helper()
	require.NoError(t, store.Save(context.Background(), rec))
}

func TestController_StartsUninitialized(t *testing.T) {
	c, _, _ := newTestController(t, &fakeRemote{})
	snap := c.Snapshot()
	assert.Equal(t, Uninitialized, snap.State)
	assert.True(t, snap.Loading())
	assert.Nil(t, snap.Identity())
}

func TestController_FreshLogin(t *testing.T) {
	remote := &fakeRemote{
		login: func(_ context.Context, email, password string) (*Grant, error) {
			if email == "a@b.com" && password == "secret1" {
				return grantFor("T", "R", profileFor("u-1", guard.RoleEmployer)), nil
			}
			return nil, &RemoteError{Status: http.StatusUnauthorized, Message: "Invalid email or password"}
		},
	}
	c, _, medium := newTestController(t, remote)
	ctx := context.Background()
	c.Hydrate(ctx)
	require.Equal(t, Anonymous, c.Snapshot().State)

	changed := c.Changes()
	redirect, err := c.Login(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "/employer/dashboard", redirect)

	select {
	case <-changed:
	default:
		t.Fatal("login did not signal a change")
	}

	snap := c.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.True(t, snap.Reconciled)
	assert.Equal(t, guard.RoleEmployer, snap.User.Role)

	values, err := medium.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T", values[KeyToken])
	assert.Contains(t, values[KeyUser], `"role":"employer"`)
	assert.Equal(t, "R", values[KeyRefreshToken])
}

func TestController_LoginErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		grant   *Grant
		wantMsg string
	}{
		{
			name:    "server message verbatim",
			err:     &RemoteError{Status: http.StatusUnauthorized, Message: "Invalid email or password"},
			wantMsg: "Invalid email or password",
		},
		{
			name:    "server without message",
			err:     &RemoteError{Status: http.StatusInternalServerError},
			wantMsg: MessageLoginFailed,
		},
		{
			name:    "transport failure",
			err:     fmt.Errorf("%w: dial tcp: connection refused", ErrRemoteUnreachable),
			wantMsg: MessageLoginFailed,
		},
		{
			name:    "malformed grant",
			grant:   &Grant{User: profileFor("u-1", guard.RoleEmployer)},
			wantMsg: MessageLoginFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &fakeRemote{
				login: func(context.Context, string, string) (*Grant, error) { return tt.grant, tt.err },
			}
			c, _, medium := newTestController(t, remote)
			c.Hydrate(context.Background())

			redirect, err := c.Login(context.Background(), "a@b.com", "x")
			assert.Empty(t, redirect)

			var sessErr *Error
			require.ErrorAs(t, err, &sessErr)
			assert.Equal(t, tt.wantMsg, sessErr.Error())
			assert.Equal(t, Anonymous, c.Snapshot().State)

			values, _ := medium.Read(context.Background())
			assert.Empty(t, values)
		})
	}
}

func TestController_Register(t *testing.T) {
	remote := &fakeRemote{
		register: func(_ context.Context, reg Registration) (*Grant, error) {
			if reg.Email == "taken@b.com" {
				return nil, &RemoteError{Status: http.StatusConflict, Message: "An account with this email already exists"}
			}
			return grantFor("T", "R", profileFor("u-2", reg.Role)), nil
		},
	}
	c, _, _ := newTestController(t, remote)
	ctx := context.Background()

	redirect, err := c.Register(ctx, Registration{Name: "Seeker", Email: "s@b.com", Password: "secret1", Role: guard.RoleJobseeker})
	require.NoError(t, err)
	assert.Equal(t, "/jobs", redirect)
	assert.Equal(t, guard.RoleJobseeker, c.Snapshot().User.Role)

	_, err = c.Register(ctx, Registration{Name: "Dup", Email: "taken@b.com", Password: "secret1", Role: guard.RoleEmployer})
	assert.EqualError(t, err, "An account with this email already exists")
}

func TestController_HydrateOptimistic(t *testing.T) {
	c, store, _ := newTestController(t, &fakeRemote{})
	seed(t, store, &Record{AccessToken: "T", User: profileFor("u-1", guard.RoleJobseeker)})

	c.Hydrate(context.Background())

	snap := c.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.False(t, snap.Reconciled)
	assert.False(t, snap.Loading())
	assert.Equal(t, "u-1", snap.Identity().Subject)

	// Only the first call runs
	require.NoError(t, store.Clear(context.Background()))
	c.Hydrate(context.Background())
	assert.Equal(t, Authenticated, c.Snapshot().State)
}

func TestController_HydrateWithInvalidToken(t *testing.T) {
	remote := &fakeRemote{
		me: func(context.Context, string) (*user.Profile, error) {
			return nil, &RemoteError{Status: http.StatusUnauthorized, Message: "Invalid or expired token"}
		},
	}
	c, store, medium := newTestController(t, remote)
	seed(t, store, &Record{AccessToken: "bad", User: profileFor("u-1", guard.RoleEmployer)})

	<-c.Start(context.Background())

	snap := c.Snapshot()
	assert.Equal(t, Anonymous, snap.State)
	assert.Nil(t, snap.User)

	values, err := medium.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestController_RevalidateUnreachable(t *testing.T) {
	remote := &fakeRemote{
		me: func(context.Context, string) (*user.Profile, error) {
			return nil, fmt.Errorf("%w: timeout", ErrRemoteUnreachable)
		},
	}
	c, store, medium := newTestController(t, remote)
	seed(t, store, &Record{AccessToken: "T", User: profileFor("u-1", guard.RoleEmployer)})

	<-c.Start(context.Background())

	assert.Equal(t, Anonymous, c.Snapshot().State)
	values, _ := medium.Read(context.Background())
	assert.Empty(t, values)
}

func TestController_RevalidateReplacesProfile(t *testing.T) {
	fresh := profileFor("u-1", guard.RoleEmployer)
	fresh.Name = "Renamed"
	remote := &fakeRemote{
		me: func(_ context.Context, accessToken string) (*user.Profile, error) {
			assert.Equal(t, "T", accessToken)
			return fresh, nil
		},
	}
	c, store, _ := newTestController(t, remote)
	seed(t, store, &Record{AccessToken: "T", User: profileFor("u-1", guard.RoleEmployer)})

	<-c.Start(context.Background())

	snap := c.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.True(t, snap.Reconciled)
	assert.Equal(t, "Renamed", snap.User.Name)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", rec.User.Name)
}

func TestController_RevalidateRefreshesOnce(t *testing.T) {
	remote := &fakeRemote{
		me: func(_ context.Context, accessToken string) (*user.Profile, error) {
			if accessToken == "T2" {
				return profileFor("u-1", guard.RoleEmployer), nil
			}
			return nil, &RemoteError{Status: http.StatusUnauthorized}
		},
		refresh: func(_ context.Context, refreshToken string) (*Grant, error) {
			assert.Equal(t, "R1", refreshToken)
			return grantFor("T2", "R2", profileFor("u-1", guard.RoleEmployer)), nil
		},
	}
	c, store, _ := newTestController(t, remote)
	seed(t, store, &Record{AccessToken: "T1", RefreshToken: "R1", User: profileFor("u-1", guard.RoleEmployer)})

	<-c.Start(context.Background())

	assert.Equal(t, Authenticated, c.Snapshot().State)
	assert.True(t, c.Snapshot().Reconciled)
	assert.Equal(t, int32(1), remote.refreshCalls.Load())

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T2", rec.AccessToken)
	assert.Equal(t, "R2", rec.RefreshToken)
}

// A logout while re-validation is in flight wins, even if the server later
// answers with a valid profile.
func TestController_StaleRevalidationAfterLogout(t *testing.T) {
	meStarted := make(chan struct{})
	release := make(chan struct{})
	remote := &fakeRemote{
		me: func(context.Context, string) (*user.Profile, error) {
			close(meStarted)
			<-release
			return profileFor("u-1", guard.RoleEmployer), nil
		},
	}
	c, store, medium := newTestController(t, remote)
	seed(t, store, &Record{AccessToken: "T", RefreshToken: "R", User: profileFor("u-1", guard.RoleEmployer)})

	done := c.Start(context.Background())
	<-meStarted

	assert.Equal(t, "/login", c.Logout(context.Background()))
	assert.Equal(t, "R", remote.lastLogout.Load())
	close(release)
	<-done

	assert.Equal(t, Anonymous, c.Snapshot().State)
	values, err := medium.Read(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestController_StaleRevalidationFailureAfterLogin(t *testing.T) {
	meStarted := make(chan struct{})
	release := make(chan struct{})
	remote := &fakeRemote{
		me: func(context.Context, string) (*user.Profile, error) {
			close(meStarted)
			<-release
			return nil, &RemoteError{Status: http.StatusUnauthorized}
		},
		login: func(context.Context, string, string) (*Grant, error) {
			return grantFor("NEW", "NEWR", profileFor("u-2", guard.RoleJobseeker)), nil
		},
	}
	c, store, _ := newTestController(t, remote)
	seed(t, store, &Record{AccessToken: "OLD", User: profileFor("u-1", guard.RoleEmployer)})

	done := c.Start(context.Background())
	<-meStarted
	_, err := c.Login(context.Background(), "s@b.com", "secret1")
	require.NoError(t, err)
	close(release)
	<-done

	snap := c.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.Equal(t, "u-2", snap.User.ID)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NEW", rec.AccessToken)
}

func TestController_LogoutWithoutSession(t *testing.T) {
	remote := &fakeRemote{}
	c, _, _ := newTestController(t, remote)
	c.Hydrate(context.Background())

	assert.Equal(t, "/login", c.Logout(context.Background()))
	assert.Equal(t, Anonymous, c.Snapshot().State)
	assert.Equal(t, int32(0), remote.logoutCalls.Load())
}

func TestController_RefreshRotation(t *testing.T) {
	var rotations atomic.Int32
	release := make(chan struct{})
	remote := &fakeRemote{
		refresh: func(_ context.Context, refreshToken string) (*Grant, error) {
			<-release
			n := rotations.Add(1)
			return grantFor(fmt.Sprintf("T%d", n+1), fmt.Sprintf("R%d", n+1), nil), nil
		},
	}
	c, store, _ := newTestController(t, remote)
	seed(t, store, &Record{AccessToken: "T1", RefreshToken: "R1", User: profileFor("u-1", guard.RoleEmployer)})
	c.Hydrate(context.Background())

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Refresh(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, rotations.Load(), int32(3))

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "T1", rec.AccessToken)
	assert.Equal(t, "u-1", rec.User.ID, "profile is kept when the refresh answer omits it")
}

func TestController_HandleUnauthorized(t *testing.T) {
	t.Run("refresh succeeds", func(t *testing.T) {
		remote := &fakeRemote{
			refresh: func(context.Context, string) (*Grant, error) {
				return grantFor("T2", "R2", profileFor("u-1", guard.RoleEmployer)), nil
			},
		}
		c, _, _ := newTestController(t, remote)
		_, err := c.establishForTest("T1", "R1")
		require.NoError(t, err)

		require.NoError(t, c.HandleUnauthorized(context.Background()))
		assert.Equal(t, Authenticated, c.Snapshot().State)
	})

	t.Run("refresh rejected", func(t *testing.T) {
		remote := &fakeRemote{}
		c, _, medium := newTestController(t, remote)
		_, err := c.establishForTest("T1", "R1")
		require.NoError(t, err)

		err = c.HandleUnauthorized(context.Background())
		assert.True(t, IsUnauthorized(err))
		assert.Equal(t, Anonymous, c.Snapshot().State)
		values, _ := medium.Read(context.Background())
		assert.Empty(t, values)
	})

	t.Run("no refresh token", func(t *testing.T) {
		remote := &fakeRemote{}
		c, _, _ := newTestController(t, remote)
		_, err := c.establishForTest("T1", "")
		require.NoError(t, err)

		assert.ErrorIs(t, c.HandleUnauthorized(context.Background()), ErrNoSession)
		assert.Equal(t, Anonymous, c.Snapshot().State)
		assert.Equal(t, int32(0), remote.refreshCalls.Load())
	})
}

func TestController_UpdateUser(t *testing.T) {
	c, store, _ := newTestController(t, &fakeRemote{})
	ctx := context.Background()

	assert.ErrorIs(t, c.UpdateUser(ctx, profileFor("u-1", guard.RoleEmployer)), ErrNoSession)

	_, err := c.establishForTest("T1", "R1")
	require.NoError(t, err)

	updated := profileFor("u-1", guard.RoleEmployer)
	updated.Employer = &user.EmployerDetails{CompanyName: "Acme"}
	require.NoError(t, c.UpdateUser(ctx, updated))
	assert.Error(t, c.UpdateUser(ctx, profileFor("someone-else", guard.RoleEmployer)))

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "T1", rec.AccessToken)
	assert.Equal(t, "Acme", rec.User.Employer.CompanyName)
}

func TestController_SyncExternalLogout(t *testing.T) {
	c, store, _ := newTestController(t, &fakeRemote{})
	ctx := context.Background()
	_, err := c.establishForTest("T1", "R1")
	require.NoError(t, err)

	// Another process clears the shared medium
	require.NoError(t, store.Clear(ctx))
	c.Sync(ctx)
	assert.Equal(t, Anonymous, c.Snapshot().State)

	// And later signs in again
	seed(t, store, &Record{AccessToken: "T9", User: profileFor("u-9", guard.RoleJobseeker)})
	c.Sync(ctx)
	snap := c.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.Equal(t, "u-9", snap.User.ID)
	assert.False(t, snap.Reconciled)
}

func TestController_TokenSource(t *testing.T) {
	remote := &fakeRemote{
		refresh: func(context.Context, string) (*Grant, error) {
			return grantFor("T2", "R2", nil), nil
		},
	}
	c, _, _ := newTestController(t, remote)
	ctx := context.Background()

	_, err := c.TokenSource(ctx).Token()
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = c.establishForTest("T1", "R1")
	require.NoError(t, err)

	tok, err := c.TokenSource(ctx).Token()
	require.NoError(t, err)
	assert.Equal(t, "T1", tok.AccessToken)
	assert.Equal(t, int32(0), remote.refreshCalls.Load())

	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	tok, err = c.TokenSource(ctx).Token()
	require.NoError(t, err)
	assert.Equal(t, "T2", tok.AccessToken)
	assert.Equal(t, int32(1), remote.refreshCalls.Load())
}

func TestIsUnauthorized(t *testing.T) {
	assert.True(t, IsUnauthorized(fmt.Errorf("wrapped: %w", &RemoteError{Status: http.StatusUnauthorized})))
	assert.False(t, IsUnauthorized(&RemoteError{Status: http.StatusForbidden}))
	assert.False(t, IsUnauthorized(errors.New("boom")))
}

// establishForTest signs in an employer without going through a remote
func (c *Controller) establishForTest(access, refresh string) (string, error) {
	grant := grantFor(access, refresh, profileFor("u-1", guard.RoleEmployer))
	return c.establish(context.Background(), grant), nil
}

// singleUseRefresh behaves like the identity server's ledger: each refresh
// token rotates once and a replay is rejected at once. The first rotation
// signals entered and then waits for hold.
func singleUseRefresh(hold <-chan struct{}, entered chan<- struct{}) func(context.Context, string) (*Grant, error) {
	var (
		mu       sync.Mutex
		consumed = map[string]bool{}
		once     sync.Once
	)
	return func(_ context.Context, refreshToken string) (*Grant, error) {
		mu.Lock()
		replay := consumed[refreshToken]
		consumed[refreshToken] = true
		mu.Unlock()
		if replay {
			return nil, &RemoteError{Status: http.StatusUnauthorized, Message: "Refresh token already used"}
		}
		once.Do(func() { close(entered) })
		<-hold
		return grantFor("T2", "R2", nil), nil
	}
}

func expiredSession(t *testing.T, remote *fakeRemote) (*Controller, *Store) {
	t.Helper()
	c, store, _ := newTestController(t, remote)
	seed(t, store, &Record{
		AccessToken:  "T1",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(-time.Minute),
		User:         profileFor("u-1", guard.RoleEmployer),
	})
	c.Hydrate(context.Background())
	require.Equal(t, Authenticated, c.Snapshot().State)
	return c, store
}

func meAcceptingT2(rejected chan<- struct{}) func(context.Context, string) (*user.Profile, error) {
	var once sync.Once
	return func(_ context.Context, accessToken string) (*user.Profile, error) {
		if accessToken == "T2" {
			return profileFor("u-1", guard.RoleEmployer), nil
		}
		once.Do(func() { close(rejected) })
		return nil, &RemoteError{Status: http.StatusUnauthorized, Message: "Token expired"}
	}
}

func assertRotatedOnce(t *testing.T, c *Controller, store *Store, remote *fakeRemote) {
	t.Helper()
	snap := c.Snapshot()
	assert.Equal(t, Authenticated, snap.State)
	assert.True(t, snap.Reconciled)
	assert.Equal(t, int32(1), remote.refreshCalls.Load())
	assert.Zero(t, remote.logoutCalls.Load())

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "T2", rec.AccessToken)
	assert.Equal(t, "R2", rec.RefreshToken)
}

func TestController_RevalidateJoinsRefreshInFlight(t *testing.T) {
	hold, entered, rejected := make(chan struct{}), make(chan struct{}), make(chan struct{})
	remote := &fakeRemote{me: meAcceptingT2(rejected), refresh: singleUseRefresh(hold, entered)}
	c, store := expiredSession(t, remote)
	ctx := context.Background()

	refreshErr := make(chan error, 1)
	go func() { refreshErr <- c.Refresh(ctx) }()
	<-entered

	revalidated := make(chan struct{})
	go func() {
		defer close(revalidated)
		c.Revalidate(ctx)
	}()
	<-rejected
	time.Sleep(20 * time.Millisecond)
	close(hold)

	require.NoError(t, <-refreshErr)
	<-revalidated
	assertRotatedOnce(t, c, store, remote)
}

func TestController_TokenSourceJoinsRevalidationRefresh(t *testing.T) {
	hold, entered, rejected := make(chan struct{}), make(chan struct{}), make(chan struct{})
	remote := &fakeRemote{me: meAcceptingT2(rejected), refresh: singleUseRefresh(hold, entered)}
	c, store := expiredSession(t, remote)
	ctx := context.Background()

	revalidated := make(chan struct{})
	go func() {
		defer close(revalidated)
		c.Revalidate(ctx)
	}()
	<-entered

	type result struct {
		access string
		err    error
	}
	fetched := make(chan result, 1)
	go func() {
		tok, err := c.TokenSource(ctx).Token()
		if err != nil {
			fetched <- result{err: err}
			return
		}
		fetched <- result{access: tok.AccessToken}
	}()
	time.Sleep(20 * time.Millisecond)
	close(hold)

	got := <-fetched
	require.NoError(t, got.err)
	assert.Equal(t, "T2", got.access)
	<-revalidated
	assertRotatedOnce(t, c, store, remote)
}

func TestController_LogoutRevokesDiscardedRotation(t *testing.T) {
	hold, entered := make(chan struct{}), make(chan struct{})
	remote := &fakeRemote{refresh: singleUseRefresh(hold, entered)}
	c, store := expiredSession(t, remote)
	ctx := context.Background()

	refreshErr := make(chan error, 1)
	go func() { refreshErr <- c.Refresh(ctx) }()
	<-entered

	assert.Equal(t, "/login", c.Logout(ctx))
	assert.Equal(t, "R1", remote.lastLogout.Load())
	close(hold)

	assert.ErrorIs(t, <-refreshErr, ErrNoSession)
	assert.Equal(t, int32(2), remote.logoutCalls.Load())
	assert.Equal(t, "R2", remote.lastLogout.Load(), "the rotated refresh token is retired too")

	assert.Equal(t, Anonymous, c.Snapshot().State)
	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
