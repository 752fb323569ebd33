package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jobportal/identity/internal/config"
	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/user"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// State is the controller's lifecycle phase
type State int

const (
	Uninitialized State = iota
	Hydrating
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Hydrating:
		return "hydrating"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of the session
type Snapshot struct {
	State State
	User  *user.Profile
	// Reconciled is false while an optimistically hydrated profile has not
	// been confirmed by the server.
	Reconciled bool
}

// Loading reports whether hydration from storage is still pending
func (s Snapshot) Loading() bool {
	return s.State == Uninitialized || s.State == Hydrating
}

// Identity returns the guard input, nil unless authenticated
func (s Snapshot) Identity() *guard.Identity {
	if s.State != Authenticated {
		return nil
	}
	return s.User.Identity()
}

// expirySkew refreshes access tokens slightly before they expire
const expirySkew = 10 * time.Second

type refreshCall struct {
	done chan struct{}
	err  error
}

// Controller owns the client session. Transitions are serialized by mu; the
// epoch is bumped whenever the stored credentials change hands so that remote
// answers captured under an older epoch are dropped.
type Controller struct {
	store  *Store
	remote Remote
	routes config.RoutesConfig
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        State
	record       *Record
	reconciled   bool
	epoch        uint64
	changed      chan struct{}
	revalidating chan struct{}
	refreshing   *refreshCall
}

// NewController creates an Uninitialized controller
func NewController(store *Store, remote Remote, routes config.RoutesConfig, logger *zap.Logger) *Controller {
	return &Controller{
		store:   store,
		remote:  remote,
		routes:  routes,
		logger:  logger,
		now:     time.Now,
		state:   Uninitialized,
		changed: make(chan struct{}),
	}
}

// Snapshot returns the current session
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, Reconciled: c.reconciled}
	if c.state == Authenticated && c.record != nil {
		snap.User = c.record.User
	}
	return snap
}

// Changes returns a channel closed on the next transition
func (c *Controller) Changes() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *Controller) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Controller) setStateLocked(state State) {
	if c.state != state {
		c.logger.Debug("session transition",
			zap.String("from", c.state.String()),
			zap.String("to", state.String()),
		)
	}
	c.state = state
	c.notifyLocked()
}

// Start hydrates from storage and then reconciles with the server in the
// background. The returned channel closes when reconciliation finishes.
func (c *Controller) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Hydrate(ctx)
		c.Revalidate(ctx)
	}()
	return done
}

// Hydrate loads the stored session. Only the first call has an effect.
func (c *Controller) Hydrate(ctx context.Context) {
	c.mu.Lock()
	if c.state != Uninitialized {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Hydrating)
	epoch := c.epoch
	c.mu.Unlock()

	rec, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to read stored session", zap.Error(err))
		rec = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A login or logout finished while storage was being read
	if c.epoch != epoch {
		return
	}

	if rec != nil {
		c.record = rec
		c.reconciled = false
		c.setStateLocked(Authenticated)
		return
	}
	c.setStateLocked(Anonymous)
}

// Revalidate confirms the hydrated session with the server. A 401 triggers one
// refresh and retry. Any failure leaves the session Anonymous with storage
// cleared; failures are not reported to the caller. Concurrent calls wait for
// the one in flight.
func (c *Controller) Revalidate(ctx context.Context) {
	c.mu.Lock()
	if inflight := c.revalidating; inflight != nil {
		c.mu.Unlock()
		select {
		case <-inflight:
		case <-ctx.Done():
		}
		return
	}
	if c.state != Authenticated || c.record == nil {
		c.mu.Unlock()
		return
	}
	done := make(chan struct{})
	c.revalidating = done
	epoch := c.epoch
	rec := *c.record
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.revalidating = nil
		c.mu.Unlock()
		close(done)
	}()

	profile, err := c.remote.Me(ctx, rec.AccessToken)
	if IsUnauthorized(err) && rec.RefreshToken != "" {
		var ok bool
		if epoch, rec, ok = c.rotatedSince(ctx, epoch); !ok {
			return
		}
		profile, err = c.remote.Me(ctx, rec.AccessToken)
	}

	if err == nil && (profile == nil || profile.ID == "") {
		err = errors.New("empty profile")
	}
	if err != nil {
		c.invalidate(ctx, epoch, "revalidation failed", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.record == nil {
		c.logger.Debug("discarding stale revalidation")
		return
	}
	c.record.User = profile
	c.reconciled = true
	c.persistLocked(ctx)
	c.setStateLocked(Authenticated)
}

// rotatedSince returns credentials newer than those seen at epoch, going
// through Refresh unless another caller already rotated them. It reports false
// when the session ended meanwhile.
func (c *Controller) rotatedSince(ctx context.Context, epoch uint64) (uint64, Record, bool) {
	c.mu.Lock()
	rotated := c.epoch != epoch
	c.mu.Unlock()

	if !rotated {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Debug("revalidation refresh failed", zap.Error(err))
			return 0, Record{}, false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Authenticated || c.record == nil {
		return 0, Record{}, false
	}
	return c.epoch, *c.record, true
}

// Login signs in and returns the landing route for the user's role
func (c *Controller) Login(ctx context.Context, email, password string) (string, error) {
	grant, err := c.remote.Login(ctx, email, password)
	if err == nil && !grant.valid() {
		err = errors.New("malformed login response")
	}
	if err != nil {
		c.logger.Info("login failed", zap.Error(err))
		return "", userError(err, MessageLoginFailed)
	}
	return c.establish(ctx, grant), nil
}

// Register creates an account, signs it in and returns its landing route
func (c *Controller) Register(ctx context.Context, reg Registration) (string, error) {
	grant, err := c.remote.Register(ctx, reg)
	if err == nil && !grant.valid() {
		err = errors.New("malformed register response")
	}
	if err != nil {
		c.logger.Info("registration failed", zap.Error(err))
		return "", userError(err, MessageRegisterFailed)
	}
	return c.establish(ctx, grant), nil
}

func (c *Controller) establish(ctx context.Context, grant *Grant) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.record = recordFromPair(grant.Token, grant.User)
	c.reconciled = true
	c.persistLocked(ctx)
	c.setStateLocked(Authenticated)

	return c.routes.LandingFor(string(grant.User.Role))
}

// Logout ends the session locally, revokes the refresh token on the server
// when possible and returns the login route.
func (c *Controller) Logout(ctx context.Context) string {
	c.mu.Lock()
	var refreshToken string
	if c.record != nil {
		refreshToken = c.record.RefreshToken
	}
	c.epoch++
	c.clearLocked(ctx)
	c.mu.Unlock()

	c.revoke(ctx, refreshToken)
	return c.routes.Unauthenticated
}

// revoke asks the server to retire a refresh token; failures only get logged
func (c *Controller) revoke(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	if err := c.remote.Logout(ctx, refreshToken); err != nil {
		c.logger.Debug("server-side logout failed", zap.Error(err))
	}
}

// Refresh rotates the token pair. Failure ends the session. Concurrent calls
// share one rotation.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if call := c.refreshing; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.record == nil || c.record.RefreshToken == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	call := &refreshCall{done: make(chan struct{})}
	c.refreshing = call
	epoch := c.epoch
	refreshToken := c.record.RefreshToken
	c.mu.Unlock()

	call.err = c.rotate(ctx, epoch, refreshToken)

	c.mu.Lock()
	c.refreshing = nil
	c.mu.Unlock()
	close(call.done)
	return call.err
}

func (c *Controller) rotate(ctx context.Context, epoch uint64, refreshToken string) error {
	grant, err := c.remote.Refresh(ctx, refreshToken)
	if err == nil && !grant.hasToken() {
		err = errors.New("malformed refresh response")
	}
	if err != nil {
		c.invalidate(ctx, epoch, "refresh failed", err)
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	if !c.commitGrant(ctx, epoch, grant) {
		if c.Snapshot().State == Authenticated {
			return nil
		}
		return ErrNoSession
	}
	return nil
}

// HandleUnauthorized reacts to a downstream request that reported the access
// token invalid. It refreshes, and ends the session if that is impossible.
func (c *Controller) HandleUnauthorized(ctx context.Context) error {
	err := c.Refresh(ctx)
	if errors.Is(err, ErrNoSession) {
		c.mu.Lock()
		if c.state == Authenticated {
			c.logger.Info("session invalidated", zap.String("reason", "access token rejected"))
			c.epoch++
			c.clearLocked(ctx)
		}
		c.mu.Unlock()
	}
	return err
}

// UpdateUser replaces the cached profile, keeping the tokens
func (c *Controller) UpdateUser(ctx context.Context, profile *user.Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Authenticated || c.record == nil {
		return ErrNoSession
	}
	if profile == nil || profile.ID != c.record.User.ID {
		return fmt.Errorf("profile does not belong to the signed-in user")
	}

	c.record.User = profile
	c.persistLocked(ctx)
	c.notifyLocked()
	return nil
}

// Sync re-reads storage after an external change, such as a logout in
// another process sharing the same medium.
func (c *Controller) Sync(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Uninitialized || c.state == Hydrating {
		return
	}

	rec, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("failed to re-read stored session", zap.Error(err))
		return
	}

	switch {
	case rec == nil:
		if c.state == Authenticated {
			c.logger.Info("session cleared externally")
			c.epoch++
			c.record = nil
			c.reconciled = false
			c.setStateLocked(Anonymous)
		}
	case c.record == nil || rec.AccessToken != c.record.AccessToken:
		c.logger.Info("session replaced externally", zap.String("user_id", rec.User.ID))
		c.epoch++
		c.record = rec
		c.reconciled = false
		c.setStateLocked(Authenticated)
	}
}

// commitGrant installs rotated tokens if epoch is still current. A stale
// grant is revoked since nothing will ever present its refresh token.
func (c *Controller) commitGrant(ctx context.Context, epoch uint64, grant *Grant) bool {
	c.mu.Lock()
	if c.epoch != epoch || c.record == nil {
		c.mu.Unlock()
		c.logger.Debug("discarding stale token rotation")
		c.revoke(ctx, grant.Token.RefreshToken)
		return false
	}
	defer c.mu.Unlock()

	profile := grant.User
	if profile == nil {
		profile = c.record.User
	}
	c.epoch++
	c.record = recordFromPair(grant.Token, profile)
	c.persistLocked(ctx)
	c.setStateLocked(Authenticated)
	return true
}

func (c *Controller) invalidate(ctx context.Context, epoch uint64, reason string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		c.logger.Debug("ignoring stale failure", zap.String("reason", reason), zap.Error(cause))
		return
	}

	c.logger.Info("session invalidated", zap.String("reason", reason), zap.Error(cause))
	c.epoch++
	c.clearLocked(ctx)
}

func (c *Controller) clearLocked(ctx context.Context) {
	c.record = nil
	c.reconciled = false
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("failed to clear stored session", zap.Error(err))
	}
	c.setStateLocked(Anonymous)
}

func (c *Controller) persistLocked(ctx context.Context) {
	if err := c.store.Save(ctx, c.record); err != nil {
		c.logger.Warn("failed to persist session", zap.Error(err))
	}
}

// TokenSource yields the current access token, rotating it through Refresh
// once it is about to expire.
func (c *Controller) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, c: c}
}

type tokenSource struct {
	ctx context.Context
	c   *Controller
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	rec, err := ts.current()
	if err != nil {
		return nil, err
	}

	if !rec.ExpiresAt.IsZero() && !ts.c.now().Add(expirySkew).Before(rec.ExpiresAt) {
		if err := ts.c.Refresh(ts.ctx); err != nil {
			return nil, err
		}
		if rec, err = ts.current(); err != nil {
			return nil, err
		}
	}

	return &oauth2.Token{
		AccessToken: rec.AccessToken,
		TokenType:   "Bearer",
		Expiry:      rec.ExpiresAt,
	}, nil
}

func (ts *tokenSource) current() (Record, error) {
	ts.c.mu.Lock()
	defer ts.c.mu.Unlock()
	if ts.c.state != Authenticated || ts.c.record == nil {
		return Record{}, ErrNoSession
	}
	return *ts.c.record, nil
}
