package goAuthSync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	internalaudit "github.com/MrEthical07/goAuthSync/internal/audit"
	"github.com/MrEthical07/goAuthSync/internal/flows"
	internalmetrics "github.com/MrEthical07/goAuthSync/internal/metrics"
	"github.com/MrEthical07/goAuthSync/internal/subscribers"
	"github.com/MrEthical07/goAuthSync/jwt"
	"github.com/MrEthical07/goAuthSync/lock"
	"github.com/MrEthical07/goAuthSync/session"
	"go.uber.org/zap"
)

// Client coordinates one session slot with every other client sharing its
// storage key. All methods are safe for concurrent use.
//
// Session-mutating operations wait for initialization and then run under the
// session lock, so at most one of them touches the slot at a time across all
// contexts. Within a process, callers queue behind a single lock acquisition.
// A subscriber callback may call back into the client only with the ctx it was
// handed: that ctx marks the running critical section, so nested calls run
// inline. A callback that calls in with a fresh context (context.Background())
// queues behind the section it runs inside and deadlocks.
type Client struct {
	config    Config
	instance  uint64
	log       *zap.Logger
	requester Requester
	store     *session.Store
	queue     *lock.LocalQueue
	bus       *subscribers.Bus
	refresher *flows.Coordinator
	auto      *flows.AutoRefresher
	parser    *jwt.Parser
	audit     *internalaudit.Dispatcher
	metrics   *internalmetrics.Metrics
	now       func() time.Time

	initDone chan struct{}
	initErr  error

	visible atomic.Bool
	closed  atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Instance returns the process-unique id of this client.
func (c *Client) Instance() uint64 { return c.instance }

// StorageKey returns the shared session slot name.
func (c *Client) StorageKey() string { return c.config.StorageKey }

/*
====================================
INITIALIZATION
====================================
*/

// runInitialize settles initialization, then starts the ticker. Ticks wait
// for initDone, so recovery always runs first.
func (c *Client) runInitialize() {
	defer close(c.initDone)
	c.initErr = c.initialize(c.ctx)
	if c.initErr != nil {
		c.log.Warn("initialize failed", zap.Error(c.initErr))
	}
	if c.config.AutoRefreshToken {
		c.StartAutoRefresh()
	}
}

// initialize never panics; a panic is reported as an unknown error.
func (c *Client) initialize(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("initialize: panic recovered", zap.Any("panic", r))
			err = &AuthError{Kind: KindUnknown, Err: fmt.Errorf("initialize panic: %v", r)}
		}
	}()

	// Unguarded read: only decides whether recovery is needed. The lock
	// holder re-reads before writing.
	snap, err := c.store.Get(ctx)
	if err != nil {
		return result(err)
	}
	if snap == nil {
		return nil
	}
	return result(c.withLock(ctx, -1, c.recoverLocked))
}

// recoverLocked refreshes a stored session that is close to expiry and
// announces a valid one. The caller holds the lock.
func (c *Client) recoverLocked(ctx context.Context) error {
	snap, err := c.store.Get(ctx)
	if err != nil || snap == nil {
		return err
	}

	margin := time.Duration(c.config.Refresh.TickThreshold) * c.config.Refresh.TickDuration
	if expiresWithin(snap, c.now(), margin) {
		if !c.config.AutoRefreshToken {
			return nil
		}
		res := c.refresh(ctx, snap.RefreshToken())
		if res.Err != nil {
			c.log.Debug("initialize: recovery refresh failed", zap.Error(res.Err))
			return res.Err
		}
		return nil
	}

	c.notifyLocal(ctx, EventSignedIn, snap)
	return nil
}

// Initialize waits for the background initialization started by Build and
// returns its outcome. Every caller observes the same result. Initialization
// never panics; recovery failures are returned, not raised.
func (c *Client) Initialize(ctx context.Context) error {
	select {
	case <-c.initDone:
		return c.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitInit blocks session operations until initialization settled. Calls
// made from inside a critical section (including initialization's own
// subscriber callbacks) skip the wait.
func (c *Client) awaitInit(ctx context.Context) error {
	if c.closed.Load() {
		return newAuthError(KindUnknown, ErrClientClosed)
	}
	if c.queue.Holding(ctx) {
		return nil
	}
	select {
	case <-c.initDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

/*
====================================
LOCKING
====================================
*/

// withLock runs fn under the session lock. Nested calls run inline.
func (c *Client) withLock(ctx context.Context, timeout time.Duration, fn lock.Func) error {
	if c.queue.Holding(ctx) {
		return fn(ctx)
	}
	start := time.Now()
	err := c.queue.Acquire(ctx, timeout, func(ctx context.Context) error {
		c.metrics.Inc(MetricLockAcquired)
		c.metrics.Observe(MetricLockWaitLatency, time.Since(start))
		return fn(ctx)
	})
	if lock.IsAcquireTimeout(err) {
		c.metrics.Inc(MetricLockTimeout)
	}
	return err
}

// guarded awaits initialization, then runs fn under the lock with the
// configured acquire timeout.
func (c *Client) guarded(ctx context.Context, fn lock.Func) error {
	if err := c.awaitInit(ctx); err != nil {
		return err
	}
	return c.withLock(ctx, c.config.Lock.AcquireTimeout, fn)
}

/*
====================================
SESSION ACCESS
====================================
*/

func expiresWithin(snap *Snapshot, now time.Time, d time.Duration) bool {
	return time.Unix(snap.ExpiresAt(), 0).Sub(now) <= d
}

// GetSession returns the current session, refreshing it first when it
// expires within Refresh.ExpiryMargin. It returns (nil, nil) when signed out.
func (c *Client) GetSession(ctx context.Context) (*Snapshot, error) {
	var out *Snapshot
	err := c.guarded(ctx, func(ctx context.Context) error {
		snap, err := c.currentLocked(ctx)
		out = snap
		return err
	})
	return out, result(err)
}

func (c *Client) currentLocked(ctx context.Context) (*Snapshot, error) {
	snap, err := c.store.Get(ctx)
	if err != nil || snap == nil {
		return nil, err
	}
	if !expiresWithin(snap, c.now(), c.config.Refresh.ExpiryMargin) {
		return snap, nil
	}
	res := c.refresh(ctx, snap.RefreshToken())
	if res.Err != nil {
		return nil, res.Err
	}
	return session.Fresh(res.Session), nil
}

// SetSession adopts an externally obtained token pair. An expired access
// token is refreshed immediately; otherwise the user is fetched with it.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*Snapshot, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, newAuthError(KindSessionMissing, ErrSessionMissing)
	}
	claims, err := c.parser.Parse(accessToken)
	if err != nil {
		return nil, result(err)
	}
	exp := claims.Expiry()
	if exp.IsZero() {
		return nil, &AuthError{Kind: KindInvalidJWT, Message: "access token has no exp claim", Err: jwt.ErrInvalidToken}
	}

	var out *Snapshot
	err = c.guarded(ctx, func(ctx context.Context) error {
		now := c.now()
		if claims.Expired(now) {
			res := c.refresh(ctx, refreshToken)
			if res.Err != nil {
				return res.Err
			}
			out = session.Fresh(res.Session)
			return nil
		}

		user, err := c.fetchUser(ctx, accessToken)
		if err != nil {
			return err
		}
		sess := &Session{
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			TokenType:    "bearer",
			ExpiresIn:    exp.Unix() - now.Unix(),
			ExpiresAt:    exp.Unix(),
			User:         user,
		}
		if err := c.saveSession(ctx, sess); err != nil {
			return err
		}
		out = session.Fresh(sess)
		c.signedIn(ctx, sess, "set_session")
		return nil
	})
	return out, result(err)
}

// RefreshSession forces a refresh. An empty refreshToken uses the stored
// session's token.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Snapshot, error) {
	var out *Snapshot
	err := c.guarded(ctx, func(ctx context.Context) error {
		token := refreshToken
		if token == "" {
			snap, err := c.store.Get(ctx)
			if err != nil {
				return err
			}
			if snap == nil {
				return ErrSessionMissing
			}
			token = snap.RefreshToken()
		}
		res := c.refresh(ctx, token)
		if res.Err != nil {
			return res.Err
		}
		out = session.Fresh(res.Session)
		return nil
	})
	return out, result(err)
}

/*
====================================
SIGN IN
====================================
*/

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, creds Credentials) (*Snapshot, error) {
	if (creds.Email == "") == (creds.Phone == "") {
		return nil, &AuthError{Kind: KindAPI, Message: "exactly one of email or phone is required"}
	}
	return c.grant(ctx, "password", creds, "password")
}

// StoreCodeVerifier saves the PKCE verifier for a later
// ExchangeCodeForSession.
func (c *Client) StoreCodeVerifier(ctx context.Context, verifier string) error {
	if verifier == "" {
		return newAuthError(KindUnknown, fmt.Errorf("empty code verifier"))
	}
	return result(c.guarded(ctx, func(ctx context.Context) error {
		return c.store.SetCodeVerifier(ctx, verifier)
	}))
}

// ExchangeCodeForSession completes a PKCE flow. The stored verifier is
// consumed whether or not the exchange succeeds.
func (c *Client) ExchangeCodeForSession(ctx context.Context, authCode string) (*Snapshot, error) {
	var verifier string
	err := c.guarded(ctx, func(ctx context.Context) error {
		v, ok, err := c.store.TakeCodeVerifier(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCodeVerifierMissing
		}
		verifier = v
		return nil
	})
	if err != nil {
		return nil, result(err)
	}
	body := map[string]string{"auth_code": authCode, "code_verifier": verifier}
	return c.grant(ctx, "pkce", body, "pkce")
}

// grant runs a token grant and stores the resulting session.
func (c *Client) grant(ctx context.Context, grantType string, body any, method string) (*Snapshot, error) {
	var out *Snapshot
	err := c.guarded(ctx, func(ctx context.Context) error {
		var resp session.TokenResponse
		err := c.requester.Do(ctx, http.MethodPost, "/token", RequestOptions{
			Query: url.Values{"grant_type": {grantType}},
			Body:  body,
		}, &resp)
		if err != nil {
			c.emitAudit(ctx, internalaudit.EventSignedIn, "", err, map[string]string{"method": method})
			return err
		}
		sess := session.FromTokenResponse(&resp, c.now())
		if sess == nil {
			return flows.ErrEmptyGrant
		}
		if err := c.saveSession(ctx, sess); err != nil {
			return err
		}
		out = session.Fresh(sess)
		c.signedIn(ctx, sess, method)
		return nil
	})
	return out, result(err)
}

func (c *Client) signedIn(ctx context.Context, sess *Session, method string) {
	c.metrics.Inc(MetricSignIn)
	c.emitAudit(ctx, internalaudit.EventSignedIn, userID(sess.User), nil, map[string]string{"method": method})
	c.notify(ctx, EventSignedIn, session.Fresh(sess), true)
}

/*
====================================
USER
====================================
*/

// GetUser fetches the user from the server. With an empty accessToken the current
// session's access token is used, refreshing it first if needed.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken != "" {
		user, err := c.fetchUser(ctx, accessToken)
		return user, result(err)
	}
	var out *User
	err := c.guarded(ctx, func(ctx context.Context) error {
		snap, err := c.currentLocked(ctx)
		if err != nil {
			return err
		}
		if snap == nil {
			return ErrSessionMissing
		}
		out, err = c.fetchUser(ctx, snap.AccessToken())
		return err
	})
	return out, result(err)
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*User, error) {
	var user User
	if err := c.requester.Do(ctx, http.MethodGet, "/user", RequestOptions{JWT: accessToken}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser changes user attributes and stores the returned user in the
// session.
func (c *Client) UpdateUser(ctx context.Context, attrs UserAttributes) (*User, error) {
	var out *User
	err := c.guarded(ctx, func(ctx context.Context) error {
		snap, err := c.currentLocked(ctx)
		if err != nil {
			return err
		}
		if snap == nil {
			return ErrSessionMissing
		}

		var user User
		err = c.requester.Do(ctx, http.MethodPut, "/user", RequestOptions{JWT: snap.AccessToken(), Body: attrs}, &user)
		if err != nil {
			c.emitAudit(ctx, internalaudit.EventUserUpdated, "", err, nil)
			return err
		}

		sess := snap.Tokens()
		sess.User = &user
		if err := c.saveSession(ctx, sess); err != nil {
			return err
		}
		out = user.Clone()
		c.metrics.Inc(MetricUserUpdated)
		c.emitAudit(ctx, internalaudit.EventUserUpdated, user.ID, nil, nil)
		c.notify(ctx, EventUserUpdated, session.Fresh(sess), true)
		return nil
	})
	return out, result(err)
}

/*
====================================
SIGN OUT
====================================
*/

// SignOut revokes sessions on the server for scope and, unless scope is
// ScopeOthers, clears the local session and emits SIGNED_OUT to every
// context. A 401, 403 or 404 from the server counts as already signed out.
func (c *Client) SignOut(ctx context.Context, scope SignOutScope) error {
	if scope == "" {
		scope = ScopeGlobal
	}
	switch scope {
	case ScopeGlobal, ScopeLocal, ScopeOthers:
	default:
		return &AuthError{Kind: KindAPI, Message: "invalid sign-out scope " + strconv.Quote(string(scope))}
	}

	return result(c.guarded(ctx, func(ctx context.Context) error {
		snap, err := c.currentLocked(ctx)
		if err != nil {
			return err
		}

		if snap != nil {
			err := c.requester.Do(ctx, http.MethodPost, "/logout", RequestOptions{
				JWT:   snap.AccessToken(),
				Query: url.Values{"scope": {string(scope)}},
			}, nil)
			if err != nil {
				switch statusOf(err) {
				case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				default:
					c.emitAudit(ctx, internalaudit.EventSignedOut, "", err, map[string]string{"scope": string(scope)})
					return err
				}
			}
		}

		if scope == ScopeOthers {
			return nil
		}
		if err := c.removeSession(ctx); err != nil {
			return err
		}
		c.metrics.Inc(MetricSignOut)
		c.emitAudit(ctx, internalaudit.EventSignedOut, "", nil, map[string]string{"scope": string(scope)})
		c.notify(ctx, EventSignedOut, nil, true)
		return nil
	}))
}

/*
====================================
SUBSCRIBERS
====================================
*/

// OnAuthStateChange registers cb. Once initialization completes, cb alone
// receives INITIAL_SESSION with the current session (nil when signed out);
// registration itself never blocks.
func (c *Client) OnAuthStateChange(cb AuthStateCallback) *Subscription {
	sub := c.bus.Register(subscribers.Callback(cb))
	if c.closed.Load() {
		return sub
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := c.ctx
		if err := c.awaitInit(ctx); err != nil {
			return
		}
		_ = c.withLock(ctx, -1, func(ctx context.Context) error {
			snap, err := c.currentLocked(ctx)
			if err != nil {
				c.log.Debug("initial session unavailable", zap.Error(err))
				snap = nil
			}
			return c.bus.NotifyOne(ctx, sub.ID, EventInitialSession, snap)
		})
	}()
	return sub
}

func (c *Client) notify(ctx context.Context, event Event, snap *Snapshot, broadcast bool) {
	c.metrics.Inc(MetricEventNotified)
	if err := c.bus.Notify(ctx, event, snap, broadcast); err != nil {
		c.log.Debug("subscriber returned error", zap.String("event", string(event)), zap.Error(err))
	}
}

func (c *Client) notifyLocal(ctx context.Context, event Event, snap *Snapshot) {
	c.notify(ctx, event, snap, false)
}

// notifyBroadcast is the coordinator's notifier; subscriber errors are
// reported back to it.
func (c *Client) notifyBroadcast(ctx context.Context, event Event, snap *Snapshot) error {
	c.metrics.Inc(MetricEventNotified)
	return c.bus.Notify(ctx, event, snap, true)
}

/*
====================================
AUTO REFRESH
====================================
*/

// StartAutoRefresh (re)starts the background ticker. Headless clients call
// it once; initialization does when AutoRefreshToken is set. Ticks wait for
// initialization to settle.
func (c *Client) StartAutoRefresh() {
	if c.closed.Load() {
		return
	}
	c.auto.Start(c.ctx)
}

// StopAutoRefresh stops the ticker. The returned channel closes once a tick
// in progress has finished.
func (c *Client) StopAutoRefresh() <-chan struct{} {
	return c.auto.Stop()
}

// AutoRefreshRunning reports whether the ticker is active.
func (c *Client) AutoRefreshRunning() bool {
	return c.auto.Running()
}

// SetVisibility binds the ticker to foreground visibility. Becoming visible
// restarts auto refresh and re-runs session recovery under the lock;
// becoming hidden stops the ticker.
func (c *Client) SetVisibility(ctx context.Context, visible bool) error {
	c.visible.Store(visible)
	if !visible {
		if c.config.AutoRefreshToken {
			c.StopAutoRefresh()
		}
		return nil
	}

	if c.config.AutoRefreshToken {
		c.StartAutoRefresh()
	}
	return result(c.guarded(ctx, func(ctx context.Context) error {
		if !c.visible.Load() {
			return nil
		}
		return c.recoverLocked(ctx)
	}))
}

/*
====================================
REFRESH PLUMBING
====================================
*/

func (c *Client) refresh(ctx context.Context, refreshToken string) flows.RefreshResult {
	res := c.refresher.Refresh(ctx, refreshToken)
	if res.Shared {
		c.metrics.Inc(MetricRefreshDeduplicated)
	}
	return res
}

func (c *Client) refreshGrant(ctx context.Context, refreshToken string) (*Session, error) {
	var resp session.TokenResponse
	err := c.requester.Do(ctx, http.MethodPost, "/token", RequestOptions{
		Query: url.Values{"grant_type": {"refresh_token"}},
		Body:  map[string]string{"refresh_token": refreshToken},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return session.FromTokenResponse(&resp, c.now()), nil
}

func (c *Client) refreshSettled(res flows.RefreshResult) {
	ctx := context.Background()
	if res.Err == nil {
		c.metrics.Inc(MetricRefreshSuccess)
		c.emitAudit(ctx, internalaudit.EventTokenRefreshed, userID(res.Session.User), nil,
			map[string]string{"attempts": strconv.Itoa(res.Attempts)})
		return
	}
	c.metrics.Inc(MetricRefreshFailure)
	meta := map[string]string{
		"attempts": strconv.Itoa(res.Attempts),
		"failure":  res.Failure.String(),
	}
	c.emitAudit(ctx, internalaudit.EventRefreshFailed, "", res.Err, meta)
	if res.Failure == flows.RefreshFailureRejected {
		c.metrics.Inc(MetricSignOut)
		c.emitAudit(ctx, internalaudit.EventSignedOut, "", nil, map[string]string{"reason": "refresh_rejected"})
	}
}

func (c *Client) saveSession(ctx context.Context, sess *Session) error {
	if err := c.store.Set(ctx, sess); err != nil {
		return err
	}
	c.metrics.Inc(MetricSessionSaved)
	return nil
}

func (c *Client) removeSession(ctx context.Context) error {
	if err := c.store.Remove(ctx); err != nil {
		return err
	}
	c.metrics.Inc(MetricSessionRemoved)
	return nil
}

/*
====================================
AUDIT / METRICS / CLOSE
====================================
*/

func userID(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func (c *Client) emitAudit(ctx context.Context, eventType, uid string, err error, meta map[string]string) {
	if c.audit == nil {
		return
	}
	ev := internalaudit.Event{
		Timestamp:  c.now().UTC(),
		EventType:  eventType,
		UserID:     uid,
		StorageKey: c.config.StorageKey,
		Instance:   c.instance,
		Success:    err == nil,
		Metadata:   meta,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.audit.Emit(ctx, ev)
}

// MetricsSnapshot returns the current counters. Empty when metrics are
// disabled.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return c.metrics.Snapshot()
}

// AuditDropped returns the number of audit events dropped under
// backpressure.
func (c *Client) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.audit.Dropped()
}

// Close stops the ticker, cancels pending background work, closes the event
// channel and flushes audit events. It is idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		stopped := c.auto.Stop()
		c.cancel()
		<-stopped
		<-c.initDone
		// runInitialize may have started the ticker before seeing closed.
		<-c.auto.Stop()
		c.wg.Wait()
		err = c.bus.Close()
		c.audit.Close()
	})
	return err
}
