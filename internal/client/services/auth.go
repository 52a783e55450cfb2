// Package services contains application services for the officesync client.
// This file defines the authentication service: local-then-remote login,
// the persisted device session with expiry and refresh, and propagation of
// session changes made by other processes.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pixelartvj/officesync/internal/client/bus"
	"github.com/pixelartvj/officesync/internal/client/client"
	"github.com/pixelartvj/officesync/internal/client/kv"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/client/store"
	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/cryptox"
	"github.com/pixelartvj/officesync/internal/logging"
	"github.com/pixelartvj/officesync/internal/shared"
)

const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultRefreshWindow = time.Hour
	DefaultCheckInterval = 5 * time.Minute
)

// UserSyncer is told who the active user is. The cloud sync engine
// implements it.
type UserSyncer interface {
	SetUser(u models.User, authToken string)
	ClearUser()
	SyncAll(ctx context.Context) error
}

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - Login: verify against cached local users first, then the backend;
//     a backend success is cached locally for offline logins.
//   - Logout: forget the session on this device.
//   - CurrentSession: the stored session, or nil when missing or expired.
//   - ValidateSession: drop an expired session and refresh one that is
//     close to expiry.
//   - Start/Stop: the periodic validation task and cross-process session
//     propagation.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*models.Session, error)
	Logout(ctx context.Context) error
	CurrentSession(ctx context.Context) (*models.Session, error)
	IsAuthenticated(ctx context.Context) bool
	ValidateSession(ctx context.Context) error
	DeviceID(ctx context.Context) (string, error)
	HandleEvent(ctx context.Context, ev bus.Event)
	Start(ctx context.Context) error
	Stop()
}

type AuthOption func(*authService)

func WithRemote(c client.Client) AuthOption { return func(a *authService) { a.remote = c } }

func WithSyncer(s UserSyncer) AuthOption { return func(a *authService) { a.syncer = s } }

func WithBus(b *bus.Bus) AuthOption { return func(a *authService) { a.bus = b } }

func WithClock(c clockwork.Clock) AuthOption { return func(a *authService) { a.clock = c } }

// WithTimings overrides the session lifetime, the refresh window and the
// validation interval. Zero values keep the defaults.
func WithTimings(ttl, refreshWindow, checkInterval time.Duration) AuthOption {
	return func(a *authService) {
		if ttl > 0 {
			a.ttl = ttl
		}
		if refreshWindow > 0 {
			a.refreshWindow = refreshWindow
		}
		if checkInterval > 0 {
			a.checkInterval = checkInterval
		}
	}
}

// authService is the concrete AuthService. Sessions live in the flat
// key-value store so every process on the device sees the same one.
type authService struct {
	users  store.EntityStore
	kv     kv.Store
	remote client.Client
	syncer UserSyncer
	bus    *bus.Bus
	clock  clockwork.Clock
	logger logging.Logger

	ttl           time.Duration
	refreshWindow time.Duration
	checkInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAuthService constructs an AuthService over the local users entity and
// the key-value store holding the session.
func NewAuthService(users store.EntityStore, kvs kv.Store, logger logging.Logger, opts ...AuthOption) AuthService {
	a := &authService{
		users:         users,
		kv:            kvs,
		clock:         clockwork.NewRealClock(),
		logger:        logger.With("component", "auth"),
		ttl:           DefaultSessionTTL,
		refreshWindow: DefaultRefreshWindow,
		checkInterval: DefaultCheckInterval,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// findLocalUser returns the cached user with email, or nil.
func (a *authService) findLocalUser(ctx context.Context, email string) (models.Record, error) {
	recs, err := a.users.GetAll(ctx, store.EntityUsers)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if e, _ := r["email"].(string); normalizeEmail(e) == email {
			return r, nil
		}
	}
	return nil, nil
}

// Login authenticates email/password. Local users verify against their
// stored hash only; plaintext passwords never match.
func (a *authService) Login(ctx context.Context, email, password string) (*models.Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, common.ErrInvalidCredentials
	}

	local, err := a.findLocalUser(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("local user lookup: %w", err)
	}

	if local != nil {
		u := models.UserFromRecord(local)
		if cryptox.VerifyPassword(u.Password, password) {
			a.logger.Info(ctx, "local login", "user", u.ID)
			return a.startSession(ctx, u.Sanitized(), "", "", time.Time{})
		}
	}

	if a.remote == nil {
		return nil, common.ErrInvalidCredentials
	}

	res, err := a.remote.Login(ctx, email, password)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("remote login: %w", err)
	}

	if err := a.cacheUser(ctx, res.User, password); err != nil {
		a.logger.Warn(ctx, "failed to cache remote user", "user", res.User.ID, "error", err)
	}

	a.logger.Info(ctx, "remote login", "user", res.User.ID)
	return a.startSession(ctx, res.User.Sanitized(), res.AccessToken, res.RefreshToken, res.ExpiresAt)
}

// cacheUser stores u with a hash of password so the next login works
// offline.
func (a *authService) cacheUser(ctx context.Context, u models.User, password string) error {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return err
	}
	fields := models.Record{
		"email":    normalizeEmail(u.Email),
		"name":     u.Name,
		"role":     u.Role,
		"password": hash,
	}

	existing, err := a.users.Get(ctx, store.EntityUsers, u.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		_, err = a.users.Update(ctx, store.EntityUsers, u.ID, fields)
		return err
	}
	fields[models.FieldID] = u.ID
	_, err = a.users.Create(ctx, store.EntityUsers, fields)
	return err
}

func (a *authService) startSession(ctx context.Context, u models.User, token, refresh string, expires time.Time) (*models.Session, error) {
	deviceID, err := a.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	if token == "" {
		if token, err = shared.NewToken(); err != nil {
			return nil, err
		}
	}
	if expires.IsZero() || !expires.After(now) {
		expires = now.Add(a.ttl)
	}

	sess := &models.Session{
		User:         u,
		DeviceID:     deviceID,
		LoginTime:    now,
		ExpiresAt:    expires,
		AuthToken:    token,
		RefreshToken: refresh,
	}
	if err := kv.SetJSON(ctx, a.kv, kv.KeyCurrentSession, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	if a.syncer != nil {
		a.syncer.SetUser(u, token)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.syncer.SyncAll(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn(ctx, "post-login sync failed", "error", err)
			}
		}()
	}

	a.publish(bus.Event{Topic: bus.TopicSessionUpdated, User: &u})
	return sess, nil
}

func (a *authService) Logout(ctx context.Context) error {
	if a.syncer != nil {
		a.syncer.ClearUser()
	}
	if err := a.kv.Delete(ctx, kv.KeyCurrentSession); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	a.publish(bus.Event{Topic: bus.TopicSessionCleared})
	a.logger.Info(ctx, "logged out")
	return nil
}

// CurrentSession returns the stored session. An expired session is removed
// and reported as absent.
func (a *authService) CurrentSession(ctx context.Context) (*models.Session, error) {
	var sess models.Session
	ok, err := kv.GetJSON(ctx, a.kv, kv.KeyCurrentSession, &sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if sess.Expired(a.clock.Now()) {
		a.logger.Info(ctx, "session expired", "user", sess.User.ID)
		if err := a.Logout(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &sess, nil
}

func (a *authService) IsAuthenticated(ctx context.Context) bool {
	sess, err := a.CurrentSession(ctx)
	return err == nil && sess != nil
}

// ValidateSession clears an expired session and extends one with less than
// the refresh window left. Backend sessions are refreshed remotely when
// possible; otherwise the expiry is extended locally and the remote refresh
// is retried on the next validation.
func (a *authService) ValidateSession(ctx context.Context) error {
	sess, err := a.CurrentSession(ctx)
	if err != nil || sess == nil {
		return err
	}

	now := a.clock.Now()
	if !sess.RefreshPending && sess.ExpiresAt.Sub(now) >= a.refreshWindow {
		return nil
	}

	refreshed := false
	if a.remote != nil && sess.RefreshToken != "" {
		res, err := a.remote.Refresh(ctx, sess.RefreshToken)
		if err != nil {
			a.logger.Warn(ctx, "remote session refresh failed, extending locally", "error", err)
			sess.RefreshPending = true
		} else {
			sess.AuthToken = res.AccessToken
			if res.RefreshToken != "" {
				sess.RefreshToken = res.RefreshToken
			}
			sess.ExpiresAt = res.ExpiresAt
			sess.RefreshPending = false
			refreshed = true
		}
	}

	if !refreshed {
		if sess.RefreshToken == "" {
			token, err := shared.NewToken()
			if err != nil {
				return err
			}
			sess.AuthToken = token
		}
		sess.ExpiresAt = now.Add(a.ttl)
	}
	if !sess.ExpiresAt.After(now) {
		sess.ExpiresAt = now.Add(a.ttl)
	}

	if err := kv.SetJSON(ctx, a.kv, kv.KeyCurrentSession, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if a.syncer != nil {
		a.syncer.SetUser(sess.User, sess.AuthToken)
	}
	a.logger.Info(ctx, "session refreshed", "user", sess.User.ID, "expires", sess.ExpiresAt)
	return nil
}

// DeviceID returns this device's id, creating it on first use.
func (a *authService) DeviceID(ctx context.Context) (string, error) {
	return LoadDeviceID(ctx, a.kv)
}

// LoadDeviceID reads the persisted device id, generating and saving a new
// random one when there is none yet.
func LoadDeviceID(ctx context.Context, kvs kv.Store) (string, error) {
	var id string
	ok, err := kv.GetJSON(ctx, kvs, kv.KeyDeviceID, &id)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := kv.SetJSON(ctx, kvs, kv.KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}

// HandleEvent applies a session change, possibly made by another process,
// to the sync engine.
func (a *authService) HandleEvent(ctx context.Context, ev bus.Event) {
	if a.syncer == nil {
		return
	}
	switch ev.Topic {
	case bus.TopicSessionCleared:
		a.syncer.ClearUser()
	case bus.TopicSessionUpdated:
		sess, err := a.CurrentSession(ctx)
		if err != nil {
			a.logger.Warn(ctx, "failed to read updated session", "error", err)
			return
		}
		if sess != nil {
			a.syncer.SetUser(sess.User, sess.AuthToken)
		}
	}
}

// Start validates the stored session, restores the active user and runs
// the periodic validation and session event tasks until Stop.
func (a *authService) Start(ctx context.Context) error {
	if err := a.ValidateSession(ctx); err != nil {
		return err
	}
	sess, err := a.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if sess != nil && a.syncer != nil {
		a.syncer.SetUser(sess.User, sess.AuthToken)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	var events <-chan bus.Event
	var sub *bus.Subscription
	if a.bus != nil {
		sub = a.bus.Subscribe(bus.TopicSessionCleared, bus.TopicSessionUpdated)
		events = sub.C
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if sub != nil {
			defer sub.Close()
		}

		ticker := a.clock.NewTicker(a.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if err := a.ValidateSession(ctx); err != nil {
					a.logger.Warn(ctx, "session validation failed", "error", err)
				}
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				a.HandleEvent(ctx, ev)
			}
		}
	}()
	return nil
}

func (a *authService) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
}

func (a *authService) publish(ev bus.Event) {
	if a.bus != nil {
		a.bus.Publish(ev)
	}
}
