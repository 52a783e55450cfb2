package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelartvj/officesync/internal/client/bus"
	"github.com/pixelartvj/officesync/internal/client/client"
	"github.com/pixelartvj/officesync/internal/client/kv"
	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/client/store"
	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/cryptox"
	"github.com/pixelartvj/officesync/internal/logging"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// ---- fakes ----

type fakeRemote struct {
	mu sync.Mutex

	LoginRet   *client.LoginResult
	LoginErr   error
	RefreshRet *client.LoginResult
	RefreshErr error

	LoginCalls   int
	RefreshCalls int
	LastRefresh  string
}

func (f *fakeRemote) Login(ctx context.Context, email, password string) (*client.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LoginCalls++
	return f.LoginRet, f.LoginErr
}

func (f *fakeRemote) Refresh(ctx context.Context, refreshToken string) (*client.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefreshCalls++
	f.LastRefresh = refreshToken
	return f.RefreshRet, f.RefreshErr
}

func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

func (f *fakeRemote) PresignBackupUpload(ctx context.Context, token string) (string, string, error) {
	return "", "", nil
}

type fakeSyncer struct {
	mu      sync.Mutex
	user    *models.User
	token   string
	cleared int
	syncs   int
}

func (f *fakeSyncer) SetUser(u models.User, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = &u
	f.token = token
}

func (f *fakeSyncer) ClearUser() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = nil
	f.cleared++
}

func (f *fakeSyncer) SyncAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return nil
}

func (f *fakeSyncer) activeUser() *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

// ---- helpers ----

type authFixture struct {
	svc    AuthService
	users  *store.FlatStore
	kv     *kv.FileStore
	clock  *clockwork.FakeClock
	syncer *fakeSyncer
	remote *fakeRemote
	bus    *bus.Bus
}

func newAuthFixture(t *testing.T, withRemote bool) *authFixture {
	t.Helper()
	kvs, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)

	log := logging.NewDiscardLogger()
	fc := clockwork.NewFakeClockAt(t0)
	f := &authFixture{
		users:  store.NewFlatStore(kvs, store.WithClock(fc)),
		kv:     kvs,
		clock:  fc,
		syncer: &fakeSyncer{},
		bus:    bus.New(log),
	}
	t.Cleanup(f.bus.Close)

	opts := []AuthOption{WithSyncer(f.syncer), WithClock(fc), WithBus(f.bus)}
	if withRemote {
		f.remote = &fakeRemote{}
		opts = append(opts, WithRemote(f.remote))
	}
	f.svc = NewAuthService(f.users, kvs, log, opts...)
	t.Cleanup(f.svc.Stop)
	return f
}

func (f *authFixture) seedUser(t *testing.T, id, email, password string) {
	t.Helper()
	_, err := f.users.Create(context.Background(), store.EntityUsers, models.Record{
		"id": id, "email": email, "name": "Dana", "role": "producer", "password": password,
	})
	require.NoError(t, err)
}

// ---- tests ----

func TestLogin_LocalHashedUser(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	hash, err := cryptox.HashPassword("hunter2")
	require.NoError(t, err)
	f.seedUser(t, "u-1", "dana@example.com", hash)

	sess, err := f.svc.Login(ctx, " Dana@Example.com ", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "u-1", sess.User.ID)
	assert.Empty(t, sess.User.Password)
	assert.NotEmpty(t, sess.AuthToken)
	assert.NotEmpty(t, sess.DeviceID)
	assert.True(t, t0.Equal(sess.LoginTime))
	assert.True(t, t0.Add(DefaultSessionTTL).Equal(sess.ExpiresAt))

	require.NotNil(t, f.syncer.activeUser())
	assert.Equal(t, "u-1", f.syncer.activeUser().ID)
	assert.True(t, f.svc.IsAuthenticated(ctx))

	_, err = f.svc.Login(ctx, "dana@example.com", "wrong")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestLogin_PlaintextPasswordNeverMatches(t *testing.T) {
	f := newAuthFixture(t, false)
	f.seedUser(t, "u-1", "dana@example.com", "hunter2")

	_, err := f.svc.Login(context.Background(), "dana@example.com", "hunter2")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestLogin_RemoteSuccessIsCachedForOfflineLogin(t *testing.T) {
	f := newAuthFixture(t, true)
	ctx := context.Background()

	f.remote.LoginRet = &client.LoginResult{
		User:         models.User{ID: "u-9", Email: "Sam@Example.com", Name: "Sam", Role: "crew"},
		AccessToken:  "jwt-1",
		RefreshToken: "rt-1",
		ExpiresAt:    t0.Add(2 * time.Hour),
	}

	sess, err := f.svc.Login(ctx, "sam@example.com", "pa55")
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", sess.AuthToken)
	assert.Equal(t, "rt-1", sess.RefreshToken)
	assert.True(t, t0.Add(2*time.Hour).Equal(sess.ExpiresAt))

	cached, err := f.users.Get(ctx, store.EntityUsers, "u-9")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "sam@example.com", cached["email"])
	pw, _ := cached["password"].(string)
	assert.True(t, cryptox.LooksHashed(pw))
	assert.NotEqual(t, "pa55", pw)

	// Backend gone: the cached hash still lets the user in.
	f.remote.LoginErr = client.ErrUnavailable
	f.remote.LoginRet = nil
	sess, err = f.svc.Login(ctx, "sam@example.com", "pa55")
	require.NoError(t, err)
	assert.Equal(t, "u-9", sess.User.ID)
	assert.Equal(t, 1, f.remote.LoginCalls)
}

func TestLogin_RemoteErrors(t *testing.T) {
	f := newAuthFixture(t, true)
	ctx := context.Background()

	f.remote.LoginErr = client.ErrUnauthorized
	_, err := f.svc.Login(ctx, "x@example.com", "pw")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	f.remote.LoginErr = client.ErrUnavailable
	_, err = f.svc.Login(ctx, "x@example.com", "pw")
	assert.ErrorIs(t, err, client.ErrUnavailable)

	_, err = f.svc.Login(ctx, "", "pw")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
}

func TestSession_ExpiredIsAbsent(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	hash, err := cryptox.HashPassword("pw")
	require.NoError(t, err)
	f.seedUser(t, "u-1", "dana@example.com", hash)
	_, err = f.svc.Login(ctx, "dana@example.com", "pw")
	require.NoError(t, err)

	f.clock.Advance(DefaultSessionTTL)

	sess, err := f.svc.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.False(t, f.svc.IsAuthenticated(ctx))
	assert.Nil(t, f.syncer.activeUser())

	raw, err := f.kv.Get(ctx, kv.KeyCurrentSession)
	require.NoError(t, err)
	assert.Nil(t, raw, "expired session is removed")
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	hash, err := cryptox.HashPassword("pw")
	require.NoError(t, err)
	f.seedUser(t, "u-1", "dana@example.com", hash)
	_, err = f.svc.Login(ctx, "dana@example.com", "pw")
	require.NoError(t, err)

	sub := f.bus.Subscribe(bus.TopicSessionCleared)
	defer sub.Close()

	require.NoError(t, f.svc.Logout(ctx))
	assert.False(t, f.svc.IsAuthenticated(ctx))
	assert.Nil(t, f.syncer.activeUser())

	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("expected session cleared event")
	}
}

func TestValidateSession_RefreshesNearExpiry(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	hash, err := cryptox.HashPassword("pw")
	require.NoError(t, err)
	f.seedUser(t, "u-1", "dana@example.com", hash)
	first, err := f.svc.Login(ctx, "dana@example.com", "pw")
	require.NoError(t, err)

	// Plenty of time left: nothing changes.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.ValidateSession(ctx))
	sess, err := f.svc.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.AuthToken, sess.AuthToken)

	// Inside the refresh window.
	f.clock.Advance(DefaultSessionTTL - time.Hour - 30*time.Minute)
	require.NoError(t, f.svc.ValidateSession(ctx))
	sess, err = f.svc.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.NotEqual(t, first.AuthToken, sess.AuthToken)
	assert.True(t, f.clock.Now().Add(DefaultSessionTTL).Equal(sess.ExpiresAt))
}

func TestValidateSession_RemoteRefresh(t *testing.T) {
	f := newAuthFixture(t, true)
	ctx := context.Background()

	f.remote.LoginRet = &client.LoginResult{
		User: models.User{ID: "u-9", Email: "sam@example.com"}, AccessToken: "jwt-1",
		RefreshToken: "rt-1", ExpiresAt: t0.Add(30 * time.Minute),
	}
	_, err := f.svc.Login(ctx, "sam@example.com", "pw")
	require.NoError(t, err)

	f.remote.RefreshRet = &client.LoginResult{AccessToken: "jwt-2", RefreshToken: "rt-2", ExpiresAt: t0.Add(3 * time.Hour)}
	require.NoError(t, f.svc.ValidateSession(ctx))

	assert.Equal(t, "rt-1", f.remote.LastRefresh)
	sess, err := f.svc.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt-2", sess.AuthToken)
	assert.Equal(t, "rt-2", sess.RefreshToken)
	assert.True(t, t0.Add(3*time.Hour).Equal(sess.ExpiresAt))

	f.syncer.mu.Lock()
	assert.Equal(t, "jwt-2", f.syncer.token)
	f.syncer.mu.Unlock()
}

func TestValidateSession_FailedRemoteRefreshIsRetried(t *testing.T) {
	f := newAuthFixture(t, true)
	ctx := context.Background()

	f.remote.LoginRet = &client.LoginResult{
		User: models.User{ID: "u-9", Email: "sam@example.com"}, AccessToken: "jwt-1",
		RefreshToken: "rt-1", ExpiresAt: t0.Add(30 * time.Minute),
	}
	_, err := f.svc.Login(ctx, "sam@example.com", "pw")
	require.NoError(t, err)

	// Offline: the session survives locally but keeps the old access token.
	f.remote.RefreshErr = client.ErrUnavailable
	require.NoError(t, f.svc.ValidateSession(ctx))
	sess, err := f.svc.CurrentSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "jwt-1", sess.AuthToken)
	assert.True(t, sess.RefreshPending)
	assert.True(t, sess.ExpiresAt.After(t0.Add(time.Hour)))

	// Back online: the next check retries although the expiry is far away.
	f.clock.Advance(5 * time.Minute)
	f.remote.RefreshErr = nil
	f.remote.RefreshRet = &client.LoginResult{AccessToken: "jwt-2", ExpiresAt: f.clock.Now().Add(2 * time.Hour)}
	require.NoError(t, f.svc.ValidateSession(ctx))

	assert.Equal(t, 2, f.remote.RefreshCalls)
	sess, err = f.svc.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt-2", sess.AuthToken)
	assert.Equal(t, "rt-1", sess.RefreshToken)
	assert.False(t, sess.RefreshPending)

	// Settled: no further remote calls while the token is fresh.
	require.NoError(t, f.svc.ValidateSession(ctx))
	assert.Equal(t, 2, f.remote.RefreshCalls)
}

func TestDeviceID_Stable(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	a, err := f.svc.DeviceID(ctx)
	require.NoError(t, err)
	b, err := f.svc.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 36)
}

func TestHandleEvent_CrossProcessSession(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	// Another process wrote a session.
	sess := models.Session{
		User: models.User{ID: "u-7", Email: "lee@example.com"}, DeviceID: "d",
		LoginTime: t0, ExpiresAt: t0.Add(time.Hour * 5), AuthToken: "tok",
	}
	require.NoError(t, kv.SetJSON(ctx, f.kv, kv.KeyCurrentSession, sess))

	f.svc.HandleEvent(ctx, bus.Event{Topic: bus.TopicSessionUpdated})
	require.NotNil(t, f.syncer.activeUser())
	assert.Equal(t, "u-7", f.syncer.activeUser().ID)

	f.svc.HandleEvent(ctx, bus.Event{Topic: bus.TopicSessionCleared})
	assert.Nil(t, f.syncer.activeUser())
}

func TestStart_RestoresUserAndValidatesPeriodically(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	sess := models.Session{
		User: models.User{ID: "u-7", Email: "lee@example.com"}, DeviceID: "d",
		LoginTime: t0, ExpiresAt: t0.Add(2 * time.Hour), AuthToken: "tok",
	}
	require.NoError(t, kv.SetJSON(ctx, f.kv, kv.KeyCurrentSession, sess))

	require.NoError(t, f.svc.Start(ctx))
	require.NotNil(t, f.syncer.activeUser())
	assert.Equal(t, "u-7", f.syncer.activeUser().ID)

	bctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(bctx, 1))

	f.clock.Advance(DefaultCheckInterval * 13)

	require.Eventually(t, func() bool {
		var got models.Session
		ok, err := kv.GetJSON(ctx, f.kv, kv.KeyCurrentSession, &got)
		return err == nil && ok && got.ExpiresAt.After(t0.Add(2*time.Hour))
	}, 2*time.Second, 10*time.Millisecond)
}
