package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelartvj/officesync/internal/client/client"
	clientmodels "github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/client/providers"
	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/logging"
	"github.com/pixelartvj/officesync/internal/server/feed"
	"github.com/pixelartvj/officesync/internal/server/models"
)

const testAPIKey = "office-key"

type fixture struct {
	ts    *httptest.Server
	users *fakeUsers
	recs  *memRecords
	hub   *feed.Hub
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	hub := feed.NewHub(logging.NewDiscardLogger())
	f := &fixture{users: newFakeUsers(), recs: newMemRecords(hub), hub: hub}

	opts = append([]Option{WithAPIKey(testAPIKey)}, opts...)
	srv := NewServer(f.users, f.recs, fakeBackups{}, hub, logging.NewDiscardLogger(), opts...)
	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		f.ts.Close()
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, headers map[string]string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func bearer(tok string) map[string]string {
	return map[string]string{common.AuthorizationHeaderName: common.BearerPrefix + tok}
}

func apiKey(k string) map[string]string {
	return map[string]string{common.APIKeyHeaderName: k}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newFixture(t, WithHealthCheck(fakePinger{err: errors.New("refused")}))
	resp = down.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	up := newFixture(t, WithHealthCheck(fakePinger{}))
	err := client.NewHTTPClient(up.ts.URL, "", up.ts.Client()).Ping(context.Background())
	assert.NoError(t, err)
}

func TestAuth_WithHTTPClient(t *testing.T) {
	f := newFixture(t)
	c := client.NewHTTPClient(f.ts.URL, testAPIKey, f.ts.Client())
	ctx := context.Background()

	res, err := c.Login(ctx, "dj@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)
	assert.Equal(t, "admin", res.User.Role)
	assert.Empty(t, res.User.Password, "hash never leaves the server")
	assert.Equal(t, "tok-u1", res.AccessToken)
	assert.Equal(t, "r1", res.RefreshToken)
	assert.True(t, expiresAt.Equal(res.ExpiresAt))

	_, err = c.Login(ctx, "dj@example.com", "nope")
	assert.ErrorIs(t, err, client.ErrUnauthorized)

	res, err = c.Refresh(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r2", res.RefreshToken)

	_, err = c.Refresh(ctx, "expired")
	assert.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestAuth_RegisterAndLogout(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/auth/register", nil, `{"email":"new@example.com","password":"pw","name":"New"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var u map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
	assert.Equal(t, "new@example.com", u["email"])
	assert.NotContains(t, u, "PasswordHash")
	assert.NotContains(t, u, "passwordHash")

	resp = f.do(t, http.MethodPost, "/api/auth/register", nil, `{"email":"new@example.com","password":"pw"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/auth/register", nil, `{"email":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/auth/refresh", nil, `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/auth/logout", nil, `{"refreshToken":"r1"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"r1"}, f.users.revoked)
}

func TestSync_WithBackendProvider(t *testing.T) {
	f := newFixture(t)
	b := providers.NewBackend(f.ts.URL+"/", testAPIKey, f.ts.Client())
	ctx := context.Background()

	empty, err := b.FetchEntity(ctx, "u1", "events")
	require.NoError(t, err)
	assert.Empty(t, empty)

	err = b.PushEntity(ctx, "u1", "events", []clientmodels.Record{
		{"id": "e1", "title": "Gig", "updated_at": "2024-06-01T10:00:00Z"},
		{"id": "e2", "title": "Rehearsal"},
	})
	require.NoError(t, err)
	require.NoError(t, b.PushEntity(ctx, "u1", "clients", []clientmodels.Record{{"id": "c1", "name": "Club"}}))

	got, err := b.FetchEntity(ctx, "u1", "events")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	all, err := b.FetchAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all["events"], 2)
	assert.Len(t, all["clients"], 1)

	require.NoError(t, b.DeleteRecord(ctx, "u1", "events", "e1"))
	got, err = b.FetchEntity(ctx, "u1", "events")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID())

	require.NoError(t, b.HealthCheck(ctx))
}

func TestSync_Authorization(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{"no credentials", "/api/sync/events/u1", nil, http.StatusUnauthorized},
		{"wrong api key", "/api/sync/events/u1", apiKey("guess"), http.StatusUnauthorized},
		{"api key", "/api/sync/events/u2", apiKey(testAPIKey), http.StatusOK},
		{"own token", "/api/sync/events/u1", bearer("tok-u1"), http.StatusOK},
		{"other user's data", "/api/sync/events/u2", bearer("tok-u1"), http.StatusForbidden},
		{"expired token", "/api/sync/events/u1", bearer("stale"), http.StatusUnauthorized},
		{"bad token", "/api/sync/all/u1", bearer("forged"), http.StatusUnauthorized},
		{"invalid entity", "/api/sync/Events/u1", bearer("tok-u1"), http.StatusBadRequest},
		{"internal error hidden", "/api/sync/all/broken", apiKey(testAPIKey), http.StatusInternalServerError},
		{"panic recovered", "/api/sync/explode/u1", apiKey(testAPIKey), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodGet, tt.path, tt.headers, "")
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusInternalServerError {
				var body errorBody
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, common.ErrorInternal.Error(), body.Error)
			}
		})
	}
}

func TestSync_APIKeyDisabledWhenUnset(t *testing.T) {
	f := newFixture(t, WithAPIKey(""))
	resp := f.do(t, http.MethodGet, "/api/sync/events/u1", apiKey(""), "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSync_PushRejectsBadBodies(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/sync/events/u1", apiKey(testAPIKey), `{"id":"not-an-array"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/sync/events/u1", apiKey(testAPIKey), `[{"title":"no id"}]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/sync/events/u1", apiKey(testAPIKey), `[{"id":"a"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 1, res["applied"])
}

func dialFeed(t *testing.T, f *fixture, userID string, headers http.Header) (*websocket.Conn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/sync/feed/" + userID
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: headers})
	return conn, err
}

func TestFeed_StreamsChanges(t *testing.T) {
	f := newFixture(t)
	b := providers.NewBackend(f.ts.URL, testAPIKey, f.ts.Client())

	conn, err := dialFeed(t, f, "u1", b.FeedHeaders())
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return f.hub.Subscribers("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, b.PushEntity(ctx, "u2", "events", []clientmodels.Record{{"id": "other"}}))
	require.NoError(t, b.PushEntity(ctx, "u1", "events", []clientmodels.Record{{"id": "e1"}}))
	require.NoError(t, b.DeleteRecord(ctx, "u1", "events", "e1"))

	var ev models.ChangeEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, models.ChangeEvent{Entity: "events", Op: models.OpUpsert}, ev)

	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, models.ChangeEvent{Entity: "events", ItemID: "e1", Op: models.OpDelete}, ev)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return f.hub.Subscribers("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFeed_RequiresAccess(t *testing.T) {
	f := newFixture(t)

	_, err := dialFeed(t, f, "u1", nil)
	require.Error(t, err)

	h := http.Header{}
	h.Set(common.AuthorizationHeaderName, common.BearerPrefix+"tok-u2")
	_, err = dialFeed(t, f, "u1", h)
	require.Error(t, err)
	assert.Zero(t, f.hub.Subscribers("u1"))
}

func TestFeed_ClosedOnShutdown(t *testing.T) {
	f := newFixture(t)

	h := http.Header{}
	h.Set(common.APIKeyHeaderName, testAPIKey)
	conn, err := dialFeed(t, f, "u1", h)
	require.NoError(t, err)
	defer conn.CloseNow()
	require.Eventually(t, func() bool { return f.hub.Subscribers("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ev models.ChangeEvent
	err = wsjson.Read(ctx, conn, &ev)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestBackups(t *testing.T) {
	f := newFixture(t)
	c := client.NewHTTPClient(f.ts.URL, testAPIKey, f.ts.Client())
	ctx := context.Background()

	key, url, err := c.PresignBackupUpload(ctx, "tok-u1")
	require.NoError(t, err)
	assert.Equal(t, "backups/u1/k.json.gz", key)
	assert.Equal(t, "https://s3.local/put", url)

	_, _, err = c.PresignBackupUpload(ctx, "")
	assert.ErrorIs(t, err, client.ErrUnauthorized, "api key alone has no user")

	resp := f.do(t, http.MethodGet, "/api/backups", bearer("tok-u1"), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var objs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&objs))
	require.Len(t, objs, 1)
	assert.Equal(t, "backups/u1/k.json.gz", objs[0]["key"])

	resp = f.do(t, http.MethodGet, "/api/backups/download?key=backups/u1/k.json.gz", bearer("tok-u1"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/backups/download?key=backups/u1/k.json.gz", bearer("tok-u2"), "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/backups/download", bearer("tok-u1"), "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAccessLog_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	hub := feed.NewHub(logger)
	srv := NewServer(newFakeUsers(), newMemRecords(hub), fakeBackups{}, hub, logger)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/events/u1", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, buf.String(), "status=401")
	assert.Contains(t, buf.String(), "path=/api/sync/events/u1")
}
