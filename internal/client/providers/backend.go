package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pixelartvj/officesync/internal/client/models"
	"github.com/pixelartvj/officesync/internal/common"
)

// Backend talks to the officesync sync server.
type Backend struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

func NewBackend(baseURL, apiKey string, client *http.Client) *Backend {
	return &Backend{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

func (b *Backend) Name() string { return NameBackend }

// SetToken sets the bearer token sent along with the API key. An empty
// token removes it.
func (b *Backend) SetToken(token string) {
	b.mu.Lock()
	b.token = token
	b.mu.Unlock()
}

func (b *Backend) headers() http.Header {
	h := http.Header{}
	if b.apiKey != "" {
		h.Set(common.APIKeyHeaderName, b.apiKey)
	}
	b.mu.RLock()
	if b.token != "" {
		h.Set(common.AuthorizationHeaderName, common.BearerPrefix+b.token)
	}
	b.mu.RUnlock()
	return h
}

func (b *Backend) entityURL(userID, entity string) string {
	return b.baseURL + "/api/sync/" + url.PathEscape(entity) + "/" + url.PathEscape(userID)
}

func (b *Backend) FetchEntity(ctx context.Context, userID, entity string) ([]models.Record, error) {
	var out []models.Record
	if err := doJSON(ctx, b.client, http.MethodGet, b.entityURL(userID, entity), b.headers(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) PushEntity(ctx context.Context, userID, entity string, records []models.Record) error {
	return doJSON(ctx, b.client, http.MethodPost, b.entityURL(userID, entity), b.headers(), records, nil)
}

func (b *Backend) DeleteRecord(ctx context.Context, userID, entity, id string) error {
	u := b.entityURL(userID, entity) + "/" + url.PathEscape(id)
	return doJSON(ctx, b.client, http.MethodDelete, u, b.headers(), nil, nil)
}

// FetchAll returns every entity collection of userID.
func (b *Backend) FetchAll(ctx context.Context, userID string) (map[string][]models.Record, error) {
	var out map[string][]models.Record
	u := b.baseURL + "/api/sync/all/" + url.PathEscape(userID)
	if err := doJSON(ctx, b.client, http.MethodGet, u, b.headers(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Backend) HealthCheck(ctx context.Context) error {
	return doJSON(ctx, b.client, http.MethodGet, b.baseURL+"/api/health", nil, nil, nil)
}

// FeedURL is the websocket address of the change feed for userID.
func (b *Backend) FeedURL(userID string) string {
	u := b.baseURL + "/api/sync/feed/" + url.PathEscape(userID)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}

// FeedHeaders are sent with the feed handshake.
func (b *Backend) FeedHeaders() http.Header {
	return b.headers()
}
