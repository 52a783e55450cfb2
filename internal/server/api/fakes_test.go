package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pixelartvj/officesync/internal/common"
	"github.com/pixelartvj/officesync/internal/server/feed"
	"github.com/pixelartvj/officesync/internal/server/models"
	"github.com/pixelartvj/officesync/internal/server/services"
)

var expiresAt = time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)

type fakeUsers struct {
	mu      sync.Mutex
	tokens  map[string]string // access token -> user id
	emails  map[string]bool
	revoked []string
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		tokens: map[string]string{"tok-u1": "u1", "tok-u2": "u2"},
		emails: map[string]bool{"dj@example.com": true},
	}
}

func (f *fakeUsers) Register(_ context.Context, email, password, name string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if email == "" || password == "" {
		return nil, services.ErrInvalidInput
	}
	if f.emails[email] {
		return nil, common.ErrUserAlreadyExists
	}
	f.emails[email] = true
	return &models.User{ID: "u-new", Email: email, Name: name, Role: models.DefaultRole, PasswordHash: "secret-hash"}, nil
}

func (f *fakeUsers) Login(_ context.Context, email, password string) (*services.Session, error) {
	if email != "dj@example.com" || password != "s3cret" {
		return nil, common.ErrInvalidCredentials
	}
	return &services.Session{
		User:         &models.User{ID: "u1", Email: email, Name: "DJ", Role: "admin", PasswordHash: "secret-hash"},
		AccessToken:  "tok-u1",
		RefreshToken: "r1",
		ExpiresAt:    expiresAt,
	}, nil
}

func (f *fakeUsers) Refresh(_ context.Context, token string) (*services.Session, error) {
	switch token {
	case "r1":
		return &services.Session{
			User:         &models.User{ID: "u1", Email: "dj@example.com"},
			AccessToken:  "tok-u1",
			RefreshToken: "r2",
			ExpiresAt:    expiresAt.Add(time.Hour),
		}, nil
	case "expired":
		return nil, common.ErrTokenExpired
	default:
		return nil, common.ErrInvalidToken
	}
}

func (f *fakeUsers) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return nil
}

func (f *fakeUsers) Authenticate(token string) (string, error) {
	if token == "stale" {
		return "", common.ErrTokenExpired
	}
	id, ok := f.tokens[token]
	if !ok {
		return "", common.ErrInvalidToken
	}
	return id, nil
}

// memRecords keeps records in memory and announces changes on the hub.
type memRecords struct {
	mu   sync.Mutex
	data map[string]map[string]map[string]json.RawMessage
	hub  *feed.Hub
}

func newMemRecords(hub *feed.Hub) *memRecords {
	return &memRecords{data: map[string]map[string]map[string]json.RawMessage{}, hub: hub}
}

func (m *memRecords) Fetch(_ context.Context, userID, entity string) ([]json.RawMessage, error) {
	if entity == "explode" {
		panic("kaboom")
	}
	if err := services.ValidateEntity(entity); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]json.RawMessage, 0)
	for _, r := range m.data[userID][entity] {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRecords) FetchAll(_ context.Context, userID string) (map[string][]json.RawMessage, error) {
	if userID == "broken" {
		return nil, errors.New("db on fire")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]json.RawMessage{}
	for entity, recs := range m.data[userID] {
		for _, r := range recs {
			out[entity] = append(out[entity], r)
		}
	}
	return out, nil
}

func (m *memRecords) Push(ctx context.Context, userID, entity string, recs []json.RawMessage) (services.PushResult, error) {
	if err := services.ValidateEntity(entity); err != nil {
		return services.PushResult{}, err
	}
	m.mu.Lock()
	if m.data[userID] == nil {
		m.data[userID] = map[string]map[string]json.RawMessage{}
	}
	if m.data[userID][entity] == nil {
		m.data[userID][entity] = map[string]json.RawMessage{}
	}
	for _, r := range recs {
		var h struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(r, &h); err != nil || h.ID == "" {
			m.mu.Unlock()
			return services.PushResult{}, services.ErrInvalidInput
		}
		m.data[userID][entity][h.ID] = r
	}
	m.mu.Unlock()

	m.hub.Notify(ctx, userID, models.ChangeEvent{Entity: entity, Op: models.OpUpsert})
	return services.PushResult{Applied: len(recs)}, nil
}

func (m *memRecords) Delete(ctx context.Context, userID, entity, itemID string) error {
	m.mu.Lock()
	delete(m.data[userID][entity], itemID)
	m.mu.Unlock()
	m.hub.Notify(ctx, userID, models.ChangeEvent{Entity: entity, ItemID: itemID, Op: models.OpDelete})
	return nil
}

type fakeBackups struct{}

func (fakeBackups) PresignUpload(_ context.Context, userID string) (string, string, error) {
	return "backups/" + userID + "/k.json.gz", "https://s3.local/put", nil
}

func (fakeBackups) PresignDownload(_ context.Context, userID, key string) (string, error) {
	if key != "backups/"+userID+"/k.json.gz" {
		return "", common.ErrorUnauthorized
	}
	return "https://s3.local/get", nil
}

func (fakeBackups) List(_ context.Context, userID string) ([]services.BackupObject, error) {
	return []services.BackupObject{{Key: "backups/" + userID + "/k.json.gz", Size: 42, LastModified: expiresAt}}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }
