// Package api exposes the sync backend over HTTP: auth, per-entity record
// sync, the websocket change feed and backup presigning.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pixelartvj/officesync/internal/logging"
	"github.com/pixelartvj/officesync/internal/server/feed"
	"github.com/pixelartvj/officesync/internal/server/models"
	"github.com/pixelartvj/officesync/internal/server/services"
)

const maxBodyBytes = 16 << 20

type UserAuth interface {
	Register(ctx context.Context, email, password, name string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	Authenticate(accessToken string) (string, error)
}

type RecordStore interface {
	Fetch(ctx context.Context, userID, entity string) ([]json.RawMessage, error)
	FetchAll(ctx context.Context, userID string) (map[string][]json.RawMessage, error)
	Push(ctx context.Context, userID, entity string, records []json.RawMessage) (services.PushResult, error)
	Delete(ctx context.Context, userID, entity, itemID string) error
}

type BackupStore interface {
	PresignUpload(ctx context.Context, userID string) (string, string, error)
	PresignDownload(ctx context.Context, userID, key string) (string, error)
	List(ctx context.Context, userID string) ([]services.BackupObject, error)
}

// Pinger reports database health; *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	users   UserAuth
	records RecordStore
	backups BackupStore
	hub     *feed.Hub
	db      Pinger
	apiKey  string
	logger  logging.Logger
}

type Option func(*Server)

// WithAPIKey enables the static X-API-Key credential.
func WithAPIKey(key string) Option { return func(s *Server) { s.apiKey = key } }

// WithHealthCheck makes /api/health fail when db is unreachable.
func WithHealthCheck(db Pinger) Option { return func(s *Server) { s.db = db } }

func NewServer(users UserAuth, records RecordStore, backups BackupStore, hub *feed.Hub, logger logging.Logger, opts ...Option) *Server {
	s := &Server{users: users, records: records, backups: backups, hub: hub, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler wrapped in recovery and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.HandleFunc("GET /api/sync/all/{userId}", s.authorize(s.handleFetchAll))
	mux.HandleFunc("GET /api/sync/feed/{userId}", s.authorize(s.handleFeed))
	mux.HandleFunc("GET /api/sync/{entity}/{userId}", s.authorize(s.handleFetch))
	mux.HandleFunc("POST /api/sync/{entity}/{userId}", s.authorize(s.handlePush))
	mux.HandleFunc("DELETE /api/sync/{entity}/{userId}/{id}", s.authorize(s.handleDelete))

	mux.HandleFunc("POST /api/backups/presign", s.requireUser(s.handlePresignUpload))
	mux.HandleFunc("GET /api/backups", s.requireUser(s.handleListBackups))
	mux.HandleFunc("GET /api/backups/download", s.requireUser(s.handlePresignDownload))

	return s.recoverer(s.accessLog(mux))
}
