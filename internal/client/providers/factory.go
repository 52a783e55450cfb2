package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/pixelartvj/officesync/internal/logging"
)

// Config lists every provider's settings; the first complete group wins.
type Config struct {
	BackendURL    string
	BackendAPIKey string

	GistToken    string
	GistUsername string
	GistAPIURL   string

	BaaSURL     string
	BaaSAnonKey string

	RESTURL   string
	RESTToken string

	S3 S3Config

	HTTPClient *http.Client
}

// New picks the provider in order Backend, Gist, BaaS, REST, ObjectStore.
// When nothing is configured, or construction fails, it returns Disabled.
func New(ctx context.Context, cfg Config, logger logging.Logger) Provider {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	switch {
	case cfg.BackendURL != "":
		return NewBackend(cfg.BackendURL, cfg.BackendAPIKey, client)
	case cfg.GistToken != "":
		return NewGist(cfg.GistAPIURL, cfg.GistToken, cfg.GistUsername, client)
	case cfg.BaaSURL != "" && cfg.BaaSAnonKey != "":
		return NewBaaS(cfg.BaaSURL, cfg.BaaSAnonKey, client)
	case cfg.RESTURL != "":
		return NewREST(cfg.RESTURL, cfg.RESTToken, client)
	case cfg.S3.Bucket != "":
		p, err := NewObjectStore(ctx, cfg.S3)
		if err != nil {
			logger.Warn(ctx, "object store provider unavailable, cloud sync disabled", "error", err)
			return Disabled{}
		}
		return p
	}

	logger.Info(ctx, "no cloud provider configured, running local-only")
	return Disabled{}
}
