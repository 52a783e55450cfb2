package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pixelartvj/officesync/internal/client/providers"
)

// Config holds runtime settings for the officesync client.
type Config struct {
	DataDir string
	LogFile string

	BackendURL    string
	BackendAPIKey string
	GistToken     string
	GistUsername  string
	GistAPIURL    string
	BaaSURL       string
	BaaSAnonKey   string
	RESTURL       string
	RESTToken     string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// ProbeURL is polled for connectivity; empty means the backend health
	// endpoint, or "always online" when there is no backend.
	ProbeURL      string
	ProbeInterval time.Duration
	SyncInterval  time.Duration

	SessionTTL           time.Duration
	SessionRefreshWindow time.Duration
	SessionCheckInterval time.Duration

	BackupRetention int
}

// LoadDefaults populates c with defaults suitable for a single workstation.
func (c *Config) LoadDefaults() {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	c.DataDir = filepath.Join(dir, "officesync")
	c.LogFile = ""
	c.ProbeInterval = 10 * time.Second
	c.SyncInterval = 30 * time.Second
	c.SessionTTL = 24 * time.Hour
	c.SessionRefreshWindow = time.Hour
	c.SessionCheckInterval = 5 * time.Minute
	c.BackupRetention = 5
}

// LogPath is LogFile, or client.log inside the data directory.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "client.log")
}

// Providers converts the provider-related settings.
func (c *Config) Providers() providers.Config {
	return providers.Config{
		BackendURL:    c.BackendURL,
		BackendAPIKey: c.BackendAPIKey,
		GistToken:     c.GistToken,
		GistUsername:  c.GistUsername,
		GistAPIURL:    c.GistAPIURL,
		BaaSURL:       c.BaaSURL,
		BaaSAnonKey:   c.BaaSAnonKey,
		RESTURL:       c.RESTURL,
		RESTToken:     c.RESTToken,
		S3: providers.S3Config{
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		},
	}
}

// LoadConfig applies defaults, then JSON, environment and flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg, os.LookupEnv)
	parseFlags(cfg)
	return cfg
}
