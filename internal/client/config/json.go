package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pixelartvj/officesync/internal/flagx"
	"github.com/pixelartvj/officesync/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Absent keys
// keep the current setting; present ones win even when empty.
type JsonConfig struct {
	DataDir       *string `json:"data_dir"`
	LogFile       *string `json:"log_file"`
	BackendURL    *string `json:"backend_url"`
	BackendAPIKey *string `json:"backend_api_key"`
	GistToken     *string `json:"gist_token"`
	GistUsername  *string `json:"gist_username"`
	GistAPIURL    *string `json:"gist_api_url"`
	BaaSURL       *string `json:"baas_url"`
	BaaSAnonKey   *string `json:"baas_anon_key"`
	RESTURL       *string `json:"rest_url"`
	RESTToken     *string `json:"rest_token"`
	ProbeURL      *string `json:"probe_url"`

	S3 struct {
		Bucket    *string `json:"bucket"`
		Region    *string `json:"region"`
		Endpoint  *string `json:"endpoint"`
		AccessKey *string `json:"access_key"`
		SecretKey *string `json:"secret_key"`
	} `json:"s3"`

	ProbeInterval        *timex.Duration `json:"probe_interval"`
	SyncInterval         *timex.Duration `json:"sync_interval"`
	SessionTTL           *timex.Duration `json:"session_ttl"`
	SessionRefreshWindow *timex.Duration `json:"session_refresh_window"`
	SessionCheckInterval *timex.Duration `json:"session_check_interval"`

	BackupRetention *int `json:"backup_retention"`
}

func (j *JsonConfig) apply(c *Config) {
	overlay(&c.DataDir, j.DataDir)
	overlay(&c.LogFile, j.LogFile)
	overlay(&c.BackendURL, j.BackendURL)
	overlay(&c.BackendAPIKey, j.BackendAPIKey)
	overlay(&c.GistToken, j.GistToken)
	overlay(&c.GistUsername, j.GistUsername)
	overlay(&c.GistAPIURL, j.GistAPIURL)
	overlay(&c.BaaSURL, j.BaaSURL)
	overlay(&c.BaaSAnonKey, j.BaaSAnonKey)
	overlay(&c.RESTURL, j.RESTURL)
	overlay(&c.RESTToken, j.RESTToken)
	overlay(&c.ProbeURL, j.ProbeURL)

	overlay(&c.S3Bucket, j.S3.Bucket)
	overlay(&c.S3Region, j.S3.Region)
	overlay(&c.S3Endpoint, j.S3.Endpoint)
	overlay(&c.S3AccessKey, j.S3.AccessKey)
	overlay(&c.S3SecretKey, j.S3.SecretKey)

	overlayDuration(&c.ProbeInterval, j.ProbeInterval)
	overlayDuration(&c.SyncInterval, j.SyncInterval)
	overlayDuration(&c.SessionTTL, j.SessionTTL)
	overlayDuration(&c.SessionRefreshWindow, j.SessionRefreshWindow)
	overlayDuration(&c.SessionCheckInterval, j.SessionCheckInterval)

	overlay(&c.BackupRetention, j.BackupRetention)
}

// parseJson overlays cfg with the file named by -c/-config, if any.
// It panics when the file cannot be read or parsed.
func parseJson(cfg *Config) {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return
	}
	if err := loadJSONFile(cfg, path); err != nil {
		panic(err)
	}
}

func loadJSONFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	var j JsonConfig
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	j.apply(cfg)
	return nil
}

func overlay[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func overlayDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
