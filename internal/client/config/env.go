package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment variable read by the client.
const EnvPrefix = "OFFICESYNC_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// parseEnv overlays cfg with OFFICESYNC_* variables. Malformed durations
// or numbers panic, like the other layers.
func parseEnv(cfg *Config, lookup LookupFunc) {
	strs := map[string]*string{
		"DATA_DIR":        &cfg.DataDir,
		"LOG_FILE":        &cfg.LogFile,
		"BACKEND_URL":     &cfg.BackendURL,
		"BACKEND_API_KEY": &cfg.BackendAPIKey,
		"GIST_TOKEN":      &cfg.GistToken,
		"GIST_USERNAME":   &cfg.GistUsername,
		"GIST_API_URL":    &cfg.GistAPIURL,
		"BAAS_URL":        &cfg.BaaSURL,
		"BAAS_ANON_KEY":   &cfg.BaaSAnonKey,
		"REST_URL":        &cfg.RESTURL,
		"REST_TOKEN":      &cfg.RESTToken,
		"S3_BUCKET":       &cfg.S3Bucket,
		"S3_REGION":       &cfg.S3Region,
		"S3_ENDPOINT":     &cfg.S3Endpoint,
		"S3_ACCESS_KEY":   &cfg.S3AccessKey,
		"S3_SECRET_KEY":   &cfg.S3SecretKey,
		"PROBE_URL":       &cfg.ProbeURL,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	durs := map[string]*time.Duration{
		"PROBE_INTERVAL":         &cfg.ProbeInterval,
		"SYNC_INTERVAL":          &cfg.SyncInterval,
		"SESSION_TTL":            &cfg.SessionTTL,
		"SESSION_REFRESH_WINDOW": &cfg.SessionRefreshWindow,
		"SESSION_CHECK_INTERVAL": &cfg.SessionCheckInterval,
	}
	for name, dst := range durs {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			panic(fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "BACKUP_RETENTION"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(fmt.Errorf("%sBACKUP_RETENTION: %w", EnvPrefix, err))
		}
		cfg.BackupRetention = n
	}
}
