package config

import (
	"fmt"
	"time"
)

const EnvPrefix = "OFFICESYNC_SERVER_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

func parseEnv(cfg *Config, lookup LookupFunc) {
	strs := map[string]*string{
		"HTTP_ADDR":        &cfg.HTTPAddr,
		"DATABASE_DSN":     &cfg.DatabaseDSN,
		"SECRET_KEY":       &cfg.SecretKey,
		"API_KEY":          &cfg.APIKey,
		"LOG_LEVEL":        &cfg.LogLevel,
		"S3_ROOT_USER":     &cfg.S3RootUser,
		"S3_ROOT_PASSWORD": &cfg.S3RootPassword,
		"S3_BUCKET":        &cfg.S3Bucket,
		"S3_REGION":        &cfg.S3Region,
		"S3_BASE_ENDPOINT": &cfg.S3BaseEndpoint,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	durs := map[string]*time.Duration{
		"ACCESS_TOKEN_VALIDITY":  &cfg.AccessTokenValidityDuration,
		"REFRESH_TOKEN_VALIDITY": &cfg.RefreshTokenValidityDuration,
		"SHUTDOWN_TIMEOUT":       &cfg.ShutdownTimeout,
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
}
