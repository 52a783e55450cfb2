package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pixelartvj/officesync/internal/flagx"
	"github.com/pixelartvj/officesync/internal/timex"
)

// JsonConfig is the on-disk shape of the server configuration file. A key
// that is absent keeps the current setting; a present key wins even when
// empty, so "api_key": "" turns the API key off.
type JsonConfig struct {
	HTTPAddr       *string `json:"http_addr"`
	DatabaseDSN    *string `json:"database_dsn"`
	SecretKey      *string `json:"secret_key"`
	APIKey         *string `json:"api_key"`
	LogLevel       *string `json:"log_level"`
	S3RootUser     *string `json:"s3_root_user"`
	S3RootPassword *string `json:"s3_root_password"`
	S3Bucket       *string `json:"s3_bucket"`
	S3Region       *string `json:"s3_region"`
	S3BaseEndpoint *string `json:"s3_base_endpoint"`

	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	ShutdownTimeout              *timex.Duration `json:"shutdown_timeout"`
}

func (j *JsonConfig) apply(c *Config) {
	overlay(&c.HTTPAddr, j.HTTPAddr)
	overlay(&c.DatabaseDSN, j.DatabaseDSN)
	overlay(&c.SecretKey, j.SecretKey)
	overlay(&c.APIKey, j.APIKey)
	overlay(&c.LogLevel, j.LogLevel)
	overlay(&c.S3RootUser, j.S3RootUser)
	overlay(&c.S3RootPassword, j.S3RootPassword)
	overlay(&c.S3Bucket, j.S3Bucket)
	overlay(&c.S3Region, j.S3Region)
	overlay(&c.S3BaseEndpoint, j.S3BaseEndpoint)

	overlayDuration(&c.AccessTokenValidityDuration, j.AccessTokenValidityDuration)
	overlayDuration(&c.RefreshTokenValidityDuration, j.RefreshTokenValidityDuration)
	overlayDuration(&c.ShutdownTimeout, j.ShutdownTimeout)
}

// parseJson overlays config with the file named by -c/-config, if any.
// An unreadable or invalid file panics.
func parseJson(config *Config) {
	path := flagx.JsonConfigFlags()
	if path == "" {
		return
	}
	if err := loadJSONFile(config, path); err != nil {
		panic(err)
	}
}

func loadJSONFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	var j JsonConfig
	if err := json.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	j.apply(config)
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
