package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestParseFlagArgs(t *testing.T) {
	with := func(f func(*Config)) *Config {
		c := defaults()
		f(c)
		return c
	}

	tests := []struct {
		name string
		args []string
		want *Config
	}{
		{
			name: "no flags keep defaults",
			want: defaults(),
		},
		{
			name: "every flag",
			args: []string{
				"-a", "127.0.0.1:9090", "-d", "postgres://db/office", "-s", "jwt", "-k", "office-key",
				"-l", "debug", "-t", "15", "-r", "1440", "-w", "3s",
				"-u", "minio", "-p", "minio-secret", "-b", "vj-backups", "-g", "eu-west-1", "-e", "http://minio:9000",
			},
			want: &Config{
				HTTPAddr:                     "127.0.0.1:9090",
				DatabaseDSN:                  "postgres://db/office",
				SecretKey:                    "jwt",
				APIKey:                       "office-key",
				LogLevel:                     "debug",
				AccessTokenValidityDuration:  15 * time.Minute,
				RefreshTokenValidityDuration: 24 * time.Hour,
				ShutdownTimeout:              3 * time.Second,
				S3RootUser:                   "minio",
				S3RootPassword:               "minio-secret",
				S3Bucket:                     "vj-backups",
				S3Region:                     "eu-west-1",
				S3BaseEndpoint:               "http://minio:9000",
			},
		},
		{
			name: "config file flag and positionals ignored",
			args: []string{"-c", "server.json", "serve", "-a=:1"},
			want: with(func(c *Config) { c.HTTPAddr = ":1" }),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaults()
			parseFlagArgs(c, tt.args)
			if diff := cmp.Diff(tt.want, c); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFlagArgs_InvalidValues(t *testing.T) {
	for _, args := range [][]string{
		{"-t", "soon"},
		{"-w", "10"},
	} {
		assert.Panics(t, func() { parseFlagArgs(defaults(), args) }, "%v", args)
	}
}

func TestParseFlags_ReadsProcessArgs(t *testing.T) {
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })
	os.Args = []string{"officesync-server", "-k", "from-args"}

	c := defaults()
	parseFlags(c)
	assert.Equal(t, "from-args", c.APIKey)
}

func defaults() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}
