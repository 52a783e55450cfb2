package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func defaultConfig() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

func TestLoadJSONFile(t *testing.T) {
	path := writeConfig(t, `{
		"data_dir": "/srv/office",
		"backend_url": "https://office.example.com",
		"backend_api_key": "k",
		"probe_url": "",
		"probe_interval": "15s",
		"sync_interval": 60000000000,
		"backup_retention": 0,
		"s3": {"bucket": "office", "region": "eu-west-1"}
	}`)

	cfg := defaultConfig()
	cfg.ProbeURL = "http://probe.local"
	require.NoError(t, loadJSONFile(cfg, path))

	want := defaultConfig()
	want.DataDir = "/srv/office"
	want.BackendURL = "https://office.example.com"
	want.BackendAPIKey = "k"
	want.ProbeInterval = 15 * time.Second
	want.SyncInterval = time.Minute
	want.BackupRetention = 0
	want.S3Bucket = "office"
	want.S3Region = "eu-west-1"

	assert.Empty(t, cmp.Diff(want, cfg))
}

func TestLoadJSONFile_Errors(t *testing.T) {
	cfg := defaultConfig()

	assert.ErrorIs(t, loadJSONFile(cfg, filepath.Join(t.TempDir(), "none.json")), os.ErrNotExist)
	assert.ErrorContains(t, loadJSONFile(cfg, writeConfig(t, `{"sync_interval": true}`)), "invalid duration")
	assert.ErrorContains(t, loadJSONFile(cfg, writeConfig(t, `{ not json`)), "config file")
	assert.Empty(t, cmp.Diff(defaultConfig(), cfg))
}

func TestParseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeConfig(t, `{"log_file": "/var/log/office.log"}`)

	os.Args = []string{"testbin", "-d", "/data", "-config", path}
	cfg := defaultConfig()
	parseJson(cfg)
	assert.Equal(t, "/var/log/office.log", cfg.LogFile)

	os.Args = []string{"testbin"}
	cfg = &Config{DataDir: "/keep"}
	parseJson(cfg)
	assert.Equal(t, &Config{DataDir: "/keep"}, cfg)

	os.Args = []string{"testbin", "-c", writeConfig(t, "[")}
	assert.Panics(t, func() { parseJson(&Config{}) })
}
