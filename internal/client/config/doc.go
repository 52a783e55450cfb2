// Package config loads runtime configuration for the officesync client.
//
// Sources, later ones overriding earlier ones:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. OFFICESYNC_* environment variables.
//  4. Command-line flags.
//
// Supported flags
//
//	-d string   data directory (SQLite database, key-value files)
//	-l string   log file
//	-a string   backend base URL
//	-k string   backend API key
//	-p string   connectivity probe URL
//	-i int      connectivity probe interval (seconds)
//	-s int      periodic sync interval (seconds)
//	-r int      number of auto backups to keep
//
// # JSON schema
//
// Intervals use timex.Duration, so "30s" and integer nanoseconds both work.
// A key that is present overrides the current value even when empty:
//
//	{
//	  "data_dir": "/var/lib/officesync",
//	  "backend_url": "https://office.example.com",
//	  "backend_api_key": "k",
//	  "probe_interval": "10s",
//	  "sync_interval": "30s",
//	  "s3": {"bucket": "office", "region": "eu-west-1"}
//	}
//
// Only the provider whose settings are present is used; see
// providers.New for the preference order.
package config
