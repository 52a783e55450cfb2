package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pixelartvj/officesync/internal/flagx"
)

var serverFlags = []string{"-a", "-d", "-s", "-k", "-l", "-t", "-r", "-w", "-u", "-p", "-b", "-g", "-e"}

// parseFlags overlays cfg with the server flags found in os.Args. Token
// validities (-t, -r) are given in minutes, the shutdown timeout (-w) as a
// Go duration. An invalid value panics.
func parseFlags(cfg *Config) {
	parseFlagArgs(cfg, os.Args[1:])
}

func parseFlagArgs(cfg *Config, args []string) {
	fs := flag.NewFlagSet("officesync-server", flag.ContinueOnError)

	str := func(dst *string, name, usage string) {
		fs.StringVar(dst, name, *dst, usage)
	}
	str(&cfg.HTTPAddr, "a", "listen address, e.g. :8080")
	str(&cfg.DatabaseDSN, "d", "PostgreSQL DSN")
	str(&cfg.SecretKey, "s", "JWT signing secret")
	str(&cfg.APIKey, "k", "static API key for sync clients")
	str(&cfg.LogLevel, "l", "log level: debug, info, warn, error")
	str(&cfg.S3RootUser, "u", "S3 access key")
	str(&cfg.S3RootPassword, "p", "S3 secret key")
	str(&cfg.S3Bucket, "b", "S3 bucket for uploaded backups")
	str(&cfg.S3Region, "g", "S3 region")
	str(&cfg.S3BaseEndpoint, "e", "S3 endpoint URL")

	access := fs.Int("t", int(cfg.AccessTokenValidityDuration/time.Minute), "access token validity, minutes")
	refresh := fs.Int("r", int(cfg.RefreshTokenValidityDuration/time.Minute), "refresh token validity, minutes")
	fs.DurationVar(&cfg.ShutdownTimeout, "w", cfg.ShutdownTimeout, "graceful shutdown timeout")

	if err := fs.Parse(flagx.FilterArgs(args, serverFlags)); err != nil {
		panic(fmt.Errorf("server flags: %w", err))
	}

	cfg.AccessTokenValidityDuration = time.Duration(*access) * time.Minute
	cfg.RefreshTokenValidityDuration = time.Duration(*refresh) * time.Minute
}
