package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pixelartvj/officesync/internal/flagx"
)

var clientFlags = []string{"-d", "-l", "-a", "-k", "-p", "-i", "-s", "-r"}

// parseFlags overlays cfg with the flags listed in the package doc. An
// invalid value panics.
func parseFlags(cfg *Config) {
	parseFlagArgs(cfg, os.Args[1:])
}

func parseFlagArgs(cfg *Config, args []string) {
	fs := flag.NewFlagSet("officesync", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.LogFile, "l", cfg.LogFile, "log file")
	fs.StringVar(&cfg.BackendURL, "a", cfg.BackendURL, "backend base URL")
	fs.StringVar(&cfg.BackendAPIKey, "k", cfg.BackendAPIKey, "backend API key")
	fs.StringVar(&cfg.ProbeURL, "p", cfg.ProbeURL, "connectivity probe URL")
	fs.IntVar(&cfg.BackupRetention, "r", cfg.BackupRetention, "auto backups to keep")

	seconds := func(name string, d time.Duration, usage string) *int {
		return fs.Int(name, int(d/time.Second), usage+" in seconds")
	}
	probe := seconds("i", cfg.ProbeInterval, "connectivity probe interval")
	sync := seconds("s", cfg.SyncInterval, "periodic sync interval")

	if err := fs.Parse(flagx.FilterArgs(args, clientFlags)); err != nil {
		panic(fmt.Errorf("client flags: %w", err))
	}

	cfg.ProbeInterval = time.Duration(*probe) * time.Second
	cfg.SyncInterval = time.Duration(*sync) * time.Second
}
