package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pixelartvj/officesync/internal/client/backup"
	"github.com/pixelartvj/officesync/internal/client/bus"
	"github.com/pixelartvj/officesync/internal/client/client"
	"github.com/pixelartvj/officesync/internal/client/cloudsync"
	"github.com/pixelartvj/officesync/internal/client/config"
	"github.com/pixelartvj/officesync/internal/client/encryption"
	"github.com/pixelartvj/officesync/internal/client/kv"
	"github.com/pixelartvj/officesync/internal/client/migration"
	"github.com/pixelartvj/officesync/internal/client/providers"
	"github.com/pixelartvj/officesync/internal/client/repositories/metadata"
	"github.com/pixelartvj/officesync/internal/client/repositories/queue"
	"github.com/pixelartvj/officesync/internal/client/services"
	"github.com/pixelartvj/officesync/internal/client/store"
	"github.com/pixelartvj/officesync/internal/filex"
	"github.com/pixelartvj/officesync/internal/logging"
)

const (
	dbFile      = "office.db"
	kvDir       = "kv"
	httpTimeout = 15 * time.Second
)

// App owns every client component for the lifetime of the process.
type App struct {
	cfg    *config.Config
	logger logging.Logger
	closer io.Closer

	kv       *kv.FileStore
	sqlite   *store.Store
	store    store.EntityStore
	degraded bool

	bus      *bus.Bus
	engine   *cloudsync.Engine
	auth     services.AuthService
	backups  *backup.Service
	migrator *migration.Engine
	watcher  *bus.SessionWatcher
	remote   *client.HTTPClient

	in  *bufio.Reader
	out io.Writer
}

// NewApp builds the client from cfg, logging to a rotating file.
func NewApp(cfg *config.Config) (*App, error) {
	dir, err := filex.EnsureDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	cfg.DataDir = dir
	logger, closer := logging.NewFileLogger(logging.FileOptions{Path: cfg.LogPath()})

	app, err := build(context.Background(), cfg, logger)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	app.closer = closer
	return app, nil
}

// build wires the components. Only failures of the key-value store are
// fatal; a broken SQLite database switches the app to degraded mode.
func build(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	kvs, err := kv.NewFileStore(filepath.Join(cfg.DataDir, kvDir))
	if err != nil {
		return nil, fmt.Errorf("open key-value store: %w", err)
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		kv:     kvs,
		bus:    bus.New(logger),
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}

	var (
		q    queue.Repository
		meta metadata.Repository
	)
	sqlite := store.New(filepath.Join(cfg.DataDir, dbFile), logger, store.WithPublisher(a.bus))
	db, err := sqlite.Init(ctx)
	if err != nil {
		logger.Error(ctx, "local database unavailable, using degraded storage", "error", err)
		a.degraded = true
		a.store = store.NewFlatStore(kvs, store.WithPublisher(a.bus))
		q = queue.NewKVRepository(kvs)
		meta = metadata.NewKVRepository(kvs)
	} else {
		a.sqlite = sqlite
		a.store = sqlite
		q = queue.NewSQLiteRepository(db)
		meta = metadata.NewSQLiteRepository(db)
	}

	gate := encryption.NewGate(encryption.DefaultSensitiveFields, logger)
	a.migrator = migration.NewEngine(kvs, a.store, gate, logger)
	if err := a.migrator.Run(ctx); err != nil {
		logger.Error(ctx, "data migration failed", "error", err)
	}

	deviceID, err := services.LoadDeviceID(ctx, kvs)
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}

	httpClient := &http.Client{Timeout: httpTimeout}
	pcfg := cfg.Providers()
	pcfg.HTTPClient = httpClient
	provider := providers.New(ctx, pcfg, logger)

	a.engine = cloudsync.New(provider, a.store, q, logger,
		cloudsync.WithProber(prober(cfg, httpClient)),
		cloudsync.WithMetadata(meta),
		cloudsync.WithGate(gate),
		cloudsync.WithBus(a.bus),
		cloudsync.WithIntervals(cfg.ProbeInterval, cfg.SyncInterval),
		cloudsync.WithDeviceID(deviceID),
	)

	authOpts := []services.AuthOption{
		services.WithSyncer(a.engine),
		services.WithBus(a.bus),
		services.WithTimings(cfg.SessionTTL, cfg.SessionRefreshWindow, cfg.SessionCheckInterval),
	}
	backupOpts := []backup.Option{
		backup.WithMetadata(meta),
		backup.WithQueue(q),
		backup.WithSyncer(a.engine),
		backup.WithBus(a.bus),
		backup.WithDeviceID(deviceID),
		backup.WithRetention(cfg.BackupRetention),
	}
	if cfg.BackendURL != "" {
		a.remote = client.NewHTTPClient(cfg.BackendURL, cfg.BackendAPIKey, httpClient)
		authOpts = append(authOpts, services.WithRemote(a.remote))
		backupOpts = append(backupOpts, backup.WithPresigner(a.remote, httpClient))
	}
	a.auth = services.NewAuthService(a.store, kvs, logger, authOpts...)
	a.backups = backup.New(a.store, kvs, logger, backupOpts...)

	w, err := bus.NewSessionWatcher(kvs.Path(kv.KeyCurrentSession), a.bus, logger)
	if err != nil {
		logger.Warn(ctx, "cross-process session updates disabled", "error", err)
	} else {
		a.watcher = w
	}
	return a, nil
}

// prober picks the connectivity check: an explicit URL, the backend health
// endpoint, or none (always online).
func prober(cfg *config.Config, httpClient *http.Client) cloudsync.Prober {
	url := cfg.ProbeURL
	if url == "" && cfg.BackendURL != "" {
		url = strings.TrimRight(cfg.BackendURL, "/") + "/api/health"
	}
	if url == "" {
		return cloudsync.StaticProber(true)
	}
	return cloudsync.HTTPProber{Client: httpClient, URL: url}
}

// Start brings up the background tasks: sync engine, session validation
// and the session watcher.
func (a *App) Start(ctx context.Context) error {
	if err := a.engine.Init(ctx); err != nil {
		return fmt.Errorf("init sync engine: %w", err)
	}
	a.engine.Start(ctx)

	if err := a.auth.Start(ctx); err != nil {
		return fmt.Errorf("start session validation: %w", err)
	}
	if a.watcher != nil {
		a.watcher.Start(ctx)
	}
	a.refreshBackupOwner(ctx)
	return nil
}

// Close stops background work and releases resources in reverse order.
func (a *App) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.auth.Stop()
	a.engine.Dispose()
	a.bus.Close()
	if a.sqlite != nil {
		_ = a.sqlite.Close()
	}
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// Run starts the app and serves the REPL until the user leaves.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(a.out, "Pixel Art VJ office sync (type 'help' for commands)")
	if a.degraded {
		fmt.Fprintln(a.out, "Warning: local database unavailable, running on degraded storage")
	}
	runREPL(ctx, a, func() string { return a.prompt(ctx) }, a.in)
	return nil
}

func (a *App) isLoggedIn(ctx context.Context) bool {
	return a.auth.IsAuthenticated(ctx)
}

func (a *App) prompt(ctx context.Context) string {
	var parts []string
	if sess, err := a.auth.CurrentSession(ctx); err == nil && sess != nil {
		parts = append(parts, sess.User.Email)
	}
	if a.engine.IsOnline() {
		parts = append(parts, "online")
	} else {
		parts = append(parts, "offline")
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (a *App) refreshBackupOwner(ctx context.Context) {
	sess, err := a.auth.CurrentSession(ctx)
	if err != nil || sess == nil {
		a.backups.SetUserID("")
		return
	}
	a.backups.SetUserID(sess.User.ID)
}
