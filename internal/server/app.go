// Package server assembles and runs the sync backend: PostgreSQL storage,
// the HTTP API with its change feed, and the expired token janitor.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/pixelartvj/officesync/internal/buildinfo"
	"github.com/pixelartvj/officesync/internal/logging"
	"github.com/pixelartvj/officesync/internal/server/api"
	"github.com/pixelartvj/officesync/internal/server/config"
	"github.com/pixelartvj/officesync/internal/server/feed"
	"github.com/pixelartvj/officesync/internal/server/repositories/repomanager"
	"github.com/pixelartvj/officesync/internal/server/services"
)

const purgeInterval = time.Hour

type App struct {
	config *config.Config
	logger logging.Logger
	clock  clockwork.Clock
	db     *sql.DB
	rm     repomanager.RepositoryManager

	hub         *feed.Hub
	userService *services.UserService
	apiServer   *api.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.NewJSONLogger(os.Stdout, level)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	return build(cfg, db, repomanager.NewPostgresRepositoryManager(), clockwork.NewRealClock(), logger), nil
}

func build(cfg *config.Config, db *sql.DB, rm repomanager.RepositoryManager, clock clockwork.Clock, logger logging.Logger) *App {
	hub := feed.NewHub(logger)
	us := services.NewUserService(db, rm, cfg, clock)
	ss := services.NewSyncService(db, rm, hub, clock, logger)
	bs := services.NewBackupService(cfg, clock)

	return &App{
		config:      cfg,
		logger:      logger,
		clock:       clock,
		db:          db,
		rm:          rm,
		hub:         hub,
		userService: us,
		apiServer: api.NewServer(us, ss, bs, hub, logger,
			api.WithAPIKey(cfg.APIKey),
			api.WithHealthCheck(db),
		),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (app *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", app.config.HTTPAddr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve migrates the database and serves the API on ln. Cancelling ctx
// shuts the server down gracefully and closes the database.
func (app *App) Serve(ctx context.Context, ln net.Listener) error {
	defer app.db.Close()

	if err := app.rm.RunMigrations(ctx, app.db); err != nil {
		_ = ln.Close()
		return fmt.Errorf("migrations: %w", err)
	}

	srv := &http.Server{
		Handler:           app.apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bi := buildinfo.Get()
		app.logger.Info(ctx, "http server listening",
			"addr", ln.Addr().String(), "version", bi.Version, "commit", bi.Commit)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		app.purgeTokens(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info(ctx, "shutting down")

		// feed handlers return only once the hub is closed
		app.hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// purgeTokens removes expired refresh tokens until ctx is done.
func (app *App) purgeTokens(ctx context.Context) {
	ticker := app.clock.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := app.userService.PurgeExpiredTokens(ctx)
			if err != nil {
				app.logger.Error(ctx, "purge expired tokens", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "purged expired refresh tokens", "count", n)
			}
		}
	}
}
