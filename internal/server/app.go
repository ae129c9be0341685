// Package server assembles the sync server: database and migrations, the
// services, the change feed hub and the HTTP API, and runs it until the
// process is signalled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/server/config"
	"github.com/dmitrijs2005/notesync/internal/server/feed"
	"github.com/dmitrijs2005/notesync/internal/server/httpapi"
	"github.com/dmitrijs2005/notesync/internal/server/metrics"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/notesync/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

var (
	openDB               = repomanager.Open
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
	listen               = net.Listen
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	hub    *feed.Hub
	server *http.Server
}

// NewApp connects to the database, migrates it and wires the API.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, slog.LevelInfo)

	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	m := metrics.New()
	hub := feed.NewHub(logger, m)

	router := httpapi.NewRouter(httpapi.Deps{
		Auth:        services.NewUserService(db, rm, c, logger),
		Sync:        services.NewSyncService(db, rm, c, hub, m, logger),
		Attachments: services.NewAttachmentService(c),
		Feed:        hub,
		Secret:      []byte(c.SecretKey),
		Log:         logger,
		Metrics:     m,
	})

	return &App{
		config: c,
		logger: logger,
		db:     db,
		hub:    hub,
		server: &http.Server{
			Addr:              c.HTTPAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM/SIGQUIT arrives, then
// shuts down gracefully.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	ln, err := listen("tcp", app.server.Addr)
	if err != nil {
		_ = app.db.Close()
		return fmt.Errorf("listen %s: %w", app.server.Addr, err)
	}
	app.logger.Info(ctx, "Starting app...", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info(context.Background(), "Shutting down...")

		// Feed connections are hijacked, so Shutdown does not wait for them.
		app.hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.server.Shutdown(sctx)
	})

	err = g.Wait()
	if cerr := app.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
