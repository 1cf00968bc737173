package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"commentbox/app/captcha"
	"commentbox/app/config"
	"commentbox/app/controllers"
	"commentbox/app/repositories"
	"commentbox/app/routes"
	"commentbox/app/services"
	"commentbox/app/views"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App is a fully wired comment service.
type App struct {
	Config  *config.Config
	Service *services.CommentService
	Router  http.Handler

	logger   *zap.Logger
	db       *badger.DB
	jsonFile *repositories.JSONFileRepository
}

// NewApp opens the configured storage and wires the HTTP stack on top.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := &App{Config: cfg, logger: logger}
	opts := services.Options{
		Captcha: captcha.NewRegistry(nil, cfg.Captcha.Capacity),
		Logger:  logger.Named("comments"),
	}

	switch cfg.Backend {
	case config.BackendJSONFile:
		app.jsonFile = repositories.NewJSONFileRepository(cfg.JSONFile.Path)
		opts.Primary = app.jsonFile
		opts.PrimaryKind = services.StoredFile
	case config.BackendLocal:
		db, err := openDB(cfg.Local)
		if err != nil {
			return nil, err
		}
		app.db = db
		opts.Primary = repositories.NewLocalRepository(db, repositories.LocalKeyPrefix)
		opts.PrimaryKind = services.StoredLocal
	case config.BackendGitHub:
		gh, err := repositories.NewGitHubRepository(repositories.GitHubOptions{
			Owner:   cfg.GitHub.Owner,
			Repo:    cfg.GitHub.Repo,
			Token:   cfg.GitHub.Token,
			Mode:    repositories.GitHubMode(cfg.GitHub.Mode),
			BaseURL: cfg.GitHub.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		db, err := openDB(cfg.Local)
		if err != nil {
			return nil, err
		}
		app.db = db
		opts.Primary = gh
		opts.PrimaryKind = services.StoredRemote
		opts.Fallback = repositories.NewLocalRepository(db, repositories.FallbackKeyPrefix)
		opts.Timeout = cfg.GetGitHubTimeout()
	}

	loc, err := cfg.Location()
	if err != nil {
		app.Close()
		return nil, err
	}
	renderer, err := views.NewRenderer(views.Options{
		Markdown:   cfg.Render.Markdown,
		DateFormat: cfg.Render.DateFormat,
		Location:   loc,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Service = services.NewCommentService(opts)
	controller := controllers.NewCommentController(app.Service, renderer, logger.Named("http"))
	app.Router = routes.SetupRoutes(controller, routes.Options{
		Logger:         logger.Named("http"),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	return app, nil
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := routes.NewServer(a.Config.Server.Addr, a.Router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("Starting comment service",
			zap.String("addr", srv.Addr),
			zap.String("backend", a.Config.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.GetShutdownTimeout())
		defer cancel()
		a.logger.Info("Shutting down comment service")
		return srv.Shutdown(shutdownCtx)
	})
	if a.jsonFile != nil && a.Config.JSONFile.Watch {
		g.Go(func() error {
			if err := a.jsonFile.Watch(gctx); err != nil {
				a.logger.Warn("Comments file watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Close releases the storage.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// RunAppServer starts the comment service and blocks until SIGINT or SIGTERM.
func RunAppServer(cfg *config.Config, logger *zap.Logger) error {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

func openDB(cfg config.LocalConfig) (*badger.DB, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger DB: %w", err)
	}
	return db, nil
}
