// Package server wires the page analyzer's dependencies from configuration
// and runs the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
	"github.com/JakeFAU/page-analyzer/internal/api"
	"github.com/JakeFAU/page-analyzer/internal/clock/system"
	"github.com/JakeFAU/page-analyzer/internal/config"
	"github.com/JakeFAU/page-analyzer/internal/extractor"
	collyfetcher "github.com/JakeFAU/page-analyzer/internal/fetcher/colly"
	"github.com/JakeFAU/page-analyzer/internal/hash/sha256"
	"github.com/JakeFAU/page-analyzer/internal/id/uuid"
	"github.com/JakeFAU/page-analyzer/internal/logging"
	memorypublisher "github.com/JakeFAU/page-analyzer/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/page-analyzer/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/page-analyzer/internal/storage/gcs"
	localstorage "github.com/JakeFAU/page-analyzer/internal/storage/local"
	memorystorage "github.com/JakeFAU/page-analyzer/internal/storage/memory"
	pgstore "github.com/JakeFAU/page-analyzer/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/page-analyzer/internal/storage/sqlite"
	"github.com/JakeFAU/page-analyzer/internal/telemetry"
)

// Version is reported on traces; overridden at build time with -ldflags.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// Repository is a store the application can bootstrap and query.
type Repository interface {
	analyzer.Repository
	Migrate(ctx context.Context) error
}

type closer struct {
	name  string
	close func() error
}

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	repo           Repository
	service        *analyzer.Service
	apiServer      *api.Server
	closers        []closer
	tracerShutdown telemetry.ShutdownFunc
}

// Options overrides collaborators that Build would otherwise derive from
// configuration. Zero values keep the configured behavior.
type Options struct {
	Logger  *zap.Logger
	Fetcher analyzer.Fetcher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx, opts); err != nil {
		if cerr := app.Close(ctx); cerr != nil {
			logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	shutdown, err := telemetry.InitTracerProvider(ctx, config.AppName, Version)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = shutdown

	a.logger.Info("building application dependencies",
		zap.String("database_driver", a.cfg.Database.Driver),
		zap.String("snapshots_backend", a.cfg.Snapshots.Backend),
		zap.String("notifications_backend", a.cfg.Notifications.Backend),
	)

	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	if a.cfg.Database.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}

	blobStore, err := a.setupSnapshots(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:    a.cfg.Fetcher.UserAgent,
			Timeout:      a.cfg.FetchTimeout(),
			MaxBodyBytes: a.cfg.Fetcher.MaxBodyBytes,
		})
		a.logger.Debug("using colly fetcher",
			zap.String("user_agent", a.cfg.Fetcher.UserAgent),
			zap.Duration("timeout", a.cfg.FetchTimeout()),
		)
	}

	serviceCfg := analyzer.Config{
		SnapshotPrefix: a.cfg.Snapshots.Prefix,
		ContentType:    a.cfg.Snapshots.ContentType,
	}
	if publisher != nil {
		serviceCfg.Topic = a.cfg.Notifications.Topic
	}

	a.service = analyzer.NewService(
		a.repo,
		fetcher,
		extractor.New(),
		system.New(),
		blobStore,
		sha256.New(),
		publisher,
		uuid.New(),
		serviceCfg,
		a.logger.Named("analyzer"),
	)
	a.apiServer = api.NewServer(
		a.service,
		api.Config{RequestTimeout: a.cfg.RequestTimeout()},
		a.logger.Named("api"),
	)
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := pgstore.NewSiteStore(ctx, pgstore.Config{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.addCloser("postgres", func() error {
			store.Close()
			return nil
		})
		a.repo = store
		a.logger.Info("using postgres repository",
			zap.Int32("max_conns", a.cfg.Database.MaxConns),
			zap.Int32("min_conns", a.cfg.Database.MinConns),
		)
	case config.DriverSQLite:
		store, err := sqlitestore.Open(ctx, a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.addCloser("sqlite", store.Close)
		a.repo = store
		a.logger.Info("using sqlite repository", zap.String("dsn", a.cfg.Database.DSN))
	case config.DriverMemory:
		a.logger.Warn("using in-memory repository; data is lost on exit")
		a.repo = memorystorage.NewSiteStore()
	default:
		return fmt.Errorf("unknown database driver: %s", a.cfg.Database.Driver)
	}
	return nil
}

func (a *App) setupSnapshots(ctx context.Context) (analyzer.BlobStore, error) {
	switch a.cfg.Snapshots.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Snapshots.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", store.Close)
		a.logger.Info("using GCS snapshot backend", zap.String("bucket", a.cfg.Snapshots.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Snapshots.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot backend", zap.String("path", a.cfg.Snapshots.BaseDir))
		return store, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory snapshot backend")
		return memorystorage.NewBlobStore(), nil
	case config.BackendNone, "":
		a.logger.Debug("snapshots disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown snapshots backend: %s", a.cfg.Snapshots.Backend)
	}
}

func (a *App) setupPublisher(ctx context.Context) (analyzer.Publisher, error) {
	switch a.cfg.Notifications.Backend {
	case config.BackendPubSub:
		pub, err := gcppublisher.New(ctx, a.cfg.Notifications.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.addCloser("pubsub", pub.Close)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Notifications.ProjectID),
			zap.String("topic", a.cfg.Notifications.Topic),
		)
		return pub, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory publisher", zap.String("topic", a.cfg.Notifications.Topic))
		return memorypublisher.New(), nil
	case config.BackendNone, "":
		a.logger.Debug("notifications disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown notifications backend: %s", a.cfg.Notifications.Backend)
	}
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// Service returns the analyzer service shared by the API and CLI.
func (a *App) Service() *analyzer.Service {
	return a.service
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Migrate creates the repository schema if it does not exist.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s schema: %w", a.cfg.Database.Driver, err)
	}
	a.logger.Info("schema is up to date", zap.String("driver", a.cfg.Database.Driver))
	return nil
}

// Run serves the API on the configured port until the context is canceled
// or the process receives SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then drains in-flight
// requests for up to ten seconds.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases clients and connections in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracerShutdown = nil
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
