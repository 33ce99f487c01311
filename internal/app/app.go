// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobrunner/stratum/internal/adapters/formats"
	"github.com/jobrunner/stratum/internal/adapters/geotiff"
	httpAdapter "github.com/jobrunner/stratum/internal/adapters/http"
	"github.com/jobrunner/stratum/internal/adapters/memory"
	"github.com/jobrunner/stratum/internal/adapters/metrics"
	"github.com/jobrunner/stratum/internal/adapters/postgis"
	"github.com/jobrunner/stratum/internal/adapters/raster"
	"github.com/jobrunner/stratum/internal/adapters/staging"
	"github.com/jobrunner/stratum/internal/adapters/tegola"
	tlsAdapter "github.com/jobrunner/stratum/internal/adapters/tls"
	"github.com/jobrunner/stratum/internal/adapters/transform"
	"github.com/jobrunner/stratum/internal/adapters/watcher"
	"github.com/jobrunner/stratum/internal/application"
	"github.com/jobrunner/stratum/internal/config"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Staging       output.StagingStore
	Spatial       output.SpatialStore
	Repository    output.LayerRepository
	Rasters       output.RasterStore
	Uploads       *application.UploadService
	Ingest        *application.IngestService
	Catalog       *application.CatalogService
	Tiles         *application.TileService
	Health        *application.HealthService
	Sweeper       *application.SweepService
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server

	pg         *postgis.Store
	spatialite *transform.SpatiaLite
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("stratum")
		app.MetricsServer = metrics.NewServer(
			cfg.Metrics.Port,
			cfg.Metrics.Path,
			logger,
		)
	}

	var metricsCollector output.MetricsCollector
	if app.Metrics != nil {
		metricsCollector = app.Metrics
	} else {
		metricsCollector = &output.NoOpMetrics{}
	}

	// Initialize upload staging
	stagingStore, err := initStaging(ctx, cfg.Staging, cfg.Server.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("initializing staging: %w", err)
	}
	app.Staging = stagingStore

	// Initialize raster asset store
	rasters, err := raster.NewStore(cfg.Raster.AssetDir)
	if err != nil {
		return nil, fmt.Errorf("initializing raster store: %w", err)
	}
	app.Rasters = rasters

	// Initialize database-backed metadata and spatial storage. Without
	// a database the catalog lives in memory and vector ingestion is
	// rejected as unavailable.
	if cfg.Database.URL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		store, err := postgis.NewStore(connectCtx, cfg.Database.URL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		app.pg = store
		app.Spatial = store
		app.Repository = postgis.NewRepository(store.DB())
	} else {
		logger.Warn("no database configured, vector ingestion disabled")
		app.Repository = memory.NewRepository()
	}

	// Initialize coordinate transformer chain
	transformers := []output.CoordinateTransformer{transform.NewMercator()}
	if sl, err := transform.NewSpatiaLite(ctx); err != nil {
		logger.Warn("spatialite unavailable, reprojection limited to WGS84 sources", "error", err)
	} else {
		app.spatialite = sl
		transformers = append(transformers, sl)
	}
	transformer := transform.NewChain(transformers...)

	// Initialize vector tile backend proxy
	var backend output.TileBackend
	if cfg.Tiles.BackendURL != "" {
		backend = tegola.NewClient(tegola.Config{
			BaseURL:  cfg.Tiles.BackendURL,
			Timeout:  cfg.Tiles.BackendTimeout,
			Username: cfg.Tiles.Username,
			Password: cfg.Tiles.Password,
		})
	} else {
		logger.Warn("no tile backend configured, vector tiles disabled")
	}

	// Initialize services
	app.Uploads = application.NewUploadService(app.Staging, metricsCollector, logger)

	app.Ingest = application.NewIngestService(
		app.Staging,
		formats.NewDetector(),
		transformer,
		app.Spatial,
		app.Repository,
		app.Rasters,
		geotiff.NewOpener(),
		metricsCollector,
		logger,
		application.IngestConfig{
			BatchSize:      cfg.Ingest.BatchSize,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			Timeout:        cfg.Ingest.Timeout,
		},
	)

	app.Catalog = application.NewCatalogService(app.Repository, metricsCollector, logger)
	app.Tiles = application.NewTileService(app.Repository, backend, app.Rasters, metricsCollector, logger)
	app.Health = application.NewHealthService(app.Repository, app.Spatial, metricsCollector)

	// Initialize drop-directory sweeper
	if cfg.Sweep.Enabled {
		app.Sweeper = application.NewSweepService(
			app.Uploads,
			app.Ingest,
			application.SweepConfig{
				Dir:      cfg.Sweep.Dir,
				Interval: cfg.Sweep.Interval,
				Settle:   cfg.Sweep.Settle,
			},
			logger,
		)
	}

	// Initialize HTTP server
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.Uploads,
		app.Ingest,
		app.Catalog,
		app.Tiles,
		app.Health,
		app.Sweeper,
		logger,
	)

	if app.Metrics != nil {
		app.HTTPServer.Router().Use(app.Metrics.Middleware)
	}

	// Initialize TLS server if enabled
	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Enabled:      cfg.TLS.Enabled,
				Domains:      cfg.TLS.Domains,
				Email:        cfg.TLS.Email,
				CacheDir:     cfg.TLS.CacheDir,
				Staging:      cfg.TLS.Staging,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
			},
			app.HTTPServer.Router(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// Initialize drop-directory watcher. The sweeper still rescans on
	// its interval when the watcher cannot run.
	if cfg.Sweep.Enabled && cfg.Sweep.Watch {
		w, err := watcher.New(
			watcher.Config{
				Dir: cfg.Sweep.Dir,
			},
			app.Sweeper.Notify,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize drop watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all application components.
func (a *App) Start(ctx context.Context) error {
	// Start drop-directory sweeper
	if a.Sweeper != nil {
		a.Sweeper.Start(ctx)
	}

	// Start drop watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start drop watcher", "error", err)
		}
	}

	// Start metrics server in background
	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil && err.Error() != "http: Server closed" {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start server
	if a.Config.TLS.Enabled && a.TLSServer != nil {
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	// Stop sweeper
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}

	// Shutdown metrics server
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Shutdown the serving listener. In TLS mode the wrapped server
	// owns it, otherwise the plain HTTP server does.
	if a.Config.TLS.Enabled && a.TLSServer != nil {
		if err := a.TLSServer.Shutdown(ctx); err != nil {
			a.Logger.Error("TLS server shutdown error", "error", err)
		}
	} else if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	// Close transformer and database handles
	if a.spatialite != nil {
		_ = a.spatialite.Close()
	}
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			a.Logger.Error("database close error", "error", err)
		}
	}

	return nil
}

// initStaging initializes the appropriate staging backend.
func initStaging(ctx context.Context, cfg config.StagingConfig, maxBytes int64) (output.StagingStore, error) {
	switch cfg.Backend {
	case "local":
		return staging.NewLocalStaging(cfg.Dir, maxBytes)

	case "s3":
		return staging.NewS3Staging(ctx, staging.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			MaxBytes:        maxBytes,
		})

	case "azure":
		return staging.NewAzureStaging(staging.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
			MaxBytes:         maxBytes,
		})

	default:
		return nil, fmt.Errorf("unknown staging backend: %s", cfg.Backend)
	}
}
