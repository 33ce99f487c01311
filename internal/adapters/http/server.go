// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/stratum/internal/application"
	"github.com/jobrunner/stratum/internal/config"
)

// Server wraps the HTTP server with application handlers.
type Server struct {
	server  *http.Server
	router  *mux.Router
	uploads *application.UploadService
	ingest  *application.IngestService
	catalog *application.CatalogService
	tiles   *application.TileService
	health  *application.HealthService
	sweep   *application.SweepService
	logger  *slog.Logger
	config  config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg config.ServerConfig,
	uploads *application.UploadService,
	ingest *application.IngestService,
	catalog *application.CatalogService,
	tiles *application.TileService,
	health *application.HealthService,
	sweep *application.SweepService,
	logger *slog.Logger,
) *Server {
	s := &Server{
		uploads: uploads,
		ingest:  ingest,
		catalog: catalog,
		tiles:   tiles,
		health:  health,
		sweep:   sweep,
		logger:  logger,
		config:  cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	// Upload and ingestion endpoints
	api.HandleFunc("/uploads", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost)

	// Layer catalog endpoints
	api.HandleFunc("/layers", s.handleListLayers).Methods(http.MethodGet)
	api.HandleFunc("/layers/{layerId}", s.handleGetLayer).Methods(http.MethodGet)
	api.HandleFunc("/layers/{layerId}/bbox", s.handleGetLayerBBox).Methods(http.MethodGet)

	// Sweep endpoint (only if the drop directory sweeper is configured)
	if s.sweep != nil {
		api.HandleFunc("/sweep", s.handleSweep).Methods(http.MethodPost)
	}

	// Tile endpoints. The z/x/y patterns are digit-constrained so the
	// format suffix parses unambiguously.
	r.HandleFunc("/tiles/vector/{layerName}/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.pbf",
		s.handleVectorTile).Methods(http.MethodGet)
	r.HandleFunc("/tiles/raster/{layerId}/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.png",
		s.handleRasterTile).Methods(http.MethodGet)

	// OpenAPI spec and Swagger UI
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)
	r.HandleFunc("/swagger", s.handleSwaggerUI).Methods(http.MethodGet)

	// Frontend map viewer (if enabled)
	if s.config.FrontendEnabled {
		r.HandleFunc("/", s.handleFrontend).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
