// Package main provides the entry point for the Stratum geodata publishing service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/stratum/internal/app"
	"github.com/jobrunner/stratum/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum - Geodata Publishing Service",
	Long: `Stratum ingests uploaded geodata and publishes it as web map layers.

Vector uploads (GeoJSON, zipped Shapefile, GeoPackage) are reprojected to
Web Mercator and published into PostGIS with an atomic staging-table swap.
Raster uploads (GeoTIFF) become tiled assets served as PNG map tiles.

Features:
  - One-time transform on ingest, tiles served from published data
  - Vector tiles proxied from a tegola backend
  - Raster tile rendering with overview selection
  - Drop-directory sweeper for unattended ingestion
  - Staged uploads on local disk, AWS S3 or Azure Blob Storage
  - TLS with automatic certificate management
  - Prometheus metrics`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Stratum %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	// Server flags
	rootCmd.Flags().String("host", "0.0.0.0", "server host")
	rootCmd.Flags().Int("port", 8080, "server port")
	rootCmd.Flags().Bool("tls", false, "enable TLS")
	rootCmd.Flags().StringSlice("tls-domains", nil, "TLS domains")
	rootCmd.Flags().String("tls-email", "", "TLS email for Let's Encrypt")

	// Storage flags
	rootCmd.Flags().String("database-url", "", "PostGIS connection URL")
	rootCmd.Flags().String("staging-backend", "local", "staging backend (local, s3, azure)")
	rootCmd.Flags().String("staging-dir", "./data/staging", "local staging directory")
	rootCmd.Flags().String("asset-dir", "./data/assets", "raster asset directory")

	// Tile flags
	rootCmd.Flags().String("tile-backend", "", "vector tile backend URL (tegola)")

	// Sweep flags
	rootCmd.Flags().Bool("sweep", false, "enable the drop-directory sweeper")
	rootCmd.Flags().String("sweep-dir", "./data/drop", "drop directory to sweep")

	// CORS flags
	rootCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("server.host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls"))
	_ = viper.BindPFlag("tls.domains", rootCmd.Flags().Lookup("tls-domains"))
	_ = viper.BindPFlag("tls.email", rootCmd.Flags().Lookup("tls-email"))
	_ = viper.BindPFlag("database.url", rootCmd.Flags().Lookup("database-url"))
	_ = viper.BindPFlag("staging.backend", rootCmd.Flags().Lookup("staging-backend"))
	_ = viper.BindPFlag("staging.dir", rootCmd.Flags().Lookup("staging-dir"))
	_ = viper.BindPFlag("raster.asset_dir", rootCmd.Flags().Lookup("asset-dir"))
	_ = viper.BindPFlag("tiles.backend_url", rootCmd.Flags().Lookup("tile-backend"))
	_ = viper.BindPFlag("sweep.enabled", rootCmd.Flags().Lookup("sweep"))
	_ = viper.BindPFlag("sweep.dir", rootCmd.Flags().Lookup("sweep-dir"))
	_ = viper.BindPFlag("server.cors.allowed_origins", rootCmd.Flags().Lookup("cors"))

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting Stratum",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"staging_backend", cfg.Staging.Backend,
		"database", cfg.Database.URL != "",
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize application
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := application.Start(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
