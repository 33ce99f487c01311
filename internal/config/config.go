// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/stratum/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Staging  StagingConfig  `mapstructure:"staging"`
	Raster   RasterConfig   `mapstructure:"raster"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Tiles    TilesConfig    `mapstructure:"tiles"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	FrontendEnabled bool          `mapstructure:"frontend_enabled"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostGIS configuration. An empty URL runs the
// service with in-memory metadata and no vector publishing.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StagingConfig holds upload staging storage configuration.
type StagingConfig struct {
	Backend string      `mapstructure:"backend"` // local, s3, azure
	Dir     string      `mapstructure:"dir"`
	S3      S3Config    `mapstructure:"s3"`
	Azure   AzureConfig `mapstructure:"azure"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// RasterConfig holds raster asset storage configuration.
type RasterConfig struct {
	AssetDir string `mapstructure:"asset_dir"`
}

// IngestConfig holds ingestion configuration.
type IngestConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// TilesConfig holds vector tile backend configuration. An empty backend
// URL disables vector tile delivery.
type TilesConfig struct {
	BackendURL     string        `mapstructure:"backend_url"`
	BackendTimeout time.Duration `mapstructure:"backend_timeout"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
}

// SweepConfig holds drop directory sweep configuration.
type SweepConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
	Settle   time.Duration `mapstructure:"settle"`
	Watch    bool          `mapstructure:"watch"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool      `mapstructure:"enabled"`
	Domains  []string  `mapstructure:"domains"`
	Email    string    `mapstructure:"email"`
	CacheDir string    `mapstructure:"cache_dir"`
	Staging  bool      `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      DNSConfig `mapstructure:"dns"`
}

// DNSConfig holds Azure DNS settings for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults. The generous timeouts cover large uploads and
	// synchronous ingestion runs.
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10*time.Minute)
	viper.SetDefault("server.write_timeout", 10*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_upload_bytes", int64(512<<20))
	viper.SetDefault("server.frontend_enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Database defaults
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.connect_timeout", 10*time.Second)

	// Staging defaults
	viper.SetDefault("staging.backend", "local")
	viper.SetDefault("staging.dir", "./data/staging")

	// Raster defaults
	viper.SetDefault("raster.asset_dir", "./data/assets")

	// Ingest defaults
	viper.SetDefault("ingest.batch_size", 500)
	viper.SetDefault("ingest.timeout", 5*time.Minute)

	// Tiles defaults
	viper.SetDefault("tiles.backend_url", "")
	viper.SetDefault("tiles.backend_timeout", 30*time.Second)

	// Sweep defaults
	viper.SetDefault("sweep.enabled", false)
	viper.SetDefault("sweep.dir", "./data/drop")
	viper.SetDefault("sweep.interval", 30*time.Second)
	viper.SetDefault("sweep.settle", 2*time.Second)
	viper.SetDefault("sweep.watch", true)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("STRATUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/stratum")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}

	if c.Server.MaxUploadBytes <= 0 {
		return &domain.ConfigError{Field: "server.max_upload_bytes", Message: "must be positive"}
	}

	switch c.Staging.Backend {
	case "local":
		if c.Staging.Dir == "" {
			return &domain.ConfigError{Field: "staging.dir", Message: "local staging directory is required"}
		}
	case "s3":
		if c.Staging.S3.Bucket == "" {
			return &domain.ConfigError{Field: "staging.s3.bucket", Message: "S3 bucket is required"}
		}
		if c.Staging.S3.Region == "" {
			return &domain.ConfigError{Field: "staging.s3.region", Message: "S3 region is required"}
		}
	case "azure":
		if c.Staging.Azure.Container == "" {
			return &domain.ConfigError{Field: "staging.azure.container", Message: "azure container is required"}
		}
		if c.Staging.Azure.AccountName == "" && c.Staging.Azure.ConnectionString == "" {
			return &domain.ConfigError{Field: "staging.azure", Message: "azure account name or connection string is required"}
		}
	default:
		return &domain.ConfigError{Field: "staging.backend", Message: fmt.Sprintf("unknown backend %q", c.Staging.Backend)}
	}

	if c.Raster.AssetDir == "" {
		return &domain.ConfigError{Field: "raster.asset_dir", Message: "raster asset directory is required"}
	}

	if c.Sweep.Enabled && c.Sweep.Dir == "" {
		return &domain.ConfigError{Field: "sweep.dir", Message: "sweep enabled but no drop directory specified"}
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
		}
		if c.TLS.Email == "" {
			return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return &domain.ConfigError{Field: "metrics.port", Message: fmt.Sprintf("invalid port %d", c.Metrics.Port)}
	}

	return nil
}
