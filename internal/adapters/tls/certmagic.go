// Package tls provides HTTPS serving with automatic certificates.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
)

// Config holds TLS configuration.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // Use the Let's Encrypt staging CA
	DNS      DNSConfig

	// Timeouts for the wrapped listener. Uploads and tile bursts
	// stream through it, so both must cover large transfers.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DNSConfig names the Azure DNS zone used for DNS-01 challenges.
// With no subscription id the ACME flow falls back to the HTTP-01
// and TLS-ALPN solvers, which need the server reachable on ports
// 80 and 443.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // User Assigned Managed Identity client ID (optional)
}

// Server wraps the HTTP handler with automatic TLS when enabled.
type Server struct {
	cfg       Config
	handler   http.Handler
	logger    *slog.Logger
	tlsConfig *tls.Config

	mu  sync.Mutex
	srv *http.Server
}

// NewServer builds the TLS wrapper. With cfg.Enabled false the same
// entry points serve plain HTTP.
func NewServer(cfg Config, handler http.Handler, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
	if !cfg.Enabled {
		return s, nil
	}

	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("TLS enabled but no domains specified")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("TLS enabled but no email specified")
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	// Tile hosts often sit behind a load balancer with no public
	// port 80, so prefer DNS-01 whenever a zone is configured.
	if cfg.DNS.SubscriptionID != "" {
		certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{
				DNSProvider: &azure.Provider{
					SubscriptionId:    cfg.DNS.SubscriptionID,
					ResourceGroupName: cfg.DNS.ResourceGroupName,
					ClientId:          cfg.DNS.ClientID, // Empty = System Assigned Managed Identity
				},
			},
		}
	}

	tlsConfig, err := certmagic.TLS(cfg.Domains)
	if err != nil {
		return nil, fmt.Errorf("configuring TLS: %w", err)
	}
	s.tlsConfig = tlsConfig

	return s, nil
}

// ListenAndServe serves on addr until Shutdown or a listener error.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info("starting HTTP server (TLS disabled)", "address", addr)
		return srv.ListenAndServe()
	}

	s.logger.Info("starting HTTPS server",
		"address", addr,
		"domains", s.cfg.Domains,
		"solver", s.solverName(),
	)

	srv.TLSConfig = s.tlsConfig
	return srv.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the wrapped server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) solverName() string {
	if s.cfg.DNS.SubscriptionID != "" {
		return "dns-01"
	}
	return "http-01/tls-alpn-01"
}
