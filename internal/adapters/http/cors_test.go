package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobrunner/stratum/internal/config"
)

func TestExtractHost(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"https://maps.example.com", "maps.example.com"},
		{"https://maps.example.com:8443", "maps.example.com"},
		{"http://localhost:3000", "localhost"},
		{"http://192.168.1.20:8080", "192.168.1.20"},
		{"https://example.com/viewer/index.html", "example.com"},
		{"https://example.com:443/viewer", "example.com"},
		{"https://deep.sub.example.com", "deep.sub.example.com"},
		{"example.com", "example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := extractHost(tt.origin); got != tt.want {
			t.Errorf("extractHost(%q) = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		pattern string
		want    bool
	}{
		{"exact match", "https://maps.example.com", "https://maps.example.com", true},
		{"exact match includes scheme", "http://maps.example.com", "https://maps.example.com", false},
		{"exact match includes port", "https://maps.example.com:8443", "https://maps.example.com", false},
		{"different host", "https://other.com", "https://maps.example.com", false},

		{"any origin", "https://anything.tld", "*", true},
		{"any origin rejects empty", "", "*", false},

		{"subdomain wildcard", "https://tiles.example.com", "*.example.com", true},
		{"subdomain wildcard deep", "https://a.b.example.com", "*.example.com", true},
		{"subdomain wildcard ignores port", "https://tiles.example.com:8443", "*.example.com", true},
		{"subdomain wildcard excludes apex", "https://example.com", "*.example.com", false},
		{"subdomain wildcard excludes lookalike", "https://notexample.com", "*.example.com", false},
		{"subdomain wildcard other domain", "https://tiles.other.com", "*.example.com", false},
		{"localhost wildcard", "http://app.localhost", "*.localhost", true},

		{"empty pattern", "https://maps.example.com", "", false},
		{"empty origin", "", "https://maps.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchOrigin(tt.origin, tt.pattern); got != tt.want {
				t.Errorf("matchOrigin(%q, %q) = %v, want %v", tt.origin, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		origin   string
		want     bool
	}{
		{"first of several", []string{"https://a.com", "https://b.com"}, "https://a.com", true},
		{"later of several", []string{"https://a.com", "*.tiles.net"}, "https://eu.tiles.net", true},
		{"no match", []string{"https://a.com"}, "https://b.com", false},
		{"empty list", nil, "https://a.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{config: config.ServerConfig{
				CORS: config.CORSConfig{AllowedOrigins: tt.patterns},
			}}
			if got := s.isOriginAllowed(tt.origin); got != tt.want {
				t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func corsServer(patterns ...string) *Server {
	return &Server{config: config.ServerConfig{
		CORS: config.CORSConfig{AllowedOrigins: patterns},
	}}
}

func TestCORSMiddlewareTileRequest(t *testing.T) {
	s := corsServer("*.city.gov")
	handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tiles/vector/parks/3/2/1.pbf", nil)
	req.Header.Set("Origin", "https://maps.city.gov")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://maps.city.gov" {
		t.Errorf("Allow-Origin = %q, want the request origin echoed", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != corsAllowMethods {
		t.Errorf("Allow-Methods = %q, want %q", got, corsAllowMethods)
	}
	if got := rr.Header().Get("Access-Control-Max-Age"); got != corsMaxAge {
		t.Errorf("Max-Age = %q, want %q", got, corsMaxAge)
	}
	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestCORSMiddlewareDisallowedOrigin(t *testing.T) {
	s := corsServer("https://maps.city.gov")
	handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layers", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	// The request itself still runs, only the CORS grant is withheld.
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want none", got)
	}
}

func TestCORSMiddlewareNoOriginHeader(t *testing.T) {
	s := corsServer("*")
	handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/layers", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for same-origin request, want none", got)
	}
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	nextCalled := false
	s := corsServer("*")
	handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ingest", nil)
	req.Header.Set("Origin", "https://maps.city.gov")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if nextCalled {
		t.Error("preflight reached the next handler")
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != corsAllowHeaders {
		t.Errorf("Allow-Headers = %q, want %q", got, corsAllowHeaders)
	}
}

func TestCORSConfigEnabled(t *testing.T) {
	var off config.CORSConfig
	if off.Enabled() {
		t.Error("Enabled() = true with no origins configured")
	}

	on := config.CORSConfig{AllowedOrigins: []string{"*"}}
	if !on.Enabled() {
		t.Error("Enabled() = false with an origin configured")
	}
}
