package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"strings"
)

// Browser map clients fetch tiles cross-origin, so the allowed method
// and header sets cover both tile GETs and the upload/ingest API.
const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Accept, Content-Type, Authorization"
	corsMaxAge       = "86400"
)

// corsMiddleware emits CORS headers for allowed origins and answers
// preflight requests without touching the handlers behind it.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.isOriginAllowed(origin) {
			h := w.Header()
			// Echo the origin rather than "*" so an any-origin
			// pattern still produces a cacheable per-origin answer.
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			h.Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed reports whether the origin matches any configured
// pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, pattern := range s.config.CORS.AllowedOrigins {
		if matchOrigin(origin, pattern) {
			return true
		}
	}
	return false
}

// matchOrigin matches one origin against one configured pattern.
// Three pattern forms are recognized: "*" (any origin, the usual
// setting for a public tile endpoint), "*.example.com" (any proper
// subdomain, port and scheme ignored), and everything else as an
// exact origin string including scheme and port.
func matchOrigin(origin, pattern string) bool {
	switch {
	case pattern == "*":
		return origin != ""

	case strings.HasPrefix(pattern, "*."):
		// Proper subdomains only: "*.example.com" matches
		// tiles.example.com but not example.com itself.
		suffix := pattern[1:]
		host := extractHost(origin)
		return len(host) > len(suffix) && strings.HasSuffix(host, suffix)

	default:
		return origin != "" && origin == pattern
	}
}

// extractHost strips scheme, port and any trailing path from an
// origin value, leaving the bare host name.
func extractHost(origin string) string {
	host := origin
	if _, rest, ok := strings.Cut(host, "://"); ok {
		host = rest
	}
	host, _, _ = strings.Cut(host, "/")
	host, _, _ = strings.Cut(host, ":")
	return host
}
