package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

// SecurityHeadersConfig controls HTTPS enforcement and response hardening.
type SecurityHeadersConfig struct {
	HSTSMaxAge        int
	IncludeSubdomains bool
	// ExcludedPaths skip redirect and HSTS, e.g. probes hit over plain HTTP.
	ExcludedPaths     []string
	ForceRedirect     bool
	TrustProxyHeader  bool
}

func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		HSTSMaxAge:        31536000,
		IncludeSubdomains: true,
		ExcludedPaths:     []string{"/health", "/ready", "/live", "/metrics"},
		TrustProxyHeader:  true,
	}
}

// SecurityHeaders sets no-store and nosniff on every response, adds HSTS on
// HTTPS, and optionally redirects plain GET/HEAD requests to HTTPS.
func SecurityHeaders(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}
	if cfg.HSTSMaxAge > 0 && cfg.HSTSMaxAge < 86400 {
		logger.Warn("HSTS max-age=%d is shorter than one day", cfg.HSTSMaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")

			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			https := r.TLS != nil
			if !https && cfg.TrustProxyHeader {
				https = strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
			}
			if cfg.ForceRedirect && !https && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
				u := *r.URL
				u.Scheme = "https"
				u.Host = stripPort(r.Host)
				http.Redirect(w, r, u.String(), http.StatusPermanentRedirect)
				return
			}
			if https {
				h.Set("Strict-Transport-Security", hstsValue(cfg))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hstsValue(cfg SecurityHeadersConfig) string {
	maxAge := cfg.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 31536000
	}
	v := "max-age=" + strconv.Itoa(maxAge)
	if cfg.IncludeSubdomains {
		v += "; includeSubDomains"
	}
	return v
}

func stripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
