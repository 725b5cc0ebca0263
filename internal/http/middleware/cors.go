package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultCORSMaxAgeSeconds = 600

var (
	defaultCORSAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	defaultCORSAllowedHeaders = []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"}
	defaultCORSExposedHeaders = []string{"Retry-After", "X-Request-Id"}
)

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAgeSeconds  int
}

// corsPolicy holds the header values computed once from CORSConfig.
type corsPolicy struct {
	anyOrigin     bool
	origins       map[string]struct{}
	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	policy := corsPolicy{
		origins:       make(map[string]struct{}),
		allowMethods:  joinOrDefault(cfg.AllowedMethods, defaultCORSAllowedMethods),
		allowHeaders:  joinOrDefault(cfg.AllowedHeaders, defaultCORSAllowedHeaders),
		exposeHeaders: joinOrDefault(cfg.ExposedHeaders, defaultCORSExposedHeaders),
		maxAge:        strconv.Itoa(defaultCORSMaxAgeSeconds),
	}
	if cfg.MaxAgeSeconds > 0 {
		policy.maxAge = strconv.Itoa(cfg.MaxAgeSeconds)
	}
	for _, origin := range normalizeStringList(cfg.AllowedOrigins) {
		if origin == "*" {
			policy.anyOrigin = true
			continue
		}
		policy.origins[strings.ToLower(origin)] = struct{}{}
	}
	return policy
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
func (p corsPolicy) allowOrigin(origin string) (string, bool) {
	if p.anyOrigin {
		return "*", true
	}
	if _, ok := p.origins[strings.ToLower(origin)]; ok {
		return origin, true
	}
	return "", false
}

// CORS answers preflight requests and tags responses for allowed origins.
// Requests from other origins pass through without CORS headers.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed, ok := policy.allowOrigin(origin)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Add("Vary", "Origin")
			header.Set("Access-Control-Allow-Origin", allowed)

			if r.Method == http.MethodOptions {
				header.Add("Vary", "Access-Control-Request-Method")
				header.Add("Vary", "Access-Control-Request-Headers")
				header.Set("Access-Control-Allow-Methods", policy.allowMethods)
				header.Set("Access-Control-Allow-Headers", policy.allowHeaders)
				header.Set("Access-Control-Max-Age", policy.maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			header.Set("Access-Control-Expose-Headers", policy.exposeHeaders)
			next.ServeHTTP(w, r)
		})
	}
}

func joinOrDefault(values, fallback []string) string {
	normalized := normalizeStringList(values)
	if len(normalized) == 0 {
		normalized = fallback
	}
	return strings.Join(normalized, ", ")
}

func normalizeStringList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, raw := range values {
		if value := strings.TrimSpace(raw); value != "" {
			result = append(result, value)
		}
	}
	return result
}
