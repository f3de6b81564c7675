package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/graaaaa/activity-telemetry/internal/api/dashtoken"
)

const authRealm = `Basic realm="Activity Telemetry"`

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	// AllowedOrigins lists browser origins (scheme://host[:port]) of
	// instrumented pages and dashboards. "*" allows any origin.
	AllowedOrigins   []string
	AllowCredentials bool
}

func (c CORSConfig) allows(origin string) bool {
	if origin == "" {
		return false
	}
	return slices.Contains(c.AllowedOrigins, origin) || slices.Contains(c.AllowedOrigins, "*")
}

// corsMiddleware returns a middleware that handles CORS headers.
// Only origins in the allowlist are permitted.
func corsMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := cfg.allows(origin)

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Last-Event-ID")
				if cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			// Preflight
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowed {
					w.Header().Set("Access-Control-Max-Age", "86400")
					w.WriteHeader(http.StatusNoContent)
				} else {
					w.WriteHeader(http.StatusForbidden)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// csrfMiddleware rejects state-changing requests whose Origin or Referer
// names a host outside allowedOrigins. Requests carrying neither header
// come from non-browser clients and pass through.
func csrfMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	hosts := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			src := r.Header.Get("Origin")
			if src == "" {
				src = r.Header.Get("Referer")
			}
			if src == "" {
				next.ServeHTTP(w, r)
				return
			}

			u, err := url.Parse(src)
			if err != nil || !isAllowedHost(u.Host, hosts) {
				writeError(w, http.StatusForbidden, "forbidden: cross-site request", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isAllowedHost checks if the host is in the allowed list.
// Allows localhost variants by default.
func isAllowedHost(host string, allowedHosts []string) bool {
	hostWithoutPort := stripPort(host)

	if hostWithoutPort == "localhost" || hostWithoutPort == "127.0.0.1" || hostWithoutPort == "::1" {
		return true
	}

	for _, allowed := range allowedHosts {
		if hostWithoutPort == stripPort(allowed) {
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end != -1 {
			return host[1:end]
		}
	}
	if strings.Count(host, ":") == 1 {
		return host[:strings.LastIndex(host, ":")]
	}
	return host
}

// securityHeadersMiddleware adds security headers to all responses.
// The server returns JSON and event streams only, so nothing may be framed
// or loaded as a subresource.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// constantTimeEqualString compares two strings in constant time.
// Uses SHA-256 hashing to ensure comparison time is independent of input lengths.
func constantTimeEqualString(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

// basicAuthMiddleware returns a middleware that checks HTTP Basic Auth
// credentials. With a non-nil afl, repeated failures lock the client IP out.
func basicAuthMiddleware(username, password string, afl *AuthFailureLimiter) func(http.Handler) http.Handler {
	return tokenOrBasicAuthMiddleware(username, password, afl, nil, "")
}

// tokenOrBasicAuthMiddleware accepts Basic Auth credentials or, when
// tokens is set, a ?token= dashboard token granting scope.
func tokenOrBasicAuthMiddleware(username, password string, afl *AuthFailureLimiter, tokens *dashtoken.Issuer, scope dashtoken.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r, false)

			if afl != nil && afl.IsLocked(ip) {
				writeLockedOut(w, afl.LockoutSecondsRemaining(ip))
				return
			}

			if u, p, ok := r.BasicAuth(); ok {
				if constantTimeEqualString(u, username) && constantTimeEqualString(p, password) {
					if afl != nil {
						afl.RecordSuccess(ip)
					}
					next.ServeHTTP(w, r)
					return
				}
				if afl != nil && afl.RecordFailure(ip) < 0 {
					writeLockedOut(w, afl.LockoutSecondsRemaining(ip))
					return
				}
			} else if tok := r.URL.Query().Get("token"); tok != "" && tokens != nil {
				if _, err := tokens.Verify(tok, scope); err == nil {
					next.ServeHTTP(w, r)
					return
				}
			}

			w.Header().Set("WWW-Authenticate", authRealm)
			writeError(w, http.StatusUnauthorized, "", nil)
		})
	}
}

func writeLockedOut(w http.ResponseWriter, seconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "too many failed attempts", nil)
}
