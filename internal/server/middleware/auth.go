package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/battlekeeper/internal/crypto"
)

// Scheduler request headers.
const (
	HeaderSchedulerTimestamp = "X-Scheduler-Timestamp"
	HeaderSchedulerSignature = "X-Scheduler-Signature"
)

// AuthConfig configures Auth.
type AuthConfig struct {
	// APIKey is the shared bearer credential. An empty key rejects every
	// protected request.
	APIKey string

	// SchedulerSecret signs trusted scheduler calls. The bypass only applies
	// to SchedulerRoutes, matched on "METHOD /path".
	SchedulerSecret string
	SchedulerRoutes []string

	// Public routes, matched on "METHOD /path", skip authentication.
	Public []string

	Logger *slog.Logger
	Now    func() time.Time
}

// Auth returns middleware that requires "Authorization: Bearer <api_key>"
// on every non-public route. A request to a scheduler route may instead carry
// a valid scheduler signature.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	public := routeSet(cfg.Public)
	scheduler := routeSet(cfg.SchedulerRoutes)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.Method + " " + r.URL.Path
			if public[route] {
				next.ServeHTTP(w, r)
				return
			}

			if token := bearerToken(r); token != "" {
				if cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			if scheduler[route] && r.Header.Get(HeaderSchedulerSignature) != "" {
				err := crypto.VerifyScheduler(
					cfg.SchedulerSecret,
					r.Header.Get(HeaderSchedulerTimestamp),
					r.Header.Get(HeaderSchedulerSignature),
					r.Method, r.URL.Path, now(),
				)
				if err == nil {
					next.ServeHTTP(w, r)
					return
				}
				logger.WarnContext(r.Context(), "scheduler signature rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeUnauthorized(w, "invalid scheduler signature")
				return
			}

			writeUnauthorized(w, "missing authentication token")
		})
	}
}

func routeSet(routes []string) map[string]bool {
	m := make(map[string]bool, len(routes))
	for _, r := range routes {
		m[r] = true
	}
	return m
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("WWW-Authenticate", `Bearer realm="battlekeeper"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
