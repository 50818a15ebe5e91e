package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/battlekeeper/internal/crypto"
)

const scanRoute = "POST /api/battles/scan"

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuth(now time.Time) http.Handler {
	return Auth(AuthConfig{
		APIKey:          "secret-key",
		SchedulerSecret: "sched",
		SchedulerRoutes: []string{scanRoute},
		Public:          []string{"GET /api/health", "GET /metrics"},
		Logger:          discard(),
		Now:             func() time.Time { return now },
	})(okHandler)
}

func serve(h http.Handler, method, path string, headers map[string]string) int {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuth_Bearer(t *testing.T) {
	h := newAuth(time.Now())

	assert.Equal(t, http.StatusOK, serve(h, "POST", "/api/battles/A/execute", map[string]string{"Authorization": "Bearer secret-key"}))
	assert.Equal(t, http.StatusOK, serve(h, "POST", "/api/battles/A/execute", map[string]string{"Authorization": "bearer  secret-key"}))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "POST", "/api/battles/A/execute", map[string]string{"Authorization": "Bearer nope"}))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "POST", "/api/battles/A/execute", map[string]string{"Authorization": "Basic secret-key"}))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "POST", "/api/battles/A/execute", nil))
}

func TestAuth_PublicRoutes(t *testing.T) {
	h := newAuth(time.Now())
	assert.Equal(t, http.StatusOK, serve(h, "GET", "/api/health", nil))
	assert.Equal(t, http.StatusOK, serve(h, "GET", "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "POST", "/api/health", nil))
}

func TestAuth_SchedulerBypassOnlyOnScan(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	h := newAuth(now)

	ts, sig := crypto.SignSchedulerRequest("sched", "POST", "/api/battles/scan", now)
	headers := map[string]string{HeaderSchedulerTimestamp: ts, HeaderSchedulerSignature: sig}
	assert.Equal(t, http.StatusOK, serve(h, "POST", "/api/battles/scan", headers))

	// A signature for the execute route is never accepted.
	ts, sig = crypto.SignSchedulerRequest("sched", "POST", "/api/battles/A/execute", now)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "POST", "/api/battles/A/execute",
		map[string]string{HeaderSchedulerTimestamp: ts, HeaderSchedulerSignature: sig}))

	// Stale timestamps are rejected.
	ts, sig = crypto.SignSchedulerRequest("sched", "POST", "/api/battles/scan", now.Add(-10*time.Minute))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "POST", "/api/battles/scan",
		map[string]string{HeaderSchedulerTimestamp: ts, HeaderSchedulerSignature: sig}))
}

func TestAuth_EmptyKeyFailsClosed(t *testing.T) {
	h := Auth(AuthConfig{Logger: discard()})(okHandler)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "POST", "/api/battles/scan", map[string]string{"Authorization": "Bearer "}))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "POST", "/api/battles/scan", map[string]string{"Authorization": "Bearer x"}))
}

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func TestRateLimit(t *testing.T) {
	lim := &stubLimiter{allow: true}
	h := RateLimit(lim, "execute", 5, time.Minute, discard())(okHandler)

	req := httptest.NewRequest("POST", "/api/battles/A/execute", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"execute:203.0.113.7"}, lim.keys)

	lim.allow = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	lim.err = errors.New("redis down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "limiter errors fail open")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.2:5555"
	assert.Equal(t, "198.51.100.2", ClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.9")
	assert.Equal(t, "192.0.2.9", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "192.0.2.1")
	assert.Equal(t, "192.0.2.1", ClientIP(req))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/battles/scan", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLogging_CapturesStatus(t *testing.T) {
	h := Logging(discard())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
