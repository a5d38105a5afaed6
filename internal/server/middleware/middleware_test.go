package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyLimiter struct {
	keys  []string
	allow bool
	err   error
}

func (l *keyLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func (l *keyLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	assert.Equal(t, "10.0.0.7", clientIP(r))

	r.Header.Set("X-Real-IP", "172.16.0.2")
	assert.Equal(t, "172.16.0.2", clientIP(r))

	r.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	l := &keyLimiter{}
	h := RateLimit(l, 5, 90*time.Second, quiet())(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/bots", nil)
	req.RemoteAddr = "192.0.2.1:80"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"api:192.0.2.1"}, l.keys)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(&keyLimiter{err: errors.New("redis down")}, 5, time.Minute, quiet())(okHandler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bots/1/stop", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthExemptsOpenPathsAndPreflight(t *testing.T) {
	h := Auth("k", "/api/health")(okHandler)

	for _, tc := range []struct {
		method, path, header, value string
		want                        int
	}{
		{http.MethodGet, "/api/health", "", "", http.StatusOK},
		{http.MethodOptions, "/api/bots", "", "", http.StatusOK},
		{http.MethodGet, "/api/bots", "", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/bots", "Authorization", "Basic k", http.StatusUnauthorized},
		{http.MethodGet, "/api/bots", "Authorization", "bearer k", http.StatusOK},
		{http.MethodGet, "/api/bots", "X-API-Key", "k", http.StatusOK},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.header != "" {
			req.Header.Set(tc.header, tc.value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "%s %s %s", tc.method, tc.path, tc.header)
	}
}

func TestLoggingKeepsRequestID(t *testing.T) {
	h := Logging(quiet())(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))

	assert.Equal(t, slog.LevelDebug, accessLevel("/api/health", http.StatusOK))
	assert.Equal(t, slog.LevelError, accessLevel("/api/health", http.StatusBadGateway))
	assert.Equal(t, slog.LevelInfo, accessLevel("/api/bots", http.StatusNotFound))
}
