package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/agenttree/api/handlers"
	"github.com/BaSui01/agenttree/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "http-"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), seen)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r.Header.Set("X-Request-ID", "from-client")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, "from-client", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "from-client", seen)

	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := Chain(panicking, Recovery(zap.NewNop()), RequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/requests", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, handlers.CodeInternal, resp.Error.Code)
}

func TestRouteOf(t *testing.T) {
	tests := map[string]string{
		"/health":                           "/health",
		"/metrics":                          "/metrics",
		"/v1/requests":                      "/v1/requests",
		"/v1/requests/req-42":               "/v1/requests/{id}",
		"/v1/requests/5f0c9a1e-0000/budget": "/v1/requests/{id}/budget",
		"/v1/requests/abc/events":           "/v1/requests/{id}/events",
		"/v1/requests/abc/unknown":          "other",
		"/v1/requests/":                     "other",
		"/wp-login.php":                     "other",
	}
	for in, want := range tests {
		assert.Equal(t, want, routeOf(in), in)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 0.001, 2, zap.NewNop())(okHandler())

	call := func(remote string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/v1/requests", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1235").Code)
	limited := call("10.0.0.1:1236")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	// 其他 IP 有独立的令牌桶
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1234").Code)
}

func TestRateLimiter_DisabledWhenZero(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler())
	for range 50 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	l := &ipLimiter{rps: 1, burst: 1, logger: zap.NewNop(), visitors: make(map[string]*visitor)}
	now := time.Now()
	require.True(t, l.allow("10.0.0.1", now))
	require.True(t, l.allow("10.0.0.2", now.Add(2*time.Minute)))

	assert.Equal(t, 1, l.sweep(now.Add(4*time.Minute)))
	assert.Len(t, l.visitors, 1)
	assert.Contains(t, l.visitors, "10.0.0.2")
}

func TestInstrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, zap.NewNop())
	core, logs := observer.New(zapcore.InfoLevel)
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := Chain(notFound, RequestID(), Instrument(zap.New(core), collector))

	for _, id := range []string{"a", "b", "c"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/requests/"+id+"/budget", nil))
	}

	expected := `
# HELP test_http_requests_total Total number of HTTP requests
# TYPE test_http_requests_total counter
test_http_requests_total{method="GET",path="/v1/requests/{id}/budget",status="4xx"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_http_requests_total"))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 3)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(http.StatusNotFound), fields["status"])
	assert.True(t, strings.HasPrefix(fields["http_request_id"].(string), "http-"))
}

func TestInstrument_NilCollector(t *testing.T) {
	handler := Instrument(zap.NewNop(), nil)(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	// ResponseController 通过 Unwrap 找到底层的 Flusher
	require.NoError(t, http.NewResponseController(rw).Flush())
	assert.True(t, w.Flushed)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusAccepted, rw.status)
}
