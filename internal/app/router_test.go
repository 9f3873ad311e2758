package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/treatment-billing/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Logger:  testLogger(),
		Config:  &Config{AppEnv: "development"},
		Metrics: metrics,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "billing_http_requests_total")
}

func TestReadinessReportsFailingStore(t *testing.T) {
	router := NewRouter(RouterParams{
		Logger: testLogger(),
		Readiness: map[string]Pinger{
			"postgres": PingFunc(func(context.Context) error { return nil }),
			"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"postgres":"ok","redis":"down"}`, rec.Body.String())
}

func TestRouterWithoutHandlersSkipsMounts(t *testing.T) {
	router := NewRouter(RouterParams{Logger: testLogger()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/billing/coupons", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
