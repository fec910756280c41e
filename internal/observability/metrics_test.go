package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/cleaver-pos/cleaver/internal/jobs"
	"github.com/cleaver-pos/cleaver/internal/ledger"
)

func TestMetricsHandlerExposesDomainCollectors(t *testing.T) {
	metrics := NewMetrics()
	ledgerMetrics := ledger.NewMetrics(metrics.Registerer())
	jobs := jobmetrics.NewMetrics(metrics.Registerer())

	ledgerMetrics.ObserveRetry(1, nil)
	require.NoError(t, jobs.Track("ledger:reconcile").End(nil))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, "cleaver_jobs_total")
	require.Contains(t, body, "cleaver_ledger_tx_retries_total")
	require.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/counterparties/{id}/invoices")

	req := httptest.NewRequest(http.MethodPost, "/api/counterparties/c1/invoices", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := metricsRR.Body.String()
	require.Contains(t, body, `cleaver_http_requests_total{code="409",method="POST",route="/api/counterparties/{id}/invoices"} 1`)
	require.Contains(t, body, `cleaver_http_request_duration_seconds_bucket{method="POST",route="/api/counterparties/{id}/invoices"`)
	require.Contains(t, body, "cleaver_http_requests_in_flight 0")
}

func TestMetricsServeStopsWithContext(t *testing.T) {
	metrics := NewMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- metrics.Serve(ctx, "127.0.0.1:0", nil) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
