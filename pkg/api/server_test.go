package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/httputil"
	"github.com/platinummonkey/meterline/pkg/observability"
)

func newTestServer(svc billing.Service) (*Server, *observability.Metrics) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	return NewServer(ServerOptions{
		Service:  svc,
		Metrics:  metrics,
		Registry: registry,
		Health:   observability.NewHealthChecker(nil, nil).WithVersion("test"),
	}), metrics
}

func TestServer_Routes(t *testing.T) {
	svc := &mockBillingService{
		getInvoiceFunc: func(ctx context.Context, id int64) (*billing.Invoice, error) {
			assert.NotEmpty(t, observability.GetRequestID(ctx))
			return sampleInvoice(id, billing.InvoiceStatusSent), nil
		},
	}
	server, metrics := newTestServer(svc)

	t.Run("billing under api v1", func(t *testing.T) {
		w := doRequest(t, server, http.MethodGet, "/api/v1/invoices/1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))
		assert.Equal(t, 1.0, testutil.ToFloat64(
			metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/invoices/{id}", "200")))
	})

	t.Run("request id propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices/1", nil)
		req.Header.Set(httputil.RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		assert.Equal(t, "abc-123", w.Header().Get(httputil.RequestIDHeader))
	})

	t.Run("health", func(t *testing.T) {
		w := doRequest(t, server, http.MethodGet, "/health/ready", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"version":"test"`)
	})

	t.Run("metrics", func(t *testing.T) {
		w := doRequest(t, server, http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "meterline_http_requests_total")
	})

	t.Run("unknown route", func(t *testing.T) {
		w := doRequest(t, server, http.MethodGet, "/api/v1/nothing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, httputil.CodeNotFound, resp.Code)
		assert.NotEmpty(t, resp.RequestID)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := doRequest(t, server, http.MethodPatch, "/api/v1/invoices/1", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestServer_Middleware(t *testing.T) {
	t.Run("rejects non JSON writes", func(t *testing.T) {
		server, _ := newTestServer(&mockBillingService{})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", strings.NewReader("tenant_id=7"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("limits body size", func(t *testing.T) {
		server := NewServer(ServerOptions{Service: &mockBillingService{}, MaxBodyBytes: 16})
		body := `{"tenant_id": 7, "currency": "USD", "billing_period": "2025-01"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("recovers panics", func(t *testing.T) {
		svc := &mockBillingService{
			getStatisticsFunc: func(ctx context.Context, tenantID *int64) (*billing.BillingStatistics, error) {
				panic("nil aggregator")
			},
		}
		server, _ := newTestServer(svc)
		w := doRequest(t, server, http.MethodGet, "/api/v1/billing/statistics", nil)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, httputil.CodeInternal, decodeError(t, w).Code)
	})
}
