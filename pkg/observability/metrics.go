package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Billing metrics
	InvoicesCreatedTotal     *prometheus.CounterVec
	InvoiceTransitionsTotal  *prometheus.CounterVec
	PaymentsTotal            *prometheus.CounterVec
	TenantsProcessedTotal    *prometheus.CounterVec
	BillingRunsTotal         *prometheus.CounterVec
	BillingRunDuration       prometheus.Histogram
	BillingLastRunTimestamp  prometheus.Gauge
	OverdueSweepsMarkedTotal prometheus.Counter

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meterline_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meterline_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		InvoicesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_invoices_created_total",
				Help: "Invoices created, by invoice type",
			},
			[]string{"type"},
		),
		InvoiceTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_invoice_transitions_total",
				Help: "Invoice status transitions",
			},
			[]string{"from", "to"},
		),
		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_payments_total",
				Help: "Recorded payment attempts, by result",
			},
			[]string{"result"},
		),
		TenantsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_billing_tenants_processed_total",
				Help: "Tenants handled by automatic billing runs, by outcome",
			},
			[]string{"outcome"},
		),
		BillingRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterline_billing_runs_total",
				Help: "Automatic billing runs, by result",
			},
			[]string{"result"},
		),
		BillingRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meterline_billing_run_duration_seconds",
				Help:    "Duration of automatic billing runs",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		),
		BillingLastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meterline_billing_last_run_timestamp_seconds",
				Help: "Unix time the last billing run finished",
			},
		),
		OverdueSweepsMarkedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meterline_overdue_invoices_marked_total",
				Help: "Invoices moved to overdue by sweeps",
			},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meterline_db_connections_open",
			Help: "Open database connections on the primary",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meterline_db_connections_in_use",
			Help: "Database connections currently in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meterline_db_connections_idle",
			Help: "Idle database connections",
		}),
		DBWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meterline_db_connections_wait_count",
			Help: "Total number of connections waited for",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.InvoicesCreatedTotal,
		m.InvoiceTransitionsTotal,
		m.PaymentsTotal,
		m.TenantsProcessedTotal,
		m.BillingRunsTotal,
		m.BillingRunDuration,
		m.BillingLastRunTimestamp,
		m.OverdueSweepsMarkedTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// InvoiceCreated counts a new invoice
func (m *Metrics) InvoiceCreated(invoiceType string) {
	m.InvoicesCreatedTotal.WithLabelValues(invoiceType).Inc()
}

// InvoiceTransitioned counts a status change
func (m *Metrics) InvoiceTransitioned(from, to string) {
	m.InvoiceTransitionsTotal.WithLabelValues(from, to).Inc()
	if to == "overdue" {
		m.OverdueSweepsMarkedTotal.Inc()
	}
}

// PaymentRecorded counts a payment attempt
func (m *Metrics) PaymentRecorded(result string) {
	m.PaymentsTotal.WithLabelValues(result).Inc()
}

// TenantProcessed counts one tenant outcome of a billing run
func (m *Metrics) TenantProcessed(outcome string) {
	m.TenantsProcessedTotal.WithLabelValues(outcome).Inc()
}

// RunFinished records a billing run. Runs refused by the lock carry no duration.
func (m *Metrics) RunFinished(result string, duration time.Duration) {
	m.BillingRunsTotal.WithLabelValues(result).Inc()
	if duration > 0 {
		m.BillingRunDuration.Observe(duration.Seconds())
	}
	m.BillingLastRunTimestamp.SetToCurrentTime()
}

// UpdateDBStats copies pool statistics into the database gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux route template so ids do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests. Register it with
// router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in Prometheus text format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
