// Package observability provides structured logging, Prometheus and
// OpenTelemetry metrics, tracing setup, health checks and graceful shutdown
// for the meterline processes.
//
// # Structured Logging
//
// Logger writes JSON through log/slog:
//
//	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
//	logger.WithField("invoice_id", id).Info("invoice sent")
//
// Request and billing-run ids travel in the context:
//
//	ctx = observability.WithRunID(ctx, runID)
//	observability.FromContext(ctx).Info("tenant billed")
//
// # Metrics
//
// Metrics registers the meterline_* Prometheus families and implements the
// billing metrics hooks. OTelMetrics records the same events as OTLP
// instruments; MultiRecorder fans out to both:
//
//	prom := observability.NewMetrics(registry)
//	otelMetrics, _ := observability.NewOTelMetrics(nil)
//	recorder := observability.MultiRecorder{prom, otelMetrics}
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient).WithVersion(version)
//	checker.AddCheck("replicas", false, cm.HealthCheck)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Related Packages
//
//   - pkg/httputil: request id, logging and recovery middleware
//   - pkg/billing: emits the events recorded here
package observability
