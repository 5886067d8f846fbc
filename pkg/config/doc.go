// Package config loads meterline configuration.
//
// # Overview
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file named by METERLINE_CONFIG_FILE, and METERLINE_*
// environment variables. The result is validated before it is returned.
//
// # Environment
//
// Server:
//
//	METERLINE_HOST="0.0.0.0"
//	METERLINE_PORT="8080"
//	METERLINE_HEALTH_PORT="9090"
//	METERLINE_SHUTDOWN_TIMEOUT="30s"
//
// Storage:
//
//	METERLINE_DATABASE_URL="postgres://localhost/meterline?sslmode=disable"
//	METERLINE_DATABASE_REPLICA_URLS="postgres://replica-1/meterline,postgres://replica-2/meterline"
//	METERLINE_REDIS_URL="redis://localhost:6379/0"
//	METERLINE_S3_BUCKET="meterline-invoices"
//
// Billing:
//
//	METERLINE_INVOICE_PREFIX="INV"
//	METERLINE_TAX_RATE="20"
//	METERLINE_PAYMENT_TERM_DAYS="30"
//	METERLINE_SCHEDULER_CONCURRENCY="1"
//	METERLINE_BILLING_SCHEDULE="0 2 1 * *"
//	METERLINE_OVERDUE_SCHEDULE="15 * * * *"
//
// Observability:
//
//	METERLINE_LOG_LEVEL="info"
//	METERLINE_OTEL_ENABLED="true"
//	METERLINE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	sched, _ := cfg.Billing.SchedulerConfig()
//
// # Related Packages
//
//   - pkg/storage/postgres: consumes the database, Redis and archive sections
//   - pkg/billing: consumes the billing section
package config
