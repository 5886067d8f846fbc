// Package app assembles the meterline runtime shared by the API server and
// the billing scheduler.
//
// # Overview
//
// New opens the configured PostgreSQL primary and replicas, the optional Redis
// and S3 archive, and the OpenTelemetry exporters, then calls Assemble to wire
// them into a billing.Service:
//
//   - tenant directory on the primary, behind a run-scoped Redis plan cache when Redis is set
//   - Redis run lock, or an in-process lock without Redis
//   - log notifier, plus the S3 invoice archive and signed webhooks when configured
//   - Prometheus and OpenTelemetry billing recorders
//
// # Usage
//
//	rt, err := app.New(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	rt.Start(ctx)
//	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
//	rt.RegisterShutdown(sm)
//
// # Related Packages
//
//   - pkg/config: configuration consumed here
//   - pkg/billing: the assembled service
//   - pkg/storage/postgres: repository, Redis and S3 adapters
package app
