// Package async runs background side effects without letting them crash or
// block the caller.
//
// # Overview
//
// Billing operations publish side effects (issued-invoice notifications,
// archive uploads) after their state change has committed. Those effects must
// never roll back or fail the operation that triggered them, so they run in
// goroutines with panic recovery, a per-task timeout and error logging.
//
// # Key Types
//
// SafeGo: fire-and-forget execution with panic recovery and a timeout
//
//	async.SafeGo(ctx, 5*time.Second, "invoice archive", logger, func(ctx context.Context) error {
//		return archiver.InvoiceIssued(ctx, inv)
//	})
//
// Dispatcher: the same guarantees plus in-flight tracking, so a process can
// drain outstanding tasks on shutdown
//
//	d := async.NewDispatcher(logger, 10*time.Second)
//	d.Go(ctx, "notify", fn)
//	_ = d.Wait(shutdownCtx)
//
// Tasks are detached from the caller's cancellation: an HTTP request that
// finishes, or a billing run that is interrupted, does not abort a
// notification that is already under way.
//
// # Related Packages
//
//   - pkg/billing: dispatches InvoiceIssued notifications
//   - pkg/storage/postgres: S3 archiver invoked through the dispatcher
package async
