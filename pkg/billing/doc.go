// Package billing implements invoicing for subscription tenants: pricing,
// numbering, the invoice lifecycle, payment reconciliation, automatic billing
// runs and reporting statistics.
//
// # Overview
//
// Invoices are created either by the Scheduler, once per tenant, plan and
// billing period, or manually through Service.CreateInvoice. Every status
// change goes through the LifecycleManager, which locks the invoice row and
// persists the new status, paid timestamp and any payment record in one
// transaction.
//
// # Lifecycle
//
//	draft ──► sent ──► paid ──► disputed
//	  │        │  ▲      ▲         │
//	  │        ▼  │      └─────────┤
//	  │     overdue ─────► paid    ▼
//	  └──────► cancelled ◄─── (draft, sent, disputed)
//
// Payments are rejected on cancelled invoices and whenever the sum of
// completed payments would exceed the invoice total. An invoice becomes paid
// as soon as completed payments reach its total.
//
// # Billing Periods
//
// Each plan carries a billing cycle. Monthly plans are billed per calendar
// month ("2025-01"), quarterly plans per quarter ("2025-Q1") and annual plans
// per year ("2025"). The period label is part of the duplicate guard, so a
// re-run for the same period creates nothing new.
//
// # Usage Example
//
//	svc := billing.NewService(billing.Dependencies{
//		Directory:  tenants.NewPostgresDirectory(db),
//		Repository: postgres.NewInvoiceRepository(conn),
//		Notifier:   billing.NewLogNotifier(logger),
//		Logger:     logger,
//	}, billing.ServiceConfig{Scheduler: billing.DefaultSchedulerConfig()})
//
//	report, err := svc.RunAutomaticBilling(ctx)
//	fmt.Printf("created %d, skipped %d, failed %d\n",
//		report.Created, report.SkippedDuplicate, report.Failed)
//
//	payment, err := svc.RecordPayment(ctx, invoiceID, &billing.RecordPaymentRequest{
//		Amount: decimal.RequireFromString("239.99"),
//		Method: "bank_transfer",
//	})
//
// # Related Packages
//
//   - pkg/money: Rounding and tax arithmetic
//   - pkg/tenants: Tenant and plan lookups
//   - pkg/storage/postgres: PostgreSQL repository, Redis run lock and S3 archive
//   - pkg/api: HTTP handlers
package billing
