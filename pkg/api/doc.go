// Package api implements the meterline REST API.
//
// # Overview
//
// BillingHandlers exposes billing.Service under /api/v1:
//
//	GET    /invoices                      list with tenant_id, status, type, billing_period, due_before, page, page_size
//	POST   /invoices                      create a manual draft invoice
//	GET    /invoices/{id}                 invoice with items
//	PUT    /invoices/{id}                 edit a draft
//	DELETE /invoices/{id}                 delete, or cancel when the invoice cannot be removed
//	POST   /invoices/{id}/send            draft to sent
//	POST   /invoices/{id}/cancel          {"reason": "..."}
//	POST   /invoices/{id}/dispute         {"reason": "..."}
//	POST   /invoices/{id}/dispute/resolve {"outcome": "paid"|"cancelled"}
//	POST   /invoices/{id}/payments        record a payment
//	GET    /invoices/{id}/payments        payment history
//	GET    /billing/statistics            rollup, optionally per tenant_id
//	POST   /billing/runs                  trigger automatic billing
//	POST   /billing/overdue/evaluate      mark past-due sent invoices overdue
//
// Errors are JSON bodies produced by httputil.WriteBillingError.
//
// # Usage
//
//	server := api.NewServer(api.ServerOptions{
//		Service:  svc,
//		Logger:   logger,
//		Metrics:  metrics,
//		Registry: registry,
//		Health:   checker,
//	})
//	http.ListenAndServe(":8080", server)
//
// # Related Packages
//
//   - pkg/billing: the service behind every handler
//   - pkg/httputil: JSON helpers, middleware and error mapping
package api
