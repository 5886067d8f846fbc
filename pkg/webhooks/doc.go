// Package webhooks delivers invoice.issued events to HTTP endpoints.
//
// # Overview
//
// Notifier implements billing.Notifier. When an invoice is issued it POSTs a
// JSON Event whose data is the invoice to every configured endpoint. Transient
// failures (network errors, 5xx, 408, 429) are retried with exponential
// backoff inside the notification timeout; other 4xx responses are final.
// Every delivery is recorded in a bounded in-memory DeliveryLogStore.
//
// # Usage
//
//	n, err := webhooks.NewNotifier(webhooks.Config{
//		Endpoints: []webhooks.Endpoint{{URL: "https://erp.example.com/hooks", Secret: secret}},
//	}, logger)
//	notifier := billing.MultiNotifier{billing.NewLogNotifier(logger), n}
//
// Verify signature (receiver side):
//
//	sig := r.Header.Get(webhooks.HeaderSignature)
//	if !webhooks.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retry Policy
//
// Exponential backoff: 1s, 2s, 4s, 8s
// Max attempts: 5
// Timeout per attempt: 10s
//
// # Related Packages
//
//   - pkg/billing: Notifier contract
//   - pkg/async: runs notifiers off the request path
package webhooks
