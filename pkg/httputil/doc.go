// Package httputil provides the JSON request and response helpers and the
// HTTP middleware shared by the meterline API.
//
// # Overview
//
// Handlers decode bodies with ParseJSON, read path and query parameters with
// the Parse* helpers and answer through WriteJSON or WriteError. Every error
// body has the same shape:
//
//	{"error": "invoice not found", "code": "not_found", "request_id": "..."}
//
// # Request Parsing
//
//	var req billing.RecordPaymentRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	page, err := httputil.ParseQueryInt(r, "page", 1)
//	tenantID, err := httputil.ParseQueryInt64Ptr(r, "tenant_id")
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//		httputil.ContentTypeMiddleware,
//	)(router)
//
// RequestIDMiddleware stores the X-Request-ID header (or a generated UUID) in
// the request context, where observability.FromContext and the error writers
// pick it up.
//
// # Related Packages
//
//   - pkg/api: Billing HTTP handlers built on these helpers
//   - pkg/observability: Logger and request id context keys
package httputil
