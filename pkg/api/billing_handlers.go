package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/httputil"
	"github.com/platinummonkey/meterline/pkg/observability"
)

// BillingHandlers exposes billing.Service over HTTP
type BillingHandlers struct {
	service billing.Service
	logger  *observability.Logger
	now     func() time.Time
}

// NewBillingHandlers creates a new BillingHandlers
func NewBillingHandlers(service billing.Service, logger *observability.Logger) *BillingHandlers {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &BillingHandlers{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// RegisterRoutes registers billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	// Invoices
	router.HandleFunc("/invoices", h.ListInvoices).Methods(http.MethodGet)
	router.HandleFunc("/invoices", h.CreateInvoice).Methods(http.MethodPost)
	router.HandleFunc("/invoices/{id}", h.GetInvoice).Methods(http.MethodGet)
	router.HandleFunc("/invoices/{id}", h.UpdateInvoice).Methods(http.MethodPut)
	router.HandleFunc("/invoices/{id}", h.DeleteInvoice).Methods(http.MethodDelete)

	// Lifecycle
	router.HandleFunc("/invoices/{id}/send", h.SendInvoice).Methods(http.MethodPost)
	router.HandleFunc("/invoices/{id}/cancel", h.CancelInvoice).Methods(http.MethodPost)
	router.HandleFunc("/invoices/{id}/dispute", h.DisputeInvoice).Methods(http.MethodPost)
	router.HandleFunc("/invoices/{id}/dispute/resolve", h.ResolveDispute).Methods(http.MethodPost)

	// Payments
	router.HandleFunc("/invoices/{id}/payments", h.RecordPayment).Methods(http.MethodPost)
	router.HandleFunc("/invoices/{id}/payments", h.ListPayments).Methods(http.MethodGet)

	// Reporting and batch
	router.HandleFunc("/billing/statistics", h.GetStatistics).Methods(http.MethodGet)
	router.HandleFunc("/billing/runs", h.RunBilling).Methods(http.MethodPost)
	router.HandleFunc("/billing/overdue/evaluate", h.EvaluateOverdue).Methods(http.MethodPost)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type resolveDisputeRequest struct {
	Outcome billing.DisputeOutcome `json:"outcome"`
}

// CreateInvoice handles POST /invoices
func (h *BillingHandlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req billing.CreateInvoiceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	invoice, err := h.service.CreateInvoice(r.Context(), &req)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "create_invoice", err)
		return
	}
	httputil.WriteCreated(w, invoice)
}

// GetInvoice handles GET /invoices/{id}
func (h *BillingHandlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invoice, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "get_invoice", err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// ListInvoices handles GET /invoices
func (h *BillingHandlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	filter, page, err := parseInvoiceQuery(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.ListInvoices(r.Context(), filter, page)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "list_invoices", err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func parseInvoiceQuery(r *http.Request) (billing.InvoiceFilter, billing.Page, error) {
	var filter billing.InvoiceFilter
	var page billing.Page
	var err error

	if filter.TenantID, err = httputil.ParseQueryInt64Ptr(r, "tenant_id"); err != nil {
		return filter, page, err
	}
	if filter.DueBefore, err = httputil.ParseQueryTime(r, "due_before"); err != nil {
		return filter, page, err
	}
	filter.Status = billing.InvoiceStatus(httputil.ParseQueryString(r, "status", ""))
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, page, fmt.Errorf("unknown status %q", filter.Status)
	}
	filter.Type = billing.InvoiceType(httputil.ParseQueryString(r, "type", ""))
	if filter.Type != "" && !filter.Type.Valid() {
		return filter, page, fmt.Errorf("unknown invoice type %q", filter.Type)
	}
	filter.BillingPeriod = httputil.ParseQueryString(r, "billing_period", "")

	if page.Number, err = httputil.ParseQueryInt(r, "page", 1); err != nil {
		return filter, page, err
	}
	if page.Size, err = httputil.ParseQueryInt(r, "page_size", billing.DefaultPageSize); err != nil {
		return filter, page, err
	}
	return filter, page.Normalize(), nil
}

// UpdateInvoice handles PUT /invoices/{id}
func (h *BillingHandlers) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req billing.UpdateInvoiceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	invoice, err := h.service.UpdateInvoice(r.Context(), id, &req)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "update_invoice", err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// DeleteInvoice handles DELETE /invoices/{id}. Invoices that cannot be
// removed are cancelled and returned with 200.
func (h *BillingHandlers) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	result, err := h.service.DeleteInvoice(r.Context(), id)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "delete_invoice", err)
		return
	}
	if result.Deleted {
		httputil.WriteNoContent(w)
		return
	}
	httputil.WriteSuccess(w, result)
}

// SendInvoice handles POST /invoices/{id}/send
func (h *BillingHandlers) SendInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	invoice, err := h.service.SendInvoice(r.Context(), id)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "send_invoice", err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// CancelInvoice handles POST /invoices/{id}/cancel. The body is optional.
func (h *BillingHandlers) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	invoice, err := h.service.CancelInvoice(r.Context(), id, req.Reason)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "cancel_invoice", err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// DisputeInvoice handles POST /invoices/{id}/dispute
func (h *BillingHandlers) DisputeInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	invoice, err := h.service.DisputeInvoice(r.Context(), id, req.Reason)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "dispute_invoice", err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// ResolveDispute handles POST /invoices/{id}/dispute/resolve
func (h *BillingHandlers) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req resolveDisputeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	invoice, err := h.service.ResolveDispute(r.Context(), id, req.Outcome)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "resolve_dispute", err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// RecordPayment handles POST /invoices/{id}/payments
func (h *BillingHandlers) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req billing.RecordPaymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	payment, err := h.service.RecordPayment(r.Context(), id, &req)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "record_payment", err)
		return
	}
	httputil.WriteCreated(w, payment)
}

// ListPayments handles GET /invoices/{id}/payments
func (h *BillingHandlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	payments, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "list_payments", err)
		return
	}
	if payments == nil {
		payments = []*billing.PaymentRecord{}
	}
	httputil.WriteSuccess(w, payments)
}

// GetStatistics handles GET /billing/statistics
func (h *BillingHandlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	tenantID, err := httputil.ParseQueryInt64Ptr(r, "tenant_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.service.GetStatistics(r.Context(), tenantID)
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "get_statistics", err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// RunBilling handles POST /billing/runs, triggering an automatic billing run
func (h *BillingHandlers) RunBilling(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RunAutomaticBilling(r.Context())
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "run_billing", err)
		return
	}
	h.logger.WithFields(map[string]interface{}{
		"run_id":  report.RunID,
		"created": report.Created,
		"failed":  report.Failed,
	}).Info("billing run triggered over HTTP")
	httputil.WriteSuccess(w, report)
}

// EvaluateOverdue handles POST /billing/overdue/evaluate
func (h *BillingHandlers) EvaluateOverdue(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.SweepOverdue(r.Context(), h.now().UTC())
	if err != nil {
		httputil.WriteBillingError(w, r, h.logger, "evaluate_overdue", err)
		return
	}
	httputil.WriteSuccess(w, report)
}
