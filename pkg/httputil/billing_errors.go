package httputil

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/observability"
	"github.com/platinummonkey/meterline/pkg/tenants"
)

// Error codes returned in ErrorResponse.Code
const (
	CodeValidation         = "validation_failed"
	CodeNotFound           = "not_found"
	CodeInvalidTransition  = "invalid_transition"
	CodeInvoiceCancelled   = "invoice_cancelled"
	CodeDuplicateInvoice   = "duplicate_invoice"
	CodeRunInProgress      = "run_in_progress"
	CodeOverpayment        = "overpayment_rejected"
	CodeNumberingExhausted = "numbering_exhausted"
	CodeInternal           = "internal"
)

// BillingErrorStatus maps a billing error onto an HTTP status and error body
func BillingErrorStatus(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *billing.ValidationError
	var transitionErr *billing.TransitionError
	var overpaymentErr *billing.OverpaymentError

	switch {
	case errors.As(err, &validationErr):
		resp.Code = CodeValidation
		resp.Details = map[string]string{"field": validationErr.Field, "reason": validationErr.Reason}
		return http.StatusBadRequest, resp
	case errors.Is(err, billing.ErrValidation):
		resp.Code = CodeValidation
		return http.StatusBadRequest, resp
	case errors.Is(err, billing.ErrInvoiceNotFound),
		errors.Is(err, tenants.ErrTenantNotFound),
		errors.Is(err, tenants.ErrPlanNotFound):
		resp.Code = CodeNotFound
		return http.StatusNotFound, resp
	case errors.As(err, &overpaymentErr):
		resp.Code = CodeOverpayment
		resp.Details = map[string]string{
			"total":        overpaymentErr.Total,
			"already_paid": overpaymentErr.AlreadyPaid,
			"attempted":    overpaymentErr.Attempted,
		}
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, billing.ErrOverpaymentRejected):
		resp.Code = CodeOverpayment
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, billing.ErrInvoiceCancelled):
		resp.Code = CodeInvoiceCancelled
		return http.StatusConflict, resp
	case errors.As(err, &transitionErr):
		resp.Code = CodeInvalidTransition
		resp.Details = map[string]string{"status": string(transitionErr.From), "action": transitionErr.Action}
		return http.StatusConflict, resp
	case errors.Is(err, billing.ErrInvalidTransition):
		resp.Code = CodeInvalidTransition
		return http.StatusConflict, resp
	case errors.Is(err, billing.ErrDuplicateInvoice):
		resp.Code = CodeDuplicateInvoice
		return http.StatusConflict, resp
	case errors.Is(err, billing.ErrRunInProgress):
		resp.Code = CodeRunInProgress
		return http.StatusConflict, resp
	case errors.Is(err, billing.ErrNumberingExhausted):
		resp.Code = CodeNumberingExhausted
		return http.StatusServiceUnavailable, resp
	}

	return http.StatusInternalServerError, ErrorResponse{
		Error: "internal server error",
		Code:  CodeInternal,
	}
}

// WriteBillingError writes err with its mapped status. Unmapped errors are
// logged and replaced with a generic message.
func WriteBillingError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, op string, err error) {
	status, resp := BillingErrorStatus(err)
	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(map[string]interface{}{
			"operation":  op,
			"request_id": observability.GetRequestID(r.Context()),
		}).Error("billing request failed")
	}
	WriteErrorResponse(w, r, status, resp)
}
