package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/money"
	"github.com/platinummonkey/meterline/pkg/observability"
	"github.com/platinummonkey/meterline/pkg/tenants"
)

func TestBillingErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", money.NewValidationError("amount", "must be positive"), http.StatusBadRequest, CodeValidation},
		{"wrapped validation", fmt.Errorf("failed to create invoice: %w", money.NewValidationError("items", "required")), http.StatusBadRequest, CodeValidation},
		{"invoice not found", billing.ErrInvoiceNotFound, http.StatusNotFound, CodeNotFound},
		{"tenant not found", tenants.ErrTenantNotFound, http.StatusNotFound, CodeNotFound},
		{"transition", &billing.TransitionError{InvoiceID: 4, From: billing.InvoiceStatusPaid, Action: "send"}, http.StatusConflict, CodeInvalidTransition},
		{"cancelled", billing.ErrInvoiceCancelled, http.StatusConflict, CodeInvoiceCancelled},
		{"duplicate", billing.ErrDuplicateInvoice, http.StatusConflict, CodeDuplicateInvoice},
		{"run in progress", fmt.Errorf("%w: 2025-01", billing.ErrRunInProgress), http.StatusConflict, CodeRunInProgress},
		{"overpayment", &billing.OverpaymentError{InvoiceID: 1, Total: "120.00", AlreadyPaid: "100.00", Attempted: "50.00"}, http.StatusUnprocessableEntity, CodeOverpayment},
		{"numbering exhausted", billing.ErrNumberingExhausted, http.StatusServiceUnavailable, CodeNumberingExhausted},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := BillingErrorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestBillingErrorStatus_Details(t *testing.T) {
	_, resp := BillingErrorStatus(money.NewValidationError("currency", "unsupported"))
	assert.Equal(t, map[string]string{"field": "currency", "reason": "unsupported"}, resp.Details)

	_, resp = BillingErrorStatus(&billing.OverpaymentError{InvoiceID: 1, Total: "120.00", AlreadyPaid: "100.00", Attempted: "50.00"})
	assert.Equal(t, map[string]string{"total": "120.00", "already_paid": "100.00", "attempted": "50.00"}, resp.Details)

	_, resp = BillingErrorStatus(&billing.TransitionError{InvoiceID: 4, From: billing.InvoiceStatusPaid, Action: "send"})
	assert.Equal(t, "paid", resp.Details["status"])
	assert.Equal(t, "send", resp.Details["action"])
}

func TestWriteBillingError(t *testing.T) {
	t.Run("internal errors are hidden and logged", func(t *testing.T) {
		var logs bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &logs)

		r := httptest.NewRequest(http.MethodGet, "/invoices/1", nil)
		r = r.WithContext(observability.WithRequestID(r.Context(), "req-42"))
		w := httptest.NewRecorder()

		WriteBillingError(w, r, logger, "get_invoice", errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "internal server error", resp.Error)
		assert.Equal(t, "req-42", resp.RequestID)
		assert.Contains(t, logs.String(), "pq: connection refused")
		assert.Contains(t, logs.String(), `"operation":"get_invoice"`)
	})

	t.Run("domain errors are returned as is", func(t *testing.T) {
		var logs bytes.Buffer
		logger := observability.NewLogger(observability.InfoLevel, &logs)
		w := httptest.NewRecorder()

		WriteBillingError(w, httptest.NewRequest(http.MethodGet, "/invoices/9", nil), logger, "get_invoice", billing.ErrInvoiceNotFound)

		assert.Equal(t, http.StatusNotFound, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "invoice not found", resp.Error)
		assert.Zero(t, logs.Len())
	})
}
