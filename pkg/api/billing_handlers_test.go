package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/meterline/pkg/billing"
	"github.com/platinummonkey/meterline/pkg/httputil"
	"github.com/platinummonkey/meterline/pkg/money"
)

// mockBillingService implements billing.Service for testing
type mockBillingService struct {
	createInvoiceFunc  func(ctx context.Context, req *billing.CreateInvoiceRequest) (*billing.Invoice, error)
	getInvoiceFunc     func(ctx context.Context, id int64) (*billing.Invoice, error)
	listInvoicesFunc   func(ctx context.Context, filter billing.InvoiceFilter, page billing.Page) (*billing.PagedInvoices, error)
	updateInvoiceFunc  func(ctx context.Context, id int64, req *billing.UpdateInvoiceRequest) (*billing.Invoice, error)
	deleteInvoiceFunc  func(ctx context.Context, id int64) (*billing.DeleteResult, error)
	sendInvoiceFunc    func(ctx context.Context, id int64) (*billing.Invoice, error)
	cancelInvoiceFunc  func(ctx context.Context, id int64, reason string) (*billing.Invoice, error)
	disputeInvoiceFunc func(ctx context.Context, id int64, reason string) (*billing.Invoice, error)
	resolveDisputeFunc func(ctx context.Context, id int64, outcome billing.DisputeOutcome) (*billing.Invoice, error)
	sweepOverdueFunc   func(ctx context.Context, now time.Time) (*billing.SweepReport, error)
	recordPaymentFunc  func(ctx context.Context, invoiceID int64, req *billing.RecordPaymentRequest) (*billing.PaymentRecord, error)
	listPaymentsFunc   func(ctx context.Context, invoiceID int64) ([]*billing.PaymentRecord, error)
	getStatisticsFunc  func(ctx context.Context, tenantID *int64) (*billing.BillingStatistics, error)
	runBillingFunc     func(ctx context.Context) (*billing.RunReport, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockBillingService) CreateInvoice(ctx context.Context, req *billing.CreateInvoiceRequest) (*billing.Invoice, error) {
	if m.createInvoiceFunc != nil {
		return m.createInvoiceFunc(ctx, req)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) GetInvoice(ctx context.Context, id int64) (*billing.Invoice, error) {
	if m.getInvoiceFunc != nil {
		return m.getInvoiceFunc(ctx, id)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) ListInvoices(ctx context.Context, filter billing.InvoiceFilter, page billing.Page) (*billing.PagedInvoices, error) {
	if m.listInvoicesFunc != nil {
		return m.listInvoicesFunc(ctx, filter, page)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) UpdateInvoice(ctx context.Context, id int64, req *billing.UpdateInvoiceRequest) (*billing.Invoice, error) {
	if m.updateInvoiceFunc != nil {
		return m.updateInvoiceFunc(ctx, id, req)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) DeleteInvoice(ctx context.Context, id int64) (*billing.DeleteResult, error) {
	if m.deleteInvoiceFunc != nil {
		return m.deleteInvoiceFunc(ctx, id)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) SendInvoice(ctx context.Context, id int64) (*billing.Invoice, error) {
	if m.sendInvoiceFunc != nil {
		return m.sendInvoiceFunc(ctx, id)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) CancelInvoice(ctx context.Context, id int64, reason string) (*billing.Invoice, error) {
	if m.cancelInvoiceFunc != nil {
		return m.cancelInvoiceFunc(ctx, id, reason)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) DisputeInvoice(ctx context.Context, id int64, reason string) (*billing.Invoice, error) {
	if m.disputeInvoiceFunc != nil {
		return m.disputeInvoiceFunc(ctx, id, reason)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) ResolveDispute(ctx context.Context, id int64, outcome billing.DisputeOutcome) (*billing.Invoice, error) {
	if m.resolveDisputeFunc != nil {
		return m.resolveDisputeFunc(ctx, id, outcome)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) SweepOverdue(ctx context.Context, now time.Time) (*billing.SweepReport, error) {
	if m.sweepOverdueFunc != nil {
		return m.sweepOverdueFunc(ctx, now)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) RecordPayment(ctx context.Context, invoiceID int64, req *billing.RecordPaymentRequest) (*billing.PaymentRecord, error) {
	if m.recordPaymentFunc != nil {
		return m.recordPaymentFunc(ctx, invoiceID, req)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) ListPayments(ctx context.Context, invoiceID int64) ([]*billing.PaymentRecord, error) {
	if m.listPaymentsFunc != nil {
		return m.listPaymentsFunc(ctx, invoiceID)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) GetStatistics(ctx context.Context, tenantID *int64) (*billing.BillingStatistics, error) {
	if m.getStatisticsFunc != nil {
		return m.getStatisticsFunc(ctx, tenantID)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) RunAutomaticBilling(ctx context.Context) (*billing.RunReport, error) {
	if m.runBillingFunc != nil {
		return m.runBillingFunc(ctx)
	}
	return nil, errNotImplemented
}

func newTestRouter(svc billing.Service) *mux.Router {
	router := mux.NewRouter()
	NewBillingHandlers(svc, nil).RegisterRoutes(router)
	return router
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func sampleInvoice(id int64, status billing.InvoiceStatus) *billing.Invoice {
	return &billing.Invoice{
		ID:            id,
		InvoiceNumber: "INV-2025-000001",
		TenantID:      7,
		Type:          billing.InvoiceTypeService,
		Status:        status,
		BillingPeriod: "2025-01",
		Currency:      "USD",
		NetAmount:     decimal.RequireFromString("100.00"),
		TaxAmount:     decimal.RequireFromString("20.00"),
		TotalAmount:   decimal.RequireFromString("120.00"),
	}
}

func TestCreateInvoice(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &mockBillingService{
			createInvoiceFunc: func(ctx context.Context, req *billing.CreateInvoiceRequest) (*billing.Invoice, error) {
				assert.Equal(t, int64(7), req.TenantID)
				require.Len(t, req.Items, 1)
				assert.True(t, req.Items[0].UnitPrice.Equal(decimal.RequireFromString("50.00")))
				return sampleInvoice(1, billing.InvoiceStatusDraft), nil
			},
		}

		w := doRequest(t, newTestRouter(svc), http.MethodPost, "/invoices", map[string]interface{}{
			"tenant_id":      7,
			"type":           "service",
			"billing_period": "2025-01",
			"currency":       "USD",
			"items": []map[string]interface{}{
				{"description": "Consulting", "quantity": "2", "unit_price": "50.00"},
			},
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		var inv billing.Invoice
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inv))
		assert.Equal(t, "INV-2025-000001", inv.InvoiceNumber)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		w := doRequest(t, newTestRouter(&mockBillingService{}), http.MethodPost, "/invoices", map[string]interface{}{
			"tenant_id": 7,
			"discount":  "10",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		w := doRequest(t, newTestRouter(&mockBillingService{}), http.MethodPost, "/invoices", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "request body is required", decodeError(t, w).Error)
	})

	t.Run("validation error", func(t *testing.T) {
		svc := &mockBillingService{
			createInvoiceFunc: func(ctx context.Context, req *billing.CreateInvoiceRequest) (*billing.Invoice, error) {
				return nil, money.NewValidationError("items", "at least one item is required")
			},
		}
		w := doRequest(t, newTestRouter(svc), http.MethodPost, "/invoices", map[string]interface{}{"tenant_id": 7})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, httputil.CodeValidation, resp.Code)
		assert.Equal(t, "items", resp.Details["field"])
	})

	t.Run("duplicate subscription invoice", func(t *testing.T) {
		svc := &mockBillingService{
			createInvoiceFunc: func(ctx context.Context, req *billing.CreateInvoiceRequest) (*billing.Invoice, error) {
				return nil, billing.ErrDuplicateInvoice
			},
		}
		w := doRequest(t, newTestRouter(svc), http.MethodPost, "/invoices", map[string]interface{}{"tenant_id": 7})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestGetInvoice(t *testing.T) {
	svc := &mockBillingService{
		getInvoiceFunc: func(ctx context.Context, id int64) (*billing.Invoice, error) {
			if id == 1 {
				return sampleInvoice(1, billing.InvoiceStatusSent), nil
			}
			return nil, billing.ErrInvoiceNotFound
		},
	}
	router := newTestRouter(svc)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"found", "/invoices/1", http.StatusOK},
		{"not found", "/invoices/2", http.StatusNotFound},
		{"non numeric id", "/invoices/abc", http.StatusBadRequest},
		{"zero id", "/invoices/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestListInvoices(t *testing.T) {
	t.Run("parses filter and page", func(t *testing.T) {
		svc := &mockBillingService{
			listInvoicesFunc: func(ctx context.Context, filter billing.InvoiceFilter, page billing.Page) (*billing.PagedInvoices, error) {
				require.NotNil(t, filter.TenantID)
				assert.Equal(t, int64(7), *filter.TenantID)
				assert.Equal(t, billing.InvoiceStatusOverdue, filter.Status)
				assert.Equal(t, billing.InvoiceTypeSubscription, filter.Type)
				assert.Equal(t, "2025-01", filter.BillingPeriod)
				require.NotNil(t, filter.DueBefore)
				assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *filter.DueBefore)
				assert.Equal(t, billing.Page{Number: 2, Size: 10}, page)
				return &billing.PagedInvoices{Invoices: []*billing.Invoice{sampleInvoice(3, billing.InvoiceStatusOverdue)}, Page: 2, PageSize: 10, TotalCount: 11}, nil
			},
		}

		w := doRequest(t, newTestRouter(svc), http.MethodGet,
			"/invoices?tenant_id=7&status=overdue&type=subscription&billing_period=2025-01&due_before=2025-03-01&page=2&page_size=10", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var result billing.PagedInvoices
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, 11, result.TotalCount)
		assert.Len(t, result.Invoices, 1)
	})

	t.Run("defaults and clamping", func(t *testing.T) {
		svc := &mockBillingService{
			listInvoicesFunc: func(ctx context.Context, filter billing.InvoiceFilter, page billing.Page) (*billing.PagedInvoices, error) {
				assert.Nil(t, filter.TenantID)
				assert.Equal(t, billing.MaxPageSize, page.Size)
				assert.Equal(t, 1, page.Number)
				return &billing.PagedInvoices{Invoices: []*billing.Invoice{}}, nil
			},
		}
		w := doRequest(t, newTestRouter(svc), http.MethodGet, "/invoices?page_size=5000", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("huge page number is capped", func(t *testing.T) {
		svc := &mockBillingService{
			listInvoicesFunc: func(ctx context.Context, filter billing.InvoiceFilter, page billing.Page) (*billing.PagedInvoices, error) {
				assert.Equal(t, billing.MaxPageNumber, page.Number)
				assert.GreaterOrEqual(t, page.Offset(), 0)
				return &billing.PagedInvoices{Invoices: []*billing.Invoice{}}, nil
			},
		}
		w := doRequest(t, newTestRouter(svc), http.MethodGet, "/invoices?page=9223372036854775807", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	for _, query := range []string{"status=archived", "type=refund", "tenant_id=x", "due_before=yesterday", "page=two"} {
		t.Run("bad query "+query, func(t *testing.T) {
			w := doRequest(t, newTestRouter(&mockBillingService{}), http.MethodGet, "/invoices?"+query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestUpdateInvoice(t *testing.T) {
	svc := &mockBillingService{
		updateInvoiceFunc: func(ctx context.Context, id int64, req *billing.UpdateInvoiceRequest) (*billing.Invoice, error) {
			if id == 2 {
				return nil, &billing.TransitionError{InvoiceID: 2, From: billing.InvoiceStatusSent, Action: "update"}
			}
			require.NotNil(t, req.TaxRate)
			assert.True(t, req.TaxRate.Equal(decimal.NewFromInt(10)))
			return sampleInvoice(id, billing.InvoiceStatusDraft), nil
		},
	}
	router := newTestRouter(svc)

	w := doRequest(t, router, http.MethodPut, "/invoices/1", map[string]interface{}{"tax_rate": "10"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodPut, "/invoices/2", map[string]interface{}{"tax_rate": "10"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, httputil.CodeInvalidTransition, decodeError(t, w).Code)
}

func TestDeleteInvoice(t *testing.T) {
	svc := &mockBillingService{
		deleteInvoiceFunc: func(ctx context.Context, id int64) (*billing.DeleteResult, error) {
			switch id {
			case 1:
				return &billing.DeleteResult{Deleted: true}, nil
			case 2:
				return &billing.DeleteResult{Invoice: sampleInvoice(2, billing.InvoiceStatusCancelled)}, nil
			default:
				return nil, billing.ErrInvoiceNotFound
			}
		},
	}
	router := newTestRouter(svc)

	t.Run("hard delete", func(t *testing.T) {
		w := doRequest(t, router, http.MethodDelete, "/invoices/1", nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("cancelled instead", func(t *testing.T) {
		w := doRequest(t, router, http.MethodDelete, "/invoices/2", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		var result billing.DeleteResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.False(t, result.Deleted)
		require.NotNil(t, result.Invoice)
		assert.Equal(t, billing.InvoiceStatusCancelled, result.Invoice.Status)
	})

	t.Run("missing", func(t *testing.T) {
		w := doRequest(t, router, http.MethodDelete, "/invoices/3", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestLifecycleHandlers(t *testing.T) {
	var gotReason string
	var gotOutcome billing.DisputeOutcome
	svc := &mockBillingService{
		sendInvoiceFunc: func(ctx context.Context, id int64) (*billing.Invoice, error) {
			return sampleInvoice(id, billing.InvoiceStatusSent), nil
		},
		cancelInvoiceFunc: func(ctx context.Context, id int64, reason string) (*billing.Invoice, error) {
			gotReason = reason
			return sampleInvoice(id, billing.InvoiceStatusCancelled), nil
		},
		disputeInvoiceFunc: func(ctx context.Context, id int64, reason string) (*billing.Invoice, error) {
			gotReason = reason
			return sampleInvoice(id, billing.InvoiceStatusDisputed), nil
		},
		resolveDisputeFunc: func(ctx context.Context, id int64, outcome billing.DisputeOutcome) (*billing.Invoice, error) {
			gotOutcome = outcome
			if outcome != billing.DisputeOutcomePaid && outcome != billing.DisputeOutcomeCancelled {
				return nil, money.NewValidationError("outcome", "unknown")
			}
			return sampleInvoice(id, billing.InvoiceStatusPaid), nil
		},
	}
	router := newTestRouter(svc)

	t.Run("send", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/invoices/1/send", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("cancel with reason", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/invoices/1/cancel", map[string]string{"reason": "customer churned"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "customer churned", gotReason)
	})

	t.Run("cancel without body", func(t *testing.T) {
		gotReason = "unchanged"
		w := doRequest(t, router, http.MethodPost, "/invoices/1/cancel", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "", gotReason)
	})

	t.Run("dispute", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/invoices/1/dispute", map[string]string{"reason": "wrong seat count"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "wrong seat count", gotReason)
	})

	t.Run("resolve dispute", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/invoices/1/dispute/resolve", map[string]string{"outcome": "paid"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, billing.DisputeOutcomePaid, gotOutcome)

		w = doRequest(t, router, http.MethodPost, "/invoices/1/dispute/resolve", map[string]string{"outcome": "refunded"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLifecycleHandlers_Errors(t *testing.T) {
	svc := &mockBillingService{
		sendInvoiceFunc: func(ctx context.Context, id int64) (*billing.Invoice, error) {
			return nil, &billing.TransitionError{InvoiceID: id, From: billing.InvoiceStatusPaid, Action: "send"}
		},
		cancelInvoiceFunc: func(ctx context.Context, id int64, reason string) (*billing.Invoice, error) {
			return nil, billing.ErrInvoiceCancelled
		},
	}
	router := newTestRouter(svc)

	w := doRequest(t, router, http.MethodPost, "/invoices/5/send", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "paid", decodeError(t, w).Details["status"])

	w = doRequest(t, router, http.MethodPost, "/invoices/5/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, httputil.CodeInvoiceCancelled, decodeError(t, w).Code)
}

func TestPaymentHandlers(t *testing.T) {
	svc := &mockBillingService{
		recordPaymentFunc: func(ctx context.Context, invoiceID int64, req *billing.RecordPaymentRequest) (*billing.PaymentRecord, error) {
			if req.Amount.GreaterThan(decimal.NewFromInt(120)) {
				return nil, &billing.OverpaymentError{InvoiceID: invoiceID, Total: "120.00", AlreadyPaid: "0.00", Attempted: req.Amount.StringFixed(2)}
			}
			return &billing.PaymentRecord{ID: 9, InvoiceID: invoiceID, Amount: req.Amount, Method: req.Method, Status: billing.PaymentStatusCompleted}, nil
		},
		listPaymentsFunc: func(ctx context.Context, invoiceID int64) ([]*billing.PaymentRecord, error) {
			if invoiceID == 404 {
				return nil, billing.ErrInvoiceNotFound
			}
			return nil, nil
		},
	}
	router := newTestRouter(svc)

	t.Run("record", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/invoices/1/payments", map[string]string{"amount": "120.00", "method": "bank_transfer"})
		assert.Equal(t, http.StatusCreated, w.Code)
		var payment billing.PaymentRecord
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))
		assert.Equal(t, int64(9), payment.ID)
		assert.True(t, payment.Amount.Equal(decimal.RequireFromString("120")))
	})

	t.Run("overpayment", func(t *testing.T) {
		w := doRequest(t, router, http.MethodPost, "/invoices/1/payments", map[string]string{"amount": "150.00", "method": "card"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, httputil.CodeOverpayment, resp.Code)
		assert.Equal(t, "150.00", resp.Details["attempted"])
	})

	t.Run("list empty", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/invoices/1/payments", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("list missing invoice", func(t *testing.T) {
		w := doRequest(t, router, http.MethodGet, "/invoices/404/payments", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetStatistics(t *testing.T) {
	svc := &mockBillingService{
		getStatisticsFunc: func(ctx context.Context, tenantID *int64) (*billing.BillingStatistics, error) {
			stats := &billing.BillingStatistics{TenantID: tenantID, TotalInvoices: 3, PaidCount: 1}
			return stats, nil
		},
	}
	router := newTestRouter(svc)

	w := doRequest(t, router, http.MethodGet, "/billing/statistics?tenant_id=7", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var stats billing.BillingStatistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.NotNil(t, stats.TenantID)
	assert.Equal(t, int64(7), *stats.TenantID)
	assert.Equal(t, 3, stats.TotalInvoices)

	w = doRequest(t, router, http.MethodGet, "/billing/statistics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodGet, "/billing/statistics?tenant_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunBilling(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &mockBillingService{
			runBillingFunc: func(ctx context.Context) (*billing.RunReport, error) {
				return &billing.RunReport{RunID: "run-1", Created: 4, SkippedDuplicate: 1}, nil
			},
		}
		w := doRequest(t, newTestRouter(svc), http.MethodPost, "/billing/runs", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		var report billing.RunReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.Equal(t, 4, report.Created)
		assert.Equal(t, 1, report.SkippedDuplicate)
	})

	t.Run("already running", func(t *testing.T) {
		svc := &mockBillingService{
			runBillingFunc: func(ctx context.Context) (*billing.RunReport, error) {
				return nil, billing.ErrRunInProgress
			},
		}
		w := doRequest(t, newTestRouter(svc), http.MethodPost, "/billing/runs", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, httputil.CodeRunInProgress, decodeError(t, w).Code)
	})

	t.Run("internal error hidden", func(t *testing.T) {
		svc := &mockBillingService{
			runBillingFunc: func(ctx context.Context) (*billing.RunReport, error) {
				return nil, errors.New("pq: too many connections")
			},
		}
		w := doRequest(t, newTestRouter(svc), http.MethodPost, "/billing/runs", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "too many connections")
	})
}

func TestEvaluateOverdue(t *testing.T) {
	fixed := time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)
	svc := &mockBillingService{
		sweepOverdueFunc: func(ctx context.Context, now time.Time) (*billing.SweepReport, error) {
			assert.Equal(t, fixed, now)
			return &billing.SweepReport{EvaluatedAt: now, Candidates: 2, MarkedOverdue: 2}, nil
		},
	}
	handlers := NewBillingHandlers(svc, nil)
	handlers.now = func() time.Time { return fixed }
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	w := doRequest(t, router, http.MethodPost, "/billing/overdue/evaluate", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var report billing.SweepReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 2, report.MarkedOverdue)
}
