package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/meterline/pkg/money"
	"github.com/platinummonkey/meterline/pkg/observability"
)

// DefaultPaymentMethod is recorded when a manual payment names no method
const DefaultPaymentMethod = "manual"

// Reconciler records manual payments against invoices
type Reconciler struct {
	repo      Repository
	lifecycle *LifecycleManager
	metrics   Metrics
	logger    *observability.Logger
	now       func() time.Time
}

// NewReconciler creates a Reconciler
func NewReconciler(repo Repository, lifecycle *LifecycleManager, metrics Metrics, logger *observability.Logger) *Reconciler {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Reconciler{
		repo:      repo,
		lifecycle: lifecycle,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordPayment stores a completed payment and applies it to the invoice in
// one transaction. Nothing is written when the payment is rejected.
func (r *Reconciler) RecordPayment(ctx context.Context, invoiceID int64, req RecordPaymentRequest) (*PaymentRecord, error) {
	if !req.Amount.IsPositive() {
		r.metrics.PaymentRecorded("invalid")
		return nil, newValidationError("amount", "must be positive")
	}

	inv, err := r.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice %d: %w", invoiceID, err)
	}
	if inv.Status == InvoiceStatusCancelled {
		r.metrics.PaymentRecorded("rejected")
		return nil, fmt.Errorf("failed to record payment on invoice %d: %w", invoiceID, ErrInvoiceCancelled)
	}
	amount := money.Round(req.Amount, inv.Currency)
	if !amount.IsPositive() {
		r.metrics.PaymentRecorded("invalid")
		return nil, newValidationError("amount", fmt.Sprintf("%s rounds to zero in %s", req.Amount.String(), inv.Currency))
	}

	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = DefaultPaymentMethod
	}
	paidAt := r.now().UTC()
	payment := &PaymentRecord{
		Amount:            amount,
		Currency:          inv.Currency,
		Method:            method,
		Status:            PaymentStatusCompleted,
		ExternalReference: req.ExternalReference,
		RecordedBy:        req.RecordedBy,
		PaidAt:            &paidAt,
	}

	updated, err := r.lifecycle.ApplyPayment(ctx, invoiceID, payment)
	if err != nil {
		switch {
		case errors.Is(err, ErrOverpaymentRejected), errors.Is(err, ErrInvoiceCancelled), errors.Is(err, ErrInvalidTransition):
			r.metrics.PaymentRecorded("rejected")
		default:
			r.metrics.PaymentRecorded("error")
		}
		return nil, err
	}

	r.metrics.PaymentRecorded("applied")
	withContextIDs(ctx, r.logger).WithFields(map[string]interface{}{
		"invoice_id": invoiceID,
		"payment_id": payment.ID,
		"amount":     payment.Amount.String(),
		"status":     string(updated.Status),
	}).Info("payment recorded")

	return payment, nil
}
