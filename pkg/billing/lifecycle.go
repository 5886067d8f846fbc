package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/meterline/pkg/money"
	"github.com/platinummonkey/meterline/pkg/observability"
)

var allowedTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceStatusDraft:    {InvoiceStatusSent, InvoiceStatusCancelled},
	InvoiceStatusSent:     {InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusDisputed},
	InvoiceStatusOverdue:  {InvoiceStatusPaid},
	InvoiceStatusPaid:     {InvoiceStatusDisputed},
	InvoiceStatusDisputed: {InvoiceStatusPaid, InvoiceStatusCancelled},
}

// CanTransition reports whether an invoice may move from one status to another
func CanTransition(from, to InvoiceStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// LifecycleManager applies status transitions under a row lock
type LifecycleManager struct {
	repo    Repository
	metrics Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewLifecycleManager creates a LifecycleManager
func NewLifecycleManager(repo Repository, metrics Metrics, logger *observability.Logger) *LifecycleManager {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LifecycleManager{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

func (m *LifecycleManager) transition(ctx context.Context, id int64, fn func(inv *Invoice, payments []*PaymentRecord, now time.Time) (Mutation, error)) (*Invoice, error) {
	var from InvoiceStatus
	now := m.now().UTC()

	inv, err := m.repo.MutateInvoice(ctx, id, func(inv *Invoice, payments []*PaymentRecord) (Mutation, error) {
		from = inv.Status
		return fn(inv, payments, now)
	})
	if err != nil {
		return nil, err
	}

	if inv.Status != from {
		m.metrics.InvoiceTransitioned(string(from), string(inv.Status))
		withContextIDs(ctx, m.logger).WithFields(map[string]interface{}{
			"invoice_id": inv.ID,
			"tenant_id":  inv.TenantID,
			"from":       string(from),
			"to":         string(inv.Status),
		}).Info("invoice status changed")
	}
	return inv, nil
}

// MarkSent issues a draft invoice
func (m *LifecycleManager) MarkSent(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := m.transition(ctx, id, func(inv *Invoice, _ []*PaymentRecord, _ time.Time) (Mutation, error) {
		return markSent(inv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send invoice %d: %w", id, err)
	}
	return inv, nil
}

// ApplyPayment records payment against the invoice and settles it when the
// completed total reaches the invoice total. The record is inserted in the
// same transaction as any status change.
func (m *LifecycleManager) ApplyPayment(ctx context.Context, id int64, payment *PaymentRecord) (*Invoice, error) {
	inv, err := m.transition(ctx, id, func(inv *Invoice, payments []*PaymentRecord, now time.Time) (Mutation, error) {
		return applyPayment(inv, payments, payment, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply payment to invoice %d: %w", id, err)
	}
	return inv, nil
}

// EvaluateOverdue moves a past-due sent invoice to overdue. It is a no-op for
// any other invoice, so repeated evaluation is safe.
func (m *LifecycleManager) EvaluateOverdue(ctx context.Context, id int64, now time.Time) (*Invoice, error) {
	inv, err := m.transition(ctx, id, func(inv *Invoice, payments []*PaymentRecord, _ time.Time) (Mutation, error) {
		return evaluateOverdue(inv, payments, now), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate invoice %d: %w", id, err)
	}
	return inv, nil
}

// Cancel cancels a draft or sent invoice that has no completed payments
func (m *LifecycleManager) Cancel(ctx context.Context, id int64, reason string) (*Invoice, error) {
	inv, err := m.transition(ctx, id, func(inv *Invoice, payments []*PaymentRecord, _ time.Time) (Mutation, error) {
		return cancel(inv, payments, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel invoice %d: %w", id, err)
	}
	return inv, nil
}

// Dispute flags a sent or paid invoice as contested
func (m *LifecycleManager) Dispute(ctx context.Context, id int64, reason string) (*Invoice, error) {
	inv, err := m.transition(ctx, id, func(inv *Invoice, _ []*PaymentRecord, _ time.Time) (Mutation, error) {
		return dispute(inv, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dispute invoice %d: %w", id, err)
	}
	return inv, nil
}

// ResolveDispute closes a dispute as paid or cancelled
func (m *LifecycleManager) ResolveDispute(ctx context.Context, id int64, outcome DisputeOutcome) (*Invoice, error) {
	inv, err := m.transition(ctx, id, func(inv *Invoice, _ []*PaymentRecord, now time.Time) (Mutation, error) {
		return resolveDispute(inv, outcome, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dispute on invoice %d: %w", id, err)
	}
	return inv, nil
}

// SweepReport summarises an overdue sweep
type SweepReport struct {
	EvaluatedAt   time.Time `json:"evaluated_at"`
	Candidates    int       `json:"candidates"`
	MarkedOverdue int       `json:"marked_overdue"`
	Failed        int       `json:"failed"`
}

// SweepOverdue evaluates every sent invoice that was due before now.
// Individual failures are logged and counted.
func (m *LifecycleManager) SweepOverdue(ctx context.Context, now time.Time) (*SweepReport, error) {
	ids, err := m.repo.ListOverdueCandidates(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue candidates: %w", err)
	}

	report := &SweepReport{EvaluatedAt: now.UTC(), Candidates: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		inv, err := m.EvaluateOverdue(ctx, id, now)
		if err != nil {
			report.Failed++
			m.logger.WithError(err).WithField("invoice_id", id).Warn("overdue evaluation failed")
			continue
		}
		if inv.Status == InvoiceStatusOverdue {
			report.MarkedOverdue++
		}
	}
	return report, nil
}

// withContextIDs annotates logger with the request and run IDs carried by ctx
func withContextIDs(ctx context.Context, logger *observability.Logger) *observability.Logger {
	if id := observability.GetRequestID(ctx); id != "" {
		logger = logger.WithField("request_id", id)
	}
	if id := observability.GetRunID(ctx); id != "" {
		logger = logger.WithField("run_id", id)
	}
	return logger
}

func markSent(inv *Invoice) (Mutation, error) {
	if inv.Status != InvoiceStatusDraft {
		return Mutation{}, &TransitionError{InvoiceID: inv.ID, From: inv.Status, Action: "send"}
	}
	inv.Status = InvoiceStatusSent
	return Mutation{Changed: true}, nil
}

func applyPayment(inv *Invoice, payments []*PaymentRecord, payment *PaymentRecord, now time.Time) (Mutation, error) {
	if inv.Status == InvoiceStatusCancelled {
		return Mutation{}, ErrInvoiceCancelled
	}
	if payment.Currency == "" {
		payment.Currency = inv.Currency
	}
	if !strings.EqualFold(payment.Currency, inv.Currency) {
		return Mutation{}, newValidationError("currency", fmt.Sprintf("payment in %s for invoice in %s", payment.Currency, inv.Currency))
	}
	// amounts below half a minor unit round to zero
	payment.Amount = money.Round(payment.Amount, inv.Currency)
	if !payment.Amount.IsPositive() {
		return Mutation{}, newValidationError("amount", "must be positive")
	}

	if payment.Status != PaymentStatusCompleted {
		if inv.Status == InvoiceStatusDraft {
			return Mutation{}, &TransitionError{InvoiceID: inv.ID, From: inv.Status, Action: "record payment for"}
		}
		return Mutation{Payment: payment}, nil
	}

	alreadyPaid := CompletedTotal(payments)
	paid := alreadyPaid.Add(payment.Amount)
	if paid.GreaterThan(inv.TotalAmount) {
		return Mutation{}, &OverpaymentError{
			InvoiceID:   inv.ID,
			Total:       inv.TotalAmount.StringFixed(money.MinorUnits(inv.Currency)),
			AlreadyPaid: alreadyPaid.StringFixed(money.MinorUnits(inv.Currency)),
			Attempted:   payment.Amount.StringFixed(money.MinorUnits(inv.Currency)),
		}
	}
	if inv.Status == InvoiceStatusDraft {
		return Mutation{}, &TransitionError{InvoiceID: inv.ID, From: inv.Status, Action: "apply payment to"}
	}

	if payment.PaidAt == nil {
		at := now
		payment.PaidAt = &at
	}
	mutation := Mutation{Payment: payment}

	if paid.GreaterThanOrEqual(inv.TotalAmount) && CanTransition(inv.Status, InvoiceStatusPaid) {
		inv.Status = InvoiceStatusPaid
		paidAt := *payment.PaidAt
		inv.PaidAt = &paidAt
		inv.StatusReason = ""
		mutation.Changed = true
	}
	return mutation, nil
}

func evaluateOverdue(inv *Invoice, payments []*PaymentRecord, now time.Time) Mutation {
	if inv.Status != InvoiceStatusSent || !now.After(inv.DueDate) {
		return Mutation{}
	}
	if CompletedTotal(payments).GreaterThanOrEqual(inv.TotalAmount) {
		return Mutation{}
	}
	inv.Status = InvoiceStatusOverdue
	return Mutation{Changed: true}
}

func cancel(inv *Invoice, payments []*PaymentRecord, reason string) (Mutation, error) {
	if inv.Status != InvoiceStatusDraft && inv.Status != InvoiceStatusSent {
		return Mutation{}, &TransitionError{InvoiceID: inv.ID, From: inv.Status, Action: "cancel"}
	}
	if !CompletedTotal(payments).IsZero() {
		return Mutation{}, &TransitionError{InvoiceID: inv.ID, From: inv.Status, Action: "cancel partially paid"}
	}
	inv.Status = InvoiceStatusCancelled
	inv.StatusReason = reason
	return Mutation{Changed: true}, nil
}

func dispute(inv *Invoice, reason string) (Mutation, error) {
	if !CanTransition(inv.Status, InvoiceStatusDisputed) {
		return Mutation{}, &TransitionError{InvoiceID: inv.ID, From: inv.Status, Action: "dispute"}
	}
	if strings.TrimSpace(reason) == "" {
		return Mutation{}, newValidationError("reason", "is required")
	}
	inv.Status = InvoiceStatusDisputed
	inv.StatusReason = reason
	return Mutation{Changed: true}, nil
}

func resolveDispute(inv *Invoice, outcome DisputeOutcome, now time.Time) (Mutation, error) {
	if inv.Status != InvoiceStatusDisputed {
		return Mutation{}, &TransitionError{InvoiceID: inv.ID, From: inv.Status, Action: "resolve dispute on"}
	}
	switch outcome {
	case DisputeOutcomePaid:
		inv.Status = InvoiceStatusPaid
		if inv.PaidAt == nil {
			at := now
			inv.PaidAt = &at
		}
	case DisputeOutcomeCancelled:
		inv.Status = InvoiceStatusCancelled
	default:
		return Mutation{}, newValidationError("outcome", fmt.Sprintf("unknown dispute outcome %q", outcome))
	}
	return Mutation{Changed: true}, nil
}
