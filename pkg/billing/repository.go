package billing

import (
	"context"
	"time"
)

// Mutation is the outcome of a MutateFunc
type Mutation struct {
	// Changed marks the invoice header (status, status reason, paid_at) as modified
	Changed bool
	// Payment, when set, is inserted in the same transaction as the header change
	Payment *PaymentRecord
}

// MutateFunc applies a lifecycle change to a locked invoice in place.
// Returning an error aborts the transaction without persisting anything.
type MutateFunc func(inv *Invoice, payments []*PaymentRecord) (Mutation, error)

// SequenceSource hands out monotonically increasing invoice sequence values
type SequenceSource interface {
	NextInvoiceSequence(ctx context.Context, year int) (int64, error)
}

// SummarySource provides the read-only projection used for statistics
type SummarySource interface {
	ListInvoiceSummaries(ctx context.Context, tenantID *int64) ([]*InvoiceSummary, error)
}

// Repository is the persistence boundary for invoices, items and payments.
//
// Implementations must enforce a unique invoice number and at most one
// non-cancelled subscription invoice per (tenant, plan, period).
type Repository interface {
	SequenceSource
	SummarySource

	// CreateInvoice inserts the invoice and its items atomically and assigns ids.
	// Returns ErrDuplicateInvoice or ErrInvoiceNumberTaken on uniqueness violations.
	CreateInvoice(ctx context.Context, inv *Invoice) error

	// GetInvoice returns the invoice with its items or ErrInvoiceNotFound
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)

	ListInvoices(ctx context.Context, filter InvoiceFilter, page Page) (*PagedInvoices, error)

	// FindSubscriptionInvoice returns the non-cancelled subscription invoice for
	// the triple, or nil when there is none
	FindSubscriptionInvoice(ctx context.Context, tenantID, planID int64, period string) (*Invoice, error)

	// UpdateDraft replaces header amounts and items of a draft invoice.
	// Returns ErrInvalidTransition when the invoice is no longer a draft.
	UpdateDraft(ctx context.Context, inv *Invoice) error

	// DeleteInvoice hard-deletes a draft or cancelled invoice without payment
	// records. It reports false when the row did not qualify.
	DeleteInvoice(ctx context.Context, id int64) (bool, error)

	// MutateInvoice locks the invoice, loads its payments, runs fn and persists
	// the result in a single transaction
	MutateInvoice(ctx context.Context, id int64, fn MutateFunc) (*Invoice, error)

	ListPayments(ctx context.Context, invoiceID int64) ([]*PaymentRecord, error)

	// ListOverdueCandidates returns ids of sent invoices due before now
	ListOverdueCandidates(ctx context.Context, now time.Time) ([]int64, error)
}
