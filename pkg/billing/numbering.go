package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultInvoicePrefix starts every invoice number unless configured otherwise
	DefaultInvoicePrefix = "INV"
	// DefaultNumberingAttempts bounds Assign retries on number collisions
	DefaultNumberingAttempts = 5
)

// Numberer mints invoice numbers of the form PREFIX-YYYY-NNNNNN from a
// per-year persisted sequence
type Numberer struct {
	source      SequenceSource
	prefix      string
	maxAttempts int
}

// NewNumberer creates a Numberer. An empty prefix falls back to DefaultInvoicePrefix.
func NewNumberer(source SequenceSource, prefix string) *Numberer {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultInvoicePrefix
	}
	return &Numberer{
		source:      source,
		prefix:      prefix,
		maxAttempts: DefaultNumberingAttempts,
	}
}

// Next returns the next number for the year of period. Numbers are never
// reused, even when the invoice that took one is later rolled back.
func (n *Numberer) Next(ctx context.Context, tenantID int64, period string) (string, error) {
	if !ValidPeriodLabel(period) {
		return "", newValidationError("billing_period", fmt.Sprintf("%q is not a period label", period))
	}
	year := periodYear(period)

	seq, err := n.source.NextInvoiceSequence(ctx, year)
	if err != nil {
		return "", fmt.Errorf("failed to allocate invoice sequence for tenant %d: %w", tenantID, err)
	}

	return fmt.Sprintf("%s-%04d-%06d", n.prefix, year, seq), nil
}

// Assign numbers inv and calls insert, drawing a fresh number whenever insert
// reports ErrInvoiceNumberTaken
func (n *Numberer) Assign(ctx context.Context, inv *Invoice, insert func(context.Context, *Invoice) error) error {
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		number, err := n.Next(ctx, inv.TenantID, inv.BillingPeriod)
		if err != nil {
			return err
		}
		inv.InvoiceNumber = number

		err = insert(ctx, inv)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrInvoiceNumberTaken) {
			return err
		}
	}

	inv.InvoiceNumber = ""
	return fmt.Errorf("%w after %d attempts", ErrNumberingExhausted, n.maxAttempts)
}
