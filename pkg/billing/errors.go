package billing

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/meterline/pkg/money"
)

var (
	// ErrValidation matches every *ValidationError
	ErrValidation = money.ErrValidation

	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrInvoiceCancelled    = errors.New("invoice is cancelled")
	ErrInvalidTransition   = errors.New("invalid invoice status transition")
	ErrOverpaymentRejected = errors.New("payment exceeds outstanding invoice amount")
	ErrNumberingExhausted  = errors.New("could not allocate a unique invoice number")
	ErrDuplicateInvoice    = errors.New("subscription invoice already exists for tenant, plan and period")
	ErrRunInProgress       = errors.New("billing run already in progress for period")

	// ErrInvoiceNumberTaken is returned by repositories when the invoice number
	// collides with an existing row; the numbering service retries on it.
	ErrInvoiceNumberTaken = errors.New("invoice number already taken")
)

// ValidationError reports bad input
type ValidationError = money.ValidationError

func newValidationError(field, reason string) error {
	return money.NewValidationError(field, reason)
}

// TransitionError describes a rejected lifecycle action
type TransitionError struct {
	InvoiceID int64
	From      InvoiceStatus
	Action    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s invoice %d in status %s", e.Action, e.InvoiceID, e.From)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition)
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// OverpaymentError carries the amounts behind a rejected payment
type OverpaymentError struct {
	InvoiceID   int64
	Total       string
	AlreadyPaid string
	Attempted   string
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s on invoice %d rejected: total %s, already paid %s",
		e.Attempted, e.InvoiceID, e.Total, e.AlreadyPaid)
}

// Unwrap allows errors.Is(err, ErrOverpaymentRejected)
func (e *OverpaymentError) Unwrap() error {
	return ErrOverpaymentRejected
}
