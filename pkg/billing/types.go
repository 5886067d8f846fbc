package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the lifecycle state of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusDisputed  InvoiceStatus = "disputed"
)

// Valid reports whether s is a known status
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid,
		InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusDisputed:
		return true
	}
	return false
}

// InvoiceType represents what an invoice bills for
type InvoiceType string

const (
	InvoiceTypeSubscription InvoiceType = "subscription"
	InvoiceTypeUsage        InvoiceType = "usage"
	InvoiceTypeService      InvoiceType = "service"
)

// Valid reports whether t is a known invoice type
func (t InvoiceType) Valid() bool {
	switch t {
	case InvoiceTypeSubscription, InvoiceTypeUsage, InvoiceTypeService:
		return true
	}
	return false
}

// Invoice is a billing document owed by a tenant for a billing period
type Invoice struct {
	ID                 int64           `json:"id"`
	InvoiceNumber      string          `json:"invoice_number"`
	TenantID           int64           `json:"tenant_id"`
	SubscriptionPlanID *int64          `json:"subscription_plan_id,omitempty"`
	BillingPeriod      string          `json:"billing_period"`
	InvoiceDate        time.Time       `json:"invoice_date"`
	DueDate            time.Time       `json:"due_date"`
	Currency           string          `json:"currency"`
	TaxRate            decimal.Decimal `json:"tax_rate"`
	NetAmount          decimal.Decimal `json:"net_amount"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Status             InvoiceStatus   `json:"status"`
	Type               InvoiceType     `json:"type"`
	StatusReason       string          `json:"status_reason,omitempty"`
	CreatedBy          *int64          `json:"created_by,omitempty"`
	Items              []*InvoiceItem  `json:"items,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IsSubscription reports whether the invoice is guarded by the (tenant, plan, period) uniqueness rule
func (inv *Invoice) IsSubscription() bool {
	return inv.Type == InvoiceTypeSubscription && inv.SubscriptionPlanID != nil
}

// Clone returns a deep copy
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	c := *inv
	if inv.SubscriptionPlanID != nil {
		id := *inv.SubscriptionPlanID
		c.SubscriptionPlanID = &id
	}
	if inv.CreatedBy != nil {
		id := *inv.CreatedBy
		c.CreatedBy = &id
	}
	if inv.PaidAt != nil {
		at := *inv.PaidAt
		c.PaidAt = &at
	}
	if inv.Items != nil {
		c.Items = make([]*InvoiceItem, len(inv.Items))
		for i, item := range inv.Items {
			ic := *item
			c.Items[i] = &ic
		}
	}
	return &c
}

// InvoiceItem is one priced line of an invoice
type InvoiceItem struct {
	ID           int64           `json:"id"`
	InvoiceID    int64           `json:"invoice_id"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	ResourceType string          `json:"resource_type,omitempty"`
}

// PaymentStatus represents the settlement state of a payment record
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentRecord is an attempt to settle an invoice
type PaymentRecord struct {
	ID                int64           `json:"id"`
	InvoiceID         int64           `json:"invoice_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	Status            PaymentStatus   `json:"status"`
	ExternalReference string          `json:"external_reference,omitempty"`
	RecordedBy        *int64          `json:"recorded_by,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CompletedTotal sums the amounts of completed payments
func CompletedTotal(payments []*PaymentRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		if p.Status == PaymentStatusCompleted {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}

// InvoiceFilter narrows ListInvoices results. Zero values mean "any".
type InvoiceFilter struct {
	TenantID      *int64        `json:"tenant_id,omitempty"`
	Status        InvoiceStatus `json:"status,omitempty"`
	Type          InvoiceType   `json:"type,omitempty"`
	BillingPeriod string        `json:"billing_period,omitempty"`
	DueBefore     *time.Time    `json:"due_before,omitempty"`
}

// Page selects a window of results
type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
	// MaxPageNumber keeps Offset far from int overflow
	MaxPageNumber = 1_000_000
)

// Normalize clamps page number and size to sane values
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Number > MaxPageNumber {
		p.Number = MaxPageNumber
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the number of rows to skip
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// PagedInvoices is one page of invoices
type PagedInvoices struct {
	Invoices   []*Invoice `json:"invoices"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalCount int        `json:"total_count"`
}

// CreateInvoiceItemRequest describes a line of a manually created invoice
type CreateInvoiceItemRequest struct {
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	ResourceType string          `json:"resource_type,omitempty"`
}

// CreateInvoiceRequest represents request to create an invoice manually
type CreateInvoiceRequest struct {
	TenantID           int64                       `json:"tenant_id"`
	Type               InvoiceType                 `json:"type"`
	SubscriptionPlanID *int64                      `json:"subscription_plan_id,omitempty"`
	BillingPeriod      string                      `json:"billing_period"`
	Currency           string                      `json:"currency"`
	TaxRate            *decimal.Decimal            `json:"tax_rate,omitempty"`
	InvoiceDate        *time.Time                  `json:"invoice_date,omitempty"`
	DueDate            *time.Time                  `json:"due_date,omitempty"`
	CreatedBy          *int64                      `json:"created_by,omitempty"`
	Items              []*CreateInvoiceItemRequest `json:"items"`
}

// UpdateInvoiceRequest represents request to edit a draft invoice. Nil fields are left unchanged.
type UpdateInvoiceRequest struct {
	DueDate       *time.Time                  `json:"due_date,omitempty"`
	TaxRate       *decimal.Decimal            `json:"tax_rate,omitempty"`
	BillingPeriod *string                     `json:"billing_period,omitempty"`
	Items         []*CreateInvoiceItemRequest `json:"items,omitempty"`
}

// RecordPaymentRequest represents a manually recorded payment
type RecordPaymentRequest struct {
	Amount            decimal.Decimal `json:"amount"`
	Method            string          `json:"method"`
	ExternalReference string          `json:"external_reference,omitempty"`
	RecordedBy        *int64          `json:"recorded_by,omitempty"`
}

// DisputeOutcome is how a disputed invoice is resolved
type DisputeOutcome string

const (
	DisputeOutcomePaid      DisputeOutcome = "paid"
	DisputeOutcomeCancelled DisputeOutcome = "cancelled"
)

// BillingStatistics is a read-only rollup over persisted invoices
//
// Counts cover every currency. The top-level amounts are only filled in when
// all counted invoices share one currency, named by Currency; ByCurrency
// always carries the amounts per currency.
type BillingStatistics struct {
	TenantID             *int64               `json:"tenant_id,omitempty"`
	TotalInvoices        int                  `json:"total_invoices"`
	Currency             string               `json:"currency,omitempty"`
	TotalAmount          decimal.Decimal      `json:"total_amount"`
	AverageAmount        decimal.Decimal      `json:"average_amount"`
	PaidCount            int                  `json:"paid_count"`
	UnpaidCount          int                  `json:"unpaid_count"`
	OverdueCount         int                  `json:"overdue_count"`
	DraftCount           int                  `json:"draft_count"`
	CancelledCount       int                  `json:"cancelled_count"`
	CurrentMonthRevenue  decimal.Decimal      `json:"current_month_revenue"`
	PreviousMonthRevenue decimal.Decimal      `json:"previous_month_revenue"`
	MonthOverMonthGrowth decimal.Decimal      `json:"month_over_month_growth"`
	ByCurrency           []CurrencyStatistics `json:"by_currency"`
	GeneratedAt          time.Time            `json:"generated_at"`
}

// CurrencyStatistics holds the monetary rollups of one currency
type CurrencyStatistics struct {
	Currency             string          `json:"currency"`
	InvoiceCount         int             `json:"invoice_count"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	AverageAmount        decimal.Decimal `json:"average_amount"`
	CurrentMonthRevenue  decimal.Decimal `json:"current_month_revenue"`
	PreviousMonthRevenue decimal.Decimal `json:"previous_month_revenue"`
	MonthOverMonthGrowth decimal.Decimal `json:"month_over_month_growth"`
}

// InvoiceSummary is the projection the statistics aggregator reads
type InvoiceSummary struct {
	Status      InvoiceStatus
	Currency    string
	TotalAmount decimal.Decimal
	InvoiceDate time.Time
	PaidAt      *time.Time
}
