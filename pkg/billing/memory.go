package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository with the same uniqueness rules
// as the PostgreSQL schema. All operations are serialised by a single mutex.
type MemoryRepository struct {
	mu        sync.Mutex
	invoices  map[int64]*Invoice
	payments  map[int64][]*PaymentRecord
	sequences map[int]int64
	nextID    int64
	nextItem  int64
	nextPay   int64
	now       func() time.Time
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		invoices:  make(map[int64]*Invoice),
		payments:  make(map[int64][]*PaymentRecord),
		sequences: make(map[int]int64),
		now:       time.Now,
	}
}

// NextInvoiceSequence increments the per-year sequence
func (r *MemoryRepository) NextInvoiceSequence(ctx context.Context, year int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences[year]++
	return r.sequences[year], nil
}

// SetSequence forces the last issued value for a year
func (r *MemoryRepository) SetSequence(year int, last int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences[year] = last
}

func (r *MemoryRepository) checkUnique(inv *Invoice) error {
	for _, existing := range r.invoices {
		if existing.ID == inv.ID {
			continue
		}
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return ErrInvoiceNumberTaken
		}
		if inv.IsSubscription() && existing.IsSubscription() &&
			existing.Status != InvoiceStatusCancelled && inv.Status != InvoiceStatusCancelled &&
			existing.TenantID == inv.TenantID &&
			*existing.SubscriptionPlanID == *inv.SubscriptionPlanID &&
			existing.BillingPeriod == inv.BillingPeriod {
			return ErrDuplicateInvoice
		}
	}
	return nil
}

// CreateInvoice stores a copy of inv and assigns ids and timestamps
func (r *MemoryRepository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkUnique(inv); err != nil {
		return err
	}

	r.nextID++
	now := r.now().UTC()
	inv.ID = r.nextID
	inv.CreatedAt = now
	inv.UpdatedAt = now
	for _, item := range inv.Items {
		r.nextItem++
		item.ID = r.nextItem
		item.InvoiceID = inv.ID
	}

	r.invoices[inv.ID] = inv.Clone()
	return nil
}

// GetInvoice returns a copy of the stored invoice
func (r *MemoryRepository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	return inv.Clone(), nil
}

func matchesFilter(inv *Invoice, filter InvoiceFilter) bool {
	if filter.TenantID != nil && inv.TenantID != *filter.TenantID {
		return false
	}
	if filter.Status != "" && inv.Status != filter.Status {
		return false
	}
	if filter.Type != "" && inv.Type != filter.Type {
		return false
	}
	if filter.BillingPeriod != "" && inv.BillingPeriod != filter.BillingPeriod {
		return false
	}
	if filter.DueBefore != nil && !inv.DueDate.Before(*filter.DueBefore) {
		return false
	}
	return true
}

// ListInvoices returns matching invoices, newest first
func (r *MemoryRepository) ListInvoices(ctx context.Context, filter InvoiceFilter, page Page) (*PagedInvoices, error) {
	page = page.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Invoice
	for _, inv := range r.invoices {
		if matchesFilter(inv, filter) {
			matched = append(matched, inv)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].InvoiceDate.Equal(matched[j].InvoiceDate) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].InvoiceDate.After(matched[j].InvoiceDate)
	})

	result := &PagedInvoices{
		Invoices:   []*Invoice{},
		Page:       page.Number,
		PageSize:   page.Size,
		TotalCount: len(matched),
	}
	for i := page.Offset(); i < len(matched) && i < page.Offset()+page.Size; i++ {
		inv := matched[i].Clone()
		inv.Items = nil
		result.Invoices = append(result.Invoices, inv)
	}
	return result, nil
}

// FindSubscriptionInvoice returns the live subscription invoice for the triple
func (r *MemoryRepository) FindSubscriptionInvoice(ctx context.Context, tenantID, planID int64, period string) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, inv := range r.invoices {
		if inv.IsSubscription() && inv.Status != InvoiceStatusCancelled &&
			inv.TenantID == tenantID && *inv.SubscriptionPlanID == planID && inv.BillingPeriod == period {
			return inv.Clone(), nil
		}
	}
	return nil, nil
}

// UpdateDraft replaces a draft invoice's amounts and items
func (r *MemoryRepository) UpdateDraft(ctx context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.invoices[inv.ID]
	if !ok {
		return ErrInvoiceNotFound
	}
	if existing.Status != InvoiceStatusDraft {
		return ErrInvalidTransition
	}
	if err := r.checkUnique(inv); err != nil {
		return err
	}

	for _, item := range inv.Items {
		r.nextItem++
		item.ID = r.nextItem
		item.InvoiceID = inv.ID
	}
	inv.UpdatedAt = r.now().UTC()
	inv.CreatedAt = existing.CreatedAt
	r.invoices[inv.ID] = inv.Clone()
	return nil
}

// DeleteInvoice removes a draft or cancelled invoice without payments
func (r *MemoryRepository) DeleteInvoice(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invoices[id]
	if !ok {
		return false, ErrInvoiceNotFound
	}
	if inv.Status != InvoiceStatusDraft && inv.Status != InvoiceStatusCancelled {
		return false, nil
	}
	if len(r.payments[id]) > 0 {
		return false, nil
	}
	delete(r.invoices, id)
	return true, nil
}

// MutateInvoice runs fn against a copy and stores the result only if fn succeeds
func (r *MemoryRepository) MutateInvoice(ctx context.Context, id int64, fn MutateFunc) (*Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}

	working := stored.Clone()
	payments := make([]*PaymentRecord, len(r.payments[id]))
	for i, p := range r.payments[id] {
		pc := *p
		payments[i] = &pc
	}

	mutation, err := fn(working, payments)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	if mutation.Payment != nil {
		r.nextPay++
		mutation.Payment.ID = r.nextPay
		mutation.Payment.InvoiceID = id
		mutation.Payment.CreatedAt = now
		mutation.Payment.UpdatedAt = now
		pc := *mutation.Payment
		r.payments[id] = append(r.payments[id], &pc)
	}
	if mutation.Changed {
		working.UpdatedAt = now
		r.invoices[id] = working.Clone()
	}

	return r.invoices[id].Clone(), nil
}

// ListPayments returns the invoice's payments in insertion order
func (r *MemoryRepository) ListPayments(ctx context.Context, invoiceID int64) ([]*PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.invoices[invoiceID]; !ok {
		return nil, ErrInvoiceNotFound
	}
	result := make([]*PaymentRecord, 0, len(r.payments[invoiceID]))
	for _, p := range r.payments[invoiceID] {
		pc := *p
		result = append(result, &pc)
	}
	return result, nil
}

// ListOverdueCandidates returns sent invoices due before now, ordered by id
func (r *MemoryRepository) ListOverdueCandidates(ctx context.Context, now time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, inv := range r.invoices {
		if inv.Status == InvoiceStatusSent && inv.DueDate.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListInvoiceSummaries projects invoices for statistics
func (r *MemoryRepository) ListInvoiceSummaries(ctx context.Context, tenantID *int64) ([]*InvoiceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*InvoiceSummary
	for _, inv := range r.invoices {
		if tenantID != nil && inv.TenantID != *tenantID {
			continue
		}
		summary := &InvoiceSummary{
			Status:      inv.Status,
			Currency:    inv.Currency,
			TotalAmount: inv.TotalAmount,
			InvoiceDate: inv.InvoiceDate,
		}
		if inv.PaidAt != nil {
			at := *inv.PaidAt
			summary.PaidAt = &at
		}
		result = append(result, summary)
	}
	return result, nil
}
