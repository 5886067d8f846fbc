package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/meterline/pkg/billing"
)

var tracer = otel.Tracer("meterline/storage/postgres")

const (
	uniqueViolation = "23505"

	invoiceNumberConstraint      = "invoices_invoice_number_key"
	subscriptionPeriodConstraint = "invoices_subscription_period_key"
)

const invoiceColumns = `
	id, invoice_number, tenant_id, subscription_plan_id, billing_period,
	invoice_date, due_date, currency, tax_rate, net_amount, tax_amount,
	total_amount, status, type, status_reason, created_by, paid_at,
	created_at, updated_at`

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// InvoiceRepository implements billing.Repository on PostgreSQL. Writes and
// lifecycle reads go to the primary; statistics read from a replica.
type InvoiceRepository struct {
	cm *ConnectionManager
}

// NewInvoiceRepository creates a repository over the given connections
func NewInvoiceRepository(cm *ConnectionManager) *InvoiceRepository {
	return &InvoiceRepository{cm: cm}
}

var _ billing.Repository = (*InvoiceRepository)(nil)

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "postgresql"), attribute.String("db.operation", op))
	return tracer.Start(ctx, "postgres."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// mapUniqueViolation turns unique index violations into billing sentinels
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case invoiceNumberConstraint:
		return billing.ErrInvoiceNumberTaken
	case subscriptionPeriodConstraint:
		return billing.ErrDuplicateInvoice
	}
	return err
}

func scanInvoice(row rowScanner) (*billing.Invoice, error) {
	var (
		inv       billing.Invoice
		planID    sql.NullInt64
		createdBy sql.NullInt64
		paidAt    sql.NullTime
		status    string
		invType   string
	)
	err := row.Scan(
		&inv.ID,
		&inv.InvoiceNumber,
		&inv.TenantID,
		&planID,
		&inv.BillingPeriod,
		&inv.InvoiceDate,
		&inv.DueDate,
		&inv.Currency,
		&inv.TaxRate,
		&inv.NetAmount,
		&inv.TaxAmount,
		&inv.TotalAmount,
		&status,
		&invType,
		&inv.StatusReason,
		&createdBy,
		&paidAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Status = billing.InvoiceStatus(status)
	inv.Type = billing.InvoiceType(invType)
	if planID.Valid {
		id := planID.Int64
		inv.SubscriptionPlanID = &id
	}
	if createdBy.Valid {
		id := createdBy.Int64
		inv.CreatedBy = &id
	}
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		inv.PaidAt = &at
	}
	return &inv, nil
}

func loadItems(ctx context.Context, q queryer, invoiceID int64) ([]*billing.InvoiceItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, invoice_id, description, quantity, unit_price,
		       net_amount, tax_amount, total_amount, resource_type
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	items := []*billing.InvoiceItem{}
	for rows.Next() {
		var item billing.InvoiceItem
		if err := rows.Scan(
			&item.ID,
			&item.InvoiceID,
			&item.Description,
			&item.Quantity,
			&item.UnitPrice,
			&item.NetAmount,
			&item.TaxAmount,
			&item.TotalAmount,
			&item.ResourceType,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func insertItems(ctx context.Context, tx *sql.Tx, inv *billing.Invoice) error {
	query := `
		INSERT INTO invoice_items (
			invoice_id, position, description, quantity, unit_price,
			net_amount, tax_amount, total_amount, resource_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	for i, item := range inv.Items {
		err := tx.QueryRowContext(ctx, query,
			inv.ID,
			i,
			item.Description,
			item.Quantity,
			item.UnitPrice,
			item.NetAmount,
			item.TaxAmount,
			item.TotalAmount,
			item.ResourceType,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to insert invoice item %d: %w", i, err)
		}
		item.InvoiceID = inv.ID
	}
	return nil
}

func loadPayments(ctx context.Context, q queryer, invoiceID int64) ([]*billing.PaymentRecord, error) {
	query := `
		SELECT id, invoice_id, amount, currency, method, status,
		       external_reference, recorded_by, paid_at, created_at, updated_at
		FROM payment_records
		WHERE invoice_id = $1
		ORDER BY id
	`
	rows, err := q.QueryContext(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	payments := []*billing.PaymentRecord{}
	for rows.Next() {
		var (
			p          billing.PaymentRecord
			status     string
			recordedBy sql.NullInt64
			paidAt     sql.NullTime
		)
		if err := rows.Scan(
			&p.ID,
			&p.InvoiceID,
			&p.Amount,
			&p.Currency,
			&p.Method,
			&status,
			&p.ExternalReference,
			&recordedBy,
			&paidAt,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Status = billing.PaymentStatus(status)
		if recordedBy.Valid {
			id := recordedBy.Int64
			p.RecordedBy = &id
		}
		if paidAt.Valid {
			at := paidAt.Time.UTC()
			p.PaidAt = &at
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

// NextInvoiceSequence increments and returns the per-year counter
func (r *InvoiceRepository) NextInvoiceSequence(ctx context.Context, year int) (int64, error) {
	ctx, span := startSpan(ctx, "next_invoice_sequence", attribute.Int("invoice.year", year))
	var err error
	defer func() { endSpan(span, err) }()

	var next int64
	err = r.cm.Primary().QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (year, last_value)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value
	`, year).Scan(&next)
	if err != nil {
		err = fmt.Errorf("failed to advance invoice sequence for %d: %w", year, err)
		return 0, err
	}
	return next, nil
}

// CreateInvoice inserts the invoice and its items in one transaction
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *billing.Invoice) error {
	ctx, span := startSpan(ctx, "create_invoice",
		attribute.Int64("tenant.id", inv.TenantID),
		attribute.String("invoice.number", inv.InvoiceNumber))
	var err error
	defer func() { endSpan(span, err) }()

	err = r.createInvoice(ctx, inv)
	return err
}

func (r *InvoiceRepository) createInvoice(ctx context.Context, inv *billing.Invoice) error {
	tx, err := r.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoices (
			invoice_number, tenant_id, subscription_plan_id, billing_period,
			invoice_date, due_date, currency, tax_rate, net_amount, tax_amount,
			total_amount, status, type, status_reason, created_by, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at
	`,
		inv.InvoiceNumber,
		inv.TenantID,
		inv.SubscriptionPlanID,
		inv.BillingPeriod,
		inv.InvoiceDate,
		inv.DueDate,
		inv.Currency,
		inv.TaxRate,
		inv.NetAmount,
		inv.TaxAmount,
		inv.TotalAmount,
		string(inv.Status),
		string(inv.Type),
		inv.StatusReason,
		inv.CreatedBy,
		inv.PaidAt,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	if err := insertItems(ctx, tx, inv); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetInvoice loads an invoice with its items
func (r *InvoiceRepository) GetInvoice(ctx context.Context, id int64) (*billing.Invoice, error) {
	ctx, span := startSpan(ctx, "get_invoice", attribute.Int64("invoice.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	db := r.cm.Primary()
	inv, err := scanInvoice(db.QueryRowContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", id))
	if err == sql.ErrNoRows {
		err = billing.ErrInvoiceNotFound
		return nil, err
	} else if err != nil {
		err = fmt.Errorf("failed to get invoice: %w", err)
		return nil, err
	}

	inv.Items, err = loadItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// buildFilter renders the WHERE clause for an InvoiceFilter
func buildFilter(filter billing.InvoiceFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.TenantID != nil {
		add("tenant_id = $%d", *filter.TenantID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.BillingPeriod != "" {
		add("billing_period = $%d", filter.BillingPeriod)
	}
	if filter.DueBefore != nil {
		add("due_date < $%d", *filter.DueBefore)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListInvoices returns one page of matching invoices, newest first, without items
func (r *InvoiceRepository) ListInvoices(ctx context.Context, filter billing.InvoiceFilter, page billing.Page) (*billing.PagedInvoices, error) {
	page = page.Normalize()
	ctx, span := startSpan(ctx, "list_invoices",
		attribute.Int("page.number", page.Number),
		attribute.Int("page.size", page.Size))
	var err error
	defer func() { endSpan(span, err) }()

	db := r.cm.Primary()
	where, args := buildFilter(filter)

	var total int
	if err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM invoices"+where, args...).Scan(&total); err != nil {
		err = fmt.Errorf("failed to count invoices: %w", err)
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM invoices%s ORDER BY invoice_date DESC, id DESC LIMIT $%d OFFSET $%d",
		invoiceColumns, where, len(args)+1, len(args)+2)
	rows, err := db.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		err = fmt.Errorf("failed to list invoices: %w", err)
		return nil, err
	}
	defer rows.Close()

	result := &billing.PagedInvoices{
		Invoices:   []*billing.Invoice{},
		Page:       page.Number,
		PageSize:   page.Size,
		TotalCount: total,
	}
	for rows.Next() {
		inv, scanErr := scanInvoice(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan invoice: %w", scanErr)
			return nil, err
		}
		result.Invoices = append(result.Invoices, inv)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindSubscriptionInvoice returns the live subscription invoice for the
// tenant, plan and period, or nil when there is none
func (r *InvoiceRepository) FindSubscriptionInvoice(ctx context.Context, tenantID, planID int64, period string) (*billing.Invoice, error) {
	ctx, span := startSpan(ctx, "find_subscription_invoice",
		attribute.Int64("tenant.id", tenantID),
		attribute.Int64("plan.id", planID),
		attribute.String("billing.period", period))
	var err error
	defer func() { endSpan(span, err) }()

	db := r.cm.Primary()
	inv, err := scanInvoice(db.QueryRowContext(ctx, "SELECT "+invoiceColumns+`
		FROM invoices
		WHERE tenant_id = $1 AND subscription_plan_id = $2 AND billing_period = $3
		  AND type = 'subscription' AND status <> 'cancelled'
		LIMIT 1`, tenantID, planID, period))
	if err == sql.ErrNoRows {
		err = nil
		return nil, nil
	} else if err != nil {
		err = fmt.Errorf("failed to find subscription invoice: %w", err)
		return nil, err
	}

	inv.Items, err = loadItems(ctx, db, inv.ID)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// lockStatus locks the invoice row and returns its status
func lockStatus(ctx context.Context, tx *sql.Tx, id int64) (billing.InvoiceStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM invoices WHERE id = $1 FOR UPDATE", id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", billing.ErrInvoiceNotFound
	} else if err != nil {
		return "", fmt.Errorf("failed to lock invoice: %w", err)
	}
	return billing.InvoiceStatus(status), nil
}

// UpdateDraft replaces the editable fields and items of a draft invoice
func (r *InvoiceRepository) UpdateDraft(ctx context.Context, inv *billing.Invoice) error {
	ctx, span := startSpan(ctx, "update_draft", attribute.Int64("invoice.id", inv.ID))
	var err error
	defer func() { endSpan(span, err) }()

	err = r.updateDraft(ctx, inv)
	return err
}

func (r *InvoiceRepository) updateDraft(ctx context.Context, inv *billing.Invoice) error {
	tx, err := r.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := lockStatus(ctx, tx, inv.ID)
	if err != nil {
		return err
	}
	if status != billing.InvoiceStatusDraft {
		return billing.ErrInvalidTransition
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE invoices
		SET billing_period = $2, due_date = $3, tax_rate = $4,
		    net_amount = $5, tax_amount = $6, total_amount = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`,
		inv.ID,
		inv.BillingPeriod,
		inv.DueDate,
		inv.TaxRate,
		inv.NetAmount,
		inv.TaxAmount,
		inv.TotalAmount,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to update invoice: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM invoice_items WHERE invoice_id = $1", inv.ID); err != nil {
		return fmt.Errorf("failed to clear invoice items: %w", err)
	}
	if err := insertItems(ctx, tx, inv); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteInvoice removes a draft or cancelled invoice that has no payments.
// It reports false when the invoice exists but may not be removed.
func (r *InvoiceRepository) DeleteInvoice(ctx context.Context, id int64) (bool, error) {
	ctx, span := startSpan(ctx, "delete_invoice", attribute.Int64("invoice.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	deleted, err := r.deleteInvoice(ctx, id)
	span.SetAttributes(attribute.Bool("invoice.deleted", deleted))
	return deleted, err
}

func (r *InvoiceRepository) deleteInvoice(ctx context.Context, id int64) (bool, error) {
	tx, err := r.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := lockStatus(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if status != billing.InvoiceStatusDraft && status != billing.InvoiceStatusCancelled {
		return false, nil
	}

	var payments int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM payment_records WHERE invoice_id = $1", id).Scan(&payments); err != nil {
		return false, fmt.Errorf("failed to count payments: %w", err)
	}
	if payments > 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM invoices WHERE id = $1", id); err != nil {
		return false, fmt.Errorf("failed to delete invoice: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// MutateInvoice locks the invoice row, hands the invoice and its payments to
// fn and persists the resulting payment and status change atomically
func (r *InvoiceRepository) MutateInvoice(ctx context.Context, id int64, fn billing.MutateFunc) (*billing.Invoice, error) {
	ctx, span := startSpan(ctx, "mutate_invoice", attribute.Int64("invoice.id", id))
	var err error
	defer func() { endSpan(span, err) }()

	inv, err := r.mutateInvoice(ctx, id, fn)
	return inv, err
}

func (r *InvoiceRepository) mutateInvoice(ctx context.Context, id int64, fn billing.MutateFunc) (*billing.Invoice, error) {
	tx, err := r.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := scanInvoice(tx.QueryRowContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = $1 FOR UPDATE", id))
	if err == sql.ErrNoRows {
		return nil, billing.ErrInvoiceNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to lock invoice: %w", err)
	}

	if inv.Items, err = loadItems(ctx, tx, id); err != nil {
		return nil, err
	}
	payments, err := loadPayments(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	mutation, err := fn(inv, payments)
	if err != nil {
		return nil, err
	}

	if p := mutation.Payment; p != nil {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO payment_records (
				invoice_id, amount, currency, method, status,
				external_reference, recorded_by, paid_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`,
			id,
			p.Amount,
			p.Currency,
			p.Method,
			string(p.Status),
			p.ExternalReference,
			p.RecordedBy,
			p.PaidAt,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert payment: %w", err)
		}
		p.InvoiceID = id
	}

	if mutation.Changed {
		err = tx.QueryRowContext(ctx, `
			UPDATE invoices
			SET status = $2, status_reason = $3, paid_at = $4, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`,
			id,
			string(inv.Status),
			inv.StatusReason,
			inv.PaidAt,
		).Scan(&inv.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to update invoice status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inv, nil
}

// ListPayments returns the invoice's payments in insertion order
func (r *InvoiceRepository) ListPayments(ctx context.Context, invoiceID int64) ([]*billing.PaymentRecord, error) {
	ctx, span := startSpan(ctx, "list_payments", attribute.Int64("invoice.id", invoiceID))
	var err error
	defer func() { endSpan(span, err) }()

	db := r.cm.Primary()
	var exists bool
	if err = db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)", invoiceID).Scan(&exists); err != nil {
		err = fmt.Errorf("failed to check invoice: %w", err)
		return nil, err
	}
	if !exists {
		err = billing.ErrInvoiceNotFound
		return nil, err
	}

	payments, err := loadPayments(ctx, db, invoiceID)
	return payments, err
}

// ListOverdueCandidates returns ids of sent invoices whose due date has passed
func (r *InvoiceRepository) ListOverdueCandidates(ctx context.Context, now time.Time) ([]int64, error) {
	ctx, span := startSpan(ctx, "list_overdue_candidates")
	var err error
	defer func() { endSpan(span, err) }()

	rows, err := r.cm.Primary().QueryContext(ctx, `
		SELECT id FROM invoices
		WHERE status = 'sent' AND due_date < $1
		ORDER BY id
	`, now)
	if err != nil {
		err = fmt.Errorf("failed to list overdue candidates: %w", err)
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			err = fmt.Errorf("failed to scan invoice id: %w", err)
			return nil, err
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	return ids, err
}

// ListInvoiceSummaries projects invoices for statistics. It reads from a
// replica, so very recent writes may be missing.
func (r *InvoiceRepository) ListInvoiceSummaries(ctx context.Context, tenantID *int64) ([]*billing.InvoiceSummary, error) {
	ctx, span := startSpan(ctx, "list_invoice_summaries")
	var err error
	defer func() { endSpan(span, err) }()

	query := "SELECT status, currency, total_amount, invoice_date, paid_at FROM invoices"
	var args []interface{}
	if tenantID != nil {
		query += " WHERE tenant_id = $1"
		args = append(args, *tenantID)
	}

	rows, err := r.cm.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to list invoice summaries: %w", err)
		return nil, err
	}
	defer rows.Close()

	var summaries []*billing.InvoiceSummary
	for rows.Next() {
		var (
			s      billing.InvoiceSummary
			status string
			paidAt sql.NullTime
		)
		if err = rows.Scan(&status, &s.Currency, &s.TotalAmount, &s.InvoiceDate, &paidAt); err != nil {
			err = fmt.Errorf("failed to scan invoice summary: %w", err)
			return nil, err
		}
		s.Status = billing.InvoiceStatus(status)
		if paidAt.Valid {
			at := paidAt.Time.UTC()
			s.PaidAt = &at
		}
		summaries = append(summaries, &s)
	}
	err = rows.Err()
	return summaries, err
}
