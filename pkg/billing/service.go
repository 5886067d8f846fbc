package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/meterline/pkg/async"
	"github.com/platinummonkey/meterline/pkg/money"
	"github.com/platinummonkey/meterline/pkg/observability"
	"github.com/platinummonkey/meterline/pkg/tenants"
)

// Service defines the billing operations exposed to the API and scheduler processes
type Service interface {
	// Invoices
	CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error)
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter, page Page) (*PagedInvoices, error)
	UpdateInvoice(ctx context.Context, id int64, req *UpdateInvoiceRequest) (*Invoice, error)
	DeleteInvoice(ctx context.Context, id int64) (*DeleteResult, error)

	// Lifecycle
	SendInvoice(ctx context.Context, id int64) (*Invoice, error)
	CancelInvoice(ctx context.Context, id int64, reason string) (*Invoice, error)
	DisputeInvoice(ctx context.Context, id int64, reason string) (*Invoice, error)
	ResolveDispute(ctx context.Context, id int64, outcome DisputeOutcome) (*Invoice, error)
	SweepOverdue(ctx context.Context, now time.Time) (*SweepReport, error)

	// Payments
	RecordPayment(ctx context.Context, invoiceID int64, req *RecordPaymentRequest) (*PaymentRecord, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]*PaymentRecord, error)

	// Reporting and batch
	GetStatistics(ctx context.Context, tenantID *int64) (*BillingStatistics, error)
	RunAutomaticBilling(ctx context.Context) (*RunReport, error)
}

// DeleteResult reports how DeleteInvoice disposed of an invoice
type DeleteResult struct {
	// Deleted is true when the invoice row was removed
	Deleted bool `json:"deleted"`
	// Invoice is the cancelled invoice when it could not be removed
	Invoice *Invoice `json:"invoice,omitempty"`
}

// ServiceConfig holds billing defaults
type ServiceConfig struct {
	InvoicePrefix string
	Scheduler     SchedulerConfig
}

// Dependencies are the collaborators of DefaultService. Only Directory and
// Repository are required.
type Dependencies struct {
	Directory  tenants.Directory
	Repository Repository
	// Summaries feeds statistics, typically a read replica. Defaults to Repository.
	Summaries  SummarySource
	RunLock    RunLock
	Notifier   Notifier
	Dispatcher *async.Dispatcher
	Metrics    Metrics
	Logger     *observability.Logger
}

// DefaultService implements Service on top of a Repository
type DefaultService struct {
	directory  tenants.Directory
	repo       Repository
	numberer   *Numberer
	lifecycle  *LifecycleManager
	reconciler *Reconciler
	scheduler  *Scheduler
	aggregator *StatisticsAggregator
	notifier   Notifier
	dispatcher *async.Dispatcher
	metrics    Metrics
	logger     *observability.Logger
	config     SchedulerConfig
	now        func() time.Time
}

// NewService wires the billing components together
func NewService(deps Dependencies, config ServiceConfig) *DefaultService {
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Summaries == nil {
		deps.Summaries = deps.Repository
	}
	if deps.RunLock == nil {
		deps.RunLock = NewLocalRunLock()
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = async.NewDispatcher(deps.Logger, 30*time.Second)
	}
	if config.Scheduler.TaxRate.IsZero() && config.Scheduler.DefaultCurrency == "" {
		config.Scheduler = DefaultSchedulerConfig()
	}

	numberer := NewNumberer(deps.Repository, config.InvoicePrefix)
	lifecycle := NewLifecycleManager(deps.Repository, deps.Metrics, deps.Logger)
	scheduler := NewScheduler(deps.Directory, deps.Repository, numberer, lifecycle, config.Scheduler,
		WithRunLock(deps.RunLock),
		WithNotifier(deps.Notifier),
		WithDispatcher(deps.Dispatcher),
		WithSchedulerMetrics(deps.Metrics),
		WithSchedulerLogger(deps.Logger),
	)

	return &DefaultService{
		directory:  deps.Directory,
		repo:       deps.Repository,
		numberer:   numberer,
		lifecycle:  lifecycle,
		reconciler: NewReconciler(deps.Repository, lifecycle, deps.Metrics, deps.Logger),
		scheduler:  scheduler,
		aggregator: NewStatisticsAggregator(deps.Summaries),
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		config:     scheduler.config,
		now:        time.Now,
	}
}

// CreateInvoice creates a draft invoice from manually supplied lines
func (s *DefaultService) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error) {
	if req == nil || req.TenantID <= 0 {
		return nil, newValidationError("tenant_id", "is required")
	}

	tenant, err := s.directory.GetTenant(ctx, req.TenantID)
	if errors.Is(err, tenants.ErrTenantNotFound) {
		return nil, newValidationError("tenant_id", fmt.Sprintf("tenant %d does not exist", req.TenantID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %d: %w", req.TenantID, err)
	}

	invType := req.Type
	if invType == "" {
		invType = InvoiceTypeService
	}
	if !invType.Valid() {
		return nil, newValidationError("type", fmt.Sprintf("unknown invoice type %q", req.Type))
	}

	var plan *tenants.PlanSummary
	if req.SubscriptionPlanID != nil {
		plan, err = s.directory.GetSubscriptionPlan(ctx, *req.SubscriptionPlanID)
		if errors.Is(err, tenants.ErrPlanNotFound) {
			return nil, newValidationError("subscription_plan_id", fmt.Sprintf("plan %d does not exist", *req.SubscriptionPlanID))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load plan %d: %w", *req.SubscriptionPlanID, err)
		}
	} else if invType == InvoiceTypeSubscription {
		return nil, newValidationError("subscription_plan_id", "is required for subscription invoices")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" && plan != nil {
		currency = plan.Currency
	}
	if currency == "" {
		currency = tenant.BillingCurrency
	}
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	invoiceDate := s.now().UTC()
	if req.InvoiceDate != nil {
		invoiceDate = req.InvoiceDate.UTC()
	}
	dueDate := invoiceDate.AddDate(0, 0, s.config.PaymentTermDays)
	if req.DueDate != nil {
		dueDate = req.DueDate.UTC()
	}
	if dueDate.Before(invoiceDate) {
		return nil, newValidationError("due_date", "must not be before the invoice date")
	}

	period := req.BillingPeriod
	if period == "" {
		cycle := tenants.BillingCycleMonthly
		if plan != nil {
			cycle = plan.Cycle()
		}
		period = PeriodFor(cycle, invoiceDate).Label
	} else if !ValidPeriodLabel(period) {
		return nil, newValidationError("billing_period", fmt.Sprintf("unrecognised period %q", period))
	}

	taxRate := s.config.TaxRate
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
	}

	items, totals, err := priceItems(req.Items, taxRate, currency)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		TenantID:      tenant.ID,
		BillingPeriod: period,
		InvoiceDate:   invoiceDate,
		DueDate:       dueDate,
		Currency:      currency,
		TaxRate:       taxRate,
		NetAmount:     totals.Net,
		TaxAmount:     totals.Tax,
		TotalAmount:   totals.Total,
		Status:        InvoiceStatusDraft,
		Type:          invType,
		CreatedBy:     req.CreatedBy,
		Items:         items,
	}
	if plan != nil {
		planID := plan.ID
		inv.SubscriptionPlanID = &planID
	}

	if err := s.numberer.Assign(ctx, inv, s.repo.CreateInvoice); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	s.metrics.InvoiceCreated(string(invType))

	withContextIDs(ctx, s.logger).WithFields(map[string]interface{}{
		"invoice_id":     inv.ID,
		"invoice_number": inv.InvoiceNumber,
		"tenant_id":      inv.TenantID,
	}).Info("invoice created")
	return inv, nil
}

// priceItems prices each line and derives invoice totals from the summed line nets
func priceItems(reqs []*CreateInvoiceItemRequest, taxRate decimal.Decimal, currency string) ([]*InvoiceItem, money.Amounts, error) {
	if err := money.ValidateTaxRate(taxRate); err != nil {
		return nil, money.Amounts{}, err
	}
	if len(reqs) == 0 {
		return nil, money.Amounts{}, newValidationError("items", "at least one item is required")
	}

	items := make([]*InvoiceItem, 0, len(reqs))
	net := decimal.Zero
	for i, r := range reqs {
		if r == nil || strings.TrimSpace(r.Description) == "" {
			return nil, money.Amounts{}, newValidationError(fmt.Sprintf("items[%d].description", i), "is required")
		}
		line, err := money.CalculateLine(r.UnitPrice, r.Quantity, taxRate, currency)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, money.Amounts{}, newValidationError(fmt.Sprintf("items[%d].%s", i, ve.Field), ve.Reason)
			}
			return nil, money.Amounts{}, err
		}
		items = append(items, &InvoiceItem{
			Description:  r.Description,
			Quantity:     r.Quantity,
			UnitPrice:    r.UnitPrice,
			NetAmount:    line.Net,
			TaxAmount:    line.Tax,
			TotalAmount:  line.Total,
			ResourceType: r.ResourceType,
		})
		net = net.Add(line.Net)
	}

	totals, err := money.Calculate(net, taxRate, currency)
	if err != nil {
		return nil, money.Amounts{}, err
	}
	return items, totals, nil
}

// GetInvoice returns an invoice with its items
func (s *DefaultService) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %d: %w", id, err)
	}
	return inv, nil
}

// ListInvoices returns a page of invoice headers
func (s *DefaultService) ListInvoices(ctx context.Context, filter InvoiceFilter, page Page) (*PagedInvoices, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, newValidationError("type", fmt.Sprintf("unknown type %q", filter.Type))
	}
	result, err := s.repo.ListInvoices(ctx, filter, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return result, nil
}

// UpdateInvoice edits a draft invoice and recomputes its amounts
func (s *DefaultService) UpdateInvoice(ctx context.Context, id int64, req *UpdateInvoiceRequest) (*Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %d: %w", id, err)
	}
	if inv.Status != InvoiceStatusDraft {
		return nil, &TransitionError{InvoiceID: id, From: inv.Status, Action: "update"}
	}
	if req == nil {
		return inv, nil
	}

	if req.DueDate != nil {
		due := req.DueDate.UTC()
		if due.Before(inv.InvoiceDate) {
			return nil, newValidationError("due_date", "must not be before the invoice date")
		}
		inv.DueDate = due
	}
	if req.BillingPeriod != nil {
		if !ValidPeriodLabel(*req.BillingPeriod) {
			return nil, newValidationError("billing_period", fmt.Sprintf("unrecognised period %q", *req.BillingPeriod))
		}
		inv.BillingPeriod = *req.BillingPeriod
	}
	if req.TaxRate != nil {
		inv.TaxRate = *req.TaxRate
	}

	lines := req.Items
	if lines == nil {
		lines = make([]*CreateInvoiceItemRequest, len(inv.Items))
		for i, item := range inv.Items {
			lines[i] = &CreateInvoiceItemRequest{
				Description:  item.Description,
				Quantity:     item.Quantity,
				UnitPrice:    item.UnitPrice,
				ResourceType: item.ResourceType,
			}
		}
	}
	items, totals, err := priceItems(lines, inv.TaxRate, inv.Currency)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	inv.NetAmount = totals.Net
	inv.TaxAmount = totals.Tax
	inv.TotalAmount = totals.Total

	if err := s.repo.UpdateDraft(ctx, inv); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			current, getErr := s.repo.GetInvoice(ctx, id)
			if getErr == nil {
				return nil, &TransitionError{InvoiceID: id, From: current.Status, Action: "update"}
			}
		}
		return nil, fmt.Errorf("failed to update invoice %d: %w", id, err)
	}
	return inv, nil
}

// DeleteInvoice removes a draft or cancelled invoice that has no payments.
// Anything else is cancelled instead, which fails for invoices that can no
// longer be cancelled.
func (s *DefaultService) DeleteInvoice(ctx context.Context, id int64) (*DeleteResult, error) {
	deleted, err := s.repo.DeleteInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete invoice %d: %w", id, err)
	}
	if deleted {
		withContextIDs(ctx, s.logger).WithField("invoice_id", id).Info("invoice deleted")
		return &DeleteResult{Deleted: true}, nil
	}

	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice %d: %w", id, err)
	}
	if inv.Status == InvoiceStatusCancelled {
		return &DeleteResult{Invoice: inv}, nil
	}

	cancelled, err := s.lifecycle.Cancel(ctx, id, "deleted")
	if err != nil {
		return nil, err
	}
	return &DeleteResult{Invoice: cancelled}, nil
}

// SendInvoice issues a draft and notifies the delivery collaborator
func (s *DefaultService) SendInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := s.lifecycle.MarkSent(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		issued := inv.Clone()
		s.dispatcher.Go(ctx, "invoice issued notification", func(ctx context.Context) error {
			return s.notifier.InvoiceIssued(ctx, issued)
		})
	}
	return inv, nil
}

func (s *DefaultService) CancelInvoice(ctx context.Context, id int64, reason string) (*Invoice, error) {
	return s.lifecycle.Cancel(ctx, id, reason)
}

func (s *DefaultService) DisputeInvoice(ctx context.Context, id int64, reason string) (*Invoice, error) {
	return s.lifecycle.Dispute(ctx, id, reason)
}

func (s *DefaultService) ResolveDispute(ctx context.Context, id int64, outcome DisputeOutcome) (*Invoice, error) {
	return s.lifecycle.ResolveDispute(ctx, id, outcome)
}

func (s *DefaultService) SweepOverdue(ctx context.Context, now time.Time) (*SweepReport, error) {
	return s.lifecycle.SweepOverdue(ctx, now)
}

// RecordPayment records a completed manual payment
func (s *DefaultService) RecordPayment(ctx context.Context, invoiceID int64, req *RecordPaymentRequest) (*PaymentRecord, error) {
	if req == nil {
		return nil, newValidationError("amount", "is required")
	}
	return s.reconciler.RecordPayment(ctx, invoiceID, *req)
}

// ListPayments returns all payment records of an invoice
func (s *DefaultService) ListPayments(ctx context.Context, invoiceID int64) ([]*PaymentRecord, error) {
	payments, err := s.repo.ListPayments(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for invoice %d: %w", invoiceID, err)
	}
	return payments, nil
}

func (s *DefaultService) GetStatistics(ctx context.Context, tenantID *int64) (*BillingStatistics, error) {
	return s.aggregator.GetStatistics(ctx, tenantID)
}

// RunAutomaticBilling bills every active tenant for the current period
func (s *DefaultService) RunAutomaticBilling(ctx context.Context) (*RunReport, error) {
	return s.scheduler.Run(ctx)
}

// Scheduler exposes the underlying scheduler for callers that need RunAt
func (s *DefaultService) Scheduler() *Scheduler {
	return s.scheduler
}
