package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/meterline/pkg/async"
	"github.com/platinummonkey/meterline/pkg/money"
	"github.com/platinummonkey/meterline/pkg/observability"
	"github.com/platinummonkey/meterline/pkg/tenants"
)

var schedulerTracer = otel.Tracer("meterline/billing/scheduler")

// Outcome classifies what a billing run did for one tenant
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeSkippedNoPlan    Outcome = "skipped_no_plan"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeSkippedInactive  Outcome = "skipped_inactive"
	OutcomeFailed           Outcome = "failed"
	// OutcomeNotProcessed marks tenants left untouched because the run was cancelled
	OutcomeNotProcessed Outcome = "not_processed"
)

// TenantOutcome is the per-tenant line of a RunReport
type TenantOutcome struct {
	TenantID      int64   `json:"tenant_id"`
	PlanID        *int64  `json:"plan_id,omitempty"`
	BillingPeriod string  `json:"billing_period,omitempty"`
	Outcome       Outcome `json:"outcome"`
	InvoiceID     int64   `json:"invoice_id,omitempty"`
	InvoiceNumber string  `json:"invoice_number,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// RunReport summarises one automatic billing run
type RunReport struct {
	RunID            string          `json:"run_id"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Created          int             `json:"created"`
	SkippedNoPlan    int             `json:"skipped_no_plan"`
	SkippedDuplicate int             `json:"skipped_duplicate"`
	SkippedInactive  int             `json:"skipped_inactive"`
	Failed           int             `json:"failed"`
	NotProcessed     int             `json:"not_processed"`
	Outcomes         []TenantOutcome `json:"outcomes"`
}

// SchedulerConfig holds billing run parameters
type SchedulerConfig struct {
	TaxRate         decimal.Decimal
	PaymentTermDays int
	Concurrency     int
	DefaultCurrency string
	PlanCacheSize   int
	PlanCacheTTL    time.Duration
}

// DefaultSchedulerConfig returns the stock run parameters
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TaxRate:         decimal.NewFromInt(20),
		PaymentTermDays: 30,
		Concurrency:     1,
		DefaultCurrency: "USD",
		PlanCacheSize:   256,
		PlanCacheTTL:    10 * time.Minute,
	}
}

// SchedulerOption customises a Scheduler
type SchedulerOption func(*Scheduler)

// WithRunLock serialises runs across processes
func WithRunLock(lock RunLock) SchedulerOption {
	return func(s *Scheduler) { s.lock = lock }
}

// WithNotifier sets the issued-invoice notifier
func WithNotifier(n Notifier) SchedulerOption {
	return func(s *Scheduler) { s.notifier = n }
}

// WithDispatcher sets the dispatcher notifications are sent through
func WithDispatcher(d *async.Dispatcher) SchedulerOption {
	return func(s *Scheduler) { s.dispatcher = d }
}

// WithSchedulerMetrics sets the metrics sink
func WithSchedulerMetrics(m Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithSchedulerLogger sets the logger
func WithSchedulerLogger(l *observability.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler generates one subscription invoice per billable tenant per period
type Scheduler struct {
	directory  tenants.Directory
	repo       Repository
	numberer   *Numberer
	lifecycle  *LifecycleManager
	config     SchedulerConfig
	lock       RunLock
	notifier   Notifier
	dispatcher *async.Dispatcher
	metrics    Metrics
	logger     *observability.Logger
	now        func() time.Time
}

// NewScheduler creates a Scheduler
func NewScheduler(directory tenants.Directory, repo Repository, numberer *Numberer, lifecycle *LifecycleManager, config SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.PaymentTermDays <= 0 {
		config.PaymentTermDays = defaults.PaymentTermDays
	}
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = defaults.DefaultCurrency
	}
	if config.PlanCacheSize <= 0 {
		config.PlanCacheSize = defaults.PlanCacheSize
	}
	if config.PlanCacheTTL <= 0 {
		config.PlanCacheTTL = defaults.PlanCacheTTL
	}

	s := &Scheduler{
		directory: directory,
		repo:      repo,
		numberer:  numberer,
		lifecycle: lifecycle,
		config:    config,
		lock:      NewLocalRunLock(),
		metrics:   noopMetrics{},
		logger:    observability.NewNopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dispatcher == nil {
		s.dispatcher = async.NewDispatcher(s.logger, 30*time.Second)
	}
	return s
}

// Run bills every active tenant for the period containing the current time
func (s *Scheduler) Run(ctx context.Context) (*RunReport, error) {
	return s.RunAt(ctx, s.now())
}

// RunAt bills every active tenant for the periods containing at.
//
// Tenant failures are recorded in the report and never abort the run. When
// ctx is cancelled the remaining tenants are reported as not processed and
// the context error is returned together with the partial report.
func (s *Scheduler) RunAt(ctx context.Context, at time.Time) (*RunReport, error) {
	at = at.UTC()
	runID := uuid.New().String()
	started := s.now().UTC()

	ctx = observability.WithRunID(ctx, runID)
	ctx, span := schedulerTracer.Start(ctx, "BillingRun",
		trace.WithAttributes(
			attribute.String("billing.run_id", runID),
			attribute.String("billing.at", at.Format(time.RFC3339)),
		),
	)
	defer span.End()

	log := s.logger.WithField("run_id", runID)

	lease, err := s.lock.Acquire(ctx, "billing-run:"+at.Format("2006-01"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "run lock not acquired")
		s.metrics.RunFinished("locked", 0)
		return nil, fmt.Errorf("failed to start billing run: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("failed to release billing run lock")
		}
	}()

	active, err := s.directory.GetActiveTenants(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load tenants")
		s.metrics.RunFinished("error", s.now().Sub(started))
		return nil, fmt.Errorf("failed to load active tenants: %w", err)
	}
	log.Infof("billing run started for %d tenants", len(active))

	plans := lru.NewLRU[int64, *tenants.PlanSummary](s.config.PlanCacheSize, nil, s.config.PlanCacheTTL)
	if scoped, ok := s.directory.(RunScopedCache); ok {
		defer func() {
			if err := scoped.ReleaseRun(context.WithoutCancel(ctx), runID); err != nil {
				log.WithError(err).Warn("failed to release run plan cache")
			}
		}()
	}
	outcomes := make([]TenantOutcome, len(active))
	for i, tenant := range active {
		outcomes[i] = TenantOutcome{TenantID: tenant.ID, PlanID: tenant.SubscriptionPlanID, Outcome: OutcomeNotProcessed}
	}

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i, tenant := range active {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = s.billTenant(ctx, log, tenant, at, plans)
			return nil
		})
	}
	_ = g.Wait()

	report := &RunReport{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: s.now().UTC(),
		Outcomes:   outcomes,
	}
	for _, o := range outcomes {
		switch o.Outcome {
		case OutcomeCreated:
			report.Created++
		case OutcomeSkippedNoPlan:
			report.SkippedNoPlan++
		case OutcomeSkippedDuplicate:
			report.SkippedDuplicate++
		case OutcomeSkippedInactive:
			report.SkippedInactive++
		case OutcomeFailed:
			report.Failed++
		case OutcomeNotProcessed:
			report.NotProcessed++
		}
		s.metrics.TenantProcessed(string(o.Outcome))
	}

	span.SetAttributes(
		attribute.Int("billing.created", report.Created),
		attribute.Int("billing.failed", report.Failed),
	)
	log.WithFields(map[string]interface{}{
		"created":           report.Created,
		"skipped_no_plan":   report.SkippedNoPlan,
		"skipped_duplicate": report.SkippedDuplicate,
		"failed":            report.Failed,
		"not_processed":     report.NotProcessed,
	}).Info("billing run finished")

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "billing run cancelled")
		s.metrics.RunFinished("cancelled", report.FinishedAt.Sub(started))
		return report, fmt.Errorf("billing run %s interrupted: %w", runID, err)
	}

	span.SetStatus(codes.Ok, fmt.Sprintf("created %d invoices", report.Created))
	s.metrics.RunFinished("completed", report.FinishedAt.Sub(started))
	return report, nil
}

func (s *Scheduler) plan(ctx context.Context, planID int64, cache *lru.LRU[int64, *tenants.PlanSummary]) (*tenants.PlanSummary, error) {
	if plan, ok := cache.Get(planID); ok {
		return plan, nil
	}
	plan, err := s.directory.GetSubscriptionPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	cache.Add(planID, plan)
	return plan, nil
}

func (s *Scheduler) billTenant(ctx context.Context, log *observability.Logger, tenant *tenants.TenantSummary, at time.Time, plans *lru.LRU[int64, *tenants.PlanSummary]) TenantOutcome {
	outcome := TenantOutcome{TenantID: tenant.ID, PlanID: tenant.SubscriptionPlanID}
	log = log.WithField("tenant_id", tenant.ID)

	if !tenant.Billable() {
		outcome.Outcome = OutcomeSkippedInactive
		outcome.Reason = "tenant is not active"
		return outcome
	}
	if tenant.SubscriptionPlanID == nil {
		outcome.Outcome = OutcomeSkippedNoPlan
		outcome.Reason = "no subscription plan"
		return outcome
	}
	log = log.WithField("plan_id", *tenant.SubscriptionPlanID)

	plan, err := s.plan(ctx, *tenant.SubscriptionPlanID, plans)
	if errors.Is(err, tenants.ErrPlanNotFound) {
		outcome.Outcome = OutcomeSkippedNoPlan
		outcome.Reason = "subscription plan not found"
		return outcome
	}
	if err != nil {
		return s.failed(log, outcome, err)
	}
	if !plan.IsActive {
		outcome.Outcome = OutcomeSkippedNoPlan
		outcome.Reason = "subscription plan inactive"
		return outcome
	}

	period := PeriodFor(plan.Cycle(), at)
	outcome.BillingPeriod = period.Label
	log = log.WithField("period", period.Label)

	existing, err := s.repo.FindSubscriptionInvoice(ctx, tenant.ID, plan.ID, period.Label)
	if err != nil {
		return s.failed(log, outcome, err)
	}
	if existing != nil {
		return s.resumeExisting(ctx, log, outcome, existing)
	}

	inv, err := s.buildInvoice(tenant, plan, period, at)
	if err != nil {
		return s.failed(log, outcome, err)
	}

	err = s.numberer.Assign(ctx, inv, s.repo.CreateInvoice)
	if errors.Is(err, ErrDuplicateInvoice) {
		outcome.Outcome = OutcomeSkippedDuplicate
		outcome.Reason = "invoice created concurrently"
		return outcome
	}
	if err != nil {
		return s.failed(log, outcome, err)
	}
	s.metrics.InvoiceCreated(string(InvoiceTypeSubscription))
	outcome.InvoiceID = inv.ID
	outcome.InvoiceNumber = inv.InvoiceNumber

	sent, err := s.lifecycle.MarkSent(ctx, inv.ID)
	switch {
	case errors.Is(err, ErrInvalidTransition):
		// a concurrent run already issued the draft
	case err != nil:
		outcome.Reason = "invoice left in draft"
		return s.failed(log, outcome, err)
	default:
		s.notify(ctx, sent)
	}

	outcome.Outcome = OutcomeCreated
	log.WithField("invoice_number", inv.InvoiceNumber).Info("subscription invoice issued")
	return outcome
}

// resumeExisting issues a draft left behind by an earlier interrupted run
func (s *Scheduler) resumeExisting(ctx context.Context, log *observability.Logger, outcome TenantOutcome, existing *Invoice) TenantOutcome {
	outcome.Outcome = OutcomeSkippedDuplicate
	outcome.InvoiceID = existing.ID
	outcome.InvoiceNumber = existing.InvoiceNumber
	outcome.Reason = "invoice already exists"

	if existing.Status != InvoiceStatusDraft {
		return outcome
	}

	sent, err := s.lifecycle.MarkSent(ctx, existing.ID)
	if errors.Is(err, ErrInvalidTransition) {
		return outcome
	}
	if err != nil {
		outcome.Reason = "existing draft could not be issued"
		return s.failed(log, outcome, err)
	}
	s.notify(ctx, sent)
	outcome.Reason = "existing draft issued"
	return outcome
}

func (s *Scheduler) failed(log *observability.Logger, outcome TenantOutcome, err error) TenantOutcome {
	outcome.Outcome = OutcomeFailed
	if outcome.Reason == "" {
		outcome.Reason = err.Error()
	} else {
		outcome.Reason = outcome.Reason + ": " + err.Error()
	}
	log.WithError(err).Error("failed to bill tenant")
	return outcome
}

func (s *Scheduler) buildInvoice(tenant *tenants.TenantSummary, plan *tenants.PlanSummary, period Period, at time.Time) (*Invoice, error) {
	currency := plan.Currency
	if currency == "" {
		currency = tenant.BillingCurrency
	}
	if currency == "" {
		currency = s.config.DefaultCurrency
	}

	quantity := decimal.NewFromInt(int64(period.Months))
	line, err := money.CalculateLine(plan.MonthlyFee, quantity, s.config.TaxRate, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to price plan %d: %w", plan.ID, err)
	}
	totals, err := money.Calculate(line.Net, s.config.TaxRate, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to price plan %d: %w", plan.ID, err)
	}

	planID := plan.ID
	return &Invoice{
		TenantID:           tenant.ID,
		SubscriptionPlanID: &planID,
		BillingPeriod:      period.Label,
		InvoiceDate:        at,
		DueDate:            at.AddDate(0, 0, s.config.PaymentTermDays),
		Currency:           currency,
		TaxRate:            s.config.TaxRate,
		NetAmount:          totals.Net,
		TaxAmount:          totals.Tax,
		TotalAmount:        totals.Total,
		Status:             InvoiceStatusDraft,
		Type:               InvoiceTypeSubscription,
		Items: []*InvoiceItem{{
			Description:  fmt.Sprintf("%s subscription (%s)", plan.Name, period.Label),
			Quantity:     quantity,
			UnitPrice:    plan.MonthlyFee,
			NetAmount:    line.Net,
			TaxAmount:    line.Tax,
			TotalAmount:  line.Total,
			ResourceType: "subscription",
		}},
	}, nil
}

func (s *Scheduler) notify(ctx context.Context, inv *Invoice) {
	if s.notifier == nil {
		return
	}
	issued := inv.Clone()
	s.dispatcher.Go(ctx, "invoice issued notification", func(ctx context.Context) error {
		return s.notifier.InvoiceIssued(ctx, issued)
	})
}
