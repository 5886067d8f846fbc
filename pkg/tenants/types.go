package tenants

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrPlanNotFound   = errors.New("subscription plan not found")
)

// BillingCycle is the recurring interval a plan is invoiced for
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleAnnual    BillingCycle = "annual"
)

// Months returns the number of calendar months covered by one cycle
func (c BillingCycle) Months() int {
	switch c {
	case BillingCycleQuarterly:
		return 3
	case BillingCycleAnnual:
		return 12
	default:
		return 1
	}
}

// Valid reports whether c is a known cycle. The empty cycle is treated as monthly.
func (c BillingCycle) Valid() bool {
	switch c {
	case "", BillingCycleMonthly, BillingCycleQuarterly, BillingCycleAnnual:
		return true
	}
	return false
}

// TenantSummary is the billing view of a tenant
type TenantSummary struct {
	ID                 int64  `json:"id"`
	CompanyName        string `json:"company_name"`
	IsActive           bool   `json:"is_active"`
	IsSuspended        bool   `json:"is_suspended"`
	SubscriptionPlanID *int64 `json:"subscription_plan_id,omitempty"`
	BillingCurrency    string `json:"billing_currency,omitempty"`
}

// Billable reports whether the tenant should receive subscription invoices
func (t *TenantSummary) Billable() bool {
	return t.IsActive && !t.IsSuspended
}

// PlanSummary is the billing view of a subscription plan
type PlanSummary struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	PlanType     string          `json:"plan_type"`
	MonthlyFee   decimal.Decimal `json:"monthly_fee"`
	Currency     string          `json:"currency"`
	BillingCycle BillingCycle    `json:"billing_cycle"`
	IsActive     bool            `json:"is_active"`
	IsDefault    bool            `json:"is_default"`
	IsPopular    bool            `json:"is_popular"`
}

// Cycle returns the plan's billing cycle, defaulting to monthly
func (p *PlanSummary) Cycle() BillingCycle {
	if p.BillingCycle == "" {
		return BillingCycleMonthly
	}
	return p.BillingCycle
}

// Directory defines the inbound operations billing consumes from tenant management
type Directory interface {
	// GetActiveTenants returns tenants that are active and not suspended
	GetActiveTenants(ctx context.Context) ([]*TenantSummary, error)
	GetTenant(ctx context.Context, id int64) (*TenantSummary, error)
	GetSubscriptionPlan(ctx context.Context, planID int64) (*PlanSummary, error)
}
