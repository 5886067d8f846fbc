package tenants

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresDirectory implements Directory over the tenant management tables
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a new PostgresDirectory
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const tenantColumns = `id, company_name, is_active, is_suspended, subscription_plan_id, billing_currency`

// GetActiveTenants lists active, non-suspended tenants ordered by id
func (d *PostgresDirectory) GetActiveTenants(ctx context.Context) ([]*TenantSummary, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE is_active = true AND is_suspended = false
		ORDER BY id
	`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	defer rows.Close()

	var result []*TenantSummary
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}

	return result, nil
}

// GetTenant retrieves a single tenant regardless of its state
func (d *PostgresDirectory) GetTenant(ctx context.Context, id int64) (*TenantSummary, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	tenant, err := scanTenant(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// GetSubscriptionPlan retrieves a subscription plan by id
func (d *PostgresDirectory) GetSubscriptionPlan(ctx context.Context, planID int64) (*PlanSummary, error) {
	query := `
		SELECT id, name, plan_type, monthly_fee, currency, billing_cycle,
		       is_active, is_default, is_popular
		FROM subscription_plans
		WHERE id = $1
	`
	plan := &PlanSummary{}
	var cycle sql.NullString
	err := d.db.QueryRowContext(ctx, query, planID).Scan(
		&plan.ID, &plan.Name, &plan.PlanType, &plan.MonthlyFee, &plan.Currency, &cycle,
		&plan.IsActive, &plan.IsDefault, &plan.IsPopular,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription plan: %w", err)
	}
	if cycle.Valid {
		plan.BillingCycle = BillingCycle(cycle.String)
	}

	return plan, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*TenantSummary, error) {
	tenant := &TenantSummary{}
	var planID sql.NullInt64
	var currency sql.NullString
	err := row.Scan(&tenant.ID, &tenant.CompanyName, &tenant.IsActive, &tenant.IsSuspended, &planID, &currency)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	if planID.Valid {
		id := planID.Int64
		tenant.SubscriptionPlanID = &id
	}
	if currency.Valid {
		tenant.BillingCurrency = currency.String
	}
	return tenant, nil
}
