// Package tenants is the read-only boundary between billing and tenant management.
//
// # Overview
//
// Tenant, department, facility and user CRUD live outside the billing core. Billing
// only needs to know which tenants are billable and which subscription plan each of
// them is on:
//
//	dir := tenants.NewPostgresDirectory(db)
//	active, err := dir.GetActiveTenants(ctx)
//	plan, err := dir.GetSubscriptionPlan(ctx, *active[0].SubscriptionPlanID)
//
// # Related Packages
//
//   - pkg/billing: consumes Directory from the automatic billing scheduler
package tenants
