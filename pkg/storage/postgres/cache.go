package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/meterline/pkg/observability"
	"github.com/platinummonkey/meterline/pkg/tenants"
)

// DefaultPlanCacheTTL bounds how long a run's plan entries stay in Redis
// when the run never releases them
const DefaultPlanCacheTTL = 15 * time.Minute

// CachedDirectory wraps a tenants.Directory and caches subscription plans
// in Redis for the duration of one billing run. Entries are keyed by the run
// id carried in the context, so a later run always reads the current plan.
// Lookups outside a run go straight to the wrapped directory. Tenant reads
// are never cached and Redis failures fall through to the source.
type CachedDirectory struct {
	next   tenants.Directory
	redis  *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedDirectory creates a caching decorator around next
func NewCachedDirectory(next tenants.Directory, client *redis.Client, ttl time.Duration, logger *observability.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultPlanCacheTTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &CachedDirectory{next: next, redis: client, ttl: ttl, logger: logger}
}

var _ tenants.Directory = (*CachedDirectory)(nil)

func planCacheKey(runID string, planID int64) string {
	return fmt.Sprintf("meterline:plan:%s:%d", runID, planID)
}

// GetActiveTenants delegates to the wrapped directory
func (c *CachedDirectory) GetActiveTenants(ctx context.Context) ([]*tenants.TenantSummary, error) {
	return c.next.GetActiveTenants(ctx)
}

// GetTenant delegates to the wrapped directory
func (c *CachedDirectory) GetTenant(ctx context.Context, id int64) (*tenants.TenantSummary, error) {
	return c.next.GetTenant(ctx, id)
}

// GetSubscriptionPlan returns the plan cached for the current run or loads
// and caches it
func (c *CachedDirectory) GetSubscriptionPlan(ctx context.Context, planID int64) (*tenants.PlanSummary, error) {
	runID := observability.GetRunID(ctx)
	if runID == "" {
		return c.next.GetSubscriptionPlan(ctx, planID)
	}
	key := planCacheKey(runID, planID)

	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var plan tenants.PlanSummary
		if err := json.Unmarshal(data, &plan); err == nil {
			return &plan, nil
		}
		c.redis.Del(ctx, key)
	case err != redis.Nil:
		c.logger.WithError(err).WithField("plan_id", planID).Warn("plan cache read failed")
	}

	plan, err := c.next.GetSubscriptionPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(plan); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).WithField("plan_id", planID).Warn("plan cache write failed")
		}
	}
	return plan, nil
}

// ReleaseRun drops every plan cached for runID
func (c *CachedDirectory) ReleaseRun(ctx context.Context, runID string) error {
	iter := c.redis.Scan(ctx, 0, fmt.Sprintf("meterline:plan:%s:*", runID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to list cached plans for run %s: %w", runID, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to release cached plans for run %s: %w", runID, err)
	}
	return nil
}
