package scylla

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"telemetry-gateway/internal/model"
)

// TenantRepository resolves effective daily quota limits from the tenant
// and plan tables. Tenant override columns win over the plan defaults; a
// null in both means unlimited.
type TenantRepository struct {
	client *ScyllaClient
	logger *zap.Logger
}

func NewTenantRepository(client *ScyllaClient, logger *zap.Logger) *TenantRepository {
	return &TenantRepository{client: client, logger: logger}
}

type limitRow struct {
	items   *int64
	sensors *int64
	bytes   *int64
}

func (r *TenantRepository) EffectiveQuota(ctx context.Context, tenantID string) (model.TenantQuota, error) {
	quota := model.TenantQuota{TenantID: tenantID}

	var planID *string
	var override limitRow
	err := r.client.ScanWithRetry(
		r.client.Query(ctx, selectTenantCQL, tenantID),
		&planID, &override.items, &override.sensors, &override.bytes,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		r.logger.Warn("Tenant not found in registry, treating as unlimited",
			zap.String("tenant_id", tenantID))
		return quota, nil
	}
	if err != nil {
		return quota, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}

	var plan limitRow
	if planID != nil && *planID != "" {
		quota.PlanID = *planID
		err := r.client.ScanWithRetry(
			r.client.Query(ctx, selectPlanCQL, *planID),
			&plan.items, &plan.sensors, &plan.bytes,
		)
		if errors.Is(err, gocql.ErrNotFound) {
			r.logger.Warn("Plan referenced by tenant not found",
				zap.String("tenant_id", tenantID),
				zap.String("plan_id", *planID))
		} else if err != nil {
			return quota, fmt.Errorf("failed to load plan %s: %w", *planID, err)
		}
	}

	quota.ItemsPerDay = firstLimit(override.items, plan.items)
	quota.SensorsPerDay = firstLimit(override.sensors, plan.sensors)
	quota.BytesPerDay = firstLimit(override.bytes, plan.bytes)
	return quota, nil
}

func (r *TenantRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func firstLimit(override, planDefault *int64) *int64 {
	if override != nil {
		return override
	}
	return planDefault
}
