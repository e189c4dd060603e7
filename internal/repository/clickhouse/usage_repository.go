package clickhouse

import (
	"context"
	"fmt"
	"time"

	"telemetry-gateway/internal/client"
	"telemetry-gateway/internal/model"
)

// UsageRepository reads the per-day usage counters another service
// maintains after successful ingestion. Rows are summed because the ledger
// table is append-only (one row per processed claim check).
type UsageRepository struct {
	client *client.ClickHouseClient
	table  string
}

func NewUsageRepository(c *client.ClickHouseClient, table string) *UsageRepository {
	return &UsageRepository{client: c, table: table}
}

func (r *UsageRepository) DailyUsage(ctx context.Context, tenantID string, day time.Time) (model.TenantUsage, error) {
	usage := model.TenantUsage{TenantID: tenantID, Day: truncateDay(day)}

	query := fmt.Sprintf(`
        SELECT sum(items_count), sum(sensors_count), sum(bytes_ingested)
        FROM %s
        WHERE tenant_id = ? AND day = ?`, r.table)

	row, cancel := r.client.QueryRow(ctx, query, tenantID, usage.Day)
	defer cancel()

	var items, sensors, bytes uint64
	if err := row.Scan(&items, &sensors, &bytes); err != nil {
		return usage, fmt.Errorf("failed to read usage for tenant %s: %w", tenantID, err)
	}

	usage.ItemsCount = int64(items)
	usage.SensorsCount = int64(sensors)
	usage.BytesIngested = int64(bytes)
	return usage, nil
}

func (r *UsageRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
