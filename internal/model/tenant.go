package model

import "time"

// TenantQuota holds resolved daily limits. A nil limit means unlimited.
type TenantQuota struct {
	TenantID      string `json:"tenant_id"`
	PlanID        string `json:"plan_id,omitempty"`
	ItemsPerDay   *int64 `json:"items_per_day"`
	SensorsPerDay *int64 `json:"sensors_per_day"`
	BytesPerDay   *int64 `json:"bytes_per_day"`
}

// TenantUsage is the usage recorded for one tenant on one calendar day.
type TenantUsage struct {
	TenantID      string    `json:"tenant_id"`
	Day           time.Time `json:"day"`
	ItemsCount    int64     `json:"items_count"`
	SensorsCount  int64     `json:"sensors_count"`
	BytesIngested int64     `json:"bytes_ingested"`
}

// QuotaDimension names the daily limit a batch would exceed.
type QuotaDimension string

const (
	QuotaItems   QuotaDimension = "items"
	QuotaSensors QuotaDimension = "sensors"
	QuotaBytes   QuotaDimension = "bytes"
)

// QuotaBreachEvent records a rejected attempt to exceed a daily limit.
type QuotaBreachEvent struct {
	EventID        string         `json:"event_id"`
	TenantID       string         `json:"tenant_id"`
	OrganizationID string         `json:"organization_id"`
	WorkspaceID    string         `json:"workspace_id"`
	DeviceID       string         `json:"device_id,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	Dimension      QuotaDimension `json:"dimension"`
	Limit          int64          `json:"limit"`
	CurrentUsage   int64          `json:"current_usage"`
	Requested      int64          `json:"requested"`
	Projected      int64          `json:"projected"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Int64 returns a pointer to v, for building limits.
func Int64(v int64) *int64 {
	return &v
}
