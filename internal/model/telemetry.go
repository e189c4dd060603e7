package model

import (
	"encoding/json"
	"time"
)

// SensorReading is one measurement attached to an equipment record.
type SensorReading struct {
	SensorID  string          `json:"sensor_id"`
	Value     json.RawMessage `json:"value"`
	Unit      string          `json:"unit,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// EquipmentRecord groups the readings of one piece of equipment.
type EquipmentRecord struct {
	EquipmentID string          `json:"equipment_id"`
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	Sensors     []SensorReading `json:"sensors"`
}

// TelemetryBatch is the decoded request body, in submission order.
type TelemetryBatch []EquipmentRecord

func (b TelemetryBatch) ItemsCount() int64 {
	return int64(len(b))
}

func (b TelemetryBatch) SensorsCount() int64 {
	var n int64
	for _, rec := range b {
		n += int64(len(rec.Sensors))
	}
	return n
}

// ClaimCheck is the small reference handed to the queue in place of the
// raw batch. It is immutable once built.
type ClaimCheck struct {
	ID             string    `json:"claim_check_id"`
	StorageKey     string    `json:"storage_key"`
	FileSize       int64     `json:"file_size"`
	ItemsCount     int64     `json:"items_count"`
	SensorsCount   int64     `json:"sensors_count"`
	TenantID       string    `json:"tenant_id"`
	OrganizationID string    `json:"organization_id"`
	WorkspaceID    string    `json:"workspace_id"`
	DeviceID       string    `json:"device_id,omitempty"`
	RequestID      string    `json:"request_id"`
	CreatedAt      time.Time `json:"created_at"`
}
