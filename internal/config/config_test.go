package config

import (
	"testing"
	"time"
)

func TestParseTiers(t *testing.T) {
	raw := []byte(`
tiers:
  device:
    normal: 5
    jail: 20
  partner:
    normal: 100
    jail: 300
`)
	tiers, err := ParseTiers(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tiers["device"]; got.Normal != 5 || got.Jail != 20 {
		t.Fatalf("device tier = %+v", got)
	}
	if got := tiers["partner"]; got.Normal != 100 || got.Jail != 300 {
		t.Fatalf("partner tier = %+v", got)
	}
}

func TestParseTiersRejectsInvertedThresholds(t *testing.T) {
	_, err := ParseTiers([]byte("tiers:\n  device: {normal: 40, jail: 10}\n"))
	if err == nil {
		t.Fatal("expected error for jail below normal")
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("QUOTA_ENFORCEMENT_ENABLED", "false")
	t.Setenv("MAX_BATCH_ITEMS", "42")

	cfg := LoadConfig()
	if !cfg.IsProduction() {
		t.Fatalf("expected production environment")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Admission.Window != 30*time.Second {
		t.Fatalf("window = %v", cfg.Admission.Window)
	}
	if cfg.Admission.QuotaEnabled {
		t.Fatalf("quota enforcement should be disabled")
	}
	if cfg.Ingestion.MaxBatchItems != 42 {
		t.Fatalf("max batch items = %d", cfg.Ingestion.MaxBatchItems)
	}
	if tier := cfg.Admission.Tiers["device"]; tier.Normal != 10 || tier.Jail != 30 {
		t.Fatalf("default device tier = %+v", tier)
	}
}

func TestInMemoryStateRequiresOptIn(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		allow       string
		want        bool
	}{
		{"development default", "development", "", false},
		{"development opt-in", "development", "true", true},
		{"staging opt-out", "staging", "false", false},
		{"production ignores opt-in", "production", "true", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", tt.environment)
			t.Setenv("ALLOW_IN_MEMORY_STATE", tt.allow)

			if got := LoadConfig().InMemoryStateAllowed(); got != tt.want {
				t.Fatalf("InMemoryStateAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}
