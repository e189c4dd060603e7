package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/model"
	"telemetry-gateway/internal/repository/memory"
	rediscache "telemetry-gateway/internal/repository/redis"
)

func escalation(v int64) time.Duration {
	table := []time.Duration{15 * time.Minute, time.Hour, 24 * time.Hour, 7 * 24 * time.Hour}
	if v > int64(len(table)) {
		v = int64(len(table))
	}
	return table[v-1]
}

func newBanService() (*BanService, *rediscache.AdmissionCache) {
	cache := rediscache.NewAdmissionCache(memory.NewStore(nil), zap.NewNop())
	return NewBanService(cache, escalation, zap.NewNop()), cache
}

func TestManualBanValidation(t *testing.T) {
	svc, _ := newBanService()
	tests := []struct {
		name string
		req  BanRequest
	}{
		{"bad scope", BanRequest{Scope: "user", Identifier: "x", DurationSeconds: 60}},
		{"bad identifier", BanRequest{Scope: "ip", Identifier: "a b", DurationSeconds: 60}},
		{"zero duration", BanRequest{Scope: "ip", Identifier: "10.0.0.1"}},
		{"too long", BanRequest{Scope: "ip", Identifier: "10.0.0.1", DurationSeconds: 400 * 24 * 3600}},
		{"suspicious reason", BanRequest{Scope: "device", Identifier: "d1", DurationSeconds: 60, Reason: "<script>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Ban(context.Background(), tt.req); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestManualBanAndUnbanWithReset(t *testing.T) {
	svc, cache := newBanService()
	ctx := context.Background()

	rec, err := svc.Ban(ctx, BanRequest{Scope: "Device", Identifier: "dev-1", DurationSeconds: 120})
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if rec.Reason != "manual" || rec.Scope != model.BanScopeDevice {
		t.Fatalf("unexpected record %+v", rec)
	}
	_, _ = cache.IncrementViolations(ctx, "dev-1", time.Hour)
	_, _ = cache.IncrementViolations(ctx, "dev-1", time.Hour)

	status, err := svc.Violations(ctx, "dev-1")
	if err != nil || status.Violations != 2 || status.NextBanSeconds != 86400 {
		t.Fatalf("status=%+v err=%v", status, err)
	}

	if err := svc.Unban(ctx, "device", "dev-1", true); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if bans, _ := svc.ListBans(ctx, 0); len(bans) != 0 {
		t.Fatalf("bans remain: %+v", bans)
	}
	status, _ = svc.Violations(ctx, "dev-1")
	if status.Violations != 0 || status.NextBanSeconds != 900 {
		t.Fatalf("violations not reset: %+v", status)
	}

	if err := svc.Unban(ctx, "device", "dev-1", false); !errors.Is(err, ErrBanNotFound) {
		t.Fatalf("expected ErrBanNotFound, got %v", err)
	}
}

func TestResetViolationsAfterBanExpired(t *testing.T) {
	svc, cache := newBanService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = cache.IncrementViolations(ctx, "dev-2", time.Hour)
	}

	if err := svc.Unban(ctx, "device", "dev-2", true); err != nil {
		t.Fatalf("reset without active ban: %v", err)
	}
	status, err := svc.Violations(ctx, "dev-2")
	if err != nil || status.Violations != 0 {
		t.Fatalf("status=%+v err=%v", status, err)
	}
}
