package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/model"
	"telemetry-gateway/internal/repository/memory"
)

func newTestCache(now func() time.Time) *AdmissionCache {
	return NewAdmissionCache(memory.NewStore(now), zap.NewNop())
}

func TestBanLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := newTestCache(func() time.Time { return now })
	ctx := context.Background()

	if err := cache.Ban(ctx, model.BanScopeDevice, "dev-1", "rate_limit_exceeded", 15*time.Minute); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := cache.Ban(ctx, model.BanScopeIP, "2001:db8::1", "manual", time.Hour); err != nil {
		t.Fatalf("ban: %v", err)
	}

	rec, err := cache.LookupBan(ctx, model.BanScopeDevice, "dev-1")
	if err != nil || rec == nil {
		t.Fatalf("lookup: rec=%v err=%v", rec, err)
	}
	if rec.Reason != "rate_limit_exceeded" || rec.ExpiresIn != 900 {
		t.Fatalf("unexpected record %+v", rec)
	}

	bans, err := cache.ListBans(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bans) != 2 || bans[0].Scope != model.BanScopeDevice || bans[1].Identifier != "2001:db8::1" {
		t.Fatalf("unexpected bans %+v", bans)
	}

	if err := cache.Unban(ctx, model.BanScopeDevice, "dev-1"); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if rec, _ := cache.LookupBan(ctx, model.BanScopeDevice, "dev-1"); rec != nil {
		t.Fatalf("expected no ban after unban")
	}
}

func TestViolationsAccumulateAndReset(t *testing.T) {
	cache := newTestCache(nil)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n, err := cache.IncrementViolations(ctx, "dev-1", 7*24*time.Hour)
		if err != nil || n != i {
			t.Fatalf("increment %d: n=%d err=%v", i, n, err)
		}
	}
	if n, _, _ := cache.Violations(ctx, "dev-1"); n != 3 {
		t.Fatalf("violations = %d", n)
	}
	_ = cache.ResetViolations(ctx, "dev-1")
	if n, _, _ := cache.Violations(ctx, "dev-1"); n != 0 {
		t.Fatalf("violations after reset = %d", n)
	}
}

func TestPendingClaimChecksRoundTrip(t *testing.T) {
	cache := newTestCache(nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	second := model.ClaimCheck{ID: "b", StorageKey: "t/1/b.json", CreatedAt: base.Add(time.Second)}
	first := model.ClaimCheck{ID: "a", StorageKey: "t/1/a.json", CreatedAt: base}
	_ = cache.SavePending(ctx, second)
	_ = cache.SavePending(ctx, first)

	pending, err := cache.ListPending(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "a" || pending[1].StorageKey != "t/1/b.json" {
		t.Fatalf("unexpected pending %+v", pending)
	}

	_ = cache.DeletePending(ctx, "a")
	pending, _ = cache.ListPending(ctx, 0)
	if len(pending) != 1 || pending[0].ID != "b" {
		t.Fatalf("unexpected pending after delete %+v", pending)
	}
}

func TestLeaseIsExclusive(t *testing.T) {
	cache := newTestCache(nil)
	ctx := context.Background()

	if ok, _ := cache.AcquireLease(ctx, "republish", "r1", time.Minute); !ok {
		t.Fatalf("first lease should succeed")
	}
	if ok, _ := cache.AcquireLease(ctx, "republish", "r2", time.Minute); ok {
		t.Fatalf("second lease should fail")
	}
	_ = cache.ReleaseLease(ctx, "republish", "r1")
	if ok, _ := cache.AcquireLease(ctx, "republish", "r2", time.Minute); !ok {
		t.Fatalf("lease after release should succeed")
	}
}
