package admission

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/config"
	"telemetry-gateway/internal/model"
)

func TestDeviceScenarioThrottleThenJail(t *testing.T) {
	h := newHarness()
	p := h.gateAndRate()
	ctx := context.Background()

	for i := 1; i <= 31; i++ {
		req := deviceRequest("dev-1", "10.0.0.1")
		rej := p.Run(ctx, req)

		switch {
		case i <= 10:
			if rej != nil {
				t.Fatalf("request %d: expected admission, got %+v", i, rej)
			}
			if got := req.ResponseHeader.Get("X-RateLimit-Remaining"); got != itoa(10-i) {
				t.Fatalf("request %d: remaining header %q", i, got)
			}
		case i <= 30:
			if rej == nil || rej.Status != http.StatusTooManyRequests || rej.Code != CodeThrottled {
				t.Fatalf("request %d: expected 429 throttled, got %+v", i, rej)
			}
			if rej.Headers.Get("X-RateLimit-Remaining") != "0" {
				t.Fatalf("request %d: remaining should floor at zero", i)
			}
			if rej.RetryAfterSeconds() < 1 || rej.RetryAfterSeconds() > 60 {
				t.Fatalf("request %d: retry_after %d outside window", i, rej.RetryAfterSeconds())
			}
		default:
			if rej == nil || rej.Status != http.StatusForbidden || rej.Code != CodeBlocked {
				t.Fatalf("request %d: expected 403 blocked, got %+v", i, rej)
			}
			if rej.Reason != BanReasonRateLimit || rej.RetryAfterSeconds() != 900 {
				t.Fatalf("request %d: reason=%q retry_after=%d", i, rej.Reason, rej.RetryAfterSeconds())
			}
		}
	}

	for _, tc := range []struct {
		scope model.BanScope
		id    string
	}{{model.BanScopeIP, "10.0.0.1"}, {model.BanScopeDevice, "dev-1"}} {
		rec, err := h.cache.LookupBan(ctx, tc.scope, tc.id)
		if err != nil || rec == nil || rec.ExpiresIn != 900 {
			t.Fatalf("%s ban for %s: rec=%+v err=%v", tc.scope, tc.id, rec, err)
		}
	}
	if n, _, _ := h.cache.Violations(ctx, "dev-1"); n != 1 {
		t.Fatalf("violations = %d, want 1", n)
	}
}

func TestBannedCallerNeverReachesLaterStages(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if err := h.cache.Ban(ctx, model.BanScopeDevice, "dev-9", "manual", time.Hour); err != nil {
		t.Fatalf("ban: %v", err)
	}

	later := &countingStage{name: "later"}
	p := NewPipeline(zap.NewNop(),
		Step{Stage: NewBlacklistGate(h.cache)},
		Step{Stage: NewRateLimiter(h.cache, config.DefaultTiers(), time.Minute, 7*24*time.Hour, zap.NewNop())},
		Step{Stage: later},
	)

	for i := 0; i < 3; i++ {
		rej := p.Run(ctx, deviceRequest("dev-9", "10.0.0.9"))
		if rej == nil || rej.Code != CodeBlocked || rej.Reason != "manual" {
			t.Fatalf("expected manual ban rejection, got %+v", rej)
		}
	}
	if later.calls != 0 {
		t.Fatalf("stage after the gate ran %d times", later.calls)
	}
	keys, _ := h.store.ScanKeys(ctx, "ratelimit:*", 0)
	if len(keys) != 0 {
		t.Fatalf("rate window touched for banned caller: %v", keys)
	}
}

func TestEscalatingBanDurations(t *testing.T) {
	h := newHarness()
	p := h.gateAndRate()
	ctx := context.Background()

	want := []int64{900, 3600, 86400, 604800}
	for round, expected := range want {
		var last *Rejection
		for i := 0; i < 31; i++ {
			last = p.Run(ctx, deviceRequest("dev-2", "10.0.0.2"))
		}
		if last == nil || last.Code != CodeBlocked || last.RetryAfterSeconds() != expected {
			t.Fatalf("round %d: expected ban of %ds, got %+v", round+1, expected, last)
		}
		if n, _, _ := h.cache.Violations(ctx, "dev-2"); n != int64(round+1) {
			t.Fatalf("round %d: violations = %d", round+1, n)
		}
		h.clock.Advance(time.Duration(expected)*time.Second + time.Second)
	}
}

func TestBanDurationTable(t *testing.T) {
	tests := []struct {
		violations int64
		want       time.Duration
	}{
		{1, 15 * time.Minute},
		{2, time.Hour},
		{3, 24 * time.Hour},
		{4, 7 * 24 * time.Hour},
		{9, 7 * 24 * time.Hour},
		{0, 15 * time.Minute},
	}
	for _, tt := range tests {
		if got := BanDuration(tt.violations); got != tt.want {
			t.Fatalf("BanDuration(%d) = %v, want %v", tt.violations, got, tt.want)
		}
	}
}

func TestThresholdsAreStrict(t *testing.T) {
	h := newHarness()
	tiers := map[string]config.Tier{"device": {Normal: 2, Jail: 3}, "default": {Normal: 2, Jail: 3}}
	rl := NewRateLimiter(h.cache, tiers, time.Minute, time.Hour, zap.NewNop())
	ctx := context.Background()

	codes := make([]Code, 0, 4)
	for i := 0; i < 4; i++ {
		rej, err := rl.Admit(ctx, deviceRequest("dev-3", "10.0.0.3"))
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if rej == nil {
			codes = append(codes, "")
			continue
		}
		codes = append(codes, rej.Code)
	}
	want := []Code{"", "", CodeThrottled, CodeBlocked}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("request %d: got %q want %q (all: %v)", i+1, codes[i], want[i], codes)
		}
	}
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	h := newHarness()
	p := h.gateAndRate()
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		p.Run(ctx, deviceRequest("dev-4", "10.0.0.4"))
	}
	h.clock.Advance(time.Minute)
	if rej := p.Run(ctx, deviceRequest("dev-4", "10.0.0.4")); rej != nil {
		t.Fatalf("expected fresh window, got %+v", rej)
	}
}

func TestIPIdentityWhenNoDevice(t *testing.T) {
	h := newHarness()
	p := h.gateAndRate()
	ctx := context.Background()

	var last *Rejection
	for i := 0; i < 31; i++ {
		last = p.Run(ctx, deviceRequest("", "192.0.2.7"))
	}
	if last == nil || last.Code != CodeBlocked {
		t.Fatalf("expected ban, got %+v", last)
	}
	if rec, _ := h.cache.LookupBan(ctx, model.BanScopeIP, "192.0.2.7"); rec == nil {
		t.Fatalf("ip ban missing")
	}
	bans, _ := h.cache.ListBans(ctx, 0)
	if len(bans) != 1 {
		t.Fatalf("expected only the ip ban, got %+v", bans)
	}
}

func TestRateLimiterFailsClosedWhenStoreDown(t *testing.T) {
	h := newHarness()
	p := h.gateAndRate()
	h.store.SetHealthy(false)

	rej := p.Run(context.Background(), deviceRequest("dev-5", "10.0.0.5"))
	if rej == nil || rej.Code != CodeDependencyFailure {
		t.Fatalf("expected dependency failure, got %+v", rej)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		claims *model.Claims
		err    error
		path   string
		header string
		want   model.UserType
	}{
		{"claim wins over path", &model.Claims{UserType: model.UserTypeFrontend}, nil, "/api/v1/telemetry", "", model.UserTypeFrontend},
		{"invalid claims ignored", &model.Claims{UserType: model.UserTypeFrontend}, errTest, "/api/v1/telemetry", "", model.UserTypeDevice},
		{"unknown claim falls through", &model.Claims{UserType: "robot"}, nil, "/x", "frontend", model.UserTypeFrontend},
		{"device path", nil, nil, "/api/v1/devices/abc", "frontend", model.UserTypeDevice},
		{"dashboard path", nil, nil, "/dashboard/summary", "device", model.UserTypeFrontend},
		{"header", nil, nil, "/api/v1/other", "Device", model.UserTypeDevice},
		{"default", nil, nil, "/api/v1/other", "", model.UserTypeDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{Path: tt.path, Header: http.Header{}, Claims: tt.claims, ClaimsErr: tt.err}
			if tt.header != "" {
				req.Header.Set("X-User-Type", tt.header)
			}
			if got := Classify(req); got != tt.want {
				t.Fatalf("Classify = %q, want %q", got, tt.want)
			}
		})
	}
}
