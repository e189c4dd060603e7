package admission

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/model"
	"telemetry-gateway/internal/repository/memory"
)

type quotaFixture struct {
	clock   *fakeClock
	tenants *memory.TenantRegistry
	usage   *memory.UsageLedger
	audit   *memory.AuditSink
}

func newQuotaFixture(quota model.TenantQuota, usage model.TenantUsage) *quotaFixture {
	f := &quotaFixture{
		clock:   newFakeClock(),
		tenants: memory.NewTenantRegistry(),
		usage:   memory.NewUsageLedger(),
		audit:   memory.NewAuditSink(),
	}
	quota.TenantID = "tenant-a"
	usage.TenantID = "tenant-a"
	usage.Day = f.clock.Now()
	f.tenants.SetQuota(quota)
	f.usage.SetUsage(usage)
	return f
}

func (f *quotaFixture) enforcer(opts ...QuotaOption) *QuotaEnforcer {
	opts = append([]QuotaOption{WithClock(f.clock.Now), WithAuditSink(f.audit, time.Second)}, opts...)
	return NewQuotaEnforcer(f.tenants, f.usage, zap.NewNop(), opts...)
}

func quotaRequest(items, sensorsPerItem int) *Request {
	req := scopedRequest(string(batchBody(items, sensorsPerItem)))
	if rej, _ := NewValidator(0).Admit(context.Background(), req); rej != nil {
		panic(rej.Message)
	}
	return req
}

func TestItemsQuotaBoundary(t *testing.T) {
	f := newQuotaFixture(
		model.TenantQuota{ItemsPerDay: model.Int64(100)},
		model.TenantUsage{ItemsCount: 95},
	)
	q := f.enforcer()
	ctx := context.Background()

	rej, err := q.Admit(ctx, quotaRequest(10, 1))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if rej == nil || rej.Status != http.StatusTooManyRequests || rej.Code != CodeQuotaExceeded || rej.Dimension != model.QuotaItems {
		t.Fatalf("expected items quota rejection, got %+v", rej)
	}
	// 10:00 UTC leaves 14h until the next UTC midnight.
	if rej.RetryAfterSeconds() != 14*3600 {
		t.Fatalf("retry_after = %d", rej.RetryAfterSeconds())
	}

	select {
	case <-f.audit.Emitted():
	case <-time.After(2 * time.Second):
		t.Fatalf("quota breach event was not emitted")
	}
	events := f.audit.Events()
	if len(events) != 1 || events[0].Limit != 100 || events[0].CurrentUsage != 95 || events[0].Projected != 105 {
		t.Fatalf("unexpected audit events %+v", events)
	}

	if rej, err := q.Admit(ctx, quotaRequest(5, 1)); rej != nil || err != nil {
		t.Fatalf("batch of 5 should fit exactly: rej=%+v err=%v", rej, err)
	}
}

func TestQuotaCheckOrderReportsFirstBreach(t *testing.T) {
	f := newQuotaFixture(
		model.TenantQuota{ItemsPerDay: model.Int64(1), SensorsPerDay: model.Int64(1)},
		model.TenantUsage{},
	)
	rej, _ := f.enforcer().Admit(context.Background(), quotaRequest(2, 2))
	if rej == nil || rej.Dimension != model.QuotaItems {
		t.Fatalf("expected items to be reported first, got %+v", rej)
	}

	f = newQuotaFixture(
		model.TenantQuota{ItemsPerDay: model.Int64(10), SensorsPerDay: model.Int64(3)},
		model.TenantUsage{SensorsCount: 2},
	)
	rej, _ = f.enforcer().Admit(context.Background(), quotaRequest(1, 2))
	if rej == nil || rej.Dimension != model.QuotaSensors {
		t.Fatalf("expected sensors breach, got %+v", rej)
	}
}

func TestByteQuotaOnlyWhenEstimationEnabled(t *testing.T) {
	f := newQuotaFixture(
		model.TenantQuota{BytesPerDay: model.Int64(10)},
		model.TenantUsage{},
	)
	if rej, _ := f.enforcer().Admit(context.Background(), quotaRequest(1, 1)); rej != nil {
		t.Fatalf("bytes checked without estimation: %+v", rej)
	}
	rej, _ := f.enforcer(WithByteEstimation(true)).Admit(context.Background(), quotaRequest(1, 1))
	if rej == nil || rej.Dimension != model.QuotaBytes {
		t.Fatalf("expected bytes breach, got %+v", rej)
	}
}

func TestUnlimitedTenantIsAdmitted(t *testing.T) {
	f := newQuotaFixture(model.TenantQuota{}, model.TenantUsage{ItemsCount: 1 << 40})
	if rej, err := f.enforcer().Admit(context.Background(), quotaRequest(50, 3)); rej != nil || err != nil {
		t.Fatalf("rej=%+v err=%v", rej, err)
	}
}

func TestAuditFailureDoesNotChangeOutcome(t *testing.T) {
	f := newQuotaFixture(model.TenantQuota{ItemsPerDay: model.Int64(0)}, model.TenantUsage{})
	f.audit.SetHealthy(false)

	rej, err := f.enforcer().Admit(context.Background(), quotaRequest(1, 1))
	if err != nil || rej == nil || rej.Code != CodeQuotaExceeded {
		t.Fatalf("rej=%+v err=%v", rej, err)
	}
}

func TestQuotaDependencyFailure(t *testing.T) {
	f := newQuotaFixture(model.TenantQuota{ItemsPerDay: model.Int64(5)}, model.TenantUsage{})
	f.usage.SetHealthy(false)

	if _, err := f.enforcer().Admit(context.Background(), quotaRequest(1, 1)); err == nil {
		t.Fatalf("expected ledger error")
	}

	p := NewPipeline(zap.NewNop(), Step{Stage: f.enforcer(), Policy: FailOpen})
	if rej := p.Run(context.Background(), quotaRequest(1, 1)); rej != nil {
		t.Fatalf("fail-open quota should admit, got %+v", rej)
	}
}

type gatedAuditSink struct {
	release chan struct{}
	emitted chan model.QuotaBreachEvent
}

func (g *gatedAuditSink) EmitQuotaBreach(ctx context.Context, event model.QuotaBreachEvent) error {
	<-g.release
	g.emitted <- event
	return nil
}

func TestDrainWaitsForBreachEvents(t *testing.T) {
	f := newQuotaFixture(model.TenantQuota{ItemsPerDay: model.Int64(0)}, model.TenantUsage{})
	sink := &gatedAuditSink{release: make(chan struct{}), emitted: make(chan model.QuotaBreachEvent, 1)}
	q := f.enforcer(WithAuditSink(sink, time.Minute))

	if rej, _ := q.Admit(context.Background(), quotaRequest(1, 1)); rej == nil {
		t.Fatalf("expected quota rejection")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("drain returned %v while an event was pending", err)
	}

	close(sink.release)
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	select {
	case ev := <-sink.emitted:
		if ev.TenantID != "tenant-a" || ev.Dimension != model.QuotaItems {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("drain returned before the event was written")
	}
}
