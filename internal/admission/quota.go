package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"telemetry-gateway/internal/model"
)

type TenantRegistry interface {
	EffectiveQuota(ctx context.Context, tenantID string) (model.TenantQuota, error)
}

type UsageLedger interface {
	DailyUsage(ctx context.Context, tenantID string, day time.Time) (model.TenantUsage, error)
}

type AuditSink interface {
	EmitQuotaBreach(ctx context.Context, event model.QuotaBreachEvent) error
}

// QuotaEnforcer rejects batches that would push a tenant past a daily
// limit. It reads a usage projection maintained elsewhere and does not
// serialize concurrent batches, so small over-admission is possible.
type QuotaEnforcer struct {
	tenants       TenantRegistry
	usage         UsageLedger
	audit         AuditSink
	estimateBytes bool
	auditTimeout  time.Duration
	now           func() time.Time
	logger        *zap.Logger

	inflight sync.WaitGroup
}

type QuotaOption func(*QuotaEnforcer)

// WithByteEstimation also checks the raw body size against bytes_per_day.
func WithByteEstimation(enabled bool) QuotaOption {
	return func(q *QuotaEnforcer) { q.estimateBytes = enabled }
}

func WithAuditSink(sink AuditSink, timeout time.Duration) QuotaOption {
	return func(q *QuotaEnforcer) {
		q.audit = sink
		q.auditTimeout = timeout
	}
}

func WithClock(now func() time.Time) QuotaOption {
	return func(q *QuotaEnforcer) { q.now = now }
}

func NewQuotaEnforcer(tenants TenantRegistry, usage UsageLedger, logger *zap.Logger, opts ...QuotaOption) *QuotaEnforcer {
	q := &QuotaEnforcer{
		tenants:      tenants,
		usage:        usage,
		auditTimeout: 5 * time.Second,
		now:          time.Now,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *QuotaEnforcer) Name() string { return "quota" }

type quotaCheck struct {
	dim       model.QuotaDimension
	limit     *int64
	current   int64
	requested int64
}

func (q *QuotaEnforcer) Admit(ctx context.Context, req *Request) (*Rejection, error) {
	now := q.now().UTC()
	tenantID := req.Scope.TenantID

	var quota model.TenantQuota
	var usage model.TenantUsage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		quota, err = q.tenants.EffectiveQuota(gctx, tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		usage, err = q.usage.DailyUsage(gctx, tenantID, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("quota lookup for tenant %s: %w", tenantID, err)
	}

	checks := []quotaCheck{
		{model.QuotaItems, quota.ItemsPerDay, usage.ItemsCount, req.Batch.ItemsCount()},
		{model.QuotaSensors, quota.SensorsPerDay, usage.SensorsCount, req.Batch.SensorsCount()},
	}
	if q.estimateBytes {
		checks = append(checks, quotaCheck{model.QuotaBytes, quota.BytesPerDay, usage.BytesIngested, int64(len(req.Body))})
	}

	for _, c := range checks {
		if c.limit == nil {
			continue
		}
		projected := c.current + c.requested
		if projected <= *c.limit {
			continue
		}

		q.logger.Info("Daily quota exceeded",
			zap.String("tenant_id", tenantID),
			zap.String("dimension", string(c.dim)),
			zap.Int64("limit", *c.limit),
			zap.Int64("current", c.current),
			zap.Int64("requested", c.requested),
			zap.String("request_id", req.ID))

		q.emitBreach(req, c, projected, now)
		return QuotaExceeded(c.dim,
			fmt.Sprintf("daily %s quota exceeded: limit %d, used %d, batch adds %d", c.dim, *c.limit, c.current, c.requested),
			untilNextUTCMidnight(now)), nil
	}
	return nil, nil
}

// emitBreach never blocks the request and never fails it.
func (q *QuotaEnforcer) emitBreach(req *Request, c quotaCheck, projected int64, now time.Time) {
	if q.audit == nil {
		return
	}
	event := model.QuotaBreachEvent{
		EventID:        uuid.NewString(),
		TenantID:       req.Scope.TenantID,
		OrganizationID: req.Scope.OrganizationID,
		WorkspaceID:    req.Scope.WorkspaceID,
		DeviceID:       req.DeviceID,
		RequestID:      req.ID,
		Dimension:      c.dim,
		Limit:          *c.limit,
		CurrentUsage:   c.current,
		Requested:      c.requested,
		Projected:      projected,
		OccurredAt:     now,
	}

	q.inflight.Add(1)
	go func() {
		defer q.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), q.auditTimeout)
		defer cancel()
		if err := q.audit.EmitQuotaBreach(ctx, event); err != nil {
			q.logger.Warn("Failed to emit quota breach event",
				zap.String("event_id", event.EventID),
				zap.String("tenant_id", event.TenantID),
				zap.Error(err))
		}
	}()
}

// Drain waits for breach events still being written. It returns ctx's
// error if they do not finish in time.
func (q *QuotaEnforcer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC).Sub(now)
}
