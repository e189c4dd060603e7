package elastic

import (
	"context"

	"telemetry-gateway/internal/client"
	"telemetry-gateway/internal/model"
)

// AuditSink indexes quota breach events for billing and audit.
type AuditSink struct {
	client *client.ESClient
}

func NewAuditSink(c *client.ESClient) *AuditSink {
	return &AuditSink{client: c}
}

func (s *AuditSink) EmitQuotaBreach(ctx context.Context, event model.QuotaBreachEvent) error {
	return s.client.IndexDocument(ctx, s.client.AuditIndex(), event.EventID, event)
}

func (s *AuditSink) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}
