package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telemetry-gateway/internal/bucketing"
	"telemetry-gateway/internal/model"
)

const (
	StatusAccepted = "accepted"
	StatusDeferred = "deferred"

	HeaderClaimCheckID = "claim_check_id"
)

var (
	ErrStorageFailed = errors.New("payload storage failed")
	ErrPublishFailed = errors.New("claim check could not be published or parked")
)

// Publisher hands a message to the durable queue.
type Publisher interface {
	ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error
}

// PendingStore parks claim checks whose publish failed until the
// republisher delivers them.
type PendingStore interface {
	SavePending(ctx context.Context, cc model.ClaimCheck) error
	ListPending(ctx context.Context, limit int) ([]model.ClaimCheck, error)
	DeletePending(ctx context.Context, id string) error
}

// IngestRequest is an admitted batch ready to be staged.
type IngestRequest struct {
	RequestID string
	DeviceID  string
	Scope     model.Scope
	Batch     model.TelemetryBatch
	Raw       []byte
}

type IngestionResult struct {
	Status        string `json:"status"`
	ReceivedCount int64  `json:"received_count"`
	ClaimCheckID  string `json:"claim_check_id"`
}

// IngestionService implements the claim-check pattern: the raw batch goes
// to the object store, only a small reference goes to the queue.
type IngestionService struct {
	payloads  *PayloadStore
	bucketing *bucketing.BucketingManager
	publisher Publisher
	pending   PendingStore
	now       func() time.Time
	logger    *zap.Logger
}

func NewIngestionService(
	payloads *PayloadStore,
	bucketingMgr *bucketing.BucketingManager,
	publisher Publisher,
	pending PendingStore,
	logger *zap.Logger,
) *IngestionService {
	return &IngestionService{
		payloads:  payloads,
		bucketing: bucketingMgr,
		publisher: publisher,
		pending:   pending,
		now:       time.Now,
		logger:    logger,
	}
}

// Ingest stores the batch, then publishes its claim check. A publish
// failure parks the claim check and still reports success as deferred.
func (s *IngestionService) Ingest(ctx context.Context, in IngestRequest) (*IngestionResult, error) {
	now := s.now().UTC()
	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	// The claim check id names the object, so a reused request id can never
	// overwrite an earlier batch.
	claimID := uuid.NewString()
	storageKey := s.bucketing.ObjectKey(in.Scope.TenantID, claimID, now)
	pointer, size, err := s.payloads.Put(ctx, storageKey, in.Raw, in.Scope, requestID)
	if err != nil {
		s.logger.Error("Failed to store telemetry batch",
			zap.String("storage_key", storageKey),
			zap.String("tenant_id", in.Scope.TenantID),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStorageFailed, err)
	}

	cc := model.ClaimCheck{
		ID:             claimID,
		StorageKey:     pointer,
		FileSize:       size,
		ItemsCount:     in.Batch.ItemsCount(),
		SensorsCount:   in.Batch.SensorsCount(),
		TenantID:       in.Scope.TenantID,
		OrganizationID: in.Scope.OrganizationID,
		WorkspaceID:    in.Scope.WorkspaceID,
		DeviceID:       in.DeviceID,
		RequestID:      requestID,
		CreatedAt:      now,
	}
	result := &IngestionResult{
		Status:        StatusAccepted,
		ReceivedCount: cc.ItemsCount,
		ClaimCheckID:  cc.ID,
	}

	if err := s.publish(ctx, cc); err != nil {
		s.logger.Warn("Failed to publish claim check, parking for republish",
			zap.String("claim_check_id", cc.ID),
			zap.String("storage_key", cc.StorageKey),
			zap.Error(err))

		if perr := s.pending.SavePending(ctx, cc); perr != nil {
			s.logger.Error("Orphaned payload: claim check neither published nor parked",
				zap.String("claim_check_id", cc.ID),
				zap.String("storage_key", cc.StorageKey),
				zap.String("tenant_id", cc.TenantID),
				zap.NamedError("publish_error", err),
				zap.Error(perr))
			return nil, fmt.Errorf("%w: %v", ErrPublishFailed, perr)
		}
		result.Status = StatusDeferred
		return result, nil
	}

	s.logger.Info("Telemetry batch accepted",
		zap.String("claim_check_id", cc.ID),
		zap.String("storage_key", cc.StorageKey),
		zap.String("tenant_id", cc.TenantID),
		zap.Int64("items", cc.ItemsCount),
		zap.Int64("sensors", cc.SensorsCount),
		zap.Int64("bytes", cc.FileSize))
	return result, nil
}

// publish sends cc keyed by tenant so a tenant's claim checks stay on one
// partition in order.
func (s *IngestionService) publish(ctx context.Context, cc model.ClaimCheck) error {
	value, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to encode claim check: %w", err)
	}
	return s.publisher.ProduceMessage(ctx, []byte(cc.TenantID), value, map[string]string{
		HeaderClaimCheckID: cc.ID,
	})
}

// Payload dereferences a storage pointer.
func (s *IngestionService) Payload(ctx context.Context, storageKey string) ([]byte, error) {
	return s.payloads.Get(ctx, storageKey)
}
