package service

import (
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/bucketing"
	"telemetry-gateway/internal/config"
)

// StateStore is the shared keyspace the services park claim checks,
// take leases and manage bans in.
type StateStore interface {
	PendingStore
	LeaseStore
	BanStore
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg          *config.Config
	payloads     *PayloadStore
	bucketingMgr *bucketing.BucketingManager
	publisher    Publisher
	state        StateStore
	banDuration  func(int64) time.Duration
	logger       *zap.Logger

	ingestionService *IngestionService
	republisher      *Republisher
	banService       *BanService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	cfg *config.Config,
	payloads *PayloadStore,
	bucketingMgr *bucketing.BucketingManager,
	publisher Publisher,
	state StateStore,
	banDuration func(int64) time.Duration,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:          cfg,
		payloads:     payloads,
		bucketingMgr: bucketingMgr,
		publisher:    publisher,
		state:        state,
		banDuration:  banDuration,
		logger:       logger,
	}
}

// IngestionService returns the ingestion service instance (singleton)
func (f *ServiceFactory) IngestionService() *IngestionService {
	if f.ingestionService == nil {
		f.ingestionService = NewIngestionService(
			f.payloads,
			f.bucketingMgr,
			f.publisher,
			f.state,
			f.logger.Named("ingestion"),
		)
	}
	return f.ingestionService
}

// Republisher returns the claim check republisher (singleton)
func (f *ServiceFactory) Republisher() *Republisher {
	if f.republisher == nil {
		f.republisher = NewRepublisher(
			f.IngestionService(),
			f.state,
			f.cfg.Ingestion.RepublishInterval,
			f.cfg.Ingestion.RepublishBatchSize,
			f.logger.Named("republisher"),
		)
	}
	return f.republisher
}

// BanService returns the ban administration service (singleton)
func (f *ServiceFactory) BanService() *BanService {
	if f.banService == nil {
		f.banService = NewBanService(f.state, f.banDuration, f.logger.Named("bans"))
	}
	return f.banService
}
