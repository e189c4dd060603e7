package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"telemetry-gateway/internal/model"
)

const republishLease = "claimcheck:republish"

// LeaseStore grants a named lease to one holder across replicas.
type LeaseStore interface {
	AcquireLease(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, token string) error
}

// SweepResult summarises one republish pass.
type SweepResult struct {
	Skipped     bool `json:"skipped"`
	Pending     int  `json:"pending"`
	Republished int  `json:"republished"`
	Failed      int  `json:"failed"`
}

// Republisher redelivers parked claim checks unchanged. Consumers dedupe on
// claim_check_id, so a claim check delivered twice is harmless.
type Republisher struct {
	ingestion *IngestionService
	leases    LeaseStore
	interval  time.Duration
	batchSize int
	leaseTTL  time.Duration
	logger    *zap.Logger
}

func NewRepublisher(ingestion *IngestionService, leases LeaseStore, interval time.Duration, batchSize int, logger *zap.Logger) *Republisher {
	leaseTTL := interval
	if leaseTTL < 10*time.Second {
		leaseTTL = 10 * time.Second
	}
	return &Republisher{
		ingestion: ingestion,
		leases:    leases,
		interval:  interval,
		batchSize: batchSize,
		leaseTTL:  leaseTTL,
		logger:    logger,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Republisher) Run(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("Claim check republisher disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Claim check republisher started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Claim check republisher stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Error("Republish sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep republishes up to batchSize parked claim checks while holding the
// republish lease. Another replica holding the lease yields Skipped.
func (r *Republisher) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	token := uuid.NewString()
	acquired, err := r.leases.AcquireLease(ctx, republishLease, token, r.leaseTTL)
	if err != nil {
		return result, err
	}
	if !acquired {
		result.Skipped = true
		return result, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.leases.ReleaseLease(releaseCtx, republishLease, token); err != nil {
			r.logger.Warn("Failed to release republish lease", zap.Error(err))
		}
	}()

	pending, err := r.ingestion.pending.ListPending(ctx, r.batchSize)
	if err != nil {
		return result, err
	}
	result.Pending = len(pending)

	for _, cc := range pending {
		if err := r.ingestion.publish(ctx, cc); err != nil {
			result.Failed++
			r.logger.Warn("Republish failed, will retry",
				zap.String("claim_check_id", cc.ID),
				zap.String("storage_key", cc.StorageKey),
				zap.Error(err))
			continue
		}
		if err := r.ingestion.pending.DeletePending(ctx, cc.ID); err != nil {
			r.logger.Warn("Republished claim check still parked, it may be delivered again",
				zap.String("claim_check_id", cc.ID),
				zap.Error(err))
		}
		result.Republished++
	}

	if result.Pending > 0 {
		r.logger.Info("Republish sweep finished",
			zap.Int("pending", result.Pending),
			zap.Int("republished", result.Republished),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

// Pending lists parked claim checks.
func (r *Republisher) Pending(ctx context.Context, limit int) ([]model.ClaimCheck, error) {
	return r.ingestion.pending.ListPending(ctx, limit)
}
