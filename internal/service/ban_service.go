package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/model"
	"telemetry-gateway/internal/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrBanNotFound  = errors.New("ban not found")
)

// BanStore is the ban and violation keyspace operators act on.
type BanStore interface {
	Ban(ctx context.Context, scope model.BanScope, identifier, reason string, ttl time.Duration) error
	LookupBan(ctx context.Context, scope model.BanScope, identifier string) (*model.BanRecord, error)
	Unban(ctx context.Context, scope model.BanScope, identifier string) error
	ListBans(ctx context.Context, limit int) ([]model.BanRecord, error)
	Violations(ctx context.Context, identity string) (int64, time.Duration, error)
	ResetViolations(ctx context.Context, identity string) error
}

// BanRequest is a manual ban issued by an operator.
type BanRequest struct {
	Scope           string `json:"scope"`
	Identifier      string `json:"identifier"`
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type ViolationStatus struct {
	DeviceID         string `json:"device_id"`
	Violations       int64  `json:"violations"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
	NextBanSeconds   int64  `json:"next_ban_seconds"`
}

const maxManualBan = 365 * 24 * time.Hour

// BanService exposes the operator view of the penalty box.
type BanService struct {
	store       BanStore
	banDuration func(violations int64) time.Duration
	logger      *zap.Logger
}

// NewBanService takes the escalation function so violation status can show
// the ban the next jailing would issue.
func NewBanService(store BanStore, banDuration func(int64) time.Duration, logger *zap.Logger) *BanService {
	return &BanService{store: store, banDuration: banDuration, logger: logger}
}

func (s *BanService) ListBans(ctx context.Context, limit int) ([]model.BanRecord, error) {
	return s.store.ListBans(ctx, limit)
}

func (s *BanService) Ban(ctx context.Context, req BanRequest) (*model.BanRecord, error) {
	scope, ok := model.ParseBanScope(strings.ToLower(req.Scope))
	if !ok {
		return nil, fmt.Errorf("%w: scope must be ip or device", ErrInvalidInput)
	}
	identifier := strings.TrimSpace(req.Identifier)
	if !util.IsSafeIdentifier(identifier) {
		return nil, fmt.Errorf("%w: identifier is missing or contains invalid characters", ErrInvalidInput)
	}
	ttl := time.Duration(req.DurationSeconds) * time.Second
	if ttl <= 0 || ttl > maxManualBan {
		return nil, fmt.Errorf("%w: duration_seconds must be between 1 and %d", ErrInvalidInput, int64(maxManualBan/time.Second))
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	if util.ContainsSuspicious(reason) {
		return nil, fmt.Errorf("%w: reason contains invalid content", ErrInvalidInput)
	}

	if err := s.store.Ban(ctx, scope, identifier, reason, ttl); err != nil {
		return nil, err
	}
	return &model.BanRecord{
		Scope:      scope,
		Identifier: identifier,
		Reason:     reason,
		TTL:        ttl,
		ExpiresIn:  req.DurationSeconds,
	}, nil
}

// Unban removes a ban. resetViolations also clears the escalation memory
// so the next jailing starts from the first step; that works even after the
// ban itself has expired.
func (s *BanService) Unban(ctx context.Context, scopeValue, identifier string, resetViolations bool) error {
	scope, ok := model.ParseBanScope(strings.ToLower(scopeValue))
	if !ok {
		return fmt.Errorf("%w: scope must be ip or device", ErrInvalidInput)
	}
	rec, err := s.store.LookupBan(ctx, scope, identifier)
	if err != nil {
		return err
	}
	if rec == nil && !resetViolations {
		return ErrBanNotFound
	}
	if rec != nil {
		if err := s.store.Unban(ctx, scope, identifier); err != nil {
			return err
		}
	}
	if resetViolations {
		if err := s.store.ResetViolations(ctx, identifier); err != nil {
			return err
		}
		s.logger.Info("Violation counter reset", zap.String("identifier", identifier))
	}
	return nil
}

func (s *BanService) Violations(ctx context.Context, deviceID string) (*ViolationStatus, error) {
	count, ttl, err := s.store.Violations(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return &ViolationStatus{
		DeviceID:         deviceID,
		Violations:       count,
		ExpiresInSeconds: int64((ttl + time.Second - 1) / time.Second),
		NextBanSeconds:   int64(s.banDuration(count+1) / time.Second),
	}, nil
}
