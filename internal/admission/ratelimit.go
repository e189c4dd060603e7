package admission

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/config"
	"telemetry-gateway/internal/model"
)

// BanReasonRateLimit is recorded on bans issued by the penalty box.
const BanReasonRateLimit = "rate_limit_exceeded"

// EscalationTable maps the n-th violation (1-based) to a ban duration. The
// last entry applies to every violation past the table.
var EscalationTable = []time.Duration{
	15 * time.Minute,
	time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
}

// BanDuration returns the ban length for a device's violation count.
func BanDuration(violations int64) time.Duration {
	if violations < 1 {
		violations = 1
	}
	if violations > int64(len(EscalationTable)) {
		return EscalationTable[len(EscalationTable)-1]
	}
	return EscalationTable[violations-1]
}

// RateStore is the shared state the rate limiter counts in.
type RateStore interface {
	IncrementWindow(ctx context.Context, userType model.UserType, identity string, window time.Duration) (int64, time.Duration, error)
	IncrementViolations(ctx context.Context, identity string, ttl time.Duration) (int64, error)
	Ban(ctx context.Context, scope model.BanScope, identifier, reason string, ttl time.Duration) error
}

// RateLimiter counts requests per (user type, identity) in fixed windows.
// Passing the normal threshold throttles; passing the jail threshold bans
// the caller's IP and device with an escalating duration.
type RateLimiter struct {
	store        RateStore
	tiers        map[model.UserType]config.Tier
	window       time.Duration
	violationTTL time.Duration
	logger       *zap.Logger
}

func NewRateLimiter(store RateStore, tiers map[string]config.Tier, window, violationTTL time.Duration, logger *zap.Logger) *RateLimiter {
	byType := make(map[model.UserType]config.Tier, len(tiers))
	for name, tier := range tiers {
		if ut, ok := model.ParseUserType(name); ok {
			byType[ut] = tier
		}
	}
	return &RateLimiter{
		store:        store,
		tiers:        byType,
		window:       window,
		violationTTL: violationTTL,
		logger:       logger,
	}
}

func (l *RateLimiter) Name() string { return "rate_limit" }

// Classify picks the tier for req: verified claim, then path, then the
// X-User-Type header, then default.
func Classify(req *Request) model.UserType {
	if req.Claims != nil && req.ClaimsErr == nil {
		if ut, ok := model.ParseUserType(string(req.Claims.UserType)); ok {
			return ut
		}
	}

	switch {
	case strings.Contains(req.Path, "/devices/"), strings.Contains(req.Path, "/telemetry"):
		return model.UserTypeDevice
	case strings.Contains(req.Path, "/frontend"), strings.Contains(req.Path, "/dashboard"):
		return model.UserTypeFrontend
	}

	if ut, ok := model.ParseUserType(strings.ToLower(strings.TrimSpace(req.Header.Get("X-User-Type")))); ok {
		return ut
	}
	return model.UserTypeDefault
}

func (l *RateLimiter) tierFor(ut model.UserType) config.Tier {
	if tier, ok := l.tiers[ut]; ok {
		return tier
	}
	return l.tiers[model.UserTypeDefault]
}

func (l *RateLimiter) Admit(ctx context.Context, req *Request) (*Rejection, error) {
	userType := Classify(req)
	req.UserType = userType
	tier := l.tierFor(userType)
	identity := req.Identity()

	count, ttl, err := l.store.IncrementWindow(ctx, userType, identity, l.window)
	if err != nil {
		return nil, err
	}

	if count > tier.Jail {
		return l.jail(ctx, req, identity, count)
	}

	remaining := tier.Normal - count
	if remaining < 0 {
		remaining = 0
	}
	headers := http.Header{}
	headers.Set("X-RateLimit-Limit", strconv.FormatInt(tier.Normal, 10))
	headers.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(ceilSeconds(ttl), 10))

	if count > tier.Normal {
		return Throttled(ttl, headers), nil
	}

	if req.ResponseHeader == nil {
		req.ResponseHeader = http.Header{}
	}
	for k, v := range headers {
		req.ResponseHeader[k] = v
	}
	return nil, nil
}

func (l *RateLimiter) jail(ctx context.Context, req *Request, identity string, count int64) (*Rejection, error) {
	violations, err := l.store.IncrementViolations(ctx, identity, l.violationTTL)
	if err != nil {
		return nil, err
	}
	duration := BanDuration(violations)

	if req.IP != "" {
		if err := l.store.Ban(ctx, model.BanScopeIP, req.IP, BanReasonRateLimit, duration); err != nil {
			return nil, err
		}
	}
	if req.DeviceID != "" {
		if err := l.store.Ban(ctx, model.BanScopeDevice, req.DeviceID, BanReasonRateLimit, duration); err != nil {
			return nil, err
		}
	}

	l.logger.Warn("Jail threshold exceeded, caller banned",
		zap.String("identity", identity),
		zap.String("ip", req.IP),
		zap.String("device_id", req.DeviceID),
		zap.String("user_type", string(req.UserType)),
		zap.Int64("count", count),
		zap.Int64("violations", violations),
		zap.Duration("ban", duration))

	return Blocked(BanReasonRateLimit, duration), nil
}
