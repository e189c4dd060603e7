package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/model"
)

const (
	banPrefix        = "ban:"
	violationPrefix  = "violations:"
	rateWindowPrefix = "ratelimit:"
	uploadLockPrefix = "upload_lock:"
	pendingPrefix    = "claimcheck:pending:"
	leasePrefix      = "lease:"
)

// KeyValueStore is the set of atomic primitives the admission keyspace is
// built on. *client.RedisClient satisfies it for multi-replica deployments;
// memory.Store satisfies it for a single process.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetWithTTL(ctx context.Context, key string) (string, time.Duration, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	ScanKeys(ctx context.Context, pattern string, limit int) ([]string, error)
	HealthCheck(ctx context.Context) error
}

// AdmissionCache owns the shared keyspace used by admission control: ban
// records, violation counters, rate windows, upload locks and claim checks
// waiting to be republished. Nothing here is cached in process.
type AdmissionCache struct {
	store  KeyValueStore
	logger *zap.Logger
}

func NewAdmissionCache(store KeyValueStore, logger *zap.Logger) *AdmissionCache {
	return &AdmissionCache{store: store, logger: logger}
}

func banKey(scope model.BanScope, identifier string) string {
	return banPrefix + string(scope) + ":" + identifier
}

// ==============================
// Ban records
// ==============================

func (c *AdmissionCache) Ban(ctx context.Context, scope model.BanScope, identifier, reason string, ttl time.Duration) error {
	if err := c.store.Set(ctx, banKey(scope, identifier), reason, ttl); err != nil {
		c.logger.Error("Failed to write ban record",
			zap.String("scope", string(scope)),
			zap.String("identifier", identifier),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to ban %s %s: %w", scope, identifier, err)
	}
	c.logger.Info("Ban record written",
		zap.String("scope", string(scope)),
		zap.String("identifier", identifier),
		zap.String("reason", reason),
		zap.Duration("ttl", ttl))
	return nil
}

// LookupBan returns nil when identifier is not banned.
func (c *AdmissionCache) LookupBan(ctx context.Context, scope model.BanScope, identifier string) (*model.BanRecord, error) {
	reason, ttl, found, err := c.store.GetWithTTL(ctx, banKey(scope, identifier))
	if err != nil {
		return nil, fmt.Errorf("failed to check ban for %s %s: %w", scope, identifier, err)
	}
	if !found {
		return nil, nil
	}
	return newBanRecord(scope, identifier, reason, ttl), nil
}

func (c *AdmissionCache) Unban(ctx context.Context, scope model.BanScope, identifier string) error {
	if err := c.store.Del(ctx, banKey(scope, identifier)); err != nil {
		return fmt.Errorf("failed to unban %s %s: %w", scope, identifier, err)
	}
	c.logger.Info("Ban record removed",
		zap.String("scope", string(scope)),
		zap.String("identifier", identifier))
	return nil
}

// ListBans enumerates active bans with SCAN. Records that expire between
// the scan and the read are skipped.
func (c *AdmissionCache) ListBans(ctx context.Context, limit int) ([]model.BanRecord, error) {
	keys, err := c.store.ScanKeys(ctx, banPrefix+"*", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ban records: %w", err)
	}

	bans := make([]model.BanRecord, 0, len(keys))
	for _, key := range keys {
		parts := strings.SplitN(strings.TrimPrefix(key, banPrefix), ":", 2)
		if len(parts) != 2 {
			continue
		}
		scope, ok := model.ParseBanScope(parts[0])
		if !ok {
			continue
		}
		reason, ttl, found, err := c.store.GetWithTTL(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read ban record %s: %w", key, err)
		}
		if !found {
			continue
		}
		bans = append(bans, *newBanRecord(scope, parts[1], reason, ttl))
	}

	sort.Slice(bans, func(i, j int) bool {
		if bans[i].Scope != bans[j].Scope {
			return bans[i].Scope < bans[j].Scope
		}
		return bans[i].Identifier < bans[j].Identifier
	})
	return bans, nil
}

func newBanRecord(scope model.BanScope, identifier, reason string, ttl time.Duration) *model.BanRecord {
	return &model.BanRecord{
		Scope:      scope,
		Identifier: identifier,
		Reason:     reason,
		TTL:        ttl,
		ExpiresIn:  int64((ttl + time.Second - 1) / time.Second),
	}
}

// ==============================
// Violation counters
// ==============================

// IncrementViolations bumps the rolling abuse memory for identity and
// refreshes its TTL. It is never decremented.
func (c *AdmissionCache) IncrementViolations(ctx context.Context, identity string, ttl time.Duration) (int64, error) {
	count, err := c.store.IncrWithExpire(ctx, violationPrefix+identity, ttl)
	if err != nil {
		return 0, fmt.Errorf("failed to increment violations for %s: %w", identity, err)
	}
	return count, nil
}

func (c *AdmissionCache) Violations(ctx context.Context, identity string) (int64, time.Duration, error) {
	raw, ttl, found, err := c.store.GetWithTTL(ctx, violationPrefix+identity)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read violations for %s: %w", identity, err)
	}
	if !found {
		return 0, 0, nil
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid violation counter for %s: %w", identity, err)
	}
	return count, ttl, nil
}

func (c *AdmissionCache) ResetViolations(ctx context.Context, identity string) error {
	if err := c.store.Del(ctx, violationPrefix+identity); err != nil {
		return fmt.Errorf("failed to reset violations for %s: %w", identity, err)
	}
	return nil
}

// ==============================
// Rate windows
// ==============================

// IncrementWindow counts one request for (userType, identity) in the current
// fixed window and returns the post-increment count and the time left.
func (c *AdmissionCache) IncrementWindow(ctx context.Context, userType model.UserType, identity string, window time.Duration) (int64, time.Duration, error) {
	key := rateWindowPrefix + string(userType) + ":" + identity
	count, ttl, err := c.store.IncrWindow(ctx, key, window)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate window %s: %w", key, err)
	}
	return count, ttl, nil
}

// ==============================
// Upload locks
// ==============================

func (c *AdmissionCache) AcquireUploadLock(ctx context.Context, identity, token string, ttl time.Duration) (bool, error) {
	ok, err := c.store.SetNX(ctx, uploadLockPrefix+identity, token, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to acquire upload lock for %s: %w", identity, err)
	}
	return ok, nil
}

// ReleaseUploadLock deletes the lock only while token still owns it, so a
// request whose lock already expired cannot free a newer holder's lock.
func (c *AdmissionCache) ReleaseUploadLock(ctx context.Context, identity, token string) (bool, error) {
	released, err := c.store.DelIfValue(ctx, uploadLockPrefix+identity, token)
	if err != nil {
		return false, fmt.Errorf("failed to release upload lock for %s: %w", identity, err)
	}
	return released, nil
}

// ==============================
// Pending claim checks
// ==============================

// SavePending parks a claim check whose publish failed. Entries carry no
// TTL; they leave only when republished or deleted by an operator.
func (c *AdmissionCache) SavePending(ctx context.Context, cc model.ClaimCheck) error {
	raw, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to encode claim check %s: %w", cc.ID, err)
	}
	if err := c.store.Set(ctx, pendingPrefix+cc.ID, string(raw), 0); err != nil {
		return fmt.Errorf("failed to park claim check %s: %w", cc.ID, err)
	}
	return nil
}

func (c *AdmissionCache) ListPending(ctx context.Context, limit int) ([]model.ClaimCheck, error) {
	keys, err := c.store.ScanKeys(ctx, pendingPrefix+"*", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending claim checks: %w", err)
	}

	pending := make([]model.ClaimCheck, 0, len(keys))
	for _, key := range keys {
		raw, found, err := c.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read pending claim check %s: %w", key, err)
		}
		if !found {
			continue
		}
		var cc model.ClaimCheck
		if err := json.Unmarshal([]byte(raw), &cc); err != nil {
			c.logger.Error("Discarding unreadable pending claim check",
				zap.String("key", key), zap.Error(err))
			continue
		}
		pending = append(pending, cc)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

func (c *AdmissionCache) DeletePending(ctx context.Context, id string) error {
	if err := c.store.Del(ctx, pendingPrefix+id); err != nil {
		return fmt.Errorf("failed to delete pending claim check %s: %w", id, err)
	}
	return nil
}

// ==============================
// Leases
// ==============================

// AcquireLease grants name to a single holder across replicas for ttl.
func (c *AdmissionCache) AcquireLease(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	return c.store.SetNX(ctx, leasePrefix+name, token, ttl)
}

func (c *AdmissionCache) ReleaseLease(ctx context.Context, name, token string) error {
	_, err := c.store.DelIfValue(ctx, leasePrefix+name, token)
	return err
}

func (c *AdmissionCache) HealthCheck(ctx context.Context) error {
	return c.store.HealthCheck(ctx)
}
