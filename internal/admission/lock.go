package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LockStore provides the exclusive per-identity upload lock.
type LockStore interface {
	AcquireUploadLock(ctx context.Context, identity, token string, ttl time.Duration) (bool, error)
	ReleaseUploadLock(ctx context.Context, identity, token string) (bool, error)
}

// ConcurrencyLock allows one in-flight upload per device. The lock is
// released by the request's finalizer; its TTL only covers a crashed
// process.
type ConcurrencyLock struct {
	store          LockStore
	ttl            time.Duration
	releaseTimeout time.Duration
	logger         *zap.Logger
}

func NewConcurrencyLock(store LockStore, ttl, releaseTimeout time.Duration, logger *zap.Logger) *ConcurrencyLock {
	return &ConcurrencyLock{store: store, ttl: ttl, releaseTimeout: releaseTimeout, logger: logger}
}

func (l *ConcurrencyLock) Name() string { return "upload_lock" }

func (l *ConcurrencyLock) Admit(ctx context.Context, req *Request) (*Rejection, error) {
	identity := req.Identity()
	token := uuid.NewString()

	acquired, err := l.store.AcquireUploadLock(ctx, identity, token, l.ttl)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return Conflict("an upload for this device is already in progress, retry when it completes"), nil
	}

	// Released on a fresh context: the request context may already be
	// cancelled when the client disconnects.
	req.OnFinish(func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), l.releaseTimeout)
		defer cancel()

		released, err := l.store.ReleaseUploadLock(releaseCtx, identity, token)
		switch {
		case err != nil:
			l.logger.Error("Failed to release upload lock, TTL will reclaim it",
				zap.String("identity", identity),
				zap.String("request_id", req.ID),
				zap.Duration("ttl", l.ttl),
				zap.Error(err))
		case !released:
			l.logger.Warn("Upload lock expired before release",
				zap.String("identity", identity),
				zap.String("request_id", req.ID))
		}
	})
	return nil, nil
}
