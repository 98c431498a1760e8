package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
)

// DistributedLock serializes one asset's signal writes across pods using
// the Redlock algorithm. Held locks auto-renew until released.
type DistributedLock struct {
	lockManager *redlock.RedLock
	assetID     int64
	lockName    string
	ttl         time.Duration

	mu     sync.Mutex
	locked bool
	stopCh chan struct{}
}

// NewDistributedLock creates a redlock-backed asset lock
func NewDistributedLock(lockManager *redlock.RedLock, assetID int64, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		lockManager: lockManager,
		assetID:     assetID,
		lockName:    fmt.Sprintf("asset:lock:%d", assetID),
		ttl:         ttl,
	}
}

// TryAcquire attempts to acquire the asset lock. Returns false when the
// lock is held elsewhere.
func (dl *DistributedLock) TryAcquire(ctx context.Context) (bool, error) {
	expiry, err := dl.lockManager.Lock(ctx, dl.lockName, dl.ttl)
	if err != nil {
		logger.Debug("asset lock held elsewhere",
			zap.Int64("asset_id", dl.assetID),
			zap.String("lock_name", dl.lockName),
		)
		return false, nil
	}

	if expiry <= 0 {
		return false, fmt.Errorf("failed to acquire lock: invalid expiry %v", expiry)
	}

	dl.mu.Lock()
	dl.locked = true
	dl.stopCh = make(chan struct{})
	stopCh := dl.stopCh
	dl.mu.Unlock()

	go dl.renewLock(ctx, stopCh)

	return true, nil
}

// Release releases the lock and stops renewal
func (dl *DistributedLock) Release(ctx context.Context) error {
	dl.mu.Lock()
	if !dl.locked {
		dl.mu.Unlock()
		return nil
	}
	dl.locked = false
	close(dl.stopCh)
	dl.mu.Unlock()

	if err := dl.lockManager.UnLock(ctx, dl.lockName); err != nil {
		// The lock may have expired naturally; the next holder is safe
		// either way.
		logger.Warn("failed to release asset lock",
			zap.Int64("asset_id", dl.assetID),
			zap.Error(err),
		)
	}

	return nil
}

// renewLock extends the TTL at 2/3 intervals until released. Redlock has
// no native renewal, so release+reacquire is used.
func (dl *DistributedLock) renewLock(ctx context.Context, stopCh chan struct{}) {
	renewInterval := (dl.ttl * 2) / 3
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-stopCh:
			return

		case <-ticker.C:
			if err := dl.lockManager.UnLock(ctx, dl.lockName); err != nil {
				logger.Error("asset lock renewal failed",
					zap.Int64("asset_id", dl.assetID),
					zap.Error(err),
				)
				dl.markLost()
				return
			}

			expiry, err := dl.lockManager.Lock(ctx, dl.lockName, dl.ttl)
			if err != nil || expiry <= 0 {
				logger.Error("asset lock lost during renewal",
					zap.Int64("asset_id", dl.assetID),
					zap.Error(err),
				)
				dl.markLost()
				return
			}
		}
	}
}

func (dl *DistributedLock) markLost() {
	dl.mu.Lock()
	dl.locked = false
	dl.mu.Unlock()
}
