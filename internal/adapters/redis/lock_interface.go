package redis

import "context"

// AssetLock defines exclusive ownership of one asset's signal writes.
// Implementations may be process-local or distributed.
type AssetLock interface {
	// TryAcquire attempts to take the lock without blocking.
	// Returns false when another holder has it.
	TryAcquire(ctx context.Context) (bool, error)

	// Release releases the lock. Safe to call when not held.
	Release(ctx context.Context) error
}

// LockFactory creates per-asset locks
type LockFactory interface {
	CreateAssetLock(assetID int64) AssetLock
}
