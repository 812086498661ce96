package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// DistributedLockService hands out redsync mutexes backed by a single Redis.
type DistributedLockService struct {
	rs *redsync.Redsync
}

func NewLockService(client redis.UniversalClient) *DistributedLockService {
	return &DistributedLockService{rs: redsync.New(goredis.NewPool(client))}
}

// AcquireLock blocks for a few short retries before giving up.
func (s *DistributedLockService) AcquireLock(ctx context.Context, name string, expiry time.Duration) (*redsync.Mutex, error) {
	mutex := s.rs.NewMutex(name,
		redsync.WithExpiry(expiry),
		redsync.WithTries(5),
		redsync.WithRetryDelay(50*time.Millisecond),
		redsync.WithDriftFactor(0.01),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, name, err)
	}
	return mutex, nil
}

// WithLock runs action while holding name.
func (s *DistributedLockService) WithLock(ctx context.Context, name string, expiry time.Duration, action func() error) error {
	mutex, err := s.AcquireLock(ctx, name, expiry)
	if err != nil {
		return err
	}
	defer mutex.UnlockContext(context.WithoutCancel(ctx))
	return action()
}

// TryWithLock makes a single attempt. It reports false without error when
// another holder has the lock.
func (s *DistributedLockService) TryWithLock(ctx context.Context, name string, expiry time.Duration, action func() error) (bool, error) {
	mutex := s.rs.NewMutex(name, redsync.WithExpiry(expiry), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		return false, nil
	}
	defer mutex.UnlockContext(context.WithoutCancel(ctx))
	return true, action()
}
