package cache

import "errors"

var (
	ErrRedisNotAvailable = errors.New("redis not available")
	ErrLockNotAcquired   = errors.New("could not acquire distributed lock")
)
