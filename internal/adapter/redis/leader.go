package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const sweepLockKey = "gryaz:sweeper:leader"

// extend and release only touch the key while it still carries our instance ID.
var (
	extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// SweepLock is a lease held by at most one instance. The lease expires on its
// own when the holder dies, so the TTL should comfortably exceed the sweep interval.
type SweepLock struct {
	rdb        *goredis.Client
	instanceID string
	key        string
	ttl        time.Duration
}

func NewSweepLock(rdb *goredis.Client, instanceID string, ttl time.Duration) *SweepLock {
	return &SweepLock{
		rdb:        rdb,
		instanceID: instanceID,
		key:        sweepLockKey,
		ttl:        ttl,
	}
}

// Hold takes the lease if it is free, or renews it if this instance holds it.
func (l *SweepLock) Hold(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if ok {
		return true, nil
	}

	extended, err := extendScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to renew sweep lock: %w", err)
	}
	return extended == 1, nil
}

// Release gives the lease up if this instance holds it.
func (l *SweepLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.instanceID).Err(); err != nil {
		return fmt.Errorf("failed to release sweep lock: %w", err)
	}
	return nil
}
