package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/clobx/clobd/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua is a Lua script that deletes a lock key only if its value matches
// the caller's unique token. This prevents one holder from accidentally
// releasing another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// a Lua-based conditional unlock. Acquisition is non-blocking: a held lock
// is reported via ok=false, not an error, so fillOrder's caller can treat it
// as a signal to retry on the next tick.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// TryLock implements domain.LockManager.
func (lm *LockManager) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: try lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	released := false
	unlock := func(unlockCtx context.Context) {
		if released {
			return
		}
		released = true
		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}

	return unlock, true, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
