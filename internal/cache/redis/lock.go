package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Both scripts act only while KEYS[1] still holds the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)
)

const releaseTimeout = 5 * time.Second

// LockManager hands out expiring leases on bot ids so one process drives a
// bot at a time. Each lease is a random token stored under the lock key.
type LockManager struct {
	rdb    *redis.Client
	client *Client

	mu     sync.Mutex
	leases map[string]string // key -> token
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying(), client: c, leases: make(map[string]string)}
}

// Acquire takes the lease on key for ttl, or fails with domain.ErrLockHeld.
// The returned release is idempotent and works after ctx has ended.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	redisKey := lm.client.Key("lock", key)

	won, err := lm.rdb.SetNX(ctx, redisKey, token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	case !won:
		return nil, domain.ErrLockHeld
	}

	lm.mu.Lock()
	lm.leases[key] = token
	lm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.forget(key, token)
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(rctx, lm.rdb, []string{redisKey}, token).Err()
		})
	}, nil
}

// Extend renews a lease this manager holds. A lease that expired and was
// taken by someone else yields domain.ErrLockHeld and is forgotten.
func (lm *LockManager) Extend(ctx context.Context, key string, ttl time.Duration) error {
	lm.mu.Lock()
	token, ok := lm.leases[key]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("redis: extend lock %s: %w", key, domain.ErrNotFound)
	}

	n, err := renewScript.Run(ctx, lm.rdb, []string{lm.client.Key("lock", key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", key, err)
	}
	if n == 0 {
		lm.forget(key, token)
		return domain.ErrLockHeld
	}
	return nil
}

// forget drops the local record unless a newer lease replaced it.
func (lm *LockManager) forget(key, token string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.leases[key] == token {
		delete(lm.leases, key)
	}
}

var _ domain.LockManager = (*LockManager)(nil)
