package domain

import (
	"context"
	"time"
)

// HashStore is the key/value + hash-field contract the ledger and strategies
// persist through. Keys are namespaced by the implementation.
type HashStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, key string) error
	GetHash(ctx context.Context, key string) (map[string]string, error)
	SetHash(ctx context.Context, key string, fieldValues ...string) error
	DelHash(ctx context.Context, key, field string) error
}

// MarketCache keeps exchange metadata between restarts.
type MarketCache interface {
	SetMarket(ctx context.Context, market Market, ttl time.Duration) error
	GetMarket(ctx context.Context) (Market, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// SignalBus provides pub/sub between bots.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
