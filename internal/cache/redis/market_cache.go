package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// MarketCache implements domain.MarketCache. Exchange assets and pairs are
// stored as JSON in one hash so a restart can come up while the REST API is
// slow.
//
// Key schema:
//
//	<ns>:market - hash with fields "assets" and "pairs"
type MarketCache struct {
	rdb    *redis.Client
	client *Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying(), client: c}
}

// SetMarket stores exchange metadata with the given TTL.
func (mc *MarketCache) SetMarket(ctx context.Context, market domain.Market, ttl time.Duration) error {
	assets, err := json.Marshal(market.Assets)
	if err != nil {
		return fmt.Errorf("redis: marshal assets: %w", err)
	}
	pairs, err := json.Marshal(market.Pairs)
	if err != nil {
		return fmt.Errorf("redis: marshal pairs: %w", err)
	}

	key := mc.client.Key("market")
	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "assets", assets, "pairs", pairs)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market: %w", err)
	}
	return nil
}

// GetMarket returns the cached metadata or domain.ErrNotFound.
func (mc *MarketCache) GetMarket(ctx context.Context) (domain.Market, error) {
	vals, err := mc.rdb.HMGet(ctx, mc.client.Key("market"), "assets", "pairs").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market: %w", err)
	}
	assetsRaw, ok1 := vals[0].(string)
	pairsRaw, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return domain.Market{}, domain.ErrNotFound
	}

	var market domain.Market
	if err := json.Unmarshal([]byte(assetsRaw), &market.Assets); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal assets: %w", err)
	}
	if err := json.Unmarshal([]byte(pairsRaw), &market.Pairs); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal pairs: %w", err)
	}
	return market, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
