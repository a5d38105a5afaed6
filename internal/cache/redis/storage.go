package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Storage implements domain.HashStore for one scope. Keys are laid out as
// <namespace>:<scope>:<key>, e.g. moonbot:12:inventory:tokens.
type Storage struct {
	rdb    *redis.Client
	client *Client
	scope  string
}

// NewStorage returns a Storage rooted at scope.
func NewStorage(c *Client, scope string) *Storage {
	return &Storage{rdb: c.Underlying(), client: c, scope: scope}
}

// Scoped returns a Storage nested one level below s.
func (s *Storage) Scoped(sub string) *Storage {
	return &Storage{rdb: s.rdb, client: s.client, scope: s.scope + ":" + sub}
}

func (s *Storage) key(key string) string {
	return s.client.Key(s.scope, key)
}

// Get reads a plain string key.
func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, true, nil
}

// Set writes a plain string key without expiry.
func (s *Storage) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Del removes a key of any type.
func (s *Storage) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return nil
}

// GetHash returns every field of a hash. A missing hash yields an empty map.
func (s *Storage) GetHash(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: hgetall %s: %w", key, err)
	}
	return m, nil
}

// SetHash writes field/value pairs into a hash in one round trip.
func (s *Storage) SetHash(ctx context.Context, key string, fieldValues ...string) error {
	if len(fieldValues) == 0 || len(fieldValues)%2 != 0 {
		return fmt.Errorf("redis: hset %s: expected field/value pairs, got %d args", key, len(fieldValues))
	}
	args := make([]any, len(fieldValues))
	for i, v := range fieldValues {
		args[i] = v
	}
	if err := s.rdb.HSet(ctx, s.key(key), args...).Err(); err != nil {
		return fmt.Errorf("redis: hset %s: %w", key, err)
	}
	return nil
}

// DelHash removes one field from a hash.
func (s *Storage) DelHash(ctx context.Context, key, field string) error {
	if err := s.rdb.HDel(ctx, s.key(key), field).Err(); err != nil {
		return fmt.Errorf("redis: hdel %s %s: %w", key, field, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.HashStore = (*Storage)(nil)
