package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const scopeKeyPrefix = "approval:scope:"

// ScopeCache caches resolved user scopes in Redis. A nil client turns every
// call into a no-op so the service keeps working without Redis.
type ScopeCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewScopeCache creates a scope cache on top of client
func NewScopeCache(client *redis.Client, ttl time.Duration) *ScopeCache {
	return &ScopeCache{
		client: client,
		ttl:    ttl,
	}
}

// Enabled reports whether a Redis client is configured
func (c *ScopeCache) Enabled() bool {
	return c != nil && c.client != nil
}

// cacheKey scopes an entry to the inputs it was resolved from. A user whose
// role, assignments or hierarchy changed resolves to a different key.
func (c *ScopeCache) cacheKey(userID uuid.UUID, fingerprint uint64) string {
	return fmt.Sprintf("%s%s:%016x", scopeKeyPrefix, userID.String(), fingerprint)
}

// Get returns the cached scope of a user for fingerprint. found is false on a
// cache miss.
func (c *ScopeCache) Get(ctx context.Context, userID uuid.UUID, fingerprint uint64) (ids []uuid.UUID, found bool, err error) {
	if !c.Enabled() {
		return nil, false, nil
	}

	data, err := c.client.Get(ctx, c.cacheKey(userID, fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false, err
	}
	return ids, true, nil
}

// Set caches the scope of a user under fingerprint
func (c *ScopeCache) Set(ctx context.Context, userID uuid.UUID, fingerprint uint64, ids []uuid.UUID) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.cacheKey(userID, fingerprint), data, c.ttl).Err()
}

// InvalidateAll drops every cached scope. Entries resolved from an older tree
// are never read again; this only frees them before their TTL.
func (c *ScopeCache) InvalidateAll(ctx context.Context) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}

	iter := c.client.Scan(ctx, 0, scopeKeyPrefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Ping checks the Redis connection
func (c *ScopeCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return fmt.Errorf("redis not configured")
	}
	return c.client.Ping(ctx).Err()
}
