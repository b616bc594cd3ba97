package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService provides high-level caching operations for feed snapshots.
// Values are JSON-serialized into Redis.
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service. The TTL is the default
// freshness window; callers with per-resource windows use SetWithTTL.
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{
		redis: redis,
		ttl:   ttl,
	}
}

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyPrice is for token spot prices
	CacheKeyPrice CacheKeyType = "price"
	// CacheKeyValuation is for portfolio aggregate values
	CacheKeyValuation CacheKeyType = "valuation"
	// CacheKeyBalances is for wallet balance snapshots
	CacheKeyBalances CacheKeyType = "balances"
	// CacheKeyTxFeed is for wallet transaction feed pages
	CacheKeyTxFeed CacheKeyType = "txfeed"
)

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	normalizedParams := make([]string, len(params))
	for i, param := range params {
		normalizedParams[i] = strings.ToLower(param)
	}

	parts := append([]string{string(keyType)}, normalizedParams...)
	return strings.Join(parts, ":")
}

// GeneratePriceKey generates a cache key for a token spot price
// Format: price:<token>
func (c *CacheService) GeneratePriceKey(token string) string {
	return c.GenerateCacheKey(CacheKeyPrice, token)
}

// GenerateValuationKey generates a cache key for a portfolio valuation
// Format: valuation:<portfolio-id>
func (c *CacheService) GenerateValuationKey(portfolioID string) string {
	return c.GenerateCacheKey(CacheKeyValuation, portfolioID)
}

// GenerateBalancesKey generates a cache key for a wallet balance snapshot
// Format: balances:<address>:<chain>
func (c *CacheService) GenerateBalancesKey(address, chain string) string {
	return c.GenerateCacheKey(CacheKeyBalances, address, chain)
}

// GenerateTxFeedKey generates a cache key for a transaction feed page. The
// cursor is part of the key so different pages never collide.
func (c *CacheService) GenerateTxFeedKey(address, chain, cursor string) string {
	if cursor == "" {
		cursor = "genesis"
	}
	return c.GenerateCacheKey(CacheKeyTxFeed, address, chain, cursor)
}

// Set stores a value in cache with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores a value in cache with a custom TTL
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := c.redis.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("failed to set cache key %s: %w", key, err)
	}
	return nil
}

// Get retrieves a value from cache and unmarshals it into dest. The bool
// reports whether the key was present; a miss is not an error.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value for %s: %w", key, err)
	}
	return true, nil
}

// Delete removes keys from cache
func (c *CacheService) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// Client exposes the underlying Redis client for callers that need raw
// operations (quota counters use Lua scripts).
func (c *CacheService) Client() *redis.Client {
	return c.redis.Client()
}
