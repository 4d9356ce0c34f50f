package rules

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisOpTimeout bounds each cache round trip; a slow cache is a miss.
const redisOpTimeout = 500 * time.Millisecond

// RedisRulesCache shares the active rules list between server replicas.
// Any Redis failure is reported as a cache miss so evaluation falls back
// to the rule store.
type RedisRulesCache struct {
	client redis.UniversalClient
	config CacheConfig
	logger *slog.Logger
}

// NewRedisRulesCache creates a cache storing rules under config.Key.
func NewRedisRulesCache(client redis.UniversalClient, config CacheConfig) *RedisRulesCache {
	if config.Key == "" {
		config.Key = DefaultCacheConfig().Key
	}
	return &RedisRulesCache{
		client: client,
		config: config,
		logger: slog.Default().With("component", "rules_cache"),
	}
}

// Get returns the cached rules, or nil on a miss or error.
func (c *RedisRulesCache) Get() []*Rule {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := c.client.Get(ctx, c.config.Key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("rules cache read failed", "error", err)
		}
		return nil
	}

	var rules []*Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		c.logger.Warn("rules cache entry corrupt", "error", err)
		return nil
	}
	return rules
}

// Set stores rules with the configured TTL.
func (c *RedisRulesCache) Set(rules []*Rule) {
	data, err := json.Marshal(rules)
	if err != nil {
		c.logger.Warn("rules cache encode failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.config.Key, data, c.config.TTL).Err(); err != nil {
		c.logger.Warn("rules cache write failed", "error", err)
	}
}

// Invalidate deletes the cached list.
func (c *RedisRulesCache) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.config.Key).Err(); err != nil {
		c.logger.Warn("rules cache invalidate failed", "error", err)
	}
}

// IsValid reports whether the key is present.
func (c *RedisRulesCache) IsValid() bool {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	n, err := c.client.Exists(ctx, c.config.Key).Result()
	return err == nil && n == 1
}
