package rules

import "time"

// RulesCache caches the active rules list so evaluation does not hit the
// rule store on every request. Implementations: InMemoryRulesCache and
// RedisRulesCache.
type RulesCache interface {
	// Get returns the cached rules, or nil on a miss or expiry
	Get() []*Rule

	// Set stores rules in cache
	Set(rules []*Rule)

	// Invalidate clears the cache, forcing a reload on next Get
	Invalidate()

	// IsValid reports whether the cache currently holds rules
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Zero means no expiration (invalidate on mutation only).
	TTL time.Duration

	// Key namespaces the cached list in shared caches such as Redis.
	Key string
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0,
		Key: "flyclaim:exemption_rules",
	}
}
