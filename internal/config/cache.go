package config

import (
    "strings"
    "time"
)

// CacheConfig defines settings for the To Do read cache.  When Enabled is
// false or no Redis client is configured, caching is disabled.  Entries are
// always scoped to the calling identity and Microsoft token; KeyStrategy
// only decides whether the query string participates in the key.
type CacheConfig struct {
    Enabled      bool
    TTL          time.Duration
    KeyStrategy  string // "route" or "route_query"
    Prefix       string
    MaxBodyBytes int
}

// LoadCacheConfig reads CACHE_* environment variables.
func LoadCacheConfig() CacheConfig {
    return CacheConfig{
        Enabled:      envBool("CACHE_ENABLED", true),
        TTL:          envDur("CACHE_TTL", 30*time.Second),
        KeyStrategy:  strings.ToLower(envStr("CACHE_KEY_STRATEGY", "route_query")),
        Prefix:       envStr("CACHE_PREFIX", "todo-cache"),
        MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
    }
}
