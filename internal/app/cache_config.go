package app

import (
	"strings"

	"github.com/hubofallthings/hatsync/internal/cache"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// UsesRedis reports whether the redis backend is selected.
func (c CacheConfig) UsesRedis() bool {
	return strings.EqualFold(strings.TrimSpace(c.Backend), "redis")
}
