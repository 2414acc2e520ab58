package app

import (
	"strings"

	"github.com/hubofallthings/hatsync/internal/hat"
	"github.com/hubofallthings/hatsync/internal/records"
)

// ClientConfig converts the HAT section into the hat package representation.
func (h HATConfig) ClientConfig() hat.Config {
	return hat.Config{
		Scheme:     strings.TrimSpace(h.Scheme),
		APIVersion: strings.TrimSpace(h.APIVersion),
		Timeout:    h.Timeout,
		Take:       h.Take,
	}
}

// ApplyOverrides returns kind with the configured TTL, source and table applied.
// A per-type TTL wins over cache.default_ttl, which wins over the shipped TTL.
func ApplyOverrides[T any](cfg *Config, kind records.Kind[T]) records.Kind[T] {
	if cfg == nil {
		return kind
	}
	if cfg.Cache.DefaultTTL > 0 {
		kind.TTL = cfg.Cache.DefaultTTL
	}

	override, ok := cfg.Sync.Types[kind.Name]
	if !ok {
		return kind
	}
	if override.TTL > 0 {
		kind.TTL = override.TTL
	}
	if source := strings.TrimSpace(override.Source); source != "" {
		kind.Source = source
		kind.Schema.Source = source
	}
	if table := strings.TrimSpace(override.Table); table != "" {
		kind.Table = table
		kind.Schema.Name = table
	}
	return kind
}
