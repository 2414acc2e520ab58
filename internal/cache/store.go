package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrInvalidKey is returned when a type or unique key is blank.
var ErrInvalidKey = errors.New("cache: type and unique key are required")

// Entry is a cached payload together with its bookkeeping timestamps. Domain is only
// set by callers that read through a domain-scoped key.
type Entry struct {
	Type       string
	UniqueKey  string
	Domain     string
	Payload    []byte
	DateAdded  time.Time
	LastSynced *time.Time
	ExpiryDate *time.Time
}

// Store is the typed local cache keyed by (type, unique key).
//
// Get treats expired entries as absent. Put is a single-key upsert that keeps the
// original DateAdded and refreshes LastSynced; the last writer wins.
type Store interface {
	Get(ctx context.Context, typ, uniqueKey string) (*Entry, bool, error)
	Put(ctx context.Context, typ, uniqueKey string, payload []byte, expiry *time.Time) error
	Invalidate(ctx context.Context, typ, uniqueKey string) error
}

// Purger is implemented by backends that need expired entries removed explicitly.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Option customises a Store implementation.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for expiry checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validateKey(typ, uniqueKey string) error {
	if strings.TrimSpace(typ) == "" || strings.TrimSpace(uniqueKey) == "" {
		return ErrInvalidKey
	}
	return nil
}

func normalizeContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// ScopedKey prefixes uniqueKey with the HAT domain the records belong to, so one
// installation can cache several HATs side by side. An empty domain leaves the key as is.
func ScopedKey(domain, uniqueKey string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return uniqueKey
	}
	return domain + "/" + uniqueKey
}

// ExpiryAfter returns now+ttl, or nil when ttl is not positive.
func ExpiryAfter(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	expiry := now.Add(ttl).UTC()
	return &expiry
}
