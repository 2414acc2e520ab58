package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const redisKeyPrefix = "hatsync:cache:"

const (
	fieldPayload    = "payload"
	fieldDateAdded  = "date_added"
	fieldLastSynced = "last_synced"
	fieldExpiry     = "expiry_date"
)

// RedisStore implements Store on top of Redis hashes. Each entry lives in one hash;
// date_added is written with HSETNX so it survives later puts, and Redis expires the
// key itself via PEXPIREAT.
type RedisStore struct {
	client *RedisClient
	now    func() time.Time
}

// NewRedisStore wraps an established client.
func NewRedisStore(client *RedisClient, opts ...Option) *RedisStore {
	if client == nil {
		return nil
	}
	o := buildOptions(opts)
	return &RedisStore{client: client, now: o.now}
}

// Get reads the hash for the key. Entries whose expiry has passed are removed and reported absent.
func (s *RedisStore) Get(ctx context.Context, typ, uniqueKey string) (*Entry, bool, error) {
	if s == nil {
		return nil, false, errors.New("cache: redis store not initialised")
	}
	if err := validateKey(typ, uniqueKey); err != nil {
		return nil, false, err
	}

	key := redisKey(typ, uniqueKey)
	resp, err := s.client.Do(ctx, "HGETALL", key)
	if err != nil {
		return nil, false, err
	}

	items, ok := resp.([]interface{})
	if !ok {
		return nil, false, fmt.Errorf("redis: unexpected HGETALL response %T", resp)
	}
	if len(items) == 0 {
		return nil, false, nil
	}

	fields := make(map[string][]byte, len(items)/2)
	for i := 0; i+1 < len(items); i += 2 {
		name, _ := items[i].([]byte)
		value, _ := items[i+1].([]byte)
		fields[string(name)] = value
	}

	payload, ok := fields[fieldPayload]
	if !ok {
		return nil, false, nil
	}

	entry := &Entry{
		Type:      typ,
		UniqueKey: uniqueKey,
		Payload:   payload,
	}
	if ts, ok := parseMillis(fields[fieldDateAdded]); ok {
		entry.DateAdded = ts
	}
	if ts, ok := parseMillis(fields[fieldLastSynced]); ok {
		entry.LastSynced = &ts
	}
	if ts, ok := parseMillis(fields[fieldExpiry]); ok {
		entry.ExpiryDate = &ts
		if !ts.After(s.now()) {
			_ = s.Invalidate(ctx, typ, uniqueKey)
			return nil, false, nil
		}
	}

	return entry, true, nil
}

// Put writes the entry atomically.
func (s *RedisStore) Put(ctx context.Context, typ, uniqueKey string, payload []byte, expiry *time.Time) error {
	if s == nil {
		return errors.New("cache: redis store not initialised")
	}
	if err := validateKey(typ, uniqueKey); err != nil {
		return err
	}

	key := redisKey(typ, uniqueKey)
	now := formatMillis(s.now())

	commands := [][]string{
		{"HSETNX", key, fieldDateAdded, now},
		{"HSET", key, fieldPayload, string(payload), fieldLastSynced, now},
	}
	if expiry != nil {
		commands = append(commands,
			[]string{"HSET", key, fieldExpiry, formatMillis(*expiry)},
			[]string{"PEXPIREAT", key, formatMillis(*expiry)},
		)
	} else {
		commands = append(commands,
			[]string{"HDEL", key, fieldExpiry},
			[]string{"PERSIST", key},
		)
	}

	_, err := s.client.Transaction(ctx, commands...)
	return err
}

// Invalidate deletes the key. Missing keys are not an error.
func (s *RedisStore) Invalidate(ctx context.Context, typ, uniqueKey string) error {
	if s == nil {
		return errors.New("cache: redis store not initialised")
	}
	if err := validateKey(typ, uniqueKey); err != nil {
		return err
	}
	_, err := s.client.Do(ctx, "DEL", redisKey(typ, uniqueKey))
	return err
}

// Ping reports whether the backing Redis server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if s == nil {
		return errors.New("cache: redis store not initialised")
	}
	return s.client.Ping(ctx)
}

func redisKey(typ, uniqueKey string) string {
	return redisKeyPrefix + typ + ":" + uniqueKey
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(raw []byte) (time.Time, bool) {
	if len(raw) == 0 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
