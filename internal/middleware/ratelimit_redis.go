package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const redisRatePrefix = "hatsync:ratelimit:"

// RedisCommander issues a single redis command. cache.RedisClient implements it.
type RedisCommander interface {
	Do(ctx context.Context, args ...string) (interface{}, error)
}

type redisRateStore struct {
	client RedisCommander
}

// NewRedisRateStore shares rate limit counters through redis. A nil client returns nil.
func NewRedisRateStore(client RedisCommander) RateStore {
	if client == nil {
		return nil
	}
	return &redisRateStore{client: client}
}

func (s *redisRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	key = redisRatePrefix + key

	count, err := s.doInt(ctx, "INCR", key)
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if _, err := s.doInt(ctx, "PEXPIRE", key, strconv.FormatInt(window.Milliseconds(), 10)); err != nil {
			return 0, 0, err
		}
	}

	ttlMillis, err := s.doInt(ctx, "PTTL", key)
	if err != nil || ttlMillis < 0 {
		return int(count), window, nil
	}
	return int(count), time.Duration(ttlMillis) * time.Millisecond, nil
}

func (s *redisRateStore) doInt(ctx context.Context, args ...string) (int64, error) {
	resp, err := s.client.Do(ctx, args...)
	if err != nil {
		return 0, err
	}
	n, ok := resp.(int64)
	if !ok {
		return 0, fmt.Errorf("redis: unexpected %s response %T", args[0], resp)
	}
	return n, nil
}
