package ratelimit

import (
	"context"
	"time"
)

// WindowCounter is the Redis primitive the store builds on.
type WindowCounter interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisStore shares counters between instances through Redis.
type RedisStore struct {
	counter WindowCounter
	prefix  string
}

// NewRedisStore creates a store whose keys are namespaced by prefix.
func NewRedisStore(counter WindowCounter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{counter: counter, prefix: prefix}
}

// Take increments the shared counter. Requests past max still bump the
// counter but it never grants more than max admissions per window.
func (s *RedisStore) Take(ctx context.Context, key string, max int, window time.Duration) (Result, error) {
	count, ttl, err := s.counter.IncrementWindow(ctx, s.prefix+key, window)
	if err != nil {
		return Result{}, err
	}
	if count > int64(max) {
		return Result{Allowed: false, Remaining: 0, ResetIn: ttl}, nil
	}
	return Result{Allowed: true, Remaining: max - int(count), ResetIn: ttl}, nil
}
