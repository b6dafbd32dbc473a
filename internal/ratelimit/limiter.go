// Package ratelimit implements the fixed-window counter that gates the public
// contact endpoint.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// ResetInMillis reports ResetIn in milliseconds.
func (r Result) ResetInMillis() int64 {
	return r.ResetIn.Milliseconds()
}

// ResetInSeconds rounds ResetIn up to whole seconds, as used by Retry-After.
func (r Result) ResetInSeconds() int64 {
	return int64((r.ResetIn + time.Second - 1) / time.Second)
}

// Store holds the per-key counters. Take must admit at most max requests per
// key per window and is called concurrently.
type Store interface {
	Take(ctx context.Context, key string, max int, window time.Duration) (Result, error)
}

// Limiter applies a fixed-window policy on top of a Store.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
}

// New creates a limiter allowing max requests per key in each window.
func New(store Store, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, max: max, window: window}
}

// Check counts one request for key.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	return l.store.Take(ctx, key, l.max, l.window)
}

// Max returns the per-window capacity.
func (l *Limiter) Max() int { return l.max }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }
