package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	count     int
	resetTime time.Time
}

// MemoryStore 进程内固定窗口计数器，重启后计数清零
type MemoryStore struct {
	mu             sync.Mutex
	entries        map[string]*windowEntry
	sweepThreshold int
	now            func() time.Time
}

// NewMemoryStore 创建内存存储，键数量超过 sweepThreshold 时清理过期条目
func NewMemoryStore(sweepThreshold int) *MemoryStore {
	if sweepThreshold <= 0 {
		sweepThreshold = 1000
	}
	return &MemoryStore{
		entries:        make(map[string]*windowEntry),
		sweepThreshold: sweepThreshold,
		now:            time.Now,
	}
}

// Take 为 key 计一次请求
// 先比较再自增，每个窗口最多放行 max 次
func (s *MemoryStore) Take(_ context.Context, key string, max int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(s.entries) > s.sweepThreshold {
		s.sweepLocked(now)
	}

	entry, ok := s.entries[key]
	if !ok || now.After(entry.resetTime) {
		s.entries[key] = &windowEntry{count: 1, resetTime: now.Add(window)}
		return Result{Allowed: true, Remaining: max - 1, ResetIn: window}, nil
	}

	if entry.count >= max {
		return Result{Allowed: false, Remaining: 0, ResetIn: entry.resetTime.Sub(now)}, nil
	}

	entry.count++
	return Result{Allowed: true, Remaining: max - entry.count, ResetIn: entry.resetTime.Sub(now)}, nil
}

// Sweep 清理过期条目，返回清理数量
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

// Len 当前跟踪的键数量
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.resetTime) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
