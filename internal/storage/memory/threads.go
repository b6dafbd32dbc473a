package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// CreateThread 创建会话。
func (s *Store) CreateThread(ctx context.Context, thread *domain.EmailThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	if _, exists := s.threads[thread.ID]; exists {
		return storage.ErrDuplicate
	}
	now := s.now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	stored := *thread
	stored.Lead = nil
	s.threads[thread.ID] = &stored
	s.refreshThreadLocked(thread.ID)
	thread.LastEmailAt = stored.LastEmailAt
	thread.EmailCount = stored.EmailCount
	return nil
}

// GetThread 根据 ID 获取会话。
func (s *Store) GetThread(ctx context.Context, id string) (*domain.EmailThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.threadCopyLocked(thread), nil
}

// UpdateThread 保存会话字段，统计字段以邮件为准重新计算。
func (s *Store) UpdateThread(ctx context.Context, thread *domain.EmailThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[thread.ID]; !ok {
		return storage.ErrNotFound
	}
	thread.UpdatedAt = s.now()
	stored := *thread
	stored.Lead = nil
	s.threads[thread.ID] = &stored
	s.refreshThreadLocked(thread.ID)
	return nil
}

// DeleteThread 删除会话，成员邮件的 thread_id 置空。
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.threads, id)
	for _, email := range s.emails {
		if email.ThreadID != nil && *email.ThreadID == id {
			email.ThreadID = nil
		}
	}
	return nil
}

// FindThreadBySubject 按线索和主题精确查找会话。
func (s *Store) FindThreadBySubject(ctx context.Context, leadID *int64, subject string) (*domain.EmailThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.EmailThread
	for _, thread := range s.threads {
		if thread.Subject != subject || !sameLead(thread.LeadID, leadID) {
			continue
		}
		if best == nil || newerThread(thread, best) {
			best = thread
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return s.threadCopyLocked(best), nil
}

// FindThreadContainingSubject 查找主题包含片段的最近活跃会话。
func (s *Store) FindThreadContainingSubject(ctx context.Context, fragment string) (*domain.EmailThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.EmailThread
	for _, thread := range s.threads {
		if !containsFold(thread.Subject, fragment) {
			continue
		}
		if best == nil || newerThread(thread, best) {
			best = thread
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return s.threadCopyLocked(best), nil
}

// ListThreads 返回未归档且包含指定方向邮件的会话。方向过滤在分页之前完成。
func (s *Store) ListThreads(ctx context.Context, q storage.ThreadQuery) ([]domain.EmailThread, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hasDirection := make(map[string]bool)
	if q.Direction != "" {
		for _, email := range s.emails {
			if email.ThreadID != nil && email.Direction == q.Direction {
				hasDirection[*email.ThreadID] = true
			}
		}
	}

	matched := make([]domain.EmailThread, 0)
	for _, thread := range s.threads {
		if thread.IsArchived {
			continue
		}
		if q.Direction != "" && !hasDirection[thread.ID] {
			continue
		}
		if q.Search != "" && !containsFold(thread.Subject, q.Search) {
			continue
		}
		matched = append(matched, *s.threadCopyLocked(thread))
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return newerThread(&matched[i], &matched[j])
	})

	start, end := page(len(matched), q.Page, q.Limit)
	return matched[start:end], int64(len(matched)), nil
}

// refreshThreadLocked 重新计算 email_count 和 last_email_at。调用方需持有写锁。
func (s *Store) refreshThreadLocked(threadID string) {
	thread, ok := s.threads[threadID]
	if !ok {
		return
	}
	count := 0
	var last *domain.Email
	for _, email := range s.emails {
		if email.ThreadID == nil || *email.ThreadID != threadID {
			continue
		}
		count++
		if last == nil || email.CreatedAt.After(last.CreatedAt) {
			last = email
		}
	}
	thread.EmailCount = count
	if last != nil {
		at := last.CreatedAt
		thread.LastEmailAt = &at
	}
}

func (s *Store) threadCopyLocked(thread *domain.EmailThread) *domain.EmailThread {
	out := *thread
	out.Lead = s.leadSummaryLocked(thread.LeadID)
	return &out
}

// newerThread orders threads by last_email_at desc, threads with no email last.
func newerThread(a, b *domain.EmailThread) bool {
	switch {
	case a.LastEmailAt == nil && b.LastEmailAt == nil:
		return a.CreatedAt.After(b.CreatedAt)
	case a.LastEmailAt == nil:
		return false
	case b.LastEmailAt == nil:
		return true
	case a.LastEmailAt.Equal(*b.LastEmailAt):
		return a.ID > b.ID
	}
	return a.LastEmailAt.After(*b.LastEmailAt)
}

func sameLead(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
