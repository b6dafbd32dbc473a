package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// CreateEmail 保存邮件并刷新所属会话的统计信息。
func (s *Store) CreateEmail(ctx context.Context, email *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	if _, exists := s.emails[email.ID]; exists {
		return storage.ErrDuplicate
	}
	if email.ResendID != nil && *email.ResendID != "" {
		if _, taken := s.byResendID[*email.ResendID]; taken {
			return storage.ErrDuplicate
		}
	}
	now := s.now()
	if email.CreatedAt.IsZero() {
		email.CreatedAt = now
	}
	email.UpdatedAt = now

	stored := *email
	stored.Lead = nil
	s.emails[email.ID] = &stored
	if email.ResendID != nil && *email.ResendID != "" {
		s.byResendID[*email.ResendID] = email.ID
	}
	if email.ThreadID != nil {
		s.refreshThreadLocked(*email.ThreadID)
	}
	email.Lead = s.leadSummaryLocked(email.LeadID)
	return nil
}

// GetEmail 根据 ID 获取邮件。
func (s *Store) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.emails[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.emailCopyLocked(email), nil
}

// GetEmailByResendID 根据服务商消息 ID 获取邮件。
func (s *Store) GetEmailByResendID(ctx context.Context, resendID string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byResendID[resendID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.emailCopyLocked(s.emails[id]), nil
}

func matchEmail(e *domain.Email, q storage.EmailQuery) bool {
	if q.Folder != nil {
		switch *q.Folder {
		case domain.FolderInbox:
			if e.Direction != domain.DirectionInbound {
				return false
			}
		case domain.FolderSent:
			if e.Direction != domain.DirectionOutbound || e.Folder != domain.FolderSent {
				return false
			}
		default:
			if e.Folder != *q.Folder {
				return false
			}
		}
	}
	if q.Status != nil && e.Status != *q.Status {
		return false
	}
	if q.LeadID != nil && (e.LeadID == nil || *e.LeadID != *q.LeadID) {
		return false
	}
	if q.IsStarred != nil && e.IsStarred != *q.IsStarred {
		return false
	}
	if q.Search != "" {
		body := ""
		if e.BodyText != nil {
			body = *e.BodyText
		}
		if !containsFold(e.Subject, q.Search) && !containsFold(e.ToEmail, q.Search) && !containsFold(body, q.Search) {
			return false
		}
	}
	return true
}

// ListEmails 按筛选条件分页返回邮件，最新的在前。
func (s *Store) ListEmails(ctx context.Context, q storage.EmailQuery) ([]domain.Email, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Email, 0)
	for _, email := range s.emails {
		if matchEmail(email, q) {
			matched = append(matched, *s.emailCopyLocked(email))
		}
	}
	sortEmailsDesc(matched)

	start, end := page(len(matched), q.Page, q.Limit)
	return matched[start:end], int64(len(matched)), nil
}

// ListEmailsByThreads 返回每个会话的邮件，按时间升序。
func (s *Store) ListEmailsByThreads(ctx context.Context, threadIDs []string) (map[string][]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(threadIDs))
	for _, id := range threadIDs {
		wanted[id] = struct{}{}
	}

	out := make(map[string][]domain.Email, len(threadIDs))
	for _, email := range s.emails {
		if email.ThreadID == nil {
			continue
		}
		if _, ok := wanted[*email.ThreadID]; ok {
			out[*email.ThreadID] = append(out[*email.ThreadID], *s.emailCopyLocked(email))
		}
	}
	for id := range out {
		sortEmailsAsc(out[id])
	}
	return out, nil
}

// PatchEmail 只修改 u 中设置的字段。
func (s *Store) PatchEmail(ctx context.Context, id string, u storage.EmailUpdate) (*domain.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.emails[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if u.Empty() {
		return s.emailCopyLocked(email), nil
	}
	if u.ResendID != nil {
		if owner, taken := s.byResendID[*u.ResendID]; taken && owner != id {
			return nil, storage.ErrDuplicate
		}
		if email.ResendID != nil {
			delete(s.byResendID, *email.ResendID)
		}
	}

	u.Apply(email)
	email.UpdatedAt = s.now()
	if email.ResendID != nil && *email.ResendID != "" {
		s.byResendID[*email.ResendID] = email.ID
	}
	if email.ThreadID != nil {
		s.refreshThreadLocked(*email.ThreadID)
	}
	return s.emailCopyLocked(email), nil
}

// DeleteEmail 永久删除邮件。
func (s *Store) DeleteEmail(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.emails[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.emails, id)
	if email.ResendID != nil {
		delete(s.byResendID, *email.ResendID)
	}
	if email.ThreadID != nil {
		s.refreshThreadLocked(*email.ThreadID)
	}
	return nil
}

// MarkEmailsRead 批量标记为已读，返回实际变更的数量。
func (s *Store) MarkEmailsRead(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	now := s.now()
	for _, id := range ids {
		email, ok := s.emails[id]
		if !ok || email.IsRead {
			continue
		}
		email.IsRead = true
		email.UpdatedAt = now
		changed++
	}
	return changed, nil
}

// ApplyDeliveryEvent 在锁内推进投递状态和计数。
func (s *Store) ApplyDeliveryEvent(ctx context.Context, ev domain.DeliveryEvent) (*domain.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byResendID[ev.ResendID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	email := s.emails[id]

	at := ev.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	if ev.Opened {
		email.OpenedCount++
		if email.OpenedAt == nil {
			t := at
			email.OpenedAt = &t
		}
	}
	if ev.Clicked {
		email.ClickedCount++
		if email.ClickedAt == nil {
			t := at
			email.ClickedAt = &t
		}
	}
	if ev.Status != "" {
		email.Status = email.Status.Advance(ev.Status)
	}
	email.UpdatedAt = s.now()

	return s.emailCopyLocked(email), nil
}

// FindLeadIDByRecipient 返回最近一封发给该地址且关联线索的邮件的 lead_id。
func (s *Store) FindLeadIDByRecipient(ctx context.Context, address string) (*int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Email
	for _, email := range s.emails {
		if email.LeadID == nil || !equalFold(email.ToEmail, address) {
			continue
		}
		if best == nil || email.CreatedAt.After(best.CreatedAt) {
			best = email
		}
	}
	if best == nil {
		return nil, nil
	}
	id := *best.LeadID
	return &id, nil
}

// ListDueScheduled 返回计划时间已到的排队邮件，最早的在前。
func (s *Store) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]domain.Email, 0)
	for _, email := range s.emails {
		if email.Status != domain.StatusQueued || email.ScheduledAt == nil || email.ScheduledAt.After(now) {
			continue
		}
		due = append(due, *s.emailCopyLocked(email))
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// CountFolders 统计侧边栏各文件夹的数量。
func (s *Store) CountFolders(ctx context.Context) (domain.FolderCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c domain.FolderCounts
	for _, e := range s.emails {
		if e.Direction == domain.DirectionInbound {
			c.Inbox++
			if !e.IsRead {
				c.Unread++
			}
		}
		if e.Direction == domain.DirectionOutbound && e.Folder == domain.FolderSent {
			c.Sent++
		}
		switch e.Folder {
		case domain.FolderDrafts:
			c.Drafts++
		case domain.FolderArchived:
			c.Archived++
		case domain.FolderTrash:
			c.Trash++
		}
		if e.IsStarred {
			c.Starred++
		}
	}
	return c, nil
}

func (s *Store) emailCopyLocked(email *domain.Email) *domain.Email {
	out := *email
	out.Lead = s.leadSummaryLocked(email.LeadID)
	return &out
}
