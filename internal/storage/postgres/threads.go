package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

const threadRecency = "last_email_at IS NULL, last_email_at DESC, id DESC"

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// CreateThread 创建会话
func (s *Store) CreateThread(ctx context.Context, thread *domain.EmailThread) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	return translate(s.db.WithContext(ctx).Create(thread).Error)
}

// GetThread 根据 ID 获取会话
func (s *Store) GetThread(ctx context.Context, id string) (*domain.EmailThread, error) {
	var thread domain.EmailThread
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&thread).Error; err != nil {
		return nil, translate(err)
	}
	threads := []domain.EmailThread{thread}
	if err := s.attachThreadLeads(ctx, threads); err != nil {
		return nil, err
	}
	return &threads[0], nil
}

// UpdateThread 保存会话可编辑字段，统计字段不由调用方覆盖
func (s *Store) UpdateThread(ctx context.Context, thread *domain.EmailThread) error {
	res := s.db.WithContext(ctx).Model(thread).
		Select("lead_id", "subject", "is_archived", "updated_at").
		Updates(thread)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteThread 删除会话，成员邮件的 thread_id 置空
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Email{}).Where("thread_id = ?", id).Update("thread_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.EmailThread{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// FindThreadBySubject 按线索和主题精确查找会话
func (s *Store) FindThreadBySubject(ctx context.Context, leadID *int64, subject string) (*domain.EmailThread, error) {
	query := s.db.WithContext(ctx).Where("subject = ?", subject)
	if leadID == nil {
		query = query.Where("lead_id IS NULL")
	} else {
		query = query.Where("lead_id = ?", *leadID)
	}

	var thread domain.EmailThread
	if err := query.Order(threadRecency).First(&thread).Error; err != nil {
		return nil, translate(err)
	}
	return &thread, nil
}

// FindThreadContainingSubject 查找主题包含片段的最近活跃会话（忽略大小写）
func (s *Store) FindThreadContainingSubject(ctx context.Context, fragment string) (*domain.EmailThread, error) {
	var thread domain.EmailThread
	err := s.db.WithContext(ctx).
		Where("LOWER(subject) LIKE ? ESCAPE '!'", likePattern(fragment)).
		Order(threadRecency).
		First(&thread).Error
	if err != nil {
		return nil, translate(err)
	}
	return &thread, nil
}

func (s *Store) threadFilter(ctx context.Context, q storage.ThreadQuery) *gorm.DB {
	db := s.db.WithContext(ctx).Model(&domain.EmailThread{}).Where("is_archived = ?", false)
	if q.Direction != "" {
		db = db.Where(
			"EXISTS (SELECT 1 FROM emails WHERE emails.thread_id = email_threads.id AND emails.direction = ?)",
			q.Direction,
		)
	}
	if q.Search != "" {
		db = db.Where("LOWER(subject) LIKE ? ESCAPE '!'", likePattern(q.Search))
	}
	return db
}

// ListThreads 在分页前按方向过滤会话，保证 total 与分页基于同一集合
func (s *Store) ListThreads(ctx context.Context, q storage.ThreadQuery) ([]domain.EmailThread, int64, error) {
	var total int64
	if err := s.threadFilter(ctx, q).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var threads []domain.EmailThread
	query := s.threadFilter(ctx, q).Order(threadRecency)
	if q.Limit > 0 {
		query = query.Offset(storage.Offset(q.Page, q.Limit)).Limit(q.Limit)
	}
	if err := query.Find(&threads).Error; err != nil {
		return nil, 0, err
	}
	if err := s.attachThreadLeads(ctx, threads); err != nil {
		return nil, 0, err
	}
	return threads, total, nil
}
