package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// refreshThreadStats 以邮件表为准重新计算会话的 email_count 和 last_email_at
func refreshThreadStats(tx *gorm.DB, threadID string) error {
	return tx.Model(&domain.EmailThread{}).
		Where("id = ?", threadID).
		Updates(map[string]interface{}{
			"email_count":   gorm.Expr("(SELECT COUNT(*) FROM emails WHERE emails.thread_id = ?)", threadID),
			"last_email_at": gorm.Expr("(SELECT MAX(emails.created_at) FROM emails WHERE emails.thread_id = ?)", threadID),
		}).Error
}

// CreateEmail 保存邮件并刷新所属会话的统计信息
func (s *Store) CreateEmail(ctx context.Context, email *domain.Email) error {
	if email.ID == "" {
		email.ID = uuid.NewString()
	}
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(email).Error; err != nil {
			return err
		}
		if email.ThreadID != nil {
			return refreshThreadStats(tx, *email.ThreadID)
		}
		return nil
	}))
}

// GetEmail 根据 ID 获取邮件
func (s *Store) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	var email domain.Email
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&email).Error; err != nil {
		return nil, translate(err)
	}
	emails := []domain.Email{email}
	if err := s.attachEmailLeads(ctx, emails); err != nil {
		return nil, err
	}
	return &emails[0], nil
}

// GetEmailByResendID 根据服务商消息 ID 获取邮件
func (s *Store) GetEmailByResendID(ctx context.Context, resendID string) (*domain.Email, error) {
	var email domain.Email
	if err := s.db.WithContext(ctx).Where("resend_id = ?", resendID).First(&email).Error; err != nil {
		return nil, translate(err)
	}
	return &email, nil
}

func (s *Store) emailFilter(ctx context.Context, q storage.EmailQuery) *gorm.DB {
	db := s.db.WithContext(ctx).Model(&domain.Email{})
	if q.Folder != nil {
		switch *q.Folder {
		case domain.FolderInbox:
			db = db.Where("direction = ?", domain.DirectionInbound)
		case domain.FolderSent:
			db = db.Where("folder = ? AND direction = ?", domain.FolderSent, domain.DirectionOutbound)
		default:
			db = db.Where("folder = ?", *q.Folder)
		}
	}
	if q.Status != nil {
		db = db.Where("status = ?", *q.Status)
	}
	if q.LeadID != nil {
		db = db.Where("lead_id = ?", *q.LeadID)
	}
	if q.IsStarred != nil {
		db = db.Where("is_starred = ?", *q.IsStarred)
	}
	if q.Search != "" {
		pattern := likePattern(q.Search)
		db = db.Where(
			"LOWER(subject) LIKE ? ESCAPE '!' OR LOWER(to_email) LIKE ? ESCAPE '!' OR LOWER(COALESCE(body_text, '')) LIKE ? ESCAPE '!'",
			pattern, pattern, pattern,
		)
	}
	return db
}

// ListEmails 按筛选条件分页返回邮件
func (s *Store) ListEmails(ctx context.Context, q storage.EmailQuery) ([]domain.Email, int64, error) {
	var total int64
	if err := s.emailFilter(ctx, q).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var emails []domain.Email
	query := s.emailFilter(ctx, q).Order("created_at DESC, id DESC")
	if q.Limit > 0 {
		query = query.Offset(storage.Offset(q.Page, q.Limit)).Limit(q.Limit)
	}
	if err := query.Find(&emails).Error; err != nil {
		return nil, 0, err
	}
	if err := s.attachEmailLeads(ctx, emails); err != nil {
		return nil, 0, err
	}
	return emails, total, nil
}

// ListEmailsByThreads 返回每个会话的邮件，按时间升序
func (s *Store) ListEmailsByThreads(ctx context.Context, threadIDs []string) (map[string][]domain.Email, error) {
	out := make(map[string][]domain.Email, len(threadIDs))
	if len(threadIDs) == 0 {
		return out, nil
	}
	var emails []domain.Email
	err := s.db.WithContext(ctx).
		Where("thread_id IN ?", threadIDs).
		Order("created_at ASC, id ASC").
		Find(&emails).Error
	if err != nil {
		return nil, err
	}
	if err := s.attachEmailLeads(ctx, emails); err != nil {
		return nil, err
	}
	for _, e := range emails {
		out[*e.ThreadID] = append(out[*e.ThreadID], e)
	}
	return out, nil
}

// PatchEmail 只更新 u 中设置的列，不回写整行，避免覆盖并发的投递事件
func (s *Store) PatchEmail(ctx context.Context, id string, u storage.EmailUpdate) (*domain.Email, error) {
	cols := u.Columns()
	if len(cols) == 0 {
		return s.GetEmail(ctx, id)
	}
	cols["updated_at"] = time.Now().UTC()

	err := translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.Email
		if err := tx.Select("id", "thread_id").Where("id = ?", id).First(&current).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Email{}).Where("id = ?", id).Updates(cols).Error; err != nil {
			return err
		}
		if current.ThreadID != nil {
			return refreshThreadStats(tx, *current.ThreadID)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return s.GetEmail(ctx, id)
}

// DeleteEmail 永久删除邮件
func (s *Store) DeleteEmail(ctx context.Context, id string) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var email domain.Email
		if err := tx.Select("id", "thread_id").Where("id = ?", id).First(&email).Error; err != nil {
			return err
		}
		if err := tx.Delete(&domain.Email{}, "id = ?", id).Error; err != nil {
			return err
		}
		if email.ThreadID != nil {
			return refreshThreadStats(tx, *email.ThreadID)
		}
		return nil
	}))
}

// MarkEmailsRead 一次性批量标记已读
func (s *Store) MarkEmailsRead(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&domain.Email{}).
		Where("id IN ? AND is_read = ?", ids, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// ApplyDeliveryEvent 在事务中锁定邮件行，推进状态并原子地累加计数
func (s *Store) ApplyDeliveryEvent(ctx context.Context, ev domain.DeliveryEvent) (*domain.Email, error) {
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var updated domain.Email
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.Email
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("resend_id = ?", ev.ResendID).
			First(&current).Error
		if err != nil {
			return err
		}

		changes := map[string]interface{}{}
		if ev.Status != "" {
			if next := current.Status.Advance(ev.Status); next != current.Status {
				changes["status"] = next
			}
		}
		if ev.Opened {
			changes["opened_count"] = gorm.Expr("opened_count + 1")
			changes["opened_at"] = gorm.Expr("COALESCE(opened_at, ?)", at)
		}
		if ev.Clicked {
			changes["clicked_count"] = gorm.Expr("clicked_count + 1")
			changes["clicked_at"] = gorm.Expr("COALESCE(clicked_at, ?)", at)
		}
		if len(changes) > 0 {
			if err := tx.Model(&domain.Email{}).Where("id = ?", current.ID).Updates(changes).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", current.ID).First(&updated).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &updated, nil
}

// FindLeadIDByRecipient 返回最近一封发往该地址且关联线索的邮件的 lead_id
func (s *Store) FindLeadIDByRecipient(ctx context.Context, address string) (*int64, error) {
	var email domain.Email
	err := s.db.WithContext(ctx).
		Select("id", "lead_id").
		Where("LOWER(to_email) = ? AND lead_id IS NOT NULL", normalize(address)).
		Order("created_at DESC").
		First(&email).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return email.LeadID, nil
}

// ListDueScheduled 返回计划时间已到的排队邮件
func (s *Store) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Email, error) {
	var emails []domain.Email
	query := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", domain.StatusQueued, now).
		Order("scheduled_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&emails).Error; err != nil {
		return nil, err
	}
	return emails, nil
}

// CountFolders 用一条聚合查询统计各文件夹数量
func (s *Store) CountFolders(ctx context.Context) (domain.FolderCounts, error) {
	var counts domain.FolderCounts
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			COALESCE(SUM(CASE WHEN direction = ? THEN 1 ELSE 0 END), 0) AS inbox,
			COALESCE(SUM(CASE WHEN direction = ? AND folder = ? THEN 1 ELSE 0 END), 0) AS sent,
			COALESCE(SUM(CASE WHEN folder = ? THEN 1 ELSE 0 END), 0) AS drafts,
			COALESCE(SUM(CASE WHEN folder = ? THEN 1 ELSE 0 END), 0) AS archived,
			COALESCE(SUM(CASE WHEN folder = ? THEN 1 ELSE 0 END), 0) AS trash,
			COALESCE(SUM(CASE WHEN is_starred = ? THEN 1 ELSE 0 END), 0) AS starred,
			COALESCE(SUM(CASE WHEN direction = ? AND is_read = ? THEN 1 ELSE 0 END), 0) AS unread
		FROM emails`,
		domain.DirectionInbound,
		domain.DirectionOutbound, domain.FolderSent,
		domain.FolderDrafts,
		domain.FolderArchived,
		domain.FolderTrash,
		true,
		domain.DirectionInbound, false,
	).Scan(&counts).Error
	return counts, err
}
