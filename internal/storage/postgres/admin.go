package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// ========== Template Repository ==========

// CreateTemplate 创建模板
func (s *Store) CreateTemplate(ctx context.Context, tpl *domain.EmailTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	// Select("*") 避免 is_active=false 被数据库默认值覆盖
	return translate(s.db.WithContext(ctx).Select("*").Create(tpl).Error)
}

// GetTemplate 根据 ID 获取模板
func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	var tpl domain.EmailTemplate
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&tpl).Error; err != nil {
		return nil, translate(err)
	}
	return &tpl, nil
}

// ListTemplates 按名称排序返回模板
func (s *Store) ListTemplates(ctx context.Context, q storage.TemplateQuery) ([]domain.EmailTemplate, error) {
	query := s.db.WithContext(ctx).Order("name ASC")
	if q.Category != "" {
		query = query.Where("category = ?", q.Category)
	}
	if q.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	var templates []domain.EmailTemplate
	if err := query.Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

// UpdateTemplate 保存模板
func (s *Store) UpdateTemplate(ctx context.Context, tpl *domain.EmailTemplate) error {
	res := s.db.WithContext(ctx).Model(tpl).Select("*").Omit("created_at", "usage_count").Updates(tpl)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteTemplate 删除模板
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&domain.EmailTemplate{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IncrementTemplateUsage 原子地将使用次数加一
func (s *Store) IncrementTemplateUsage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&domain.EmailTemplate{}).
		Where("id = ?", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ========== Account Repository ==========

// CreateAccount 创建收件邮箱
func (s *Store) CreateAccount(ctx context.Context, account *domain.EmailAccount) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	account.Email = normalize(account.Email)
	return translate(s.db.WithContext(ctx).Select("*").Create(account).Error)
}

// GetAccountByEmail 按地址查找邮箱
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.EmailAccount, error) {
	var account domain.EmailAccount
	if err := s.db.WithContext(ctx).Where("LOWER(email) = ?", normalize(email)).First(&account).Error; err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// ListAccounts 返回全部邮箱
func (s *Store) ListAccounts(ctx context.Context) ([]domain.EmailAccount, error) {
	var accounts []domain.EmailAccount
	if err := s.db.WithContext(ctx).Order("email ASC").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// GrantAccount 授予或更新用户对邮箱的权限
func (s *Store) GrantAccount(ctx context.Context, grant *domain.EmailAccountUser) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.EmailAccount{}).Where("id = ?", grant.EmailAccountID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrNotFound
		}

		var existing domain.EmailAccountUser
		err := tx.Where("email_account_id = ? AND admin_user_id = ?", grant.EmailAccountID, grant.AdminUserID).
			First(&existing).Error
		switch {
		case err == nil:
			grant.ID = existing.ID
			grant.CreatedAt = existing.CreatedAt
			return tx.Model(&existing).
				Select("can_send", "can_receive", "is_owner").
				Updates(grant).Error
		case err != gorm.ErrRecordNotFound:
			return err
		}

		if grant.ID == "" {
			grant.ID = uuid.NewString()
		}
		return tx.Select("*").Create(grant).Error
	}))
}

// ListAccountsForUser 联表查询用户可访问的邮箱及权限
func (s *Store) ListAccountsForUser(ctx context.Context, adminUserID string) ([]domain.AccountAccess, error) {
	var out []domain.AccountAccess
	err := s.db.WithContext(ctx).
		Table("email_account_users AS eau").
		Select("ea.*, eau.can_send, eau.can_receive, eau.is_owner").
		Joins("JOIN email_accounts AS ea ON ea.id = eau.email_account_id").
		Where("eau.admin_user_id = ?", adminUserID).
		Order("ea.email ASC").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ========== Webhook Log Repository ==========

// CreateWebhookLog 记录 Webhook 回调
func (s *Store) CreateWebhookLog(ctx context.Context, log *domain.WebhookLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	return translate(s.db.WithContext(ctx).Create(log).Error)
}

// MarkWebhookProcessed 标记回调已处理
func (s *Store) MarkWebhookProcessed(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&domain.WebhookLog{}).Where("id = ?", id).Update("processed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ========== Admin User Repository ==========

// CreateAdminUser 创建后台用户
func (s *Store) CreateAdminUser(ctx context.Context, user *domain.AdminUser) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.Email = normalize(user.Email)
	return translate(s.db.WithContext(ctx).Select("*").Create(user).Error)
}

// GetAdminUserByID 根据 ID 获取后台用户
func (s *Store) GetAdminUserByID(ctx context.Context, id string) (*domain.AdminUser, error) {
	var user domain.AdminUser
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// GetAdminUserByEmail 根据邮箱获取后台用户
func (s *Store) GetAdminUserByEmail(ctx context.Context, email string) (*domain.AdminUser, error) {
	var user domain.AdminUser
	if err := s.db.WithContext(ctx).Where("email = ?", normalize(email)).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// UpdateLastLogin 更新最后登录时间
func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&domain.AdminUser{}).Where("id = ?", id).Update("last_login_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
