package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// CreateTemplate 创建模板，名称唯一。
func (s *Store) CreateTemplate(ctx context.Context, tpl *domain.EmailTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTemplateName[tpl.Name]; exists {
		return storage.ErrDuplicate
	}
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := s.now()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now

	stored := *tpl
	s.templates[tpl.ID] = &stored
	s.byTemplateName[tpl.Name] = tpl.ID
	return nil
}

// GetTemplate 根据 ID 获取模板。
func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *tpl
	return &out, nil
}

// ListTemplates 按名称排序返回模板。
func (s *Store) ListTemplates(ctx context.Context, q storage.TemplateQuery) ([]domain.EmailTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.EmailTemplate, 0, len(s.templates))
	for _, tpl := range s.templates {
		if q.Category != "" && tpl.Category != q.Category {
			continue
		}
		if q.ActiveOnly && !tpl.IsActive {
			continue
		}
		out = append(out, *tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateTemplate 保存模板。
func (s *Store) UpdateTemplate(ctx context.Context, tpl *domain.EmailTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.templates[tpl.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if owner, taken := s.byTemplateName[tpl.Name]; taken && owner != tpl.ID {
		return storage.ErrDuplicate
	}
	delete(s.byTemplateName, existing.Name)
	tpl.UpdatedAt = s.now()
	stored := *tpl
	s.templates[tpl.ID] = &stored
	s.byTemplateName[tpl.Name] = tpl.ID
	return nil
}

// DeleteTemplate 删除模板。
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.templates, id)
	delete(s.byTemplateName, tpl.Name)
	return nil
}

// IncrementTemplateUsage 使用次数加一。
func (s *Store) IncrementTemplateUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return storage.ErrNotFound
	}
	tpl.UsageCount++
	return nil
}

// CreateAccount 创建收件邮箱。
func (s *Store) CreateAccount(ctx context.Context, account *domain.EmailAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(account.Email)
	if _, exists := s.byAccountEmail[key]; exists {
		return storage.ErrDuplicate
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := s.now()
	account.CreatedAt = now
	account.UpdatedAt = now

	stored := *account
	s.accounts[account.ID] = &stored
	s.byAccountEmail[key] = account.ID
	return nil
}

// GetAccountByEmail 按地址查找邮箱，不区分大小写。
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.EmailAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAccountEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *s.accounts[id]
	return &out, nil
}

// ListAccounts 返回全部邮箱。
func (s *Store) ListAccounts(ctx context.Context) ([]domain.EmailAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.EmailAccount, 0, len(s.accounts))
	for _, account := range s.accounts {
		out = append(out, *account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// GrantAccount 为后台用户授予邮箱权限，同一用户同一邮箱只保留一条记录。
func (s *Store) GrantAccount(ctx context.Context, grant *domain.EmailAccountUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[grant.EmailAccountID]; !ok {
		return storage.ErrNotFound
	}
	for id, existing := range s.accountGrants {
		if existing.EmailAccountID == grant.EmailAccountID && existing.AdminUserID == grant.AdminUserID {
			grant.ID = id
			grant.CreatedAt = existing.CreatedAt
			stored := *grant
			s.accountGrants[id] = &stored
			return nil
		}
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	grant.CreatedAt = s.now()
	stored := *grant
	s.accountGrants[grant.ID] = &stored
	return nil
}

// ListAccountsForUser 返回用户可访问的邮箱及其权限。
func (s *Store) ListAccountsForUser(ctx context.Context, adminUserID string) ([]domain.AccountAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AccountAccess, 0)
	for _, grant := range s.accountGrants {
		if grant.AdminUserID != adminUserID {
			continue
		}
		account, ok := s.accounts[grant.EmailAccountID]
		if !ok {
			continue
		}
		out = append(out, domain.AccountAccess{
			EmailAccount: *account,
			CanSend:      grant.CanSend,
			CanReceive:   grant.CanReceive,
			IsOwner:      grant.IsOwner,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// CreateWebhookLog 记录 Webhook 回调。
func (s *Store) CreateWebhookLog(ctx context.Context, log *domain.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	stored := *log
	s.webhookLogs[log.ID] = &stored
	return nil
}

// MarkWebhookProcessed 标记回调已处理。
func (s *Store) MarkWebhookProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.webhookLogs[id]
	if !ok {
		return storage.ErrNotFound
	}
	log.Processed = true
	return nil
}

// WebhookLogs returns a snapshot of the audit trail, oldest first.
func (s *Store) WebhookLogs() []domain.WebhookLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WebhookLog, 0, len(s.webhookLogs))
	for _, log := range s.webhookLogs {
		out = append(out, *log)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CreateAdminUser 创建后台用户。
func (s *Store) CreateAdminUser(ctx context.Context, user *domain.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, exists := s.byAdminEmail[key]; exists {
		return storage.ErrDuplicate
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	s.adminUsers[user.ID] = &stored
	s.byAdminEmail[key] = user.ID
	return nil
}

// GetAdminUserByID 根据 ID 获取后台用户。
func (s *Store) GetAdminUserByID(ctx context.Context, id string) (*domain.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.adminUsers[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *user
	return &out, nil
}

// GetAdminUserByEmail 根据邮箱获取后台用户。
func (s *Store) GetAdminUserByEmail(ctx context.Context, email string) (*domain.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAdminEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *s.adminUsers[id]
	return &out, nil
}

// UpdateLastLogin 更新最后登录时间。
func (s *Store) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.adminUsers[id]
	if !ok {
		return storage.ErrNotFound
	}
	t := at
	user.LastLoginAt = &t
	user.UpdatedAt = s.now()
	return nil
}
