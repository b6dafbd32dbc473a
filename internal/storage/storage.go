package storage

import (
	"context"
	"errors"
	"time"

	"juninpagos/backend/internal/domain"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一约束冲突
	ErrDuplicate = errors.New("duplicate record")
)

// LeadQuery selects a page of leads.
type LeadQuery struct {
	Page      int
	Limit     int
	SortBy    string // created_at, nombre, localidad or estado
	Ascending bool
}

// EmailQuery selects a page of emails. Nil pointers mean "any".
type EmailQuery struct {
	Folder    *domain.EmailFolder
	Status    *domain.EmailStatus
	LeadID    *int64
	IsStarred *bool
	Search    string
	Page      int
	Limit     int
}

// ThreadQuery selects non-archived threads that contain at least one email
// travelling in Direction. The direction filter is applied before paging.
type ThreadQuery struct {
	Direction domain.EmailDirection
	Search    string
	Page      int
	Limit     int
}

// TemplateQuery filters the template list.
type TemplateQuery struct {
	Category   string
	ActiveOnly bool
}

// EmailUpdate is a partial email update; only non-nil fields are written.
// Delivery counters belong to ApplyDeliveryEvent and have no field here.
type EmailUpdate struct {
	Subject    *string
	BodyHTML   *string
	BodyText   *string
	IsArchived *bool
	IsStarred  *bool
	Folder     *domain.EmailFolder
	Status     *domain.EmailStatus
	SentAt     *time.Time
	ResendID   *string
}

// EmailUpdateFromPatch converts an admin edit into an EmailUpdate.
func EmailUpdateFromPatch(p domain.EmailPatch) EmailUpdate {
	return EmailUpdate{
		Subject:    p.Subject,
		BodyHTML:   p.BodyHTML,
		BodyText:   p.BodyText,
		IsArchived: p.IsArchived,
		IsStarred:  p.IsStarred,
		Folder:     p.Folder,
	}
}

// Empty reports whether u changes nothing.
func (u EmailUpdate) Empty() bool {
	return len(u.Columns()) == 0
}

// Columns maps column names to their new values.
func (u EmailUpdate) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.Subject != nil {
		cols["subject"] = *u.Subject
	}
	if u.BodyHTML != nil {
		cols["body_html"] = *u.BodyHTML
	}
	if u.BodyText != nil {
		cols["body_text"] = *u.BodyText
	}
	if u.IsArchived != nil {
		cols["is_archived"] = *u.IsArchived
	}
	if u.IsStarred != nil {
		cols["is_starred"] = *u.IsStarred
	}
	if u.Folder != nil {
		cols["folder"] = *u.Folder
	}
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.SentAt != nil {
		cols["sent_at"] = u.SentAt.UTC()
	}
	if u.ResendID != nil {
		cols["resend_id"] = *u.ResendID
	}
	return cols
}

// Apply writes u onto e.
func (u EmailUpdate) Apply(e *domain.Email) {
	if u.Subject != nil {
		e.Subject = *u.Subject
	}
	if u.BodyHTML != nil {
		e.BodyHTML = *u.BodyHTML
	}
	if u.BodyText != nil {
		text := *u.BodyText
		e.BodyText = &text
	}
	if u.IsArchived != nil {
		e.IsArchived = *u.IsArchived
	}
	if u.IsStarred != nil {
		e.IsStarred = *u.IsStarred
	}
	if u.Folder != nil {
		e.Folder = *u.Folder
	}
	if u.Status != nil {
		e.Status = *u.Status
	}
	if u.SentAt != nil {
		at := u.SentAt.UTC()
		e.SentAt = &at
	}
	if u.ResendID != nil {
		id := *u.ResendID
		e.ResendID = &id
	}
}

// Offset converts a 1-based page into a row offset.
func Offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

// LeadRepository 定义潜在客户数据存取操作。
type LeadRepository interface {
	CreateLead(ctx context.Context, lead *domain.Lead) error
	GetLead(ctx context.Context, id int64) (*domain.Lead, error)
	ListLeads(ctx context.Context, q LeadQuery) ([]domain.Lead, int64, error)
	UpdateLead(ctx context.Context, lead *domain.Lead) error
	DeleteLead(ctx context.Context, id int64) error
}

// EmailRepository 定义邮件数据存取操作。
//
// CreateEmail and DeleteEmail keep the owning thread's email_count and
// last_email_at current.
type EmailRepository interface {
	CreateEmail(ctx context.Context, email *domain.Email) error
	GetEmail(ctx context.Context, id string) (*domain.Email, error)
	GetEmailByResendID(ctx context.Context, resendID string) (*domain.Email, error)
	ListEmails(ctx context.Context, q EmailQuery) ([]domain.Email, int64, error)
	// ListEmailsByThreads returns each thread's emails, oldest first.
	ListEmailsByThreads(ctx context.Context, threadIDs []string) (map[string][]domain.Email, error)
	// PatchEmail writes only the columns set in u and returns the stored
	// row. Concurrent delivery counters are never overwritten.
	PatchEmail(ctx context.Context, id string, u EmailUpdate) (*domain.Email, error)
	DeleteEmail(ctx context.Context, id string) error
	MarkEmailsRead(ctx context.Context, ids []string) (int64, error)
	// ApplyDeliveryEvent atomically advances status and counters of the email
	// carrying the event's provider id. ErrNotFound if no email matches.
	ApplyDeliveryEvent(ctx context.Context, ev domain.DeliveryEvent) (*domain.Email, error)
	// FindLeadIDByRecipient returns the lead of the most recent email sent to
	// address that has one, or nil.
	FindLeadIDByRecipient(ctx context.Context, address string) (*int64, error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Email, error)
	CountFolders(ctx context.Context) (domain.FolderCounts, error)
}

// ThreadRepository 定义会话数据存取操作。
type ThreadRepository interface {
	CreateThread(ctx context.Context, thread *domain.EmailThread) error
	GetThread(ctx context.Context, id string) (*domain.EmailThread, error)
	UpdateThread(ctx context.Context, thread *domain.EmailThread) error
	DeleteThread(ctx context.Context, id string) error
	// FindThreadBySubject matches lead and subject exactly.
	FindThreadBySubject(ctx context.Context, leadID *int64, subject string) (*domain.EmailThread, error)
	// FindThreadContainingSubject returns the most recently active thread
	// whose subject contains fragment, ignoring case.
	FindThreadContainingSubject(ctx context.Context, fragment string) (*domain.EmailThread, error)
	ListThreads(ctx context.Context, q ThreadQuery) ([]domain.EmailThread, int64, error)
}

// TemplateRepository 定义邮件模板数据存取操作。
type TemplateRepository interface {
	CreateTemplate(ctx context.Context, tpl *domain.EmailTemplate) error
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	ListTemplates(ctx context.Context, q TemplateQuery) ([]domain.EmailTemplate, error)
	UpdateTemplate(ctx context.Context, tpl *domain.EmailTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
	IncrementTemplateUsage(ctx context.Context, id string) error
}

// AccountRepository 定义收件邮箱及权限数据存取操作。
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *domain.EmailAccount) error
	GetAccountByEmail(ctx context.Context, email string) (*domain.EmailAccount, error)
	ListAccounts(ctx context.Context) ([]domain.EmailAccount, error)
	GrantAccount(ctx context.Context, grant *domain.EmailAccountUser) error
	ListAccountsForUser(ctx context.Context, adminUserID string) ([]domain.AccountAccess, error)
}

// WebhookLogRepository 定义 Webhook 审计日志存取操作。
type WebhookLogRepository interface {
	CreateWebhookLog(ctx context.Context, log *domain.WebhookLog) error
	MarkWebhookProcessed(ctx context.Context, id string) error
}

// AdminUserRepository 定义后台用户数据存取操作。
type AdminUserRepository interface {
	CreateAdminUser(ctx context.Context, user *domain.AdminUser) error
	GetAdminUserByID(ctx context.Context, id string) (*domain.AdminUser, error)
	GetAdminUserByEmail(ctx context.Context, email string) (*domain.AdminUser, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// Store 汇总所有仓储接口，由内存实现和数据库实现分别提供。
type Store interface {
	LeadRepository
	EmailRepository
	ThreadRepository
	TemplateRepository
	AccountRepository
	WebhookLogRepository
	AdminUserRepository

	Ping(ctx context.Context) error
	Close() error
}
