package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// Store 使用内存保存线索、邮件与会话数据，主要用于开发验证和测试。
type Store struct {
	mu sync.RWMutex

	leads      map[int64]*domain.Lead
	nextLeadID int64

	emails     map[string]*domain.Email
	byResendID map[string]string // resend_id -> emailID

	threads map[string]*domain.EmailThread

	templates       map[string]*domain.EmailTemplate
	byTemplateName  map[string]string
	accounts        map[string]*domain.EmailAccount
	byAccountEmail  map[string]string
	accountGrants   map[string]*domain.EmailAccountUser
	webhookLogs     map[string]*domain.WebhookLog
	adminUsers      map[string]*domain.AdminUser
	byAdminEmail    map[string]string

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		leads:          make(map[int64]*domain.Lead),
		emails:         make(map[string]*domain.Email),
		byResendID:     make(map[string]string),
		threads:        make(map[string]*domain.EmailThread),
		templates:      make(map[string]*domain.EmailTemplate),
		byTemplateName: make(map[string]string),
		accounts:       make(map[string]*domain.EmailAccount),
		byAccountEmail: make(map[string]string),
		accountGrants:  make(map[string]*domain.EmailAccountUser),
		webhookLogs:    make(map[string]*domain.WebhookLog),
		adminUsers:     make(map[string]*domain.AdminUser),
		byAdminEmail:   make(map[string]string),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for generated timestamps. Tests use it
// to get deterministic ordering.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close releases nothing.
func (s *Store) Close() error {
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// page returns the [offset, offset+limit) window of n items.
func page(n, pageNum, limit int) (int, int) {
	if limit <= 0 {
		return 0, n
	}
	start := storage.Offset(pageNum, limit)
	if start > n {
		start = n
	}
	end := start + limit
	if end > n {
		end = n
	}
	return start, end
}

func sortEmailsDesc(emails []domain.Email) {
	sort.SliceStable(emails, func(i, j int) bool {
		if emails[i].CreatedAt.Equal(emails[j].CreatedAt) {
			return emails[i].ID > emails[j].ID
		}
		return emails[i].CreatedAt.After(emails[j].CreatedAt)
	})
}

func sortEmailsAsc(emails []domain.Email) {
	sort.SliceStable(emails, func(i, j int) bool {
		if emails[i].CreatedAt.Equal(emails[j].CreatedAt) {
			return emails[i].ID < emails[j].ID
		}
		return emails[i].CreatedAt.Before(emails[j].CreatedAt)
	})
}
