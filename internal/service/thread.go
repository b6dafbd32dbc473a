package service

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/monitoring"
	"juninpagos/backend/internal/storage"
)

const (
	defaultThreadLimit = 25
	maxThreadLimit     = 100
	// bulkConcurrency 批量操作并发数
	bulkConcurrency = 8
)

// ThreadView 会话及收件箱展示所需的聚合数据
type ThreadView struct {
	domain.EmailThread
	Emails         []domain.Email `json:"emails"`
	LastEmail      *domain.Email  `json:"lastEmail"`
	UnreadCount    int            `json:"unreadCount"`
	HasStarred     bool           `json:"hasStarred"`
	TotalEmails    int            `json:"totalEmails"`
	HasInbound     bool           `json:"hasInbound"`
	HasOutbound    bool           `json:"hasOutbound"`
	IsConversation bool           `json:"isConversation"`
}

// BuildThreadView 计算会话聚合数据
// 邮件按会话顺序（从旧到新）返回，LastEmail 为任意方向上最新的一封
func BuildThreadView(thread domain.EmailThread, emails []domain.Email) ThreadView {
	sorted := make([]domain.Email, len(emails))
	copy(sorted, emails)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	view := ThreadView{
		EmailThread: thread,
		Emails:      sorted,
		TotalEmails: len(sorted),
	}
	for i := range sorted {
		e := &sorted[i]
		switch e.Direction {
		case domain.DirectionInbound:
			view.HasInbound = true
			if !e.IsRead {
				view.UnreadCount++
			}
		case domain.DirectionOutbound:
			view.HasOutbound = true
		}
		if e.IsStarred {
			view.HasStarred = true
		}
	}
	if n := len(sorted); n > 0 {
		last := sorted[n-1]
		view.LastEmail = &last
	}
	view.IsConversation = view.HasInbound && view.HasOutbound
	return view
}

// threadDirection 文件夹对应的邮件方向
func threadDirection(folder domain.EmailFolder) domain.EmailDirection {
	if folder == domain.FolderInbox || folder == "" {
		return domain.DirectionInbound
	}
	return domain.DirectionOutbound
}

// RelevantForFolder 判断会话是否属于该文件夹：
// 收件箱要求有入站邮件，已发送要求有出站邮件
func RelevantForFolder(view ThreadView, folder domain.EmailFolder) bool {
	if threadDirection(folder) == domain.DirectionInbound {
		return view.HasInbound
	}
	return view.HasOutbound
}

// ThreadFilter 会话分页查询条件
type ThreadFilter struct {
	Folder domain.EmailFolder
	Search string
	Page   int
	Limit  int
}

// BulkFailure 批量操作中更新失败的单封邮件
type BulkFailure struct {
	EmailID string `json:"email_id"`
	Error   string `json:"error"`
}

// BulkResult 会话批量操作结果
type BulkResult struct {
	ThreadID  string        `json:"thread_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    []BulkFailure `json:"failed,omitempty"`
}

// ThreadService 会话服务
type ThreadService struct {
	threads storage.ThreadRepository
	emails  storage.EmailRepository
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewThreadService 创建会话服务
func NewThreadService(threads storage.ThreadRepository, emails storage.EmailRepository, metrics *monitoring.Metrics, logger *zap.Logger) *ThreadService {
	return &ThreadService{threads: threads, emails: emails, metrics: metrics, logger: logger}
}

// List 返回该文件夹下未归档的会话，按最近活动倒序
// 相关性在存储层分页前判断
func (s *ThreadService) List(ctx context.Context, f ThreadFilter) (Page[ThreadView], error) {
	page, limit := clampPaging(f.Page, f.Limit, defaultThreadLimit, maxThreadLimit)

	threads, total, err := s.threads.ListThreads(ctx, storage.ThreadQuery{
		Direction: threadDirection(f.Folder),
		Search:    f.Search,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		return Page[ThreadView]{}, err
	}

	ids := make([]string, len(threads))
	for i := range threads {
		ids[i] = threads[i].ID
	}
	byThread, err := s.emails.ListEmailsByThreads(ctx, ids)
	if err != nil {
		return Page[ThreadView]{}, err
	}

	views := make([]ThreadView, 0, len(threads))
	for _, t := range threads {
		view := BuildThreadView(t, byThread[t.ID])
		if !RelevantForFolder(view, f.Folder) {
			// 查询层已过滤，这里只防御并发删除
			continue
		}
		views = append(views, view)
	}
	return newPage(views, page, limit, total), nil
}

// Open 按会话顺序加载单个会话
// markAsRead 为 true 时一次性标记所有未读入站邮件，返回的视图同步反映
func (s *ThreadService) Open(ctx context.Context, threadID string, markAsRead bool) (*ThreadView, error) {
	if threadID == "" {
		return nil, validationError("thread_id requerido")
	}
	thread, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, notFound(err, ErrThreadNotFound)
	}
	emails, err := s.threadEmails(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if markAsRead {
		var unread []string
		for _, e := range emails {
			if e.Direction == domain.DirectionInbound && !e.IsRead {
				unread = append(unread, e.ID)
			}
		}
		if len(unread) > 0 {
			if _, err := s.emails.MarkEmailsRead(ctx, unread); err != nil {
				return nil, err
			}
			for i := range emails {
				if emails[i].Direction == domain.DirectionInbound {
					emails[i].IsRead = true
				}
			}
		}
	}

	view := BuildThreadView(*thread, emails)
	return &view, nil
}

// Archive 归档会话内所有邮件，全部成功后再归档会话本身
// 邮件并发更新，只写 folder 和 is_archived 两列；
// 任一失败时等全部完成后返回第一个错误，会话保持未归档
func (s *ThreadService) Archive(ctx context.Context, threadID string) (*BulkResult, error) {
	thread, err := s.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, notFound(err, ErrThreadNotFound)
	}
	emails, err := s.threadEmails(ctx, threadID)
	if err != nil {
		return nil, err
	}

	archived, folder := true, domain.FolderArchived
	update := storage.EmailUpdate{IsArchived: &archived, Folder: &folder}
	result, err := s.fanOut(ctx, "archive", threadID, emails, func(ctx context.Context, e domain.Email) error {
		_, err := s.emails.PatchEmail(ctx, e.ID, update)
		return err
	})
	if err != nil {
		return result, err
	}

	thread.IsArchived = true
	if err := s.threads.UpdateThread(ctx, thread); err != nil {
		return result, notFound(err, ErrThreadNotFound)
	}
	return result, nil
}

// Delete 将会话内所有邮件移入回收站，permanent 时永久删除
// 永久删除后会话为空则一并删除
func (s *ThreadService) Delete(ctx context.Context, threadID string, permanent bool) (*BulkResult, error) {
	if _, err := s.threads.GetThread(ctx, threadID); err != nil {
		return nil, notFound(err, ErrThreadNotFound)
	}
	emails, err := s.threadEmails(ctx, threadID)
	if err != nil {
		return nil, err
	}

	op := "trash"
	trash := domain.FolderTrash
	apply := func(ctx context.Context, e domain.Email) error {
		_, err := s.emails.PatchEmail(ctx, e.ID, storage.EmailUpdate{Folder: &trash})
		return err
	}
	if permanent {
		op = "delete"
		apply = func(ctx context.Context, e domain.Email) error {
			return s.emails.DeleteEmail(ctx, e.ID)
		}
	}

	result, err := s.fanOut(ctx, op, threadID, emails, apply)
	if err != nil || !permanent {
		return result, err
	}

	remaining, err := s.threadEmails(ctx, threadID)
	if err != nil {
		return result, err
	}
	if len(remaining) == 0 {
		if err := s.threads.DeleteThread(ctx, threadID); err != nil {
			return result, notFound(err, ErrThreadNotFound)
		}
	}
	return result, nil
}

func (s *ThreadService) threadEmails(ctx context.Context, threadID string) ([]domain.Email, error) {
	byThread, err := s.emails.ListEmailsByThreads(ctx, []string{threadID})
	if err != nil {
		return nil, err
	}
	return byThread[threadID], nil
}

// fanOut 以有限并发对每封邮件执行 fn 并等待全部完成
// 返回逐封结果和第一个错误
func (s *ThreadService) fanOut(
	ctx context.Context,
	op, threadID string,
	emails []domain.Email,
	fn func(context.Context, domain.Email) error,
) (*BulkResult, error) {
	result := &BulkResult{ThreadID: threadID, Total: len(emails)}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(bulkConcurrency)

	for _, e := range emails {
		e := e
		g.Go(func() error {
			err := fn(ctx, e)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, BulkFailure{EmailID: e.ID, Error: err.Error()})
				return err
			}
			result.Succeeded++
			return nil
		})
	}
	err := g.Wait()

	if err != nil {
		s.metrics.RecordBulkOperation(op, "partial")
		s.logger.Warn("bulk thread operation partially failed",
			zap.String("op", op),
			zap.String("thread_id", threadID),
			zap.Int("total", result.Total),
			zap.Int("failed", len(result.Failed)),
			zap.Error(err),
		)
		return result, err
	}
	s.metrics.RecordBulkOperation(op, "success")
	return result, nil
}
