package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/queue"
)

const inlineTimeout = 30 * time.Second

// Inline 未启用消息队列时使用：在后台协程中直接调用处理器
type Inline struct {
	handler queue.Handler
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewInline 创建进程内发布者
func NewInline(handler queue.Handler, logger *zap.Logger) *Inline {
	return &Inline{handler: handler, logger: logger}
}

// PublishLeadCreated 实现 service.LeadPublisher，不阻塞请求
func (p *Inline) PublishLeadCreated(_ context.Context, lead domain.Lead) error {
	ev := queue.NewLeadCreatedEvent(lead)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), inlineTimeout)
		defer cancel()

		if err := p.handler(ctx, ev); err != nil {
			p.logger.Warn("inline lead notification failed", zap.Int64("lead_id", ev.LeadID), zap.Error(err))
		}
	}()
	return nil
}

// Wait 等待进行中的通知完成，关闭时调用
func (p *Inline) Wait() {
	p.wg.Wait()
}
