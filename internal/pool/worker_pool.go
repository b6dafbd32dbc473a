package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped 协程池已停止
var ErrStopped = errors.New("worker pool stopped")

// Task 是提交给协程池的任务
type Task func(ctx context.Context)

// WorkerPool 协程池
//
// 限制队列消费等后台任务的并发数。任务 panic 会被记录，不影响其他任务。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan Task
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    chan struct{}
	logger     *zap.Logger
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int, logger *zap.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan Task, queueSize),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
}

// Start 启动协程池，ctx 取消后工作协程在当前任务结束后退出
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 队列已满时阻塞，直到有空位、ctx 取消或协程池停止
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.stopped:
		return ErrStopped
	default:
	}

	select {
	case p.taskQueue <- task:
		return nil
	case <-p.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试提交任务
//
// 如果队列已满或协程池已停止，立即返回 false
func (p *WorkerPool) TrySubmit(task Task) bool {
	select {
	case <-p.stopped:
		return false
	default:
	}

	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Stop 停止接收新任务并等待工作协程退出。可以重复调用。
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
	})
	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopped:
			// 排空已入队的任务
			for {
				select {
				case task := <-p.taskQueue:
					p.run(ctx, task)
				default:
					return
				}
			}
		case task := <-p.taskQueue:
			p.run(ctx, task)
		}
	}
}

// run 执行任务（捕获 panic）
func (p *WorkerPool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", zap.Any("panic", r))
		}
	}()
	task(ctx)
}
