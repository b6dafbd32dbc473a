package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"juninpagos/backend/internal/monitoring"
)

const (
	DefaultDispatchSchedule = "@every 1m"
	sweepSchedule           = "@every 5m"
	dispatchTimeout         = 5 * time.Minute
)

// Dispatcher 发送到期的定时邮件
type Dispatcher interface {
	DispatchDue(ctx context.Context, now time.Time) (int, error)
}

// Sweeper 清理过期的限流计数（仅内存存储）
type Sweeper interface {
	Sweep() int
}

// CronManager 管理定时任务
type CronManager struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	sweeper    Sweeper
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewCronManager 创建定时任务管理器。sweeper 为 nil 时不注册清理任务。
func NewCronManager(schedule string, dispatcher Dispatcher, sweeper Sweeper, metrics *monitoring.Metrics, logger *zap.Logger) (*CronManager, error) {
	if schedule == "" {
		schedule = DefaultDispatchSchedule
	}
	clog := cronLogger{logger: logger}
	cm := &CronManager{
		cron: cron.New(cron.WithChain(
			cron.Recover(clog),
			cron.SkipIfStillRunning(clog),
		)),
		dispatcher: dispatcher,
		sweeper:    sweeper,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}

	if _, err := cm.cron.AddFunc(schedule, cm.runDispatch); err != nil {
		return nil, fmt.Errorf("invalid dispatch schedule %q: %w", schedule, err)
	}
	if sweeper != nil {
		if _, err := cm.cron.AddFunc(sweepSchedule, cm.runSweep); err != nil {
			return nil, err
		}
	}
	return cm, nil
}

// runDispatch 发送到期的定时邮件
func (cm *CronManager) runDispatch() {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	sent, err := cm.dispatcher.DispatchDue(ctx, cm.now())
	if err != nil {
		cm.logger.Error("scheduled dispatch failed", zap.Int("sent", sent), zap.Error(err))
		cm.metrics.RecordJobRun("dispatch", "error")
		return
	}
	cm.metrics.RecordJobRun("dispatch", "ok")
}

func (cm *CronManager) runSweep() {
	if removed := cm.sweeper.Sweep(); removed > 0 {
		cm.logger.Debug("rate limit counters swept", zap.Int("removed", removed))
	}
	cm.metrics.RecordJobRun("ratelimit_sweep", "ok")
}

// Run 启动调度器，ctx 取消后等待正在执行的任务结束
func (cm *CronManager) Run(ctx context.Context) error {
	cm.logger.Info("cron scheduler started", zap.Int("jobs", len(cm.cron.Entries())))
	cm.cron.Start()

	<-ctx.Done()

	stopped := cm.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		cm.logger.Warn("cron jobs still running at shutdown")
	}
	cm.logger.Info("cron scheduler stopped")
	return nil
}

// cronLogger 把 cron 的日志接到 zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
