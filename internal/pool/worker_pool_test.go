package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := NewWorkerPool(3, 10, zap.NewNop())
	p.Start(context.Background())

	var done int32
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			atomic.AddInt32(&done, 1)
		}))
	}
	p.Stop()

	assert.Equal(t, int32(20), atomic.LoadInt32(&done))
}

func TestWorkerPool_PanicDoesNotKillWorker(t *testing.T) {
	p := NewWorkerPool(1, 2, zap.NewNop())
	p.Start(context.Background())

	var ran int32
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) { atomic.StoreInt32(&ran, 1) }))
	p.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	p := NewWorkerPool(1, 1, zap.NewNop())
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	assert.ErrorIs(t, p.Submit(context.Background(), func(context.Context) {}), ErrStopped)
	assert.False(t, p.TrySubmit(func(context.Context) {}))
}

func TestWorkerPool_SubmitHonoursContext(t *testing.T) {
	// 不启动工作协程，队列满后 Submit 只能等 ctx
	p := NewWorkerPool(1, 1, zap.NewNop())
	require.True(t, p.TrySubmit(func(context.Context) {}))
	assert.False(t, p.TrySubmit(func(context.Context) {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, func(context.Context) {}), context.DeadlineExceeded)
}
