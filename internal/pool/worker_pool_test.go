package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func waitDone(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted tasks did not complete")
	}
}

func TestSubmit(t *testing.T) {
	t.Run("提交的任务全部执行", func(t *testing.T) {
		p := NewWorkerPool(2, 8, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p.Start(ctx)

		var ran atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			p.Submit(func() {
				defer wg.Done()
				ran.Add(1)
			})
		}

		waitDone(t, &wg)
		p.Stop()
		assert.Equal(t, int32(8), ran.Load())
	})

	t.Run("队列满时TrySubmit拒绝", func(t *testing.T) {
		p := NewWorkerPool(1, 1, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p.Start(ctx)

		block := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			<-block
		})
		// 占满队列后再试
		for !p.TrySubmit(func() {}) {
		}
		assert.False(t, p.TrySubmit(func() {}))

		close(block)
		waitDone(t, &wg)
		p.Stop()
	})
}

func TestCancelDoesNotAbandonQueuedTasks(t *testing.T) {
	t.Run("取消后已入队任务仍执行", func(t *testing.T) {
		p := NewWorkerPool(1, 8, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		p.Start(ctx)

		// 唯一的工作协程被占住，后续任务全部堆在队列里
		block := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			<-block
		})

		var ran atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			p.Submit(func() {
				defer wg.Done()
				ran.Add(1)
			})
		}

		// 排队中途取消：等待这批任务完成的提交方不能被丢下
		cancel()
		close(block)

		waitDone(t, &wg)
		p.Stop()
		assert.Equal(t, int32(8), ran.Load())
	})
}

func TestTaskPanicRecovered(t *testing.T) {
	p := NewWorkerPool(1, 4, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() {
		defer wg.Done()
		panic("boom")
	})

	ran := false
	wg.Add(1)
	p.Submit(func() {
		defer wg.Done()
		ran = true
	})

	waitDone(t, &wg)
	p.Stop()
	assert.True(t, ran, "panic 后工作协程继续服务")
}
