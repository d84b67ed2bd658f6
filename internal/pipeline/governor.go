package pipeline

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Governor 限制同时在途的模型调用数量。
// semaphore.Weighted 按 FIFO 顺序唤醒等待者，因此不会饿死任何请求。
type Governor struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewGovernor 创建一个最多允许 n 个持有者的 Governor，n < 1 时按 1 处理。
func NewGovernor(n int) *Governor {
	if n < 1 {
		n = 1
	}
	return &Governor{sem: semaphore.NewWeighted(int64(n)), limit: int64(n)}
}

// Acquire 阻塞直到拿到一个槽位或 ctx 结束。
func (g *Governor) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	cur := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if cur <= p || g.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	return nil
}

// Release 归还一个槽位。
func (g *Governor) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Limit 返回槽位总数。
func (g *Governor) Limit() int { return int(g.limit) }

// InFlight 返回当前被占用的槽位数。
func (g *Governor) InFlight() int { return int(g.inFlight.Load()) }

// Peak 返回运行期间观察到的最大并发数。
func (g *Governor) Peak() int { return int(g.peak.Load()) }
