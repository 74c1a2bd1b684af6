package orchestration

import (
	"context"
	"sync"
	"time"
)

// barrier 阻塞所有参与者直到 n 个都到达。
type barrier struct {
	n          int
	mu         sync.Mutex
	arrived    int
	released   chan struct{}
	releasedAt time.Time
}

func newBarrier(n int) *barrier {
	b := &barrier{n: n, released: make(chan struct{})}
	if n <= 0 {
		b.releasedAt = time.Now()
		close(b.released)
	}
	return b
}

// Wait 登记到达并等待释放；ctx 结束时返回其错误。
func (b *barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		b.releasedAt = time.Now()
		close(b.released)
	}
	b.mu.Unlock()

	select {
	case <-b.released:
		return nil
	default:
	}
	select {
	case <-b.released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleasedAt 返回释放时间，未释放时为零值。
func (b *barrier) ReleasedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.releasedAt
}
