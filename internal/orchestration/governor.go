package orchestration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	xerrors "Orchestra-Engine/internal/errors"
)

// ConcurrencyGovernor 用固定大小的许可池限制同时执行的编排数，等待者按 FIFO 顺序获得许可。
type ConcurrencyGovernor struct {
	sem     *semaphore.Weighted
	limit   int
	inUse   atomic.Int64
	waiting atomic.Int64
}

// NewConcurrencyGovernor 创建许可池。
func NewConcurrencyGovernor(limit int) (*ConcurrencyGovernor, error) {
	if limit <= 0 {
		return nil, validationError("", "concurrency limit must be positive, got %d", limit)
	}
	return &ConcurrencyGovernor{sem: semaphore.NewWeighted(int64(limit)), limit: limit}, nil
}

// Permit 是一次许可，Release 可重复调用。
type Permit struct {
	governor   *ConcurrencyGovernor
	once       sync.Once
	AcquiredAt time.Time
}

// Acquire 阻塞直到获得许可或 ctx 结束。
func (g *ConcurrencyGovernor) Acquire(ctx context.Context) (*Permit, error) {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return nil, contextError(ctx, err, "waiting for concurrency permit")
	}
	return g.grant(), nil
}

// TryAcquire 不阻塞，无可用许可时返回 ORCH_CONCURRENCY_LIMIT 错误。
func (g *ConcurrencyGovernor) TryAcquire() (*Permit, error) {
	if !g.sem.TryAcquire(1) {
		return nil, xerrors.New(CodeConcurrencyLimit, fmt.Sprintf("all %d permits in use", g.limit))
	}
	return g.grant(), nil
}

func (g *ConcurrencyGovernor) grant() *Permit {
	g.inUse.Add(1)
	return &Permit{governor: g, AcquiredAt: time.Now()}
}

// Release 归还许可。
func (p *Permit) Release() {
	if p == nil || p.governor == nil {
		return
	}
	p.once.Do(func() {
		p.governor.inUse.Add(-1)
		p.governor.sem.Release(1)
	})
}

// InUse 返回已发放的许可数。
func (g *ConcurrencyGovernor) InUse() int { return int(g.inUse.Load()) }

// Waiting 返回正在等待许可的调用数。
func (g *ConcurrencyGovernor) Waiting() int { return int(g.waiting.Load()) }

// Limit 返回许可池大小。
func (g *ConcurrencyGovernor) Limit() int { return g.limit }
