package orchestration

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	xerrors "Orchestra-Engine/internal/errors"
)

// BackoffFunc 返回第 attempt 次失败后的等待时长，attempt 从 1 开始。
type BackoffFunc func(attempt int) time.Duration

// ConstantBackoff 每次等待相同时长。
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff 以 base 为初值指数增长，不超过 max。
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if max > 0 && d >= max {
				return max
			}
		}
		if max > 0 && d > max {
			return max
		}
		return d
	}
}

// BreakerPolicy 配置熔断：连续失败达到阈值后在冷却期内直接拒绝。
type BreakerPolicy struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Policy 描述重试与熔断策略。
type Policy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	// RetryIf 为空时重试除不可重试错误码与 context 错误之外的所有错误。
	RetryIf func(error) bool
	Breaker *BreakerPolicy
	// RetryRate 限制重试的整体速率，为 0 时不限制。
	RetryRate  rate.Limit
	RetryBurst int
}

// ResilienceCoordinator 为处理函数附加可选的重试与熔断，引擎不会自动使用。
type ResilienceCoordinator struct {
	logger *slog.Logger
}

// NewResilienceCoordinator 创建协调器。
func NewResilienceCoordinator(logger *slog.Logger) *ResilienceCoordinator {
	return &ResilienceCoordinator{logger: logger}
}

// Wrap 返回带重试语义的处理函数，熔断状态在返回值的所有调用之间共享。
func (r *ResilienceCoordinator) Wrap(handler TaskHandler, policy Policy) TaskHandler {
	if handler == nil {
		return nil
	}
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := policy.Backoff
	if backoff == nil {
		backoff = ConstantBackoff(0)
	}
	retryIf := policy.RetryIf
	if retryIf == nil {
		retryIf = defaultRetryIf
	}
	var breaker *circuitBreaker
	if policy.Breaker != nil && policy.Breaker.FailureThreshold > 0 {
		breaker = &circuitBreaker{threshold: policy.Breaker.FailureThreshold, cooldown: policy.Breaker.Cooldown}
	}
	var budget *rate.Limiter
	if policy.RetryRate > 0 {
		burst := policy.RetryBurst
		if burst <= 0 {
			burst = 1
		}
		budget = rate.NewLimiter(policy.RetryRate, burst)
	}

	return func(tc TaskContext) (Value, error) {
		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			if breaker != nil && !breaker.allow(time.Now()) {
				return nil, xerrors.Wrap(CodeCircuitOpen, lastErr, fmt.Sprintf("task %d rejected by open circuit", tc.TaskIndex))
			}
			value, err := handler(tc)
			if breaker != nil {
				breaker.record(err == nil, time.Now())
			}
			if err == nil {
				return value, nil
			}
			lastErr = err
			if tc.Context != nil && tc.Err() != nil {
				return nil, err
			}
			if !retryIf(err) || attempt == attempts {
				break
			}
			if budget != nil && !budget.Allow() {
				return nil, xerrors.Wrap(xerrors.CodeRetriesExhausted, err, "retry budget exhausted")
			}
			r.debug("任务重试", slog.String("level_id", tc.LevelID), slog.Int("task_index", tc.TaskIndex), slog.Int("attempt", attempt), slog.Any("error", err))
			if err := sleepContext(tc.Context, backoff(attempt)); err != nil {
				return nil, lastErr
			}
		}
		if attempts == 1 || !retryIf(lastErr) {
			return nil, lastErr
		}
		return nil, xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr, fmt.Sprintf("gave up after %d attempts", attempts))
	}
}

func (r *ResilienceCoordinator) debug(msg string, attrs ...any) {
	if r != nil && r.logger != nil {
		r.logger.Debug(msg, attrs...)
	}
}

func defaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if xerrors.CodeOf(err) == xerrors.CodeUnknown {
		// 未分类的普通错误默认重试
		if e, ok := xerrors.From(err); ok {
			return e.Retryable()
		}
		return true
	}
	return xerrors.RetryableError(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker 为连续失败计数的简单熔断器。
type circuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	state     breakerState
	failures  int
	openedAt  time.Time
	probing   bool
}

func (b *circuitBreaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probing = true
		return true
	case breakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *circuitBreaker) record(success bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if success {
		b.state = breakerClosed
		b.failures = 0
		return
	}
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = now
	}
}
