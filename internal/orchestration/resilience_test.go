package orchestration

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	xerrors "Orchestra-Engine/internal/errors"
)

func flaky(failures int32, calls *atomic.Int32) TaskHandler {
	return func(TaskContext) (Value, error) {
		n := calls.Add(1)
		if n <= failures {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}
}

func testContext() TaskContext {
	return TaskContext{Context: context.Background()}
}

func TestWrapRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	h := NewResilienceCoordinator(nil).Wrap(flaky(2, &calls), Policy{MaxAttempts: 3})
	v, err := h(testContext())
	if err != nil || v != "ok" {
		t.Fatalf("v=%v err=%v", v, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestWrapSurfacesTerminalError(t *testing.T) {
	var calls atomic.Int32
	h := NewResilienceCoordinator(nil).Wrap(flaky(10, &calls), Policy{MaxAttempts: 2, Backoff: ConstantBackoff(time.Millisecond)})
	_, err := h(testContext())
	if xerrors.CodeOf(err) != xerrors.CodeRetriesExhausted {
		t.Fatalf("code = %s", xerrors.CodeOf(err))
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestWrapDoesNotRetryNonRetryable(t *testing.T) {
	var calls atomic.Int32
	invalid := xerrors.New(xerrors.CodeInvalidArgument, "bad input")
	h := NewResilienceCoordinator(nil).Wrap(func(TaskContext) (Value, error) {
		calls.Add(1)
		return nil, invalid
	}, Policy{MaxAttempts: 5})
	_, err := h(testContext())
	if !errors.Is(err, invalid) || calls.Load() != 1 {
		t.Fatalf("err=%v calls=%d", err, calls.Load())
	}
}

func TestWrapHonoursCustomRetryIf(t *testing.T) {
	var calls atomic.Int32
	h := NewResilienceCoordinator(nil).Wrap(flaky(10, &calls), Policy{
		MaxAttempts: 4,
		RetryIf:     func(error) bool { return false },
	})
	if _, err := h(testContext()); err == nil || calls.Load() != 1 {
		t.Fatalf("err=%v calls=%d", err, calls.Load())
	}
}

func TestWrapStopsBackoffOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	h := NewResilienceCoordinator(nil).Wrap(flaky(10, &calls), Policy{MaxAttempts: 5, Backoff: ConstantBackoff(time.Hour)})
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := h(TaskContext{Context: ctx})
	if err == nil || time.Since(start) > time.Second {
		t.Fatalf("expected prompt failure, err=%v elapsed=%v", err, time.Since(start))
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	h := NewResilienceCoordinator(nil).Wrap(flaky(100, &calls), Policy{
		MaxAttempts: 1,
		Breaker:     &BreakerPolicy{FailureThreshold: 2, Cooldown: time.Hour},
	})
	for i := 0; i < 2; i++ {
		if _, err := h(testContext()); err == nil {
			t.Fatalf("call %d should fail", i)
		}
	}
	_, err := h(testContext())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("handler invoked while circuit open: %d", calls.Load())
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	var calls atomic.Int32
	h := NewResilienceCoordinator(nil).Wrap(flaky(1, &calls), Policy{
		MaxAttempts: 1,
		Breaker:     &BreakerPolicy{FailureThreshold: 1, Cooldown: 5 * time.Millisecond},
	})
	if _, err := h(testContext()); err == nil {
		t.Fatalf("first call should fail")
	}
	time.Sleep(10 * time.Millisecond)
	if v, err := h(testContext()); err != nil || v != "ok" {
		t.Fatalf("probe should succeed: v=%v err=%v", v, err)
	}
	if _, err := h(testContext()); err != nil {
		t.Fatalf("circuit should be closed again: %v", err)
	}
}

func TestRetryBudget(t *testing.T) {
	var calls atomic.Int32
	h := NewResilienceCoordinator(nil).Wrap(flaky(100, &calls), Policy{
		MaxAttempts: 10,
		RetryRate:   0.001,
		RetryBurst:  1,
	})
	_, err := h(testContext())
	if xerrors.CodeOf(err) != xerrors.CodeRetriesExhausted {
		t.Fatalf("code = %s", xerrors.CodeOf(err))
	}
	if calls.Load() != 2 {
		t.Fatalf("budget should allow exactly one retry, calls = %d", calls.Load())
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(10*time.Millisecond, 50*time.Millisecond)
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}
	for i, w := range want {
		if got := b(i + 1); got != w {
			t.Fatalf("attempt %d: %v, want %v", i+1, got, w)
		}
	}
}
