package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGovernorRejectsBadLimit(t *testing.T) {
	if _, err := NewConcurrencyGovernor(0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGovernorTryAcquire(t *testing.T) {
	g, _ := NewConcurrencyGovernor(1)
	p, err := g.TryAcquire()
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}
	if _, err := g.TryAcquire(); !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("expected limit error, got %v", err)
	}
	p.Release()
	p.Release()
	if g.InUse() != 0 {
		t.Fatalf("in use = %d", g.InUse())
	}
	q, err := g.TryAcquire()
	if err != nil {
		t.Fatalf("permit not returned: %v", err)
	}
	q.Release()
}

func TestGovernorFIFO(t *testing.T) {
	g, _ := NewConcurrencyGovernor(1)
	held, _ := g.Acquire(context.Background())

	order := make(chan string, 3)
	waiter := func(name string) {
		p, err := g.Acquire(context.Background())
		if err != nil {
			t.Errorf("%s acquire: %v", name, err)
			return
		}
		order <- name
		p.Release()
	}
	go waiter("first")
	waitFor(t, "first waiter", func() bool { return g.Waiting() == 1 })
	go waiter("second")
	waitFor(t, "second waiter", func() bool { return g.Waiting() == 2 })
	go waiter("third")
	waitFor(t, "third waiter", func() bool { return g.Waiting() == 3 })

	held.Release()
	for _, want := range []string{"first", "second", "third"} {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("got %s, want %s", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestGovernorAcquireHonoursContext(t *testing.T) {
	g, _ := NewConcurrencyGovernor(1)
	held, _ := g.Acquire(context.Background())
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Acquire(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if g.InUse() != 1 || g.Waiting() != 0 {
		t.Fatalf("in use = %d waiting = %d", g.InUse(), g.Waiting())
	}
}
