package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Orchestra-Engine/internal/observability/alerting"
	"Orchestra-Engine/pkg/logger"
)

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	if cfg.ConcurrencyLimit == 0 {
		cfg.ConcurrencyLimit = 4
	}
	if cfg.HistoryCapacity == 0 {
		cfg.HistoryCapacity = 100
	}
	base := []Option{WithLogger(logger.Discard()), WithAuditLogger(logger.Discard())}
	engine, err := NewEngine(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	})
	return engine
}

func newTestExecutor() *LevelExecutor {
	return NewLevelExecutor(ExecutorConfig{DefaultChunkSize: 100})
}

func constant(v Value) TaskHandler {
	return func(TaskContext) (Value, error) { return v, nil }
}

func failing(msg string) TaskHandler {
	return func(TaskContext) (Value, error) { return nil, errors.New(msg) }
}

func addHandler(amount int) TaskHandler {
	return func(tc TaskContext) (Value, error) {
		current, _ := tc.Input.(int)
		return current + amount, nil
	}
}

func doubleItem(tc TaskContext) (Value, error) {
	return tc.Item.(int) * 2, nil
}

func runningSum(tc TaskContext) (Value, error) {
	current, _ := tc.Input.(int)
	return current + tc.Item.(int), nil
}

func intItems(n int) []Value {
	items := make([]Value, n)
	for i := range items {
		items[i] = i + 1
	}
	return items
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type memorySink struct {
	mu      sync.Mutex
	entries []HistoryEntry
}

func (m *memorySink) Archive(_ context.Context, entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memorySink) snapshot() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryEntry(nil), m.entries...)
}

type dispatcherFunc func(ctx context.Context, event alerting.Event) error

func (f dispatcherFunc) Notify(ctx context.Context, event alerting.Event) error { return f(ctx, event) }

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingDispatcher) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}
