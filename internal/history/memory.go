package history

import (
	"context"
	"sync"

	"Orchestra-Engine/internal/orchestration"
)

// MemorySink 将归档保存在进程内，主要用于测试与单机调试。
type MemorySink struct {
	mu      sync.RWMutex
	entries []orchestration.HistoryEntry
}

// NewMemorySink 创建内存归档。
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Archive 实现 orchestration.HistorySink。
func (m *MemorySink) Archive(_ context.Context, entry orchestration.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// List 实现 Sink。
func (m *MemorySink) List(_ context.Context, limit int) ([]orchestration.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.entries, limit), nil
}

// Len 返回已归档数量。
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close 无需释放资源。
func (m *MemorySink) Close() error { return nil }
