package orchestration

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity 为历史账本的默认容量。
const DefaultHistoryCapacity = 10000

// HistoryStatus 表示一次编排的最终状态。
type HistoryStatus string

const (
	StatusSucceeded HistoryStatus = "succeeded"
	StatusFailed    HistoryStatus = "failed"
	StatusCancelled HistoryStatus = "cancelled"
)

// TaskOutcome 是历史中单个任务的摘要。
type TaskOutcome struct {
	Index    int           `json:"index"`
	TaskID   string        `json:"task_id,omitempty"`
	Status   TaskStatus    `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// LevelSummary 是历史中单个层级的摘要。
type LevelSummary struct {
	LevelID     string        `json:"level_id"`
	Kind        LevelKind     `json:"kind"`
	Tier        Tier          `json:"tier"`
	Transcended bool          `json:"transcended,omitempty"`
	Tasks       []TaskOutcome `json:"tasks"`
	Quality     float64       `json:"quality"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// HistoryEntry 记录一次编排的结果。
type HistoryEntry struct {
	ID              string         `json:"id"`
	OrchestrationID string         `json:"orchestration_id"`
	Description     string         `json:"description,omitempty"`
	Levels          []LevelSummary `json:"levels"`
	QualityScore    float64        `json:"quality_score"`
	Status          HistoryStatus  `json:"status"`
	Success         bool           `json:"success"`
	Error           string         `json:"error,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	Duration        time.Duration  `json:"duration"`
	Timestamp       time.Time      `json:"timestamp"`
}

// HistoryStats 是账本当前内容的聚合。
type HistoryStats struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	MeanQuality float64 `json:"mean_quality"`
	FailureRate float64 `json:"failure_rate"`
	Evicted     uint64  `json:"evicted"`
}

// LedgerOption 定义可选配置。
type LedgerOption func(*HistoryLedger)

// WithEvictionHandler 注册淘汰回调，回调在锁外执行。
func WithEvictionHandler(fn func(HistoryEntry)) LedgerOption {
	return func(l *HistoryLedger) {
		l.onEvict = fn
	}
}

// HistoryLedger 是固定容量的环形缓冲区，超出容量时淘汰最旧的记录。
type HistoryLedger struct {
	mu      sync.RWMutex
	entries []HistoryEntry
	head    int
	size    int
	counts  map[HistoryStatus]int
	quality float64
	evicted uint64
	onEvict func(HistoryEntry)
}

// NewHistoryLedger 创建账本，capacity 非正时使用默认容量。
func NewHistoryLedger(capacity int, opts ...LedgerOption) *HistoryLedger {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	l := &HistoryLedger{
		entries: make([]HistoryEntry, capacity),
		counts:  make(map[HistoryStatus]int, 3),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Append 追加记录，从不失败。
func (l *HistoryLedger) Append(entry HistoryEntry) {
	l.mu.Lock()
	var (
		evicted    HistoryEntry
		hasEvicted bool
	)
	capacity := len(l.entries)
	if l.size == capacity {
		evicted = l.entries[l.head]
		hasEvicted = true
		l.forget(evicted)
		l.entries[l.head] = entry
		l.head = (l.head + 1) % capacity
		l.evicted++
	} else {
		l.entries[(l.head+l.size)%capacity] = entry
		l.size++
	}
	l.counts[entry.Status]++
	if entry.Success {
		l.quality += entry.QualityScore
	}
	onEvict := l.onEvict
	l.mu.Unlock()

	if hasEvicted && onEvict != nil {
		onEvict(evicted)
	}
}

func (l *HistoryLedger) forget(entry HistoryEntry) {
	l.counts[entry.Status]--
	if entry.Success {
		l.quality -= entry.QualityScore
	}
}

// Recent 返回最近 n 条记录，按从旧到新排列。n 非正时返回全部。
func (l *HistoryLedger) Recent(n int) []HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > l.size {
		n = l.size
	}
	out := make([]HistoryEntry, n)
	capacity := len(l.entries)
	start := l.size - n
	for i := 0; i < n; i++ {
		out[i] = l.entries[(l.head+start+i)%capacity]
	}
	return out
}

// Len 返回当前记录数。
func (l *HistoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity 返回账本容量。
func (l *HistoryLedger) Capacity() int { return len(l.entries) }

// Stats 返回当前内容的聚合统计。
func (l *HistoryLedger) Stats() HistoryStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stats := HistoryStats{
		Total:     l.size,
		Succeeded: l.counts[StatusSucceeded],
		Failed:    l.counts[StatusFailed],
		Cancelled: l.counts[StatusCancelled],
		Evicted:   l.evicted,
	}
	if stats.Succeeded > 0 {
		stats.MeanQuality = l.quality / float64(stats.Succeeded)
	}
	if stats.Total > 0 {
		stats.FailureRate = float64(stats.Failed+stats.Cancelled) / float64(stats.Total)
	}
	return stats
}
