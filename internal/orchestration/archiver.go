package orchestration

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// HistorySink 持久化被账本淘汰的历史记录。
type HistorySink interface {
	Archive(ctx context.Context, entry HistoryEntry) error
}

// Archiver 在后台把淘汰记录写入 HistorySink，缓冲区满时丢弃而不阻塞账本。
type Archiver struct {
	sink     HistorySink
	queue    chan HistoryEntry
	timeout  time.Duration
	logger   *slog.Logger
	audit    *slog.Logger
	recorder Recorder

	dropped  atomic.Uint64
	archived atomic.Uint64
	failed   atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewArchiver 创建归档器并启动后台协程。
func NewArchiver(sink HistorySink, buffer int, logger, audit *slog.Logger, recorder Recorder) *Archiver {
	if buffer <= 0 {
		buffer = 1024
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	a := &Archiver{
		sink:     sink,
		queue:    make(chan HistoryEntry, buffer),
		timeout:  10 * time.Second,
		logger:   logger,
		audit:    audit,
		recorder: recorder,
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// Enqueue 非阻塞地提交一条记录，可直接作为账本的淘汰回调。
func (a *Archiver) Enqueue(entry HistoryEntry) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(entry)
		return
	}
	select {
	case a.queue <- entry:
	default:
		a.drop(entry)
	}
}

func (a *Archiver) drop(entry HistoryEntry) {
	a.dropped.Add(1)
	a.recorder.ArchiveDropped()
	if a.audit != nil {
		a.audit.Warn("历史归档缓冲已满，丢弃记录",
			slog.String("history_id", entry.ID),
			slog.String("orchestration_id", entry.OrchestrationID))
	}
}

func (a *Archiver) run() {
	defer close(a.done)
	for entry := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.sink.Archive(ctx, entry)
		cancel()
		if err != nil {
			a.failed.Add(1)
			if a.logger != nil {
				a.logger.Error("历史归档失败",
					slog.Any("error", err),
					slog.String("history_id", entry.ID),
					slog.String("orchestration_id", entry.OrchestrationID))
			}
			if a.audit != nil {
				a.audit.Warn("历史归档失败",
					slog.String("history_id", entry.ID),
					slog.String("error", err.Error()))
			}
			continue
		}
		a.archived.Add(1)
	}
}

// Close 停止接收新记录并等待队列排空或 ctx 结束。
func (a *Archiver) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped 返回被丢弃的记录数。
func (a *Archiver) Dropped() uint64 { return a.dropped.Load() }

// Archived 返回成功归档的记录数。
func (a *Archiver) Archived() uint64 { return a.archived.Load() }

// Failed 返回归档失败的记录数。
func (a *Archiver) Failed() uint64 { return a.failed.Load() }
