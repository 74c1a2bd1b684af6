package orchestration

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventState 是进度事件的状态。
type EventState string

const (
	EventOrchestrationStarted   EventState = "orchestration_started"
	EventOrchestrationSucceeded EventState = "orchestration_succeeded"
	EventOrchestrationFailed    EventState = "orchestration_failed"
	EventOrchestrationCancelled EventState = "orchestration_cancelled"
	EventLevelStarted           EventState = "level_started"
	EventLevelSucceeded         EventState = "level_succeeded"
	EventLevelFailed            EventState = "level_failed"
	EventTaskStarted            EventState = "task_started"
	EventTaskSucceeded          EventState = "task_succeeded"
	EventTaskFailed             EventState = "task_failed"
)

// Event 是一条进度事件，非任务事件的 TaskIndex 为 -1。
type Event struct {
	ID              string     `json:"id"`
	OrchestrationID string     `json:"orchestration_id"`
	LevelID         string     `json:"level_id,omitempty"`
	TaskIndex       int        `json:"task_index"`
	State           EventState `json:"state"`
	Message         string     `json:"message,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// ProgressSubscriber 消费进度事件。
type ProgressSubscriber interface {
	Notify(ctx context.Context, event Event) error
}

// ProgressSubscriberFunc 将函数适配为 ProgressSubscriber。
type ProgressSubscriberFunc func(ctx context.Context, event Event) error

// Notify 调用函数本身。
func (f ProgressSubscriberFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// Broadcaster 尽力投递进度事件，慢订阅者的事件被丢弃而不会阻塞编排。
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	closed  bool
	dropped atomic.Uint64
	onDrop  func()
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewBroadcaster 创建广播器。
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan Event), logger: logger}
}

// Subscription 是一个基于 channel 的订阅。
type Subscription struct {
	C  <-chan Event
	id uint64
	b  *Broadcaster
}

// Subscribe 注册一个缓冲大小为 buffer 的订阅。广播器关闭后返回已关闭的 channel。
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return &Subscription{C: ch, b: b}
	}
	b.next++
	id := b.next
	b.subs[id] = ch
	return &Subscription{C: ch, id: id, b: b}
}

// Unsubscribe 取消订阅并关闭 channel。
func (s *Subscription) Unsubscribe() {
	if s == nil || s.b == nil {
		return
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if ch, ok := s.b.subs[s.id]; ok {
		delete(s.b.subs, s.id)
		close(ch)
	}
}

// Attach 为外部订阅者启动一个消费协程，返回的函数用于解除订阅。
func (b *Broadcaster) Attach(subscriber ProgressSubscriber, buffer int) func() {
	sub := b.Subscribe(buffer)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range sub.C {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := subscriber.Notify(ctx, event); err != nil && b.logger != nil {
				b.logger.Warn("进度事件投递失败",
					slog.String("orchestration_id", event.OrchestrationID),
					slog.String("state", string(event.State)),
					slog.Any("error", err))
			}
			cancel()
		}
	}()
	return sub.Unsubscribe
}

// Publish 非阻塞地投递事件。
func (b *Broadcaster) Publish(event Event) {
	if b == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Dropped 返回被丢弃的事件数。
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Close 关闭所有订阅并等待 Attach 的协程退出。
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for id, ch := range b.subs {
			delete(b.subs, id)
			close(ch)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}
