package orchestration

import (
	"context"
	"log/slog"
	"time"

	"Orchestra-Engine/internal/observability/alerting"
	"Orchestra-Engine/pkg/logger"
)

// Config 是引擎可识别的配置项。
type Config struct {
	ConcurrencyLimit int
	HistoryCapacity  int
	DefaultChunkSize int
	// Thresholds 为零值时使用 DefaultThresholds。
	Thresholds     Thresholds
	NonBlocking    bool
	DefaultTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Engine)

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.audit = l
	}
}

// WithHistorySink 配置淘汰记录的归档目标。
func WithHistorySink(sink HistorySink, buffer int) Option {
	return func(e *Engine) {
		e.sink = sink
		e.sinkBuffer = buffer
	}
}

// WithRecorder 配置指标记录器。
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(e *Engine) {
		e.alerter = d
	}
}

// WithProgressSubscriber 为外部订阅者附加一个缓冲订阅。
func WithProgressSubscriber(sub ProgressSubscriber, buffer int) Option {
	return func(e *Engine) {
		if sub != nil {
			e.subscribers = append(e.subscribers, attachment{sub: sub, buffer: buffer})
		}
	}
}

type attachment struct {
	sub    ProgressSubscriber
	buffer int
}

// Engine 持有进程内唯一的一组组件，各组件之间不互相持有。
type Engine struct {
	governor      *ConcurrencyGovernor
	classifier    *ComplexityClassifier
	assessor      *QualityAssessor
	ledger        *HistoryLedger
	resilience    *ResilienceCoordinator
	transcendence *TranscendenceCoordinator
	executor      *LevelExecutor
	events        *Broadcaster
	archiver      *Archiver
	coordinator   *OrchestrationCoordinator

	logger      *slog.Logger
	audit       *slog.Logger
	recorder    Recorder
	alerter     alerting.Dispatcher
	sink        HistorySink
	sinkBuffer  int
	subscribers []attachment
	detach      []func()
}

// NewEngine 按配置构造引擎。
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{recorder: nopRecorder{}}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = logger.Named("orchestration")
	}
	if e.audit == nil {
		e.audit = logger.Audit()
	}
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = 100
	}
	thresholds := cfg.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}

	governor, err := NewConcurrencyGovernor(cfg.ConcurrencyLimit)
	if err != nil {
		return nil, err
	}
	classifier, err := NewComplexityClassifier(thresholds)
	if err != nil {
		return nil, err
	}
	e.governor = governor
	e.classifier = classifier
	e.assessor = NewQualityAssessor(nil)
	e.resilience = NewResilienceCoordinator(e.logger)
	e.transcendence = NewTranscendenceCoordinator(e.logger)

	e.events = NewBroadcaster(e.logger)
	e.events.onDrop = e.recorder.ProgressDropped
	for _, a := range e.subscribers {
		e.detach = append(e.detach, e.events.Attach(a.sub, a.buffer))
	}

	if e.sink != nil {
		e.archiver = NewArchiver(e.sink, e.sinkBuffer, e.logger, e.audit, e.recorder)
	}
	e.ledger = NewHistoryLedger(cfg.HistoryCapacity, WithEvictionHandler(e.evicted))

	e.executor = NewLevelExecutor(ExecutorConfig{
		DefaultChunkSize: cfg.DefaultChunkSize,
		Transcendence:    e.transcendence,
		Events:           e.events,
		Recorder:         e.recorder,
		Logger:           e.logger,
	})
	e.coordinator = &OrchestrationCoordinator{
		governor:       e.governor,
		classifier:     e.classifier,
		executor:       e.executor,
		assessor:       e.assessor,
		ledger:         e.ledger,
		events:         e.events,
		alerter:        e.alerter,
		recorder:       e.recorder,
		logger:         e.logger,
		audit:          e.audit,
		nonBlocking:    cfg.NonBlocking,
		defaultTimeout: cfg.DefaultTimeout,
		defaultChunk:   cfg.DefaultChunkSize,
	}
	return e, nil
}

func (e *Engine) evicted(entry HistoryEntry) {
	e.recorder.HistoryEvicted()
	if e.archiver != nil {
		e.archiver.Enqueue(entry)
	}
}

// Submit 提交一次编排。
func (e *Engine) Submit(ctx context.Context, orch Orchestration, opts ...SubmitOption) (OrchestrationResult, error) {
	return e.coordinator.Submit(ctx, orch, opts...)
}

// History 返回历史账本。
func (e *Engine) History() *HistoryLedger { return e.ledger }

// Events 返回进度广播器。
func (e *Engine) Events() *Broadcaster { return e.events }

// Resilience 返回重试协调器。
func (e *Engine) Resilience() *ResilienceCoordinator { return e.resilience }

// Classifier 返回复杂度分类器。
func (e *Engine) Classifier() *ComplexityClassifier { return e.classifier }

// Governor 返回许可池。
func (e *Engine) Governor() *ConcurrencyGovernor { return e.governor }

// Archiver 返回归档器，未配置 HistorySink 时为 nil。
func (e *Engine) Archiver() *Archiver { return e.archiver }

// Close 关闭进度订阅并等待归档队列排空。
func (e *Engine) Close(ctx context.Context) error {
	for _, detach := range e.detach {
		detach()
	}
	e.events.Close()
	if e.archiver != nil {
		return e.archiver.Close(ctx)
	}
	return nil
}
