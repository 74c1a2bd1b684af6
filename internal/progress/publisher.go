package progress

import (
	"context"
	"log/slog"
	"strings"

	"Orchestra-Engine/internal/config"
	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// Publisher 是可关闭的进度订阅者。
type Publisher interface {
	orchestration.ProgressSubscriber
	Close() error
}

// 支持的驱动名称。
const (
	DriverNone     = "none"
	DriverLog      = "log"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// Open 根据配置创建进度发布者，driver 为 none 时返回 nil。
func Open(ctx context.Context, cfg config.ProgressConfig, logger *slog.Logger) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return nil, nil
	case DriverLog:
		return NewLogSubscriber(logger), nil
	case DriverRedis:
		return NewRedisPublisher(ctx, RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		})
	case DriverRabbitMQ:
		return NewRabbitMQPublisher(RabbitMQConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			RoutingKey: cfg.AMQPRoutingKey,
		})
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不支持的进度事件驱动: "+cfg.Driver)
	}
}

// LogSubscriber 将进度事件写入日志。
type LogSubscriber struct {
	logger *slog.Logger
}

// NewLogSubscriber 创建日志订阅者。
func NewLogSubscriber(logger *slog.Logger) *LogSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSubscriber{logger: logger}
}

// Notify 实现 orchestration.ProgressSubscriber。
func (l *LogSubscriber) Notify(ctx context.Context, event orchestration.Event) error {
	level := slog.LevelDebug
	switch event.State {
	case orchestration.EventOrchestrationFailed, orchestration.EventLevelFailed, orchestration.EventTaskFailed:
		level = slog.LevelWarn
	case orchestration.EventOrchestrationStarted, orchestration.EventOrchestrationSucceeded, orchestration.EventOrchestrationCancelled:
		level = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("orchestration_id", event.OrchestrationID),
		slog.String("state", string(event.State)),
	}
	if event.LevelID != "" {
		attrs = append(attrs, slog.String("level_id", event.LevelID))
	}
	if event.TaskIndex >= 0 {
		attrs = append(attrs, slog.Int("task_index", event.TaskIndex))
	}
	if event.Message != "" {
		attrs = append(attrs, slog.String("message", event.Message))
	}
	l.logger.LogAttrs(ctx, level, "编排进度", attrs...)
	return nil
}

// Close 无需释放资源。
func (l *LogSubscriber) Close() error { return nil }
