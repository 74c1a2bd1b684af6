package progress

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// RabbitMQConfig 描述进度事件使用的 topic exchange。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	// RoutingKey 为空时使用 "progress.<state>"，其中 {state} 会被替换为事件状态。
	RoutingKey string
}

// amqpChannel 是 RabbitMQPublisher 用到的 channel 方法子集，*amqp.Channel 满足该接口。
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher 将进度事件发布到 topic exchange。
type RabbitMQPublisher struct {
	conn       *amqp.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
}

// NewRabbitMQPublisher 建立连接并声明 exchange。
func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "创建 RabbitMQ channel 失败")
	}
	p, err := newRabbitMQPublisher(ch, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newRabbitMQPublisher(ch amqpChannel, cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "orchd.progress"
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = "progress.{state}"
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, xerrors.Wrap(xerrors.CodePublishFailure, err, "声明 RabbitMQ exchange 失败")
	}
	return &RabbitMQPublisher{ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// RoutingKey 返回事件对应的路由键。
func (p *RabbitMQPublisher) RoutingKey(event orchestration.Event) string {
	return strings.ReplaceAll(p.routingKey, "{state}", string(event.State))
}

// Notify 实现 orchestration.ProgressSubscriber。
func (p *RabbitMQPublisher) Notify(ctx context.Context, event orchestration.Event) error {
	if p == nil || p.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 发布者未初始化")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "序列化进度事件失败")
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         string(event.State),
		Body:         payload,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, p.RoutingKey(event), false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodePublishFailure, err, "RabbitMQ 发布进度事件失败")
	}
	return nil
}

// Close 关闭 channel 与连接。
func (p *RabbitMQPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
